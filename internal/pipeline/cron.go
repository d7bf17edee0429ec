package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cron is a parsed five-field schedule: minute hour day-of-month month
// day-of-week. Fields accept *, lists, ranges (a-b) and steps (*/n, a-b/n).
// When both day fields are restricted a day matches if either one does.
type Cron struct {
	fields [5]map[int]bool
	// any marks fields starting with *.
	any [5]bool
}

var cronBounds = [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}

// ParseCron parses expr.
func ParseCron(expr string) (Cron, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Cron{}, fmt.Errorf("pipeline: cron %q: want 5 fields, got %d", expr, len(parts))
	}
	var c Cron
	for i, p := range parts {
		set, err := parseField(p, cronBounds[i][0], cronBounds[i][1])
		if err != nil {
			return Cron{}, fmt.Errorf("pipeline: cron %q field %d: %w", expr, i+1, err)
		}
		c.fields[i] = set
		c.any[i] = strings.HasPrefix(p, "*")
	}
	return c, nil
}

func parseField(field string, lo, hi int) (map[int]bool, error) {
	set := make(map[int]bool)
	for _, item := range strings.Split(field, ",") {
		rng, step := item, 1
		if before, after, ok := strings.Cut(item, "/"); ok {
			n, err := strconv.Atoi(after)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("bad step %q", item)
			}
			rng, step = before, n
		}

		from, to := lo, hi
		if rng != "*" {
			a, b, isRange := strings.Cut(rng, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return nil, fmt.Errorf("bad value %q", item)
			}
			to = from
			if isRange {
				if to, err = strconv.Atoi(b); err != nil {
					return nil, fmt.Errorf("bad range %q", item)
				}
			}
		}
		if from < lo || to > hi || from > to {
			return nil, fmt.Errorf("%q out of range %d-%d", item, lo, hi)
		}
		for v := from; v <= to; v += step {
			set[v] = true
		}
	}
	return set, nil
}

func (c Cron) matches(t time.Time) bool {
	return c.fields[0][t.Minute()] &&
		c.fields[1][t.Hour()] &&
		c.fields[3][int(t.Month())] &&
		c.dayMatches(t)
}

func (c Cron) dayMatches(t time.Time) bool {
	dom := c.fields[2][t.Day()]
	dow := c.fields[4][int(t.Weekday())]
	if c.any[2] || c.any[4] {
		return dom && dow
	}
	return dom || dow
}

// Next returns the first minute strictly after t that matches, searching up
// to a year ahead.
func (c Cron) Next(t time.Time) (time.Time, error) {
	cand := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(1, 0, 1)
	for ; cand.Before(limit); cand = cand.Add(time.Minute) {
		if c.matches(cand) {
			return cand, nil
		}
	}
	return time.Time{}, fmt.Errorf("pipeline: cron has no run within a year of %s", t.Format(time.RFC3339))
}

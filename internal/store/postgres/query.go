package postgres

import (
	"fmt"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// timeRange builds a WHERE clause for opts.Since/Until on col.
func timeRange(col string, opts domain.ListOpts) (string, []any) {
	var (
		where string
		args  []any
	)
	add := func(op string, v any) {
		args = append(args, v)
		kw := " WHERE "
		if where != "" {
			kw = " AND "
		}
		where += fmt.Sprintf("%s%s %s $%d", kw, col, op, len(args))
	}
	if opts.Since != nil {
		add(">=", *opts.Since)
	}
	if opts.Until != nil {
		add("<=", *opts.Until)
	}
	return where, args
}

// paginate appends LIMIT/OFFSET placeholders after args.
func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

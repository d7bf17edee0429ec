package feed

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

const localStreamMax = 10000

// LocalBus is an in-process domain.SignalBus for single-instance runs
// without Redis.
type LocalBus struct {
	mu      sync.Mutex
	feeds   map[string]*event.Feed
	streams map[string][]domain.StreamMessage
	seq     uint64
}

var _ domain.SignalBus = (*LocalBus)(nil)

func NewLocalBus() *LocalBus {
	return &LocalBus{
		feeds:   make(map[string]*event.Feed),
		streams: make(map[string][]domain.StreamMessage),
	}
}

func (b *LocalBus) feed(channel string) *event.Feed {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.feeds[channel]
	if !ok {
		f = new(event.Feed)
		b.feeds[channel] = f
	}
	return f
}

// Publish delivers payload to current subscribers of channel, blocking until
// each has accepted it or ctx ends.
func (b *LocalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	done := make(chan struct{})
	go func() {
		b.feed(channel).Send(payload)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("feed: publish %s: %w", channel, ctx.Err())
	}
}

// Subscribe matches channel names exactly.
func (b *LocalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	in := make(chan []byte, subscribeBuffer)
	sub := b.feed(channel).Subscribe(in)
	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Err():
				return
			case data := <-in:
				select {
				case out <- data:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *LocalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.seq, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	if len(msgs) > localStreamMax {
		msgs = msgs[len(msgs)-localStreamMax:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries with an id after lastID.
func (b *LocalBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := streamSeq(lastID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		seq, _ := streamSeq(m.ID)
		if seq <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) (uint64, error) {
	if id == "" || id == "0" || id == "0-0" {
		return 0, nil
	}
	for i := range id {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("feed: stream id %q: %w", id, err)
	}
	return n, nil
}

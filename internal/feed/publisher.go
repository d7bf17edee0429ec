package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/offers"
	"github.com/alanyoungcy/otcdesk/internal/state"
	"github.com/alanyoungcy/otcdesk/internal/txtracker"
)

const (
	defaultQueue    = 1024
	subscribeBuffer = 128
)

// Sources are the stores whose changes get published. Nil fields are skipped.
type Sources struct {
	Offers  interface{ Subscribe(func(offers.Change)) }
	Tokens  interface{ Subscribe(func(domain.Token)) }
	Trades  interface{ Subscribe(func(domain.Trade)) }
	Tracker interface {
		ObserveRemoval(typ string, fn txtracker.Observer)
	}
	State interface{ Subscribe(func(state.Snapshot)) }
}

type outgoing struct {
	env     Envelope
	durable bool
}

// Publisher queues store changes and publishes them from a single goroutine.
// Observers never block: when the queue is full the change is dropped and
// counted.
type Publisher struct {
	bus     domain.SignalBus
	logger  *slog.Logger
	now     func() time.Time
	queue   chan outgoing
	dropped atomic.Int64
	sent    atomic.Int64
}

func NewPublisher(bus domain.SignalBus, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueue
	}
	return &Publisher{
		bus:    bus,
		logger: logger.With(slog.String("component", "feed")),
		now:    time.Now,
		queue:  make(chan outgoing, queueSize),
	}
}

// Attach subscribes to every non-nil source.
func (p *Publisher) Attach(src Sources) {
	if src.Offers != nil {
		src.Offers.Subscribe(func(c offers.Change) {
			ev := EventUpsert
			if c.Kind == offers.ChangeRemove {
				ev = EventRemove
			}
			p.Emit(domain.ChannelOffers, ev, c.Offer, false)
		})
	}
	if src.Tokens != nil {
		src.Tokens.Subscribe(func(t domain.Token) { p.Emit(domain.ChannelTokens, EventToken, t, false) })
	}
	if src.Trades != nil {
		src.Trades.Subscribe(func(t domain.Trade) { p.Emit(domain.ChannelTrades, EventTrade, t, false) })
	}
	if src.Tracker != nil {
		src.Tracker.ObserveRemoval("", func(tx domain.PendingTx) {
			p.Emit(domain.ChannelTransactions, EventResolved, tx, true)
		})
	}
	if src.State != nil {
		src.State.Subscribe(func(s state.Snapshot) { p.Emit(domain.ChannelState, EventState, s, false) })
	}
}

// Emit encodes data and queues it for channel. Durable messages are also
// appended to the resolved-transaction stream.
func (p *Publisher) Emit(channel, event string, data any, durable bool) {
	raw, err := json.Marshal(data)
	if err != nil {
		p.logger.Error("encode event", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	msg := outgoing{
		env:     Envelope{Channel: channel, Event: event, Data: raw, At: p.now().UTC()},
		durable: durable,
	}
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
		p.logger.Warn("feed queue full, dropping event", slog.String("channel", channel), slog.String("event", event))
	}
}

// Run publishes queued messages until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "feed publisher started")
	defer p.logger.Info("feed publisher stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-p.queue:
			if err := p.publish(ctx, msg); err != nil {
				p.logger.WarnContext(ctx, "publish failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, msg outgoing) error {
	payload, err := json.Marshal(msg.env)
	if err != nil {
		return fmt.Errorf("feed: encode envelope: %w", err)
	}
	if err := p.bus.Publish(ctx, msg.env.Channel, payload); err != nil {
		return err
	}
	if msg.durable {
		if err := p.bus.StreamAppend(ctx, domain.StreamTxResolved, payload); err != nil {
			return err
		}
	}
	p.sent.Add(1)
	return nil
}

// Dropped is the number of changes lost to a full queue.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Sent is the number of envelopes published.
func (p *Publisher) Sent() int64 { return p.sent.Load() }

// Package notify sends operator alerts about resolved transactions and
// connectivity changes to chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/state"
	"github.com/alanyoungcy/otcdesk/internal/txtracker"
)

// Event types an operator can filter on.
const (
	EventTxConfirmed = "tx_confirmed"
	EventTxFailed    = "tx_failed"
	EventNetwork     = "network"
)

const (
	queueSize   = 64
	sendTimeout = 15 * time.Second
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

type message struct {
	event, title, body string
}

// Notifier fans messages out to every sender. Observers enqueue; Run
// delivers, so a slow webhook never stalls a store.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	queue   chan message
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		queue:   make(chan message, queueSize),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would be delivered.
func (n *Notifier) Enabled(event string) bool {
	return len(n.senders) > 0 && (len(n.allowed) == 0 || n.allowed[event])
}

// Enqueue queues a message for Run. Filtered events and overflow are dropped.
func (n *Notifier) Enqueue(event, title, body string) {
	if !n.Enabled(event) {
		return
	}
	select {
	case n.queue <- message{event: event, title: title, body: body}:
	default:
		n.logger.Warn("notification queue full", slog.String("event", event))
	}
}

// Run delivers queued messages until ctx ends.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-n.queue:
			sctx, cancel := context.WithTimeout(ctx, sendTimeout)
			_ = n.Send(sctx, m.title, m.body)
			cancel()
		}
	}
}

// Send delivers synchronously to all senders. One failing sender does not
// stop the others.
func (n *Notifier) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, body); err != nil {
			n.logger.ErrorContext(ctx, "sender failed", slog.String("sender", s.Name()), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// WatchTracker alerts on every resolved transaction.
func (n *Notifier) WatchTracker(t interface {
	ObserveRemoval(typ string, fn txtracker.Observer)
}) {
	t.ObserveRemoval("", func(tx domain.PendingTx) {
		event, title := EventTxConfirmed, "Transaction confirmed"
		if tx.Receipt == nil || !tx.Receipt.Effective() {
			event, title = EventTxFailed, "Transaction had no effect"
		}
		n.Enqueue(event, title, describeTx(tx))
	})
}

// WatchState alerts when the node connection or account changes.
func (n *Notifier) WatchState(app interface{ Subscribe(func(state.Snapshot)) }) {
	var last state.Snapshot
	first := true
	app.Subscribe(func(s state.Snapshot) {
		changed := first || s.Network != last.Network || s.Account != last.Account
		first, last = false, s
		if !changed {
			return
		}
		if !s.Connected() {
			n.Enqueue(EventNetwork, "Node disconnected", "no answer from the Ethereum node")
			return
		}
		n.Enqueue(EventNetwork, "Network "+s.Network, "account "+orNone(s.Account))
	})
}

func describeTx(tx domain.PendingTx) string {
	var b strings.Builder
	fmt.Fprintf(&b, "type: %s\nhash: %s", tx.Type, tx.TxHash)
	if tx.Receipt != nil {
		fmt.Fprintf(&b, "\nblock: %d\ngas used: %d", tx.Receipt.BlockNumber, tx.Receipt.GasUsed)
	}
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

package offers

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/otcdesk/internal/amount"
	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// Helper messages shown on an offer after a failed action.
const (
	helperNoEffect   = "transaction had no effect"
	helperNotCreated = "order was not created"
)

// NewOffer submits a new order and inserts a pending placeholder keyed by the
// transaction hash. The placeholder is removed once the transaction resolves
// or after the pending timeout, whichever comes first.
func (s *Store) NewOffer(ctx context.Context, req domain.OrderRequest) (domain.Offer, error) {
	if err := req.Validate(); err != nil {
		return domain.Offer{}, fmt.Errorf("offers: new offer: %w", err)
	}
	account := s.app.Account()
	if account == "" {
		return domain.Offer{}, fmt.Errorf("offers: new offer: %w", domain.ErrNoAccount)
	}
	c, err := domain.Classify(req.SellAmount, req.SellToken, req.BuyAmount, req.BuyToken, s.app.BaseCurrency())
	if err != nil {
		return domain.Offer{}, fmt.Errorf("offers: new offer: %w", err)
	}

	hash, err := s.chain.SubmitOrder(ctx, req, s.cfg.OfferGas)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("offers: new offer: submit: %w", err)
	}

	o := domain.Offer{
		ID:       hash,
		Type:     c.Type,
		Currency: c.Currency,
		Volume:   c.Volume,
		Price:    c.Price,
		Owner:    account,
		Status:   domain.OfferStatusPending,
		Tx:       hash,
	}
	s.upsert(hash, func(domain.Offer, bool) domain.Offer { return o })
	s.pending.Add(domain.TxTypeOffer, hash, domain.OfferTxPayload{ID: hash, Status: domain.OfferStatusPending})
	s.expireAfter(hash, s.cfg.PendingTimeout)

	s.logger.InfoContext(ctx, "offer submitted",
		slog.String("type", string(o.Type)),
		slog.String("currency", o.Currency),
		slog.String("volume", o.Volume),
		slog.String("price", o.Price),
		slog.String("tx", hash),
	)
	return o, nil
}

// BuyOffer takes quantity (base currency, wei) from a confirmed offer. A nil
// quantity takes the whole offer.
func (s *Store) BuyOffer(ctx context.Context, id string, quantity *big.Int) error {
	o, n, err := s.actionable(id)
	if err != nil {
		return fmt.Errorf("offers: buy %s: %w", id, err)
	}
	q, err := contractQuantity(o, quantity)
	if err != nil {
		return fmt.Errorf("offers: buy %s: %w", id, err)
	}

	s.modify(id, func(o *domain.Offer) { o.Helper = "" })
	hash, err := s.chain.SubmitBuy(ctx, n, q, s.cfg.BuyGas)
	if err != nil {
		s.modify(id, func(o *domain.Offer) { o.Helper = "buy failed: " + err.Error() })
		return fmt.Errorf("offers: buy %s: submit: %w", id, err)
	}
	s.markInFlight(ctx, id, domain.OfferStatusBought, hash)
	return nil
}

// CancelOffer cancels a confirmed offer owned by the active account.
func (s *Store) CancelOffer(ctx context.Context, id string) error {
	o, n, err := s.actionable(id)
	if err != nil {
		return fmt.Errorf("offers: cancel %s: %w", id, err)
	}
	if !s.CanCancel(o) {
		return fmt.Errorf("offers: cancel %s: %w", id, domain.ErrNotOwner)
	}

	s.modify(id, func(o *domain.Offer) { o.Helper = "" })
	hash, err := s.chain.SubmitCancel(ctx, n, s.cfg.CancelGas)
	if err != nil {
		s.modify(id, func(o *domain.Offer) { o.Helper = "cancel failed: " + err.Error() })
		return fmt.Errorf("offers: cancel %s: submit: %w", id, err)
	}
	s.markInFlight(ctx, id, domain.OfferStatusCancelled, hash)
	return nil
}

func (s *Store) actionable(id string) (domain.Offer, uint64, error) {
	o, ok := s.Get(id)
	if !ok {
		return domain.Offer{}, 0, domain.ErrNotFound
	}
	n, onChain := o.OnChainID()
	if !onChain || o.Status != domain.OfferStatusConfirmed {
		return domain.Offer{}, 0, domain.ErrNotActionable
	}
	return o, n, nil
}

func (s *Store) markInFlight(ctx context.Context, id string, status domain.OfferStatus, hash string) {
	s.modify(id, func(o *domain.Offer) {
		o.Status = status
		o.Tx = hash
	})
	s.pending.Add(domain.TxTypeOffer, hash, domain.OfferTxPayload{ID: id, Status: status})
	s.logger.InfoContext(ctx, "offer action submitted",
		slog.String("id", id),
		slog.String("status", string(status)),
		slog.String("tx", hash),
	)
}

// contractQuantity converts a base-denominated quantity into units of the
// order's sell token, the unit the contract's buy takes.
func contractQuantity(o domain.Offer, quantity *big.Int) (*big.Int, error) {
	if quantity == nil {
		return nil, nil
	}
	volume, err := amount.ParseBig(o.Volume)
	if err != nil {
		return nil, err
	}
	if quantity.Sign() <= 0 || quantity.Cmp(volume) > 0 {
		return nil, domain.ErrInvalidOrder
	}
	if o.Type == domain.OfferTypeAsk {
		return new(big.Int).Set(quantity), nil
	}
	return quoteCost(o.Price, quantity)
}

// quoteCost is base*price/10^18, the quote amount paid for base wei.
func quoteCost(price string, base *big.Int) (*big.Int, error) {
	p, err := amount.Parse(price)
	if err != nil {
		return nil, err
	}
	return amount.FromWei(amount.Mul(amount.FromBig(base), p)).BigInt(), nil
}

// expireAfter removes the placeholder id after d unless it has left the
// pending state by then. A later call replaces an earlier timer.
func (s *Store) expireAfter(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timers[id] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		o, ok := s.offers[id]
		s.mu.Unlock()
		if ok && o.Status == domain.OfferStatusPending {
			s.logger.Info("pending offer expired", slog.String("id", id))
			s.remove(id)
		}
	})
	s.timers[id] = timer
}

// onResolved reconciles an offer once its transaction has a receipt.
func (s *Store) onResolved(tx domain.PendingTx) {
	payload, ok := tx.Payload.(domain.OfferTxPayload)
	if !ok {
		s.logger.Warn("offer transaction without payload", slog.String("tx", tx.TxHash))
		return
	}
	effective := tx.Receipt != nil && tx.Receipt.Effective()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ResyncTimeout)
	defer cancel()

	if payload.Status == domain.OfferStatusPending {
		s.resolveCreation(ctx, payload.ID, tx.Receipt)
		return
	}

	n, onChain := domain.Offer{ID: payload.ID}.OnChainID()
	if !onChain {
		return
	}
	if err := s.syncOffer(ctx, n, true); err != nil {
		s.logger.WarnContext(ctx, "offer resync failed",
			slog.String("id", payload.ID),
			slog.String("error", err.Error()),
		)
	}
	s.modify(payload.ID, func(o *domain.Offer) {
		o.Tx = ""
		if effective {
			o.Helper = ""
		} else {
			o.Helper = helperNoEffect
		}
	})
	s.logger.InfoContext(ctx, "offer transaction resolved",
		slog.String("id", payload.ID),
		slog.String("status", string(payload.Status)),
		slog.Bool("effective", effective),
	)
}

// resolveCreation handles the receipt of a new order. On success the
// placeholder gives way to the orders the receipt names. On failure the
// placeholder shows an error until the pending timeout.
func (s *Store) resolveCreation(ctx context.Context, hash string, receipt *domain.Receipt) {
	if receipt == nil || !receipt.Effective() {
		s.modify(hash, func(o *domain.Offer) { o.Helper = helperNotCreated })
		s.expireAfter(hash, s.cfg.PendingTimeout)
		s.logger.WarnContext(ctx, "offer creation failed", slog.String("tx", hash))
		return
	}
	s.remove(hash)
	for _, id := range receipt.OrderIDs {
		if err := s.syncOffer(ctx, id, false); err != nil {
			s.logger.WarnContext(ctx, "new offer sync failed",
				slog.Uint64("id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// CanBuy reports whether the active account could take quantity (base wei,
// nil for the whole offer) from o: the offer must be confirmed and the
// account's balance and allowance of the token it pays with must each cover
// the cost.
func (s *Store) CanBuy(o domain.Offer, quantity *big.Int) bool {
	if o.Status != domain.OfferStatusConfirmed {
		return false
	}
	volume, err := amount.ParseBig(o.Volume)
	if err != nil {
		return false
	}
	q := volume
	if quantity != nil {
		q = quantity
	}
	if q.Sign() <= 0 || q.Cmp(volume) > 0 {
		return false
	}

	// A bid is filled by handing over base currency; an ask is paid for in
	// its quote currency.
	symbol, need := s.app.BaseCurrency(), q
	if o.Type == domain.OfferTypeAsk {
		symbol = o.Currency
		need, err = quoteCost(o.Price, q)
		if err != nil {
			return false
		}
	}
	tok, ok := s.balances.Get(symbol)
	if !ok {
		return false
	}
	bal, err := amount.ParseBig(tok.Balance)
	if err != nil {
		return false
	}
	allowance, err := amount.ParseBig(tok.Allowance)
	if err != nil {
		return false
	}
	return bal.Cmp(need) >= 0 && allowance.Cmp(need) >= 0
}

// CanCancel reports whether o is confirmed and owned by the active account.
func (s *Store) CanCancel(o domain.Offer) bool {
	account := s.app.Account()
	return o.Status == domain.OfferStatusConfirmed && account != "" && strings.EqualFold(o.Owner, account)
}

// Total is the human quote amount of the whole offer, volume times price.
func Total(o domain.Offer) (decimal.Decimal, error) {
	price, err := amount.Parse(o.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("offers: total: %w", err)
	}
	volume, err := amount.Parse(o.Volume)
	if err != nil {
		return decimal.Zero, fmt.Errorf("offers: total: %w", err)
	}
	return amount.Mul(amount.FromWei(price), amount.FromWei(volume)), nil
}

func cmpWei(a, b string) int {
	x, errA := amount.Parse(a)
	y, errB := amount.Parse(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return x.Cmp(y)
}

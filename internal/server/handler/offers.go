package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/otcdesk/internal/amount"
	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/offers"
	"github.com/alanyoungcy/otcdesk/internal/state"
)

// OfferService is the offer store as the API uses it.
type OfferService interface {
	List(typ domain.OfferType) []domain.Offer
	Get(id string) (domain.Offer, bool)
	NewOffer(ctx context.Context, req domain.OrderRequest) (domain.Offer, error)
	BuyOffer(ctx context.Context, id string, quantity *big.Int) error
	CancelOffer(ctx context.Context, id string) error
	CanCancel(o domain.Offer) bool
	Select(id string)
}

type OfferHandler struct {
	offers OfferService
	app    *state.App
	audit  Auditor
	logger *slog.Logger
}

func NewOfferHandler(svc OfferService, app *state.App, audit Auditor, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{offers: svc, app: app, audit: audit, logger: logger}
}

// offerView adds human-denominated fields for display.
type offerView struct {
	domain.Offer
	VolumeHuman string `json:"volume_human"`
	PriceHuman  string `json:"price_human"`
	Total       string `json:"total"`
	CanCancel   bool   `json:"can_cancel"`
}

func (h *OfferHandler) view(o domain.Offer) offerView {
	v := offerView{Offer: o, CanCancel: h.offers.CanCancel(o)}
	if s, err := amount.FromWeiString(o.Volume); err == nil {
		v.VolumeHuman = s
	}
	if s, err := amount.FromWeiString(o.Price); err == nil {
		v.PriceHuman = s
	}
	if t, err := offers.Total(o); err == nil {
		v.Total = t.String()
	}
	return v
}

// ListOffers returns bids (best first) and asks (best first), or one side.
// GET /api/offers?type=bid|ask
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	typ := domain.OfferType(r.URL.Query().Get("type"))
	resp := map[string][]offerView{}
	for _, side := range []domain.OfferType{domain.OfferTypeBid, domain.OfferTypeAsk} {
		if typ != "" && typ != side {
			continue
		}
		list := h.offers.List(side)
		views := make([]offerView, 0, len(list))
		for _, o := range list {
			views = append(views, h.view(o))
		}
		resp[string(side)+"s"] = views
	}
	if len(resp) == 0 {
		writeError(w, http.StatusBadRequest, "type must be bid or ask")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOffer returns one offer and marks it as the selected detail view.
// GET /api/offers/{id}
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	o, ok := h.offers.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "offer not found")
		return
	}
	h.offers.Select(id)
	writeJSON(w, http.StatusOK, h.view(o))
}

type newOfferRequest struct {
	Type     domain.OfferType `json:"type"`
	Volume   string           `json:"volume"`
	Price    string           `json:"price"`
	Currency string           `json:"currency,omitempty"`
}

// NewOffer makes an order from a human bid/ask. Currency defaults to the
// selected quote currency.
// POST /api/offers
func (h *OfferHandler) NewOffer(w http.ResponseWriter, r *http.Request) {
	var body newOfferRequest
	if !decodeBody(w, r, &body) {
		return
	}
	volume, err := amount.HumanToBig(body.Volume)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid volume")
		return
	}
	price, err := amount.HumanToBig(body.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}
	snap := h.app.Snapshot()
	currency := body.Currency
	if currency == "" {
		currency = snap.QuoteCurrency
	}
	req, err := domain.OrderFor(body.Type, currency, snap.BaseCurrency, volume, price)
	if err != nil {
		writeServiceError(w, r, h.logger, "new offer", err)
		return
	}

	o, err := h.offers.NewOffer(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "new offer", err)
		return
	}
	audit(r.Context(), h.audit, h.logger, "offer.new", map[string]any{
		"tx": o.ID, "type": o.Type, "volume": o.Volume, "price": o.Price, "currency": o.Currency,
	})
	writeJSON(w, http.StatusAccepted, h.view(o))
}

type buyRequest struct {
	// Quantity in human base units; empty buys the whole offer.
	Quantity string `json:"quantity,omitempty"`
}

// BuyOffer takes all or part of an offer.
// POST /api/offers/{id}/buy
func (h *OfferHandler) BuyOffer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body buyRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	var quantity *big.Int
	if body.Quantity != "" {
		q, err := amount.HumanToBig(body.Quantity)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid quantity")
			return
		}
		quantity = q
	}

	if err := h.offers.BuyOffer(r.Context(), id, quantity); err != nil {
		writeServiceError(w, r, h.logger, "buy offer", err)
		return
	}
	o, _ := h.offers.Get(id)
	audit(r.Context(), h.audit, h.logger, "offer.buy", map[string]any{"id": id, "quantity": body.Quantity, "tx": o.Tx})
	writeJSON(w, http.StatusAccepted, h.view(o))
}

// CancelOffer cancels an offer owned by the account.
// DELETE /api/offers/{id}
func (h *OfferHandler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.offers.CancelOffer(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "cancel offer", err)
		return
	}
	o, _ := h.offers.Get(id)
	audit(r.Context(), h.audit, h.logger, "offer.cancel", map[string]any{"id": id, "tx": o.Tx})
	writeJSON(w, http.StatusAccepted, h.view(o))
}

package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/alanyoungcy/otcdesk/internal/amount"
	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// TokenService is the token store as the API uses it.
type TokenService interface {
	List() []domain.Token
	Get(symbol string) (domain.Token, bool)
	NativeBalance() *big.Int
	SetNewAllowance(symbol, human string) error
	ApplyAllowance(ctx context.Context, symbol string) (string, error)
	Deposit(ctx context.Context, human string) (string, error)
	Withdraw(ctx context.Context, human string) (string, error)
}

// Market switches the traded currency pair.
type Market interface {
	SetCurrencies(ctx context.Context, quote, base string) error
}

type TokenHandler struct {
	tokens TokenService
	market Market
	audit  Auditor
	logger *slog.Logger
}

func NewTokenHandler(svc TokenService, market Market, audit Auditor, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{tokens: svc, market: market, audit: audit, logger: logger}
}

type tokenView struct {
	domain.Token
	BalanceHuman   string `json:"balance_human"`
	AllowanceHuman string `json:"allowance_human"`
	Changed        bool   `json:"allowance_changed"`
}

func toTokenView(t domain.Token) tokenView {
	v := tokenView{Token: t, Changed: t.AllowanceChanged()}
	v.BalanceHuman, _ = amount.FromWeiString(t.Balance)
	v.AllowanceHuman, _ = amount.FromWeiString(t.Allowance)
	return v
}

// ListTokens returns balances and allowances plus the native ether balance.
// GET /api/tokens
func (h *TokenHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	list := h.tokens.List()
	views := make([]tokenView, 0, len(list))
	for _, t := range list {
		views = append(views, toTokenView(t))
	}
	native := h.tokens.NativeBalance()
	writeJSON(w, http.StatusOK, map[string]any{
		"tokens":       views,
		"native":       native.String(),
		"native_human": amount.FromWei(amount.FromBig(native)).String(),
	})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

// SetAllowance stages a new allowance in human units.
// PUT /api/tokens/{symbol}/allowance
func (h *TokenHandler) SetAllowance(w http.ResponseWriter, r *http.Request) {
	sym := r.PathValue("symbol")
	var body amountRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.tokens.SetNewAllowance(sym, body.Amount); err != nil {
		writeServiceError(w, r, h.logger, "set allowance", err)
		return
	}
	t, _ := h.tokens.Get(sym)
	writeJSON(w, http.StatusOK, toTokenView(t))
}

// ApplyAllowance submits the staged allowance.
// POST /api/tokens/{symbol}/allowance/apply
func (h *TokenHandler) ApplyAllowance(w http.ResponseWriter, r *http.Request) {
	sym := r.PathValue("symbol")
	tx, err := h.tokens.ApplyAllowance(r.Context(), sym)
	if err != nil {
		writeServiceError(w, r, h.logger, "apply allowance", err)
		return
	}
	audit(r.Context(), h.audit, h.logger, "token.approve", map[string]any{"symbol": sym, "tx": tx})
	writeJSON(w, http.StatusAccepted, map[string]string{"tx": tx})
}

// Deposit wraps ether.
// POST /api/eth/deposit
func (h *TokenHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "deposit", h.tokens.Deposit)
}

// Withdraw unwraps ether tokens.
// POST /api/eth/withdraw
func (h *TokenHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "withdraw", h.tokens.Withdraw)
}

func (h *TokenHandler) transfer(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) (string, error)) {
	var body amountRequest
	if !decodeBody(w, r, &body) {
		return
	}
	tx, err := fn(r.Context(), body.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	audit(r.Context(), h.audit, h.logger, "eth."+op, map[string]any{"amount": body.Amount, "tx": tx})
	writeJSON(w, http.StatusAccepted, map[string]string{"tx": tx})
}

type currenciesRequest struct {
	Quote string `json:"quote"`
	Base  string `json:"base"`
}

// SetCurrencies switches the market pair and resyncs the mirror.
// PUT /api/currencies
func (h *TokenHandler) SetCurrencies(w http.ResponseWriter, r *http.Request) {
	var body currenciesRequest
	if !decodeBody(w, r, &body) {
		return
	}
	quote, base := strings.TrimSpace(body.Quote), strings.TrimSpace(body.Base)
	if quote == "" || base == "" || quote == base {
		writeError(w, http.StatusBadRequest, "quote and base must be distinct symbols")
		return
	}
	if err := h.market.SetCurrencies(r.Context(), quote, base); err != nil {
		writeServiceError(w, r, h.logger, "set currencies", err)
		return
	}
	audit(r.Context(), h.audit, h.logger, "market.currencies", map[string]any{"quote": quote, "base": base})
	writeJSON(w, http.StatusOK, map[string]string{"quote": quote, "base": base})
}

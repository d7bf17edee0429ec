// Package server exposes the mirror over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/server/handler"
	"github.com/alanyoungcy/otcdesk/internal/server/middleware"
	"github.com/alanyoungcy/otcdesk/internal/server/ws"
)

// Config holds listener and middleware settings.
type Config struct {
	Addr            string
	CORSOrigins     []string
	APIKey          string
	RateLimit       int
	RateWindow      time.Duration
	ShutdownTimeout time.Duration
}

// Handlers groups the route handlers. Audit and Metrics may be nil.
type Handlers struct {
	Health       *handler.HealthHandler
	Offers       *handler.OfferHandler
	Tokens       *handler.TokenHandler
	Trades       *handler.TradeHandler
	Transactions *handler.TransactionHandler
	Audit        *handler.AuditHandler
	Metrics      http.Handler
}

// Options carries the optional collaborators.
type Options struct {
	Hub      *ws.Hub
	Limiter  domain.RateLimiter
	Observer middleware.Observer
}

type Server struct {
	http   *http.Server
	cfg    Config
	logger *slog.Logger
}

// New registers every route and wraps the mux with CORS, logging, rate
// limiting and auth, outermost first.
func New(cfg Config, h Handlers, opts Options, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Health.Status)

	mux.HandleFunc("GET /api/offers", h.Offers.ListOffers)
	mux.HandleFunc("GET /api/offers/{id}", h.Offers.GetOffer)
	mux.HandleFunc("POST /api/offers", h.Offers.NewOffer)
	mux.HandleFunc("POST /api/offers/{id}/buy", h.Offers.BuyOffer)
	mux.HandleFunc("DELETE /api/offers/{id}", h.Offers.CancelOffer)

	mux.HandleFunc("GET /api/tokens", h.Tokens.ListTokens)
	mux.HandleFunc("PUT /api/tokens/{symbol}/allowance", h.Tokens.SetAllowance)
	mux.HandleFunc("POST /api/tokens/{symbol}/allowance/apply", h.Tokens.ApplyAllowance)
	mux.HandleFunc("POST /api/eth/deposit", h.Tokens.Deposit)
	mux.HandleFunc("POST /api/eth/withdraw", h.Tokens.Withdraw)
	mux.HandleFunc("PUT /api/currencies", h.Tokens.SetCurrencies)

	mux.HandleFunc("GET /api/trades", h.Trades.ListTrades)
	mux.HandleFunc("GET /api/archives", h.Trades.ListArchives)
	mux.HandleFunc("GET /api/transactions", h.Transactions.ListPending)
	mux.HandleFunc("GET /api/transactions/resolved", h.Transactions.ListResolved)

	if h.Audit != nil {
		mux.HandleFunc("GET /api/audit", h.Audit.ListAudit)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", opts.Hub.HandleWS)
	}

	var root http.Handler = mux
	root = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(root)
	if opts.Limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		root = middleware.RateLimit(opts.Limiter, cfg.RateLimit, window, logger)(root)
	}
	root = middleware.Logging(logger, opts.Observer)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Handler returns the wrapped mux.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run listens until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
		errc <- s.http.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(sctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	<-errc
	s.logger.Info("server stopped")
	return ctx.Err()
}

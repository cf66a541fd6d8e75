package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stablemarket/core/market"
	"stablemarket/native/marketplace"
	"stablemarket/native/oracle"
	"stablemarket/observability"
	"stablemarket/services/marketd/history"
)

// Market is the marketplace surface served over HTTP.
type Market interface {
	CreateSellOrder(ctx context.Context, caller, asset common.Address, tokenID, usdPrice *big.Int) (uint64, error)
	CancelSellOrder(ctx context.Context, caller common.Address, id uint64) error
	CreateBuyOrder(ctx context.Context, caller common.Address, id uint64, paidAmount *big.Int) error
	WithdrawAllFunds(ctx context.Context, caller common.Address) (*big.Int, error)
	ExpectedAmount(ctx context.Context, id uint64) (*big.Int, error)
	ApproveAsset(ctx context.Context, caller, asset common.Address, tokenID *big.Int, operator common.Address) error
	MintAsset(ctx context.Context, asset common.Address, tokenID *big.Int, to common.Address) error
	Faucet(ctx context.Context, addr common.Address, amount *big.Int) error
	SetPaused(caller common.Address, paused bool) error

	Order(id uint64) (*marketplace.SellOrder, error)
	Orders(filter market.OrderFilter) ([]*marketplace.SellOrder, error)
	LedgerBalance() (*big.Int, error)
	Balance(addr common.Address) (*big.Int, error)
	AssetOwner(asset common.Address, tokenID *big.Int) (common.Address, error)
	AssetApproval(asset common.Address, tokenID *big.Int) (common.Address, error)
	Owner() common.Address
	Account() common.Address
	Pair() string
	Paused() bool
}

// EventLog serves the event history.
type EventLog interface {
	List(ctx context.Context, filter history.Filter) ([]history.Record, error)
}

// FeedHealth reports the last observation of each price feed.
type FeedHealth interface {
	Health() []oracle.FeedHealth
}

// Config configures the HTTP server.
type Config struct {
	ListenAddress   string
	Auth            AuthConfig
	RateLimit       RateLimit
	ShutdownTimeout time.Duration
}

// Server exposes the marketplace over a JSON API.
type Server struct {
	cfg     Config
	market  Market
	events  EventLog
	feeds   FeedHealth
	auth    *Authenticator
	limiter *RateLimiter
	metrics *observability.MarketMetrics
	logger  *slog.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithEventLog enables GET /events.
func WithEventLog(log EventLog) Option {
	return func(s *Server) { s.events = log }
}

// WithFeedHealth reports price feed freshness on /healthz.
func WithFeedHealth(feeds FeedHealth) Option {
	return func(s *Server) { s.feeds = feeds }
}

// WithMetrics records HTTP outcomes and serves /metrics.
func WithMetrics(m *observability.MarketMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a server for m.
func New(cfg Config, m Market, opts ...Option) (*Server, error) {
	if m == nil {
		return nil, errors.New("server: market required")
	}
	s := &Server{cfg: cfg, market: m, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	auth, err := NewAuthenticator(cfg.Auth, s.logger)
	if err != nil {
		return nil, err
	}
	s.auth = auth
	s.limiter = NewRateLimiter(cfg.RateLimit)
	if s.cfg.ShutdownTimeout <= 0 {
		s.cfg.ShutdownTimeout = 5 * time.Second
	}
	s.logger = s.logger.With("component", "http")
	return s, nil
}

// Handler returns the routed handler tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", s.instrument("orders.list", s.handleListOrders))
		r.Get("/{id}", s.instrument("orders.get", s.handleGetOrder))
		r.Get("/{id}/price", s.instrument("orders.price", s.handleOrderPrice))
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/", s.instrument("orders.create", s.handleCreateOrder))
			r.Post("/{id}/cancel", s.instrument("orders.cancel", s.handleCancelOrder))
			r.Post("/{id}/buy", s.instrument("orders.buy", s.handleBuyOrder))
		})
	})

	r.Get("/funds", s.instrument("funds.get", s.handleFunds))
	r.With(s.auth.Middleware).Post("/funds/withdraw", s.instrument("funds.withdraw", s.handleWithdraw))
	r.With(s.auth.Middleware).Post("/admin/pause", s.instrument("admin.pause", s.handlePause))

	r.Get("/events", s.instrument("events.list", s.handleEvents))

	r.Get("/assets/{asset}/{tokenId}", s.instrument("assets.get", s.handleGetAsset))
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/assets/approve", s.instrument("assets.approve", s.handleApprove))
		r.Post("/assets/mint", s.instrument("assets.mint", s.handleMint))
		r.Post("/accounts/faucet", s.instrument("accounts.faucet", s.handleFaucet))
	})
	r.Get("/accounts/{address}", s.instrument("accounts.get", s.handleAccount))

	return otelhttp.NewHandler(r, "marketd")
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

type requestIDKey struct{}

// RequestIDHeader carries the request identifier in both directions.
const RequestIDHeader = "X-Request-ID"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)
		s.metrics.ObserveHTTP(route, rec.status)
		s.logger.Debug("request served",
			"route", route,
			"status", rec.status,
			"duration", time.Since(start),
			"requestId", requestIDFrom(r.Context()))
	}
}

type feedView struct {
	Pair         string `json:"pair"`
	Source       string `json:"source"`
	LastObserved int64  `json:"lastObserved"`
	Observations int    `json:"observations"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok", "paused": s.market.Paused()}
	if s.feeds != nil {
		feeds := make([]feedView, 0)
		for _, f := range s.feeds.Health() {
			feeds = append(feeds, feedView{
				Pair:         f.Pair,
				Source:       f.Source,
				LastObserved: f.LastObserved.Unix(),
				Observations: f.Observations,
			})
		}
		resp["feeds"] = feeds
	}
	writeJSON(w, http.StatusOK, resp)
}

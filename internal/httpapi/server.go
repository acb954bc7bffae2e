package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/rickgao/market-replica/internal/ledger"
	"github.com/rickgao/market-replica/internal/model"
	"github.com/rickgao/market-replica/internal/query"
	"github.com/rickgao/market-replica/internal/reconcile"
	"github.com/rickgao/market-replica/internal/version"
)

// Querier answers read queries.
type Querier interface {
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	GetMarketsByBranch(ctx context.Context, branch string) ([]model.Market, error)
	GetMarketsInfo(ctx context.Context, ids []string) (map[string]*model.Market, error)
	GetPriceHistory(ctx context.Context, id string, r query.BlockRange) (map[int][]model.Trade, error)
	GetAccountTrades(ctx context.Context, account string, r query.BlockRange) (map[string]map[int][]model.Trade, error)
}

// Pinger checks that the store is usable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds HTTP server configuration.
type Config struct {
	Port         int
	MetricsPath  string        // Empty disables the metrics route
	PingTimeout  time.Duration // Store ping timeout for /health (default: 2s)
	ReadTimeout  time.Duration // default: 10s
	WriteTimeout time.Duration // default: 30s
}

// Server is the replica HTTP server.
type Server struct {
	cfg     Config
	query   Querier
	store   Pinger
	status  func() reconcile.Status
	metrics http.Handler
	logger  *slog.Logger

	router *mux.Router

	mu  sync.Mutex
	srv *http.Server
}

// NewServer creates a Server. status and metrics may be nil.
func NewServer(cfg Config, q Querier, st Pinger, status func() reconcile.Status, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		query:   q,
		store:   st,
		status:  status,
		metrics: metrics,
		logger:  logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/markets", s.handleMarketsInfo).Methods(http.MethodGet)
	r.HandleFunc("/markets/{id}", s.handleMarket).Methods(http.MethodGet)
	r.HandleFunc("/markets/{id}/price-history", s.handlePriceHistory).Methods(http.MethodGet)
	r.HandleFunc("/branches/{id}/markets", s.handleBranchMarkets).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{account}/trades", s.handleAccountTrades).Methods(http.MethodGet)
	if s.metrics != nil && s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, s.metrics).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("http server already started")
	}

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	srv := s.srv

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "err", err)
		}
	}()

	s.logger.Info("http server listening", "addr", srv.Addr)
	return nil
}

// Stop shuts the server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status              string        `json:"status"` // "ok", "degraded" or "closed"
	Build               version.Info  `json:"build"`
	Store               string        `json:"store"`
	Watching            bool          `json:"watching"`
	IntervalRunning     bool          `json:"interval_running"`
	ActiveSubscriptions []ledger.Kind `json:"active_subscriptions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:              "ok",
		Build:               version.Get(),
		Store:               "ok",
		ActiveSubscriptions: []ledger.Kind{},
	}

	if s.status != nil {
		st := s.status()
		resp.Watching = st.Watching
		resp.IntervalRunning = st.IntervalRunning
		if st.ActiveKinds != nil {
			resp.ActiveSubscriptions = st.ActiveKinds
		}
		if st.Closed {
			resp.Status = "closed"
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.PingTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		resp.Store = err.Error()
		if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, resp)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, err := s.query.GetMarket(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if m == nil {
		respondError(w, http.StatusNotFound, "market not found")
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleMarketsInfo(w http.ResponseWriter, r *http.Request) {
	ids := splitIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		respondError(w, http.StatusBadRequest, "ids is required")
		return
	}
	markets, err := s.query.GetMarketsInfo(r.Context(), ids)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, markets)
}

func (s *Server) handleBranchMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.query.GetMarketsByBranch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, markets)
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	br, err := parseBlockRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := s.query.GetPriceHistory(r.Context(), mux.Vars(r)["id"], br)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleAccountTrades(w http.ResponseWriter, r *http.Request) {
	br, err := parseBlockRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := s.query.GetAccountTrades(r.Context(), mux.Vars(r)["account"], br)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, trades)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("query failed", "path", r.URL.Path, "err", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}

func parseBlockRange(r *http.Request) (query.BlockRange, error) {
	var br query.BlockRange
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *uint64
	}{
		{"from", &br.From},
		{"to", &br.To},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return br, fmt.Errorf("invalid %s block %q", p.name, v)
		}
		*p.dst = n
	}
	if br.To != 0 && br.To < br.From {
		return br, errors.New("to must not be below from")
	}
	return br, nil
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

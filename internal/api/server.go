package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"time26-oracle/internal/eligibility"
	"time26-oracle/internal/oracle"
	"time26-oracle/internal/storage"
)

const (
	defaultSnapshotLimit = 30
	maxSnapshotLimit     = 365
	maxBodyBytes         = 1 << 16
)

// Prices is the oracle surface the API reads.
type Prices interface {
	Snapshot(ctx context.Context) (oracle.Snapshot, error)
	StaleSnapshot() (oracle.Snapshot, error)
}

// Evaluator decides gasless eligibility.
type Evaluator interface {
	Evaluate(ctx context.Context, req eligibility.Request) (eligibility.Result, error)
}

// SnapshotLister reads recent settlement snapshots.
type SnapshotLister interface {
	ListRecentSnapshots(ctx context.Context, limit int) ([]storage.SettlementSnapshot, error)
}

// Config wires the API handlers. A nil Snapshots disables the verification endpoint.
type Config struct {
	Prices    Prices
	Evaluator Evaluator
	Snapshots SnapshotLister
	Metrics   http.Handler
	Logger    zerolog.Logger
}

type server struct {
	prices    Prices
	evaluator Evaluator
	snapshots SnapshotLister
	logger    zerolog.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg Config) http.Handler {
	s := &server{
		prices:    cfg.Prices,
		evaluator: cfg.Evaluator,
		snapshots: cfg.Snapshots,
		logger:    cfg.Logger.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/prices", s.handlePrices)
		v1.Get("/quote", s.handleQuote)
		v1.Post("/eligibility", s.handleEligibility)
		v1.Get("/settlement/verification", s.handleVerification)
	})

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics)

	return r
}

// NewServer wraps the router in an http.Server with the given timeouts.
func NewServer(addr string, readTimeout, writeTimeout time.Duration, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("request served")
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func (s *server) writeOracleError(w http.ResponseWriter, err error) {
	var cfgErr *oracle.ConfigurationError
	if errors.As(err, &cfgErr) {
		s.logger.Error().Err(err).Msg("pricing misconfigured")
		writeError(w, http.StatusInternalServerError, "pricing misconfigured")
		return
	}
	s.logger.Error().Err(err).Msg("pricing failed")
	writeError(w, http.StatusInternalServerError, "pricing unavailable")
}

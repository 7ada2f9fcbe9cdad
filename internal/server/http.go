// internal/server/http.go
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"DegenVenue/internal/observability"
	"DegenVenue/internal/projection"
	"DegenVenue/internal/query"
)

// Server is the HTTP/JSON API: read-side queries, admin endpoints, health
// probes and metrics. Writes enter through NATS only; the API never mutates
// venue state.
type Server struct {
	httpServer *http.Server
	addr       string
	log        zerolog.Logger
}

// Deps holds everything the handlers need.
type Deps struct {
	DB            *sql.DB
	Query         *query.Service
	History       *projection.HistoryReader
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

func New(addr string, deps *Deps) *Server {
	s := &Server{
		addr: addr,
		log:  observability.NewLogger("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", deps.HealthChecker.LivenessHandler)
	mux.HandleFunc("GET /readyz", deps.HealthChecker.ReadinessHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	h := &handlers{deps: deps, log: s.log}
	mux.HandleFunc("GET /v1/balances/{owner}/{asset}", h.getBalance)
	mux.HandleFunc("GET /v1/pool/{asset}", h.getPool)
	mux.HandleFunc("GET /v1/journal/{owner}", h.getJournalHistory)
	mux.HandleFunc("GET /v1/funding", h.getFundingHistory)
	mux.HandleFunc("GET /v1/fees", h.getFeeHistory)
	mux.HandleFunc("GET /v1/admin/integrity", h.verifyIntegrity)
	mux.HandleFunc("POST /v1/admin/projections/rebuild", h.rebuildProjections)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the context is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

type handlers struct {
	deps *Deps
	log  zerolog.Logger
}

func (h *handlers) getBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := uuid.Parse(r.PathValue("owner"))
	if err != nil {
		h.writeError(w, "get_balance", http.StatusBadRequest, "invalid owner id")
		return
	}
	asset, err := strconv.ParseUint(r.PathValue("asset"), 10, 8)
	if err != nil {
		h.writeError(w, "get_balance", http.StatusBadRequest, "invalid asset id")
		return
	}

	resp, err := h.deps.Query.GetBalance(r.Context(), owner, uint8(asset))
	if err != nil {
		h.serverError(w, "get_balance", err)
		return
	}
	h.writeJSON(w, resp)
}

func (h *handlers) getPool(w http.ResponseWriter, r *http.Request) {
	asset, err := strconv.ParseUint(r.PathValue("asset"), 10, 8)
	if err != nil {
		h.writeError(w, "get_pool", http.StatusBadRequest, "invalid asset id")
		return
	}

	resp, err := h.deps.Query.GetPool(r.Context(), uint8(asset))
	if err != nil {
		h.serverError(w, "get_pool", err)
		return
	}
	h.writeJSON(w, resp)
}

func (h *handlers) getJournalHistory(w http.ResponseWriter, r *http.Request) {
	owner, err := uuid.Parse(r.PathValue("owner"))
	if err != nil {
		h.writeError(w, "get_journal", http.StatusBadRequest, "invalid owner id")
		return
	}
	limit := parseLimit(r, 50)

	var after *int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, "get_journal", http.StatusBadRequest, "invalid after cursor")
			return
		}
		after = &seq
	}

	entries, err := h.deps.Query.GetJournalHistory(r.Context(), owner, limit, after)
	if err != nil {
		h.serverError(w, "get_journal", err)
		return
	}
	h.writeJSON(w, map[string]interface{}{"entries": entries})
}

func (h *handlers) getFundingHistory(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		h.writeError(w, "get_funding", http.StatusBadRequest, "account parameter required")
		return
	}

	entries, err := h.deps.History.FundingByAccount(r.Context(), account, parseLimit(r, 50))
	if err != nil {
		h.serverError(w, "get_funding", err)
		return
	}
	h.writeJSON(w, map[string]interface{}{"entries": entries})
}

func (h *handlers) getFeeHistory(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		h.writeError(w, "get_fees", http.StatusBadRequest, "account parameter required")
		return
	}
	feeType := r.URL.Query().Get("type")

	entries, err := h.deps.History.FeesByAccount(r.Context(), account, feeType, parseLimit(r, 50))
	if err != nil {
		h.serverError(w, "get_fees", err)
		return
	}
	h.writeJSON(w, map[string]interface{}{"entries": entries})
}

func (h *handlers) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Query.VerifyIntegrity(r.Context())
	if err != nil {
		h.serverError(w, "verify_integrity", err)
		return
	}
	h.writeJSON(w, report)
}

func (h *handlers) rebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.Rebuild(r.Context(), h.deps.DB); err != nil {
		h.serverError(w, "rebuild_projections", err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "rebuilt"})
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return def
	}
	return limit
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, endpoint string, code int, msg string) {
	if h.deps.Metrics != nil {
		h.deps.Metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *handlers) serverError(w http.ResponseWriter, endpoint string, err error) {
	h.log.Error().Str("endpoint", endpoint).Err(err).Msg("query failed")
	h.writeError(w, endpoint, http.StatusInternalServerError, "internal error")
}

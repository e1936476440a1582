// Package server exposes the outreach pipeline over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/compose"
	"github.com/sells-group/outreach-cli/internal/delivery"
	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/ingest"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/outreach"
	"github.com/sells-group/outreach-cli/internal/scheduler"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Ingester discovers and stores new leads.
type Ingester interface {
	Run(ctx context.Context, query string) (*ingest.Result, error)
}

// Enricher classifies Found leads.
type Enricher interface {
	Run(ctx context.Context) (*enrich.Result, error)
}

// Outreach runs previews and sends.
type Outreach interface {
	Preview(ctx context.Context, id string) (*outreach.Preview, error)
	PreviewEnriched(ctx context.Context) ([]outreach.Preview, error)
	SendMany(ctx context.Context, ids []string) (*outreach.Summary, error)
	SendComposed(ctx context.Context, id string, msg compose.Message) delivery.Receipt
}

// Sweeper runs the follow-up sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (*scheduler.SweepResult, error)
}

// Deps wires the server to the pipeline. Ingester may be nil when no
// search provider is configured.
type Deps struct {
	Store     store.Store
	Ingester  Ingester
	Enricher  Enricher
	Outreach  Outreach
	Scheduler Sweeper
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

// Server handles API requests. Runs that send email or mutate many leads
// are serialized.
type Server struct {
	deps  Deps
	runMu sync.Mutex
}

// New creates a Server.
func New(d Deps) *Server {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: d}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/leads", s.handleListLeads)
		r.Post("/leads/{id}/replied", s.handleReplied)
		r.Post("/preview-email", s.handlePreview)
		r.Post("/send-email", s.handleSendEmail)
		r.Post("/bulk-preview", s.handleBulkPreview)
		r.Post("/bulk-send", s.handleBulkSend)
		r.Post("/run-scheduler", s.handleRunScheduler)
		r.Post("/run-scraper", s.handleRunScraper)
		r.Get("/analytics", s.handleAnalytics)
	})
	return r
}

// ListenAndServe serves on port until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

func writeOK(w http.ResponseWriter, body envelope) {
	if body == nil {
		body = envelope{}
	}
	body["success"] = true
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{"success": false, "error": msg})
}

// writeStoreError maps store sentinels to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "lead not found")
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, store.ErrStaleStatus):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zap.L().Error("server: request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(r *http.Request, dst any) error {
	if r.Body == nil {
		return eris.New("empty request body")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return eris.Wrap(err, "invalid request body")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": "ok"})
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	var filter store.LeadFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := model.LeadStatus(strings.TrimSpace(part))
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	leads, err := s.deps.Store.ListLeads(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	writeOK(w, envelope{"leads": leads})
}

func (s *Server) handleReplied(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	from, err := store.MarkReplied(r.Context(), s.deps.Store, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeOK(w, envelope{"lead_id": id, "from": from, "to": model.LeadStatusReplied})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LeadID string `json:"lead_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.LeadID == "" {
		writeError(w, http.StatusBadRequest, "lead_id required")
		return
	}

	p, err := s.deps.Outreach.Preview(r.Context(), req.LeadID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeOK(w, envelope{
		"subject":      p.Message.Subject,
		"body":         p.Message.Body,
		"personalized": p.Message.Personalized,
	})
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LeadID  string `json:"lead_id"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.LeadID == "" || strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	rcpt := s.deps.Outreach.SendComposed(r.Context(), req.LeadID, compose.Message{Subject: req.Subject, Body: req.Body})
	writeJSON(w, http.StatusOK, envelope{"success": rcpt.Sent, "receipt": rcpt})
}

func (s *Server) handleBulkPreview(w http.ResponseWriter, r *http.Request) {
	previews, err := s.deps.Outreach.PreviewEnriched(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	byID := make(map[string]outreach.Preview, len(previews))
	for _, p := range previews {
		byID[p.LeadID] = p
	}
	writeOK(w, envelope{"previews": byID})
}

func (s *Server) handleBulkSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LeadIDs []string `json:"lead_ids"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.LeadIDs) == 0 {
		writeError(w, http.StatusBadRequest, "no leads selected")
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	sum, err := s.deps.Outreach.SendMany(r.Context(), req.LeadIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeOK(w, envelope{"sent": sum.Sent, "failed": sum.Failed, "receipts": sum.Receipts})
}

func (s *Server) handleRunScheduler(w http.ResponseWriter, r *http.Request) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	res, err := s.deps.Scheduler.Sweep(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeOK(w, envelope{"result": res})
}

func (s *Server) handleRunScraper(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}
	if s.deps.Ingester == nil {
		writeError(w, http.StatusServiceUnavailable, "search provider not configured")
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	ingested, err := s.deps.Ingester.Run(r.Context(), req.Query)
	if err != nil {
		zap.L().Error("server: ingest failed", zap.String("query", req.Query), zap.Error(err))
		body := envelope{"success": false, "error": "search failed"}
		if ingested != nil {
			body["count"] = ingested.Created
		}
		writeJSON(w, http.StatusBadGateway, body)
		return
	}
	enriched, err := s.deps.Enricher.Run(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeOK(w, envelope{
		"count":    ingested.Created,
		"skipped":  ingested.Skipped,
		"enriched": enriched.Enriched,
		"missing":  enriched.Missing,
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Store.CountByStatus(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	byName := make(map[string]int, len(counts))
	total := 0
	for _, st := range model.AllLeadStatuses() {
		byName[string(st)] = counts[st]
		total += counts[st]
	}
	s.deps.Metrics.SetStatusCounts(byName)

	writeOK(w, envelope{"status_counts": byName, "total": total})
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fzpathan/dr-rag-project/cache"
	"github.com/fzpathan/dr-rag-project/catalog"
	"github.com/fzpathan/dr-rag-project/health"
	"github.com/fzpathan/dr-rag-project/query"
	"github.com/fzpathan/dr-rag-project/rag"
)

// Server wires the cache service, catalog and health checks into HTTP
// handlers.
type Server struct {
	svc      *cache.Service
	catalog  *catalog.Store
	registry *health.Registry
	verifier *Verifier
	logger   *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithVerifier enables bearer-token verification on the query and admin
// routes.
func WithVerifier(v *Verifier) ServerOption {
	return func(s *Server) { s.verifier = v }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithHealthRegistry sets the readiness check registry.
func WithHealthRegistry(r *health.Registry) ServerOption {
	return func(s *Server) { s.registry = r }
}

// NewServer creates the HTTP boundary in front of svc. catalog may be nil,
// in which case the sources endpoint reports an empty list and no history
// is recorded.
func NewServer(svc *cache.Service, cat *catalog.Store, opts ...ServerOption) *Server {
	s := &Server{
		svc:     svc,
		catalog: cat,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = health.NewRegistry()
	}
	return s
}

// Routes returns the route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", s.requireAuth(s.handleQuery))
	mux.HandleFunc("GET /query/sources", s.requireAuth(s.handleSources))
	mux.HandleFunc("GET /query/history", s.requireAuth(s.handleHistory))
	mux.HandleFunc("GET /query/stats", s.requireAuth(s.handleStats))
	mux.HandleFunc("GET /query/cache-stats", s.requireAuth(s.handleCacheStats))
	mux.HandleFunc("POST /query/cache-clear", s.requireAuth(s.handleCacheClear))
	mux.HandleFunc("POST /query/cache-stats/reset", s.requireAuth(s.handleStatsReset))
	mux.HandleFunc("DELETE /query/cache", s.requireAuth(s.handleInvalidate))
	mux.HandleFunc("GET /healthz", health.LivenessHandler())
	mux.HandleFunc("GET /readyz", health.ReadinessHandler(s.registry))
	return mux
}

// queryResponse is the wire shape of an answered query.
type queryResponse struct {
	ID               string           `json:"id"`
	Question         string           `json:"question"`
	Answer           string           `json:"answer"`
	Citations        []query.Citation `json:"citations"`
	SourcesUsed      []string         `json:"sources_used"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	Cached           bool             `json:"cached"`
	CreatedAt        time.Time        `json:"created_at"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	start := time.Now()
	answer, cached, err := s.svc.Query(r.Context(), req)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	processing := answer.ProcessingTime
	if processing == 0 {
		processing = time.Since(start)
	}
	s.recordHistory(r.Context(), answer, cached, processing)

	writeJSON(w, http.StatusOK, queryResponse{
		ID:               answer.ID,
		Question:         answer.Question,
		Answer:           answer.Answer,
		Citations:        answer.Citations,
		SourcesUsed:      answer.SourcesUsed,
		ProcessingTimeMs: processing.Milliseconds(),
		Cached:           cached,
		CreatedAt:        time.Now().UTC(),
	})
}

// writeQueryError maps the error taxonomy onto status codes. Upstream
// errors surface as gateway failures; a failed query carries no cached
// flag.
func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, query.ErrQuestionTooShort),
		errors.Is(err, query.ErrQuestionTooLong),
		errors.Is(err, query.ErrTopKOutOfRange),
		errors.Is(err, rag.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "query timed out")
	case errors.Is(err, context.Canceled):
		// The client went away; nothing useful to write.
		writeError(w, http.StatusBadRequest, "request cancelled")
	default:
		s.logger.ErrorContext(r.Context(), "query failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to process query, please try again")
	}
}

func (s *Server) recordHistory(ctx context.Context, answer *query.Answer, cached bool, processing time.Duration) {
	if s.catalog == nil {
		return
	}
	// Best effort: history must never fail the request.
	err := s.catalog.RecordQuery(ctx, catalog.HistoryEntry{
		Question:     answer.Question,
		Cached:       cached,
		ProcessingMs: processing.Milliseconds(),
		SourcesUsed:  answer.SourcesUsed,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "recording query history failed", "error", err)
	}
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	var sources []catalog.Source
	if s.catalog != nil {
		var err error
		sources, err = s.catalog.ListSources(r.Context())
		if err != nil {
			s.logger.ErrorContext(r.Context(), "listing sources failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list sources")
			return
		}
	}
	if sources == nil {
		sources = []catalog.Source{}
	}
	writeJSON(w, http.StatusOK, struct {
		Sources []catalog.Source `json:"sources"`
		Count   int              `json:"count"`
	}{Sources: sources, Count: len(sources)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeJSON(w, http.StatusOK, []catalog.HistoryEntry{})
		return
	}
	entries, err := s.catalog.RecentQueries(r.Context(), 50)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "listing history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if entries == nil {
		entries = []catalog.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// statsResponse summarizes the knowledge base: how many document chunks
// are ingested and from which sources.
type statsResponse struct {
	Status        string   `json:"status"`
	DocumentCount int      `json:"document_count"`
	Sources       []string `json:"sources"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Status: "ready", Sources: []string{}}
	if s.catalog != nil {
		sources, err := s.catalog.ListSources(r.Context())
		if err != nil {
			s.logger.ErrorContext(r.Context(), "listing sources failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load knowledge base stats")
			return
		}
		for _, src := range sources {
			resp.DocumentCount += src.DocumentCount
			resp.Sources = append(resp.Sources, src.Name)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// cacheStatsResponse mirrors the administrative stats surface.
type cacheStatsResponse struct {
	Size           int     `json:"size"`
	MaxSize        int     `json:"max_size"`
	Hits           uint64  `json:"hits"`
	Misses         uint64  `json:"misses"`
	Evictions      uint64  `json:"evictions"`
	HitRatePercent float64 `json:"hit_rate_percent"`
	TTLHours       float64 `json:"ttl_hours"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.svc.Stats()
	opts := s.svc.Options()
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		Size:           stats.Size,
		MaxSize:        opts.MaxEntries,
		Hits:           stats.Hits,
		Misses:         stats.Misses,
		Evictions:      stats.Evictions,
		HitRatePercent: stats.HitRate(),
		TTLHours:       opts.TTL.Hours(),
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.svc.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	s.svc.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.svc.Invalidate(req)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, struct {
		Detail string `json:"detail"`
	}{Detail: detail})
}

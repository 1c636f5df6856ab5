// Package controlplane serves read-only operational endpoints: runtime stats,
// an overview of the running configuration and the interaction audit log.
package controlplane

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
	"github.com/sapphir-health/sapphir-gateway/internal/storage"
)

// Overview describes the running gateway. Sessions is read on each request.
type Overview struct {
	Model         string
	UpstreamURL   string
	StorageType   string
	CannedEntries int
	Sessions      func() int
}

type Server struct {
	router    *chi.Mux
	startTime time.Time
	overview  Overview
	store     storage.InteractionStore
}

// NewServer creates the control plane. store may be nil when the audit log is
// disabled.
func NewServer(overview Overview, store storage.InteractionStore) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		startTime: time.Now(),
		overview:  overview,
		store:     store,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/api/overview", s.handleOverview)
	s.router.Get("/api/interactions", s.handleListInteractions)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type StatsResponse struct {
	Uptime       string      `json:"uptime"`
	GoVersion    string      `json:"go_version"`
	NumGoroutine int         `json:"num_goroutine"`
	Memory       MemoryStats `json:"memory"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeJSON(w, StatsResponse{
		Uptime:       time.Since(s.startTime).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	})
}

type OverviewResponse struct {
	Model         string         `json:"model"`
	UpstreamURL   string         `json:"upstream_url"`
	Storage       StorageSummary `json:"storage"`
	CannedEntries int            `json:"canned_entries"`
	Sessions      int            `json:"sessions"`
}

type StorageSummary struct {
	Enabled bool   `json:"enabled"`
	Type    string `json:"type"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	resp := OverviewResponse{
		Model:       s.overview.Model,
		UpstreamURL: s.overview.UpstreamURL,
		Storage: StorageSummary{
			Enabled: s.store != nil,
			Type:    s.overview.StorageType,
		},
		CannedEntries: s.overview.CannedEntries,
	}
	if s.overview.Sessions != nil {
		resp.Sessions = s.overview.Sessions()
	}
	writeJSON(w, resp)
}

type InteractionListResponse struct {
	Interactions []InteractionSummary `json:"interactions"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

type InteractionSummary struct {
	ID           string `json:"id"`
	RequestID    string `json:"request_id,omitempty"`
	Kind         string `json:"kind"`
	SessionKey   string `json:"session_key,omitempty"`
	Canned       bool   `json:"canned"`
	Model        string `json:"model,omitempty"`
	Status       string `json:"status"`
	ErrorKind    string `json:"error_kind,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	CreatedAt    int64  `json:"created_at"`
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "interaction storage not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	offset := 0

	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	if q := r.URL.Query().Get("offset"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v >= 0 {
			offset = v
		}
	}

	kind := domain.InteractionKind(r.URL.Query().Get("kind"))
	switch kind {
	case "", domain.InteractionTurn, domain.InteractionDocument:
	default:
		http.Error(w, "unknown interaction kind", http.StatusBadRequest)
		return
	}

	interactions, err := s.store.ListInteractions(r.Context(), domain.InteractionListOptions{
		Kind:   kind,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		http.Error(w, "failed to list interactions: "+err.Error(), http.StatusInternalServerError)
		return
	}

	summaries := make([]InteractionSummary, 0, len(interactions))
	for _, in := range interactions {
		summaries = append(summaries, InteractionSummary{
			ID:           in.ID,
			RequestID:    in.RequestID,
			Kind:         string(in.Kind),
			SessionKey:   in.SessionKey,
			Canned:       in.Canned,
			Model:        in.Model,
			Status:       string(in.Status),
			ErrorKind:    string(in.ErrorKind),
			PromptTokens: in.PromptTokens,
			DurationMs:   in.Duration.Milliseconds(),
			CreatedAt:    in.CreatedAt.Unix(),
		})
	}

	writeJSON(w, InteractionListResponse{
		Interactions: summaries,
		Limit:        limit,
		Offset:       offset,
	})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

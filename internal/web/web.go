package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"occal/internal/config"
	appLog "occal/internal/log"
	"occal/internal/model"
)

// Provider resolves the occurrence list for a window. It may return both a
// partial result and an error when some sources failed.
type Provider func(ctx context.Context, windowStart, windowEnd time.Time) ([]model.Occurrence, error)

// maxHorizonDays bounds the days query parameter so a stray request cannot
// force an enormous expansion window.
const maxHorizonDays = 366

// Server exposes the resolved calendar over a small JSON API:
// GET /health and GET /api/occurrences.
type Server struct {
	cfg      *config.Config
	provider Provider
	loc      *time.Location
	mux      *http.ServeMux

	mu    sync.RWMutex
	cache *cachedResult
}

type cachedResult struct {
	occurrences []model.Occurrence
	windowStart time.Time
	windowEnd   time.Time
	refreshedAt time.Time
	degraded    bool
}

type occurrencesResponse struct {
	WindowStart time.Time          `json:"window_start"`
	WindowEnd   time.Time          `json:"window_end"`
	RefreshedAt time.Time          `json:"refreshed_at"`
	Degraded    bool               `json:"degraded,omitempty"`
	Occurrences []model.Occurrence `json:"occurrences"`
}

// NewServer constructs a Server. loc anchors where "today" begins for the
// default window.
func NewServer(cfg *config.Config, provider Provider, loc *time.Location) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		cfg:      cfg,
		provider: provider,
		loc:      loc,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/occurrences", s.handleOccurrences)
	return s
}

// Handler returns the HTTP handler, wrapped with basic auth when
// configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	ba := s.cfg.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.BasicAuth.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.BasicAuth.Password)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="occal"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// DefaultWindow is [midnight today, midnight + HorizonDays] in the
// server's location.
func (s *Server) DefaultWindow() (time.Time, time.Time) {
	now := time.Now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, s.cfg.HorizonDays)
}

// Refresh recomputes the default window and stores the result in the
// in-memory cache. Partial results are cached too; the response then
// carries a degraded flag instead of going empty.
func (s *Server) Refresh(ctx context.Context) {
	start, end := s.DefaultWindow()
	occs, err := s.provider(ctx, start, end)
	if err != nil {
		if occs == nil {
			appLog.Error("refresh failed", err)
			return
		}
		appLog.Error("refresh degraded", err, "occurrences", len(occs))
	}
	if occs == nil {
		occs = []model.Occurrence{}
	}

	s.mu.Lock()
	s.cache = &cachedResult{
		occurrences: occs,
		windowStart: start,
		windowEnd:   end,
		refreshedAt: time.Now(),
		degraded:    err != nil,
	}
	s.mu.Unlock()
	appLog.Info("refresh completed", "occurrences", len(occs),
		"window_start", start.Format(time.RFC3339), "window_end", end.Format(time.RFC3339))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	days := s.cfg.HorizonDays
	if q := r.URL.Query().Get("days"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > maxHorizonDays {
			http.Error(w, "invalid days parameter", http.StatusBadRequest)
			return
		}
		days = n
	}

	start, _ := s.DefaultWindow()
	end := start.AddDate(0, 0, days)

	// The scheduler keeps the default window warm; anything else is
	// resolved on demand.
	if days == s.cfg.HorizonDays {
		s.mu.RLock()
		cached := s.cache
		s.mu.RUnlock()
		if cached != nil && cached.windowStart.Equal(start) && cached.windowEnd.Equal(end) {
			writeJSON(w, http.StatusOK, occurrencesResponse{
				WindowStart: cached.windowStart,
				WindowEnd:   cached.windowEnd,
				RefreshedAt: cached.refreshedAt,
				Degraded:    cached.degraded,
				Occurrences: cached.occurrences,
			})
			return
		}
	}

	occs, err := s.provider(r.Context(), start, end)
	if err != nil && occs == nil {
		appLog.Error("occurrence resolution failed", err)
		http.Error(w, "resolution failed", http.StatusBadGateway)
		return
	}
	if err != nil {
		appLog.Error("occurrence resolution degraded", err, "occurrences", len(occs))
	}
	if occs == nil {
		occs = []model.Occurrence{}
	}

	writeJSON(w, http.StatusOK, occurrencesResponse{
		WindowStart: start,
		WindowEnd:   end,
		RefreshedAt: time.Now(),
		Degraded:    err != nil,
		Occurrences: occs,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("write response failed", err)
	}
}

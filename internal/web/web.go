package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"roomradar/internal/config"
	appLog "roomradar/internal/log"
	"roomradar/internal/model"
)

// Server exposes the last generated calendar and a JSON view of the last
// run. It never triggers a run itself.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux

	mu   sync.RWMutex
	last *model.Report
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config) *Server {
	s := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// SetReport publishes the outcome of the latest run.
func (s *Server) SetReport(r *model.Report) {
	s.mu.Lock()
	s.last = r
	s.mu.Unlock()
}

func (s *Server) report() *model.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="roomradar", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/free.ics", s.handleCalendar)
	s.mux.HandleFunc("/api/rooms", s.handleRooms)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendar serves the output calendar file as written by the last run.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if s.report() == nil {
		writeError(w, http.StatusServiceUnavailable, "no run completed yet")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	http.ServeFile(w, r, s.cfg.OutputPath)
}

// roomsResponse is the JSON response shape for /api/rooms.
type roomsResponse struct {
	GeneratedAt time.Time `json:"generated_at"`
	Timezone    string    `json:"timezone"`
	FreeCount   int       `json:"free_count"`
	Rooms       []roomDTO `json:"rooms"`
}

// roomDTO is a JSON-friendly view of one room's outcome.
type roomDTO struct {
	Name      string     `json:"name"`
	State     string     `json:"state"`
	FreeUntil *time.Time `json:"free_until,omitempty"`
	NextBusy  *time.Time `json:"next_busy,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// handleRooms returns the per-room outcome of the last run, in
// configuration order.
func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	rep := s.report()
	if rep == nil {
		writeError(w, http.StatusServiceUnavailable, "no run completed yet")
		return
	}

	resp := roomsResponse{
		GeneratedAt: rep.Now,
		Timezone:    s.cfg.Timezone,
		FreeCount:   rep.FreeCount(),
		Rooms:       make([]roomDTO, 0, len(rep.Rooms)),
	}
	for _, rr := range rep.Rooms {
		dto := roomDTO{
			Name:     rr.Room.Name,
			State:    rr.Status.State.String(),
			NextBusy: rr.Status.NextBusy,
		}
		if rr.Window != nil {
			end := rr.Window.End
			dto.FreeUntil = &end
		}
		if rr.Status.Reason != nil {
			dto.Reason = rr.Status.Reason.Error()
		}
		resp.Rooms = append(resp.Rooms, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"daycal/internal/config"
	"daycal/internal/identity"
	appLog "daycal/internal/log"
	"daycal/internal/store"
)

// Server provides the claim API, the live snapshot feed and the ICS export.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	verifier *identity.Verifier
	mux      *http.ServeMux
	now      func() time.Time

	pingInterval time.Duration
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, st *store.Store, v *identity.Verifier) *Server {
	s := &Server{
		cfg:          cfg,
		store:        st,
		verifier:     v,
		mux:          http.NewServeMux(),
		now:          time.Now,
		pingInterval: 30 * time.Second,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server, with bearer
// auth in front of everything except /health and /metrics.
func (s *Server) Handler() http.Handler {
	return s.authMiddleware(s.mux)
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully. Live websocket feeds end with ctx as well.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
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
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /api/me", s.handleMe)
	s.mux.HandleFunc("GET /api/claims", s.handleClaims)
	s.mux.HandleFunc("GET /api/roster", s.handleRoster)
	s.mux.HandleFunc("GET /api/calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /api/claims/me", s.handleGetOwn)
	s.mux.HandleFunc("PUT /api/claims/me", s.handlePutOwn)
	s.mux.HandleFunc("DELETE /api/claims/me", s.handleDeleteOwn)
	s.mux.HandleFunc("GET /api/subscribe", s.handleSubscribe)

	s.mux.HandleFunc("GET /calendar.ics", s.handleICS)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
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

// writeStoreError maps store failures onto status codes.
func writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "claim store unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		appLog.Error("store "+op+" failed", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op+" claim")
	}
}

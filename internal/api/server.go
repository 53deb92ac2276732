// Package api implements the query and keyword-management REST
// collaborator. It only reads and mutates the shared store; the one
// coupling to the core pipeline is the best-effort reload ping after a
// keyword mutation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"reddit_watcher/internal/storage"
)

// Options configures the API server.
type Options struct {
	Addr        string
	BasicUser   string
	BasicPass   string
	CORSOrigins []string
	// ControlURL is the pipeline's control endpoint base, e.g.
	// "http://127.0.0.1:8787". Empty disables reload pings.
	ControlURL string
}

// Server serves the REST API over the shared store.
type Server struct {
	store storage.Storage
	opts  Options
	log   *slog.Logger
	srv   *http.Server

	reloadClient *http.Client
}

// New creates an API server.
func New(store storage.Storage, opts Options, log *slog.Logger) *Server {
	s := &Server{
		store:        store,
		opts:         opts,
		log:          log,
		reloadClient: &http.Client{Timeout: 2 * time.Second},
	}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.opts.BasicUser != "" || s.opts.BasicPass != "" {
			r.Use(middleware.BasicAuth("reddit_watcher", map[string]string{
				s.opts.BasicUser: s.opts.BasicPass,
			}))
		}

		r.Get("/keywords", s.handleListKeywords)
		r.Post("/keywords", s.handleAddKeyword)
		r.Delete("/keywords/{id}", s.handleDeleteKeyword)

		r.Get("/matches", s.handleListMatches)
		r.Get("/matches/export.csv", s.handleExportMatches)

		r.Get("/replies", s.handleListReplies)
		r.Get("/replies/{matchID}", s.handleMatchReplies)

		r.Get("/dashboard/keywords", s.handleDashboardKeywords)
		r.Get("/dashboard/activity", s.handleDashboardActivity)
	})

	return r
}

// Handler returns the configured router (useful for testing).
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	s.log.Info("api listening", "addr", s.opts.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// notifyReload pings the pipeline's control endpoint after a rule
// mutation. Best-effort: the pipeline refreshes on its own timer anyway.
func (s *Server) notifyReload(ctx context.Context) {
	if s.opts.ControlURL == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.ControlURL+"/reload", nil)
	if err != nil {
		return
	}
	resp, err := s.reloadClient.Do(req)
	if err != nil {
		s.log.Debug("reload ping failed", "error", err)
		return
	}
	_ = resp.Body.Close()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

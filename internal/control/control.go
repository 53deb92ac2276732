// Package control exposes the local endpoint that forces an immediate
// rule refresh in the running pipeline.
package control

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Server is a minimal HTTP server for trusted local callers. Its single
// operation fires the pipeline's refresh trigger; repeated calls while
// a refresh is pending coalesce.
type Server struct {
	srv     *http.Server
	trigger func()
	log     *slog.Logger
}

// New creates a control server on addr invoking trigger on /reload.
func New(addr string, trigger func(), log *slog.Logger) *Server {
	s := &Server{trigger: trigger, log: log}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/reload", s.handleReload)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the underlying handler (useful for testing).
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

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

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	s.trigger()
	s.log.Debug("rule reload triggered")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("reload queued"))
}

// Package server exposes the operator operations over HTTP. This is the
// surface a dashboard or script consumes; the daemon runs it next to the
// dispatcher when a listen address is configured.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ardelis/postqueue/content"
	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/queue/dispatch"
	"github.com/ardelis/postqueue/queue/post"
	"github.com/ardelis/postqueue/queue/schedule"
)

// Server is the operator HTTP API
type Server struct {
	store      *post.Store
	engine     *schedule.Engine
	dispatcher *dispatch.Dispatcher
	generator  content.Generator // optional; nil disables draft generation
	log        *zap.SugaredLogger
	httpServer *http.Server
}

// New creates the API server. generator may be nil when no generation
// credentials are configured; the create endpoint then requires content.
func New(listen string, store *post.Store, engine *schedule.Engine, dispatcher *dispatch.Dispatcher, generator content.Generator, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &Server{
		store:      store,
		engine:     engine,
		dispatcher: dispatcher,
		generator:  generator,
		log:        log,
	}

	s.httpServer = &http.Server{
		Addr:              listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi router. Exported so tests can drive handlers
// without binding a socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/calendar", s.handleCalendar)
		r.Post("/batch", s.handleBatch)

		r.Route("/posts", func(r chi.Router) {
			r.Post("/", s.handleCreate)
			r.Get("/", s.handleList)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Delete("/", s.handlePurge)
				r.Get("/history", s.handleHistory)
				r.Post("/enqueue", s.handleEnqueue)
				r.Post("/assign", s.handleAssign)
				r.Post("/cancel", s.handleCancel)
				r.Post("/published", s.handleMarkPublished)
				r.Post("/failed", s.handleMarkFailed)
			})
		})
	})

	return r
}

// Start runs the server until ListenAndServe returns. Blocks; run it in a
// goroutine next to the dispatcher.
func (s *Server) Start() error {
	s.log.Infow("Operator API listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "operator API server failed")
}

// Shutdown drains in-flight requests and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Infow("Operator API shutting down")
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs each request through the structured logger
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debugw("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

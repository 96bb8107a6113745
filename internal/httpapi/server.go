// Package httpapi serves the knowledge base over HTTP with the same JSON
// envelope the CLI prints.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dotcommander/lore/internal/models"
	"github.com/dotcommander/lore/internal/rag"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Service is the RAG surface the API exposes. *rag.Service satisfies it.
type Service interface {
	Add(ctx context.Context, item *models.KnowledgeItem) (*models.KnowledgeItem, bool, error)
	Get(ctx context.Context, id string) (*models.KnowledgeItem, error)
	Update(ctx context.Context, item *models.KnowledgeItem, expectedVersion int) (*models.KnowledgeItem, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts models.ListOptions) ([]*models.KnowledgeItem, int, error)
	Retrieve(ctx context.Context, query string, opts models.SearchOptions) (*models.RAGContext, error)
	Ask(ctx context.Context, question string, history []models.ChatMessage, opts rag.AskOptions) (*models.Answer, error)
	Stats(ctx context.Context) (models.Stats, error)
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the router and its dependencies.
type Server struct {
	svc     Service
	db      Pinger
	router  *mux.Router
	metrics *metrics
	reg     *prometheus.Registry
}

// Options configures New.
type Options struct {
	// Registry receives the HTTP metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry
}

// New builds a Server and registers its routes.
func New(svc Service, db Pinger, opts Options) *Server {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &Server{
		svc:     svc,
		db:      db,
		router:  mux.NewRouter(),
		metrics: newMetrics(reg),
		reg:     reg,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(requestIDMiddleware, s.accessLogMiddleware, s.recoveryMiddleware, bodyLimitMiddleware(maxBodyBytes))

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/knowledge", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/knowledge", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/knowledge/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/knowledge/{id}", s.handleUpdate).Methods(http.MethodPut)
	api.HandleFunc("/knowledge/{id}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
	api.HandleFunc("/ask", s.handleAsk).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	r.NotFoundHandler = s.accessLogMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse(errRouteNotFound))
	}))
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse(errMethodNotAllowed))
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then drains
// in-flight requests for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Ask can wait on a slow generator.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Package server exposes the metric tables over HTTP and WebSocket.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/wesleyemery/k8s-metrics-tables/internal/config"
	"github.com/wesleyemery/k8s-metrics-tables/internal/store"
	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
)

// Server wires the table handlers, live sessions, and saved-view CRUD
// onto one HTTP listener. All collaborators are injected.
type Server struct {
	cfg       *config.Config
	querier   metrics.Querier
	store     *store.Store
	telemetry *Telemetry
	log       logr.Logger

	handler http.Handler
	http    *http.Server
}

// New builds a server from its collaborators. Start must be called to
// begin listening.
func New(cfg *config.Config, querier metrics.Querier, st *store.Store, telemetry *Telemetry, log logr.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		querier:   querier,
		store:     st,
		telemetry: telemetry,
		log:       log,
	}

	router := mux.NewRouter()
	s.routes(router)

	s.handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(router)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes(router *mux.Router) {
	router.Use(s.recoverPanics)
	router.Use(s.logRequests)
	router.Use(s.telemetry.instrument)

	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	router.Handle("/metrics", s.telemetry.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/tables/{kind}", s.handleTable).Methods(http.MethodGet)
	api.HandleFunc("/tables/{kind}/live", s.handleLive).Methods(http.MethodGet)
	api.HandleFunc("/views", s.handleListViews).Methods(http.MethodGet)
	api.HandleFunc("/views", s.handleCreateView).Methods(http.MethodPost)
	api.HandleFunc("/views/{id}", s.handleGetView).Methods(http.MethodGet)
	api.HandleFunc("/views/{id}", s.handleUpdateView).Methods(http.MethodPut)
	api.HandleFunc("/views/{id}", s.handleDeleteView).Methods(http.MethodDelete)
}

// Handler returns the composed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Error(err, "readiness probe failed")
		respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.V(1).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.log.Error(fmt.Errorf("panic: %v", v), "request panicked", "path", r.URL.Path)
				respondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging and telemetry.
// It forwards Hijack so the WebSocket upgrade still works behind the
// middleware chain.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

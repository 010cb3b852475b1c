// Package server provides the HTTP server for the scanpipe scanner.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/plugin"
	"github.com/ayusman/scanpipe/internal/scan"
	"github.com/ayusman/scanpipe/internal/server/api"
	"github.com/ayusman/scanpipe/internal/store"
)

// Scanner is everything the server drives and observes. *app.App
// implements it.
type Scanner interface {
	api.Scanner
	LatestFrame() (capture.Frame, bool)
	SubscribeStatus(fn func(capture.Status)) (unsubscribe func())
	SubscribeResults(fn func(scan.DetectionResult)) (unsubscribe func())
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Plugins   *plugin.Manager
	Scanner   Scanner
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

// Server represents the HTTP server for the scanner.
type Server struct {
	config  Config
	mux     *http.ServeMux
	start   time.Time
	log     *zap.Logger
	results *ResultsHandler

	mu   sync.Mutex
	http *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    config.Logger,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Store != nil {
		scans := api.NewScanHandler(s.config.Store)
		hooks := api.NewHookHandler(s.config.Store, s.config.Plugins)
		s.mux.Handle("/api/scans", scans)
		s.mux.Handle("/api/scans/", scans)
		s.mux.Handle("/api/hooks", hooks)
		s.mux.Handle("/api/hooks/", hooks)
	}

	if s.config.Plugins != nil {
		plugins := api.NewPluginHandler(s.config.Plugins)
		s.mux.Handle("/api/plugins", plugins)
		s.mux.Handle("/api/plugins/", plugins)
	}

	if s.config.Scanner != nil {
		session := api.NewSessionHandler(s.config.Scanner)
		s.mux.Handle("/api/session", session)
		s.mux.Handle("/api/session/", session)

		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Scanner, nil))

		s.results = NewResultsHandler(s.config.Scanner, s.log.Named("ws"))
		s.mux.Handle("/api/results", s.results)
	}

	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics)
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Scanner != nil {
		response["session"] = s.config.Scanner.Status().State.String()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address. It returns
// nil after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()
	s.log.Info("http server listening", zap.String("addr", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes websocket clients and waits
// for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.results != nil {
		s.results.Close()
	}
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

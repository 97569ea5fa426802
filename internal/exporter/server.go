package exporter

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/phasetime/internal/logging"
	"github.com/psantana5/phasetime/pkg/timing"
)

// ServerConfig configures the metrics HTTP server
type ServerConfig struct {
	Addr     string
	Gatherer prometheus.Gatherer
	Tracker  *timing.Tracker
	// Keys and Prefix are the /timing defaults; query parameters override them
	Keys   []string
	Prefix string
	// TLS serves HTTPS when set; see LoadServerTLS
	TLS    *tls.Config
	Logger *logging.Logger
}

// Server serves /metrics, /health and /timing
type Server struct {
	cfg     ServerConfig
	router  *mux.Router
	srv     *http.Server
	started time.Time

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a server; call Start to begin listening
func NewServer(cfg ServerConfig) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{cfg: cfg, router: mux.NewRouter(), started: time.Now()}

	s.router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/timing", s.handleTiming).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.cfg.Logger.Info("metrics server listening", map[string]interface{}{
		"addr": ln.Addr().String(),
		"tls":  s.cfg.TLS != nil,
	})
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.cfg.Logger.Error("metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

// handleTiming returns the tracker's current export record.
// ?keys=a,b selects phases (an empty value selects none), ?prefix= sets the key prefix.
func (s *Server) handleTiming(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Tracker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no tracker attached"})
		return
	}

	q := r.URL.Query()
	prefix := s.cfg.Prefix
	if q.Has("prefix") {
		prefix = q.Get("prefix")
	}
	opts := []timing.ExportOption{timing.Prefix(prefix)}

	switch {
	case q.Has("keys"):
		opts = append(opts, timing.Keys(splitKeys(q.Get("keys"))...))
	case len(s.cfg.Keys) > 0:
		opts = append(opts, timing.Keys(s.cfg.Keys...))
	}

	writeJSON(w, http.StatusOK, s.cfg.Tracker.ToLog(opts...))
}

func splitKeys(raw string) []string {
	var out []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

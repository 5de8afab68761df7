package metric

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/health"
)

// Server serves Prometheus metrics and session health over HTTP
type Server struct {
	port     int
	path     string
	registry *MetricsRegistry
	monitor  *health.Monitor

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a metrics server for registry. Port 0 means 9090 and an
// empty path means /metrics. monitor may be nil, in which case /health
// always answers OK.
func NewServer(port int, path string, registry *MetricsRegistry, monitor *health.Monitor) *Server {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = 9090
	}
	return &Server{port: port, path: path, registry: registry, monitor: monitor}
}

// Handler routes the metrics path, /health and /health/{name}
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/{name}", s.handleSessionHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}
	writeStatus(w, s.monitor.AggregateHealth("chatsession"))
}

func (s *Server) handleSessionHealth(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		http.NotFound(w, r)
		return
	}
	status, ok := s.monitor.Get(r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeStatus(w, status)
}

// writeStatus answers 503 for unhealthy, 200 otherwise
func writeStatus(w http.ResponseWriter, status health.Status) {
	w.Header().Set("Content-Type", "application/json")
	if status.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Start listens on the configured port and serves until Stop
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("server already running"), "Server", "Start", "check state")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Start", "check registry")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on port %d", s.port))
	}
	server := &http.Server{Handler: s.Handler()}
	s.server = server
	s.listener = ln
	s.mu.Unlock()

	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start", "serve metrics")
	}
	return nil
}

// Stop closes the server; it may be started again afterwards
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Close()
	s.server = nil
	s.listener = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "close HTTP server")
	}
	return nil
}

// Address returns the metrics URL
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, s.path)
}

// Package health serves the reporter's own Prometheus metrics, a liveness
// probe and pprof.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Config configures the health server.
type Config struct {
	// Addr is the listen address. Defaults to ":9090", empty disables
	// the server when loaded from a config file.
	Addr string `yaml:"addr"`
}

// Server exposes /metrics, /healthz and /debug/pprof.
type Server struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	running atomic.Bool
}

// NewServer creates a server whose registry already carries the process
// and Go runtime collectors.
func NewServer(log logrus.FieldLogger, cfg Config) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Server{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,
	}
}

// Registry to register the reporter metrics with.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start begins serving in the background.
func (s *Server) Start(_ context.Context) error {
	if s.addr == "" {
		s.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		s.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.running.Store(true)

	go func() {
		s.log.WithField("addr", ln.Addr().String()).
			Info("Health server started")

		if err := s.server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Health server error")
		}

		s.running.Store(false)
	}()

	return nil
}

// Addr returns the listener address, the OS-assigned port included.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.addr
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	return s.server.Close()
}

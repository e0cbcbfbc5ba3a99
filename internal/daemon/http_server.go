package daemon

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/metrics"
)

// adminServer serves health and metrics for operators.
type adminServer struct {
	daemon       *Daemon
	server       *http.Server
	listener     net.Listener
	errorAdapter *errors.HTTPErrorAdapter
	done         chan struct{}
}

func newAdminServer(d *Daemon) *adminServer {
	return &adminServer{
		daemon:       d,
		errorAdapter: errors.NewHTTPErrorAdapter(d.logger),
		done:         make(chan struct{}),
	}
}

func (s *adminServer) routes() http.Handler {
	cfg := s.daemon.config.Monitoring
	mux := http.NewServeMux()

	mux.HandleFunc(cfg.Health.Path, s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReadiness)
	mux.HandleFunc("/state", s.handleState)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.HTTPHandler(s.daemon.registry))
	}
	return chain(s.daemon.logger, s.errorAdapter)(mux)
}

// Start binds addr and serves in the background.
func (s *adminServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.DaemonError("bind admin server").
			WithCause(err).
			WithContext("addr", addr).
			Build()
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			s.daemon.logger.Error("Admin server failed", logfields.Error(err))
		}
	}()
	s.daemon.logger.Info("Admin server listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address.
func (s *adminServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully and waits for Serve to return.
func (s *adminServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	<-s.done
	return err
}

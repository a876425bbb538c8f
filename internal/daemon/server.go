package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"git.home.luguber.info/inful/wheelworks/internal/config"
	"git.home.luguber.info/inful/wheelworks/internal/server/middleware"
)

// HTTPServer manages the daemon's listeners: one port for forge webhooks, one
// for the operator API.
type HTTPServer struct {
	webhookServer *http.Server
	adminServer   *http.Server
	cfg           *config.Config
	daemon        *Daemon

	webhooks *webhookHandlers
	admin    *adminHandlers

	mchain func(http.Handler) http.Handler
}

// NewHTTPServer wires the handler modules for the given daemon.
func NewHTTPServer(cfg *config.Config, d *Daemon) *HTTPServer {
	s := &HTTPServer{
		cfg:    cfg,
		daemon: d,
	}
	s.webhooks = newWebhookHandlers(d)
	s.admin = newAdminHandlers(d)
	s.mchain = middleware.Chain(slog.Default())
	return s
}

// Start binds both ports and begins serving. All ports are bound before any
// server starts so a clash surfaces as one aggregate error instead of a
// partially started daemon.
func (s *HTTPServer) Start(ctx context.Context) error {
	if s.cfg.Daemon == nil {
		return fmt.Errorf("daemon configuration required for HTTP servers")
	}

	type preBind struct {
		name string
		port int
		ln   net.Listener
	}
	binds := []preBind{
		{name: "webhook", port: s.cfg.Daemon.HTTP.WebhookPort},
		{name: "admin", port: s.cfg.Daemon.HTTP.AdminPort},
	}
	var bindErrs []error
	for i := range binds {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", binds[i].port))
		if err != nil {
			bindErrs = append(bindErrs, fmt.Errorf("%s port %d: %w", binds[i].name, binds[i].port, err))
			continue
		}
		binds[i].ln = ln
	}
	if len(bindErrs) > 0 {
		for _, b := range binds {
			if b.ln != nil {
				_ = b.ln.Close()
			}
		}
		return fmt.Errorf("http startup failed: %w", errors.Join(bindErrs...))
	}

	if limit := s.cfg.Daemon.HTTP.MaxConnections; limit > 0 {
		for i := range binds {
			binds[i].ln = netutil.LimitListener(binds[i].ln, limit)
		}
	}

	s.startWebhookServer(binds[0].ln)
	s.startAdminServer(binds[1].ln)

	slog.Info("HTTP servers started",
		slog.Int("webhook_port", s.cfg.Daemon.HTTP.WebhookPort),
		slog.Int("admin_port", s.cfg.Daemon.HTTP.AdminPort))
	return nil
}

// Stop shuts the servers down in reverse start order.
func (s *HTTPServer) Stop(ctx context.Context) error {
	var errs []error

	if s.adminServer != nil {
		if err := s.adminServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server shutdown: %w", err))
		}
	}
	if s.webhookServer != nil {
		if err := s.webhookServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("webhook server shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("HTTP servers stopped")
	return nil
}

func (s *HTTPServer) startWebhookServer(ln net.Listener) {
	mux := http.NewServeMux()
	s.webhooks.register(mux)

	s.webhookServer = &http.Server{
		Handler:      s.mchain(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := s.webhookServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("Webhook server error", "error", err)
		}
	}()
}

func (s *HTTPServer) startAdminServer(ln net.Listener) {
	mux := http.NewServeMux()
	s.admin.register(mux)

	s.adminServer = &http.Server{
		Handler:      s.mchain(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		if err := s.adminServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("Admin server error", "error", err)
		}
	}()
}

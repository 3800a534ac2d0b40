package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/medscribe/internal/health"
	"github.com/MrWong99/medscribe/internal/observe"
)

// Handler returns the operational HTTP handler: /metrics serves the
// Prometheus registry fed by the OpenTelemetry exporter (see WithGatherer), /healthz and /readyz
// serve [health.Handler] with [App.Checkers]. Every route is wrapped in
// [observe.Middleware].
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	health.New(a.Checkers()...).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// ServeMetrics listens on cfg.Server.MetricsAddr and serves [App.Handler]
// until ctx is done, then shuts the listener down gracefully. It returns
// immediately with a nil error when no address is configured.
func (a *App) ServeMetrics(ctx context.Context) error {
	addr := a.cfg.Server.MetricsAddr
	if addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: metrics listener: %w", err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics listener started", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: metrics listener: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: metrics listener shutdown: %w", err)
	}
	slog.Info("metrics listener stopped")
	return nil
}

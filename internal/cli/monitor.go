package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/config"
	"github.com/hileamlakB/stress-api-sub000/internal/lifecycle"
	"github.com/hileamlakB/stress-api-sub000/internal/metrics"
	"github.com/hileamlakB/stress-api-sub000/internal/report"
	"github.com/hileamlakB/stress-api-sub000/internal/session"
	"github.com/hileamlakB/stress-api-sub000/internal/stream"
	"github.com/hileamlakB/stress-api-sub000/internal/subscription"
	"github.com/hileamlakB/stress-api-sub000/internal/tui/app"
)

// monitorRuntime is the controller and its collaborators for one command.
type monitorRuntime struct {
	cfg     *config.Config
	logger  *log.Logger
	metrics *metrics.Metrics
	ctrl    *lifecycle.Controller
}

func newMonitorRuntime(cfg *config.Config, logger *log.Logger) *monitorRuntime {
	mx := metrics.New()
	api := client.NewHTTPClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.Timeout)
	registry := subscription.NewRegistry(
		subscription.WithLogger(logger.WithPrefix("registry")),
		subscription.WithMetrics(mx),
	)
	streams := stream.NewManager(cfg.WSBase(),
		stream.WithReconnectDelay(cfg.Stream.ReconnectDelay),
		stream.WithKeepalive(cfg.Stream.PingInterval, cfg.Stream.PongTimeout),
		stream.WithToken(cfg.API.Token),
		stream.WithLogger(logger.WithPrefix("stream")),
		stream.WithMetrics(mx),
	)
	ctrl := lifecycle.NewController(api, registry,
		lifecycle.WithStream(streams),
		lifecycle.WithPolling(cfg.Poll.Interval, cfg.Poll.MaxEmptyPolls),
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(mx),
	)
	return &monitorRuntime{cfg: cfg, logger: logger, metrics: mx, ctrl: ctrl}
}

// follow monitors testID until the dashboard quits, or in plain mode until
// the session settles, then prints the final report to out. Listeners are
// registered before monitoring starts so no broadcast is missed.
func (rt *monitorRuntime) follow(ctx context.Context, testID string, plain bool, out io.Writer) error {
	defer rt.ctrl.Close()

	var run func(context.Context) error
	if plain {
		obs := newObserver(rt.logger.With("test_id", testID))
		rt.ctrl.Subscribe(testID, subscription.Summary, obs)
		rt.ctrl.Subscribe(testID, subscription.Metrics, obs)
		run = func(ctx context.Context) error { return rt.observe(ctx, testID, obs, out) }
	} else {
		m := app.New(rt.ctrl, testID)
		run = func(ctx context.Context) error { return rt.dashboard(ctx, m) }
	}

	if _, err := rt.ctrl.StartMonitoring(testID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if addr := rt.cfg.Metrics.Listen; addr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, addr, rt.metrics.Handler(), rt.logger)
		})
	}
	g.Go(func() error {
		defer cancel()
		return run(ctx)
	})

	return g.Wait()
}

// dashboard runs the Bubble Tea program until the user quits or ctx ends.
func (rt *monitorRuntime) dashboard(ctx context.Context, m app.Model) error {
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// observe waits until the session settles, then renders the report.
// Cancellation is not an error.
func (rt *monitorRuntime) observe(ctx context.Context, testID string, obs *observer, out io.Writer) error {
	defer func() {
		rt.ctrl.Unsubscribe(testID, subscription.Summary, obs)
		rt.ctrl.Unsubscribe(testID, subscription.Metrics, obs)
	}()

	// A session reused from an earlier StartTest may have settled already.
	if st, ok := rt.ctrl.Session(testID); ok && settled(st, rt.cfg.Poll.MaxEmptyPolls) {
		obs.finish()
	}

	select {
	case <-ctx.Done():
		return nil
	case <-obs.Done():
	}

	st, ok := rt.ctrl.Session(testID)
	if !ok {
		return nil
	}
	rendered, err := report.Render(st, report.WithStyle("notty"))
	if err != nil {
		return err
	}
	fmt.Fprint(out, rendered)
	if st.NotFound {
		return fmt.Errorf("test %s: %w", testID, client.ErrNotFound)
	}
	return nil
}

// settled reports whether no further broadcast can change st.
func settled(st *session.State, maxEmptyPolls int) bool {
	return st.FinalResults != nil || st.NotFound || st.RetryCount >= maxEmptyPolls
}

// serveMetrics serves the Prometheus handler until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

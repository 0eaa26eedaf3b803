// Package app wires all udpaudio subsystems into a running application.
//
// The App struct owns the full lifecycle: New initialises storage, the
// playback pipeline, the network driver and the admin server, Run brings the
// link up and starts ingestion once it is connected, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithDriver,
// WithRegistry, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/udpaudio/internal/config"
	"github.com/MrWong99/udpaudio/internal/health"
	"github.com/MrWong99/udpaudio/internal/ingest"
	"github.com/MrWong99/udpaudio/internal/netsup"
	"github.com/MrWong99/udpaudio/internal/observe"
	"github.com/MrWong99/udpaudio/internal/pipeline"
	"github.com/MrWong99/udpaudio/internal/resilience"
)

// ErrFatalInit wraps every startup failure that must stop the process:
// storage, pipeline, network driver or admin listener initialisation.
var ErrFatalInit = errors.New("app: fatal init")

const adminShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg            *config.Config
	reg            *config.Registry
	metrics        *observe.Metrics
	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	driver     netsup.Driver
	supervisor *netsup.Supervisor
	element    *pipeline.Element
	sink       ingest.Sink
	ingestor   *ingest.Ingestor
	admin      *http.Server
	adminLn    net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry replaces [config.DefaultRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithDriver injects a network driver instead of creating one from config.
func WithDriver(d netsup.Driver) Option {
	return func(a *App) { a.driver = d }
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the /metrics handler, normally
// [observe.Telemetry.MetricsHandler]. Defaults to the Prometheus default
// registry handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// New creates an App by wiring all subsystems together, in the order storage,
// pipeline, network driver, admin listener. Any failure is returned wrapped
// in [ErrFatalInit], after releasing what was already initialised.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.reg == nil {
		a.reg = config.DefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	if err := a.init(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return nil, fmt.Errorf("%w: %w", ErrFatalInit, err)
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// Storage
	if dir := a.cfg.Storage.Dir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("init storage %q: %w", dir, err)
		}
	}

	// Pipeline
	if err := a.initPipeline(); err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}
	a.sink = a.buildSink()

	// Network
	if a.driver == nil {
		drv, err := a.reg.CreateDriver(a.cfg.Network)
		if err != nil {
			return fmt.Errorf("init network driver: %w", err)
		}
		a.driver = drv
	}
	a.supervisor = netsup.New(netsup.Config{
		Driver:  a.driver,
		Retry:   a.cfg.Network.Retry.RetryPolicy(),
		Metrics: a.metrics,
	})

	// Ingest
	a.ingestor = ingest.New(a.cfg.Ingest.IngestorConfig(a.metrics))

	// Admin server
	if err := a.initAdmin(ctx); err != nil {
		return fmt.Errorf("init admin server: %w", err)
	}
	return nil
}

func (a *App) initPipeline() error {
	if !a.cfg.Sink.Mode.NeedsPipeline() {
		return nil
	}
	pc := a.cfg.Sink.Pipeline
	tgt, err := a.reg.CreateTarget(a.cfg.Storage.Dir, pc.Target)
	if err != nil {
		return err
	}
	if pc.Fallback.Kind != "" {
		fb, err := a.reg.CreateTarget(a.cfg.Storage.Dir, pc.Fallback)
		if err != nil {
			_ = tgt.Close()
			return fmt.Errorf("fallback target: %w", err)
		}
		tgt = pipeline.NewFallbackTarget(tgt, fb, resilience.BreakerConfig{
			MaxFailures:  pc.Target.Breaker.MaxFailures,
			ResetTimeout: pc.Target.Breaker.ResetTimeout,
		})
	}
	el, err := pipeline.New(pipeline.Config{
		Input:   pc.Input,
		Output:  pc.Output,
		Target:  tgt,
		Metrics: a.metrics,
	})
	if err != nil {
		_ = tgt.Close()
		return err
	}
	a.element = el
	a.closers = append(a.closers, el.Close)
	slog.Info("playback pipeline ready", "target", tgt.Kind(), "input", pc.Input, "output", el.Format())
	return nil
}

func (a *App) buildSink() ingest.Sink {
	switch a.cfg.Sink.Mode {
	case config.SinkPipeline:
		return ingest.PipelineSink{Element: a.element}
	case config.SinkTee:
		return ingest.Tee{ingest.EchoSink{}, ingest.PipelineSink{Element: a.element}}
	default:
		return ingest.EchoSink{}
	}
}

func (a *App) initAdmin(ctx context.Context) error {
	addr := a.cfg.Server.AdminAddr
	if addr == "" {
		return nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	health.New(
		health.NetworkChecker(a.supervisor),
		health.IngestChecker(a.ingestor),
	).Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)

	a.adminLn = ln
	a.admin = &http.Server{
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.closers = append(a.closers, func() error {
		err := ln.Close()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})
	return nil
}

// Supervisor returns the network supervisor.
func (a *App) Supervisor() *netsup.Supervisor { return a.supervisor }

// Ingestor returns the UDP ingestor.
func (a *App) Ingestor() *ingest.Ingestor { return a.ingestor }

// AdminAddr returns the bound admin server address, or "" when disabled.
func (a *App) AdminAddr() string {
	if a.adminLn == nil {
		return ""
	}
	return a.adminLn.Addr().String()
}

// Run brings the network up, starts ingestion once the link is connected and
// serves the admin routes, until ctx is cancelled. It returns nil after a
// clean cancellation.
//
// A bind failure only ends ingestion: the error is logged and the rest of
// the process keeps running, with /readyz reporting the ingest check as
// failed. A driver start failure or an exhausted retry policy ends Run with
// an error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.runNetwork(gctx) })
	g.Go(func() error { return a.runIngest(gctx) })
	if a.admin != nil {
		g.Go(func() error {
			slog.Info("admin server listening", "addr", a.adminLn.Addr().String())
			if err := a.admin.Serve(a.adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), adminShutdownTimeout)
			defer cancel()
			return a.admin.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func (a *App) runNetwork(ctx context.Context) error {
	if err := a.supervisor.Connect(ctx, a.cfg.Network.Credentials()); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, netsup.ErrDriverInit) {
			return fmt.Errorf("%w: %w", ErrFatalInit, err)
		}
		return fmt.Errorf("app: network: %w", err)
	}
	if err := a.supervisor.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("app: network: %w", err)
	}
	return nil
}

func (a *App) runIngest(ctx context.Context) error {
	// The link has to be up before the socket is bound.
	if err := a.supervisor.WaitConnected(ctx); err != nil {
		// Supervisor failures are reported by runNetwork.
		return nil
	}

	err := a.ingestor.Run(ctx, a.cfg.Ingest.Endpoint(), a.sink)
	switch {
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, ingest.ErrFatalBind):
		slog.Error("ingestion stopped; process keeps running", "err", err)
		return nil
	default:
		return err
	}
}

// Shutdown tears down all subsystems in init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

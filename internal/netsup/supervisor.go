// Package netsup supervises the station network link.
//
// A [Supervisor] starts a [Driver], reacts to its asynchronous events and
// exposes a readiness signal that the ingestion startup sequence blocks on.
// The state machine is
//
//	Disconnected → Connecting (on start) → Connected (on address) → Disconnected (on drop) → Connecting …
//
// and has no terminal state: disconnects are retried for the lifetime of the
// process according to the configured [resilience.RetryPolicy]. Only a driver
// Start failure, a closed event stream, or an exhausted bounded policy stop
// the supervisor.
package netsup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/udpaudio/internal/observe"
	"github.com/MrWong99/udpaudio/internal/resilience"
)

var (
	// ErrDriverInit wraps a [Driver.Start] failure.
	ErrDriverInit = errors.New("netsup: driver init failed")

	// ErrEventsClosed is returned when the driver closes its event stream.
	ErrEventsClosed = errors.New("netsup: driver event stream closed")

	// ErrAlreadyStarted is returned by a second call to [Supervisor.Connect].
	ErrAlreadyStarted = errors.New("netsup: supervisor already started")
)

// ConnectionState is the supervisor's view of the link.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

// String returns the lower-case state name.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config configures a [Supervisor].
type Config struct {
	// Driver is the station link driver. Required.
	Driver Driver

	// Retry decides how disconnects are retried. Defaults to
	// [resilience.Immediate] (unbounded, no backoff).
	Retry resilience.RetryPolicy

	// Metrics receives state transitions and reconnect attempts. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Supervisor owns the link state. All methods are safe for concurrent use.
type Supervisor struct {
	driver  Driver
	retry   resilience.RetryPolicy
	metrics *observe.Metrics

	mu       sync.Mutex
	state    ConnectionState
	addr     netip.Addr
	ready    chan struct{} // closed while Connected
	attempts int
	started  bool
	onChange []func(from, to ConnectionState)

	done chan struct{}
	err  error // set before done is closed
}

// New returns a [Supervisor] in the Disconnected state.
func New(cfg Config) *Supervisor {
	retry := cfg.Retry
	if retry == nil {
		retry = resilience.Immediate{}
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Supervisor{
		driver:  cfg.Driver,
		retry:   retry,
		metrics: m,
		state:   Disconnected,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Connect starts the driver and the event loop, then blocks until the link
// is Connected. It returns early if ctx is done or the supervisor stops with
// an error. The event loop keeps running after Connect returns, until ctx is
// cancelled; use [Supervisor.Wait] to observe its end.
func (s *Supervisor) Connect(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	spanCtx, span := observe.StartSpan(ctx, "netsup.connect",
		trace.WithAttributes(attribute.String("network.ssid", creds.SSID)))
	defer span.End()

	log := observe.Logger(spanCtx)
	log.Info("starting network interface", "credentials", creds)

	// Drain events before Start so a driver emitting synchronously from Start
	// never blocks on its channel.
	go s.run(ctx)

	if err := s.driver.Start(ctx, creds); err != nil {
		err = fmt.Errorf("%w: %w", ErrDriverInit, err)
		s.finish(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "driver start failed")
		return err
	}

	if err := s.WaitConnected(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "not connected")
		return err
	}
	log.Info("network connected", "addr", s.Addr())
	return nil
}

// Wait blocks until the event loop stops and returns its error: ctx.Err()
// after cancellation, or the fatal error that stopped it.
func (s *Supervisor) Wait() error {
	<-s.done
	return s.err
}

// Ready returns a channel that is closed while the link is Connected. A new
// channel is handed out after every disconnect, so callers should fetch it
// again after each wait.
func (s *Supervisor) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// WaitConnected blocks until the link is Connected, ctx is done, or the
// supervisor stops.
func (s *Supervisor) WaitConnected(ctx context.Context) error {
	select {
	case <-s.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		if s.err != nil {
			return s.err
		}
		return ErrEventsClosed
	}
}

// State returns the current link state.
func (s *Supervisor) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the address of the current connection episode, or the zero
// value when not connected.
func (s *Supervisor) Addr() netip.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// OnStateChange registers cb to run on every state transition. Callbacks run
// on the event loop goroutine and must not block.
func (s *Supervisor) OnStateChange(cb func(from, to ConnectionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, cb)
}

func (s *Supervisor) run(ctx context.Context) {
	events := s.driver.Events()
	for {
		select {
		case <-ctx.Done():
			s.finish(ctx.Err())
			return
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				s.finish(ErrEventsClosed)
				return
			}
			if err := s.handle(ctx, ev); err != nil {
				s.finish(err)
				return
			}
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventStarted:
		slog.Debug("network interface started")
		s.setState(ctx, Connecting)
		if err := s.driver.Connect(ctx); err != nil {
			slog.Warn("connect attempt failed", "err", err)
			return s.reconnect(ctx)
		}

	case EventDisconnected:
		slog.Warn("network disconnected", "reason", ev.Reason)
		s.setState(ctx, Disconnected)
		return s.reconnect(ctx)

	case EventGotAddress:
		s.mu.Lock()
		if s.state == Connected {
			s.mu.Unlock()
			slog.Debug("duplicate address event ignored", "addr", ev.Addr)
			return nil
		}
		s.addr = ev.Addr
		s.attempts = 0
		s.mu.Unlock()
		slog.Info("network address acquired", "addr", ev.Addr)
		s.setState(ctx, Connected)

	default:
		slog.Debug("ignoring unknown network event", "kind", ev.Kind)
	}
	return nil
}

// reconnect consults the retry policy and issues connect attempts until one
// is accepted by the driver. The outcome of that attempt arrives later as an
// event.
func (s *Supervisor) reconnect(ctx context.Context) error {
	for {
		s.mu.Lock()
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		delay, ok := s.retry.Next(attempt)
		if !ok {
			slog.Error("network reconnect gave up", "attempts", attempt-1)
			return resilience.ErrRetriesExhausted
		}
		s.setState(ctx, Connecting)

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		s.metrics.ReconnectAttempts.Add(ctx, 1)
		slog.Info("reconnecting", "attempt", attempt, "backoff", delay)
		err := s.driver.Connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("connect attempt failed", "attempt", attempt, "err", err)
	}
}

// setState moves to next, maintaining the readiness channel, and notifies
// listeners when the state actually changed.
func (s *Supervisor) setState(ctx context.Context, next ConnectionState) {
	s.mu.Lock()
	prev := s.state
	if prev == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	switch {
	case next == Connected:
		close(s.ready)
	case prev == Connected:
		s.ready = make(chan struct{})
		s.addr = netip.Addr{}
	}
	cbs := make([]func(from, to ConnectionState), len(s.onChange))
	copy(cbs, s.onChange)
	s.mu.Unlock()

	s.metrics.RecordNetworkState(ctx, prev.String(), next.String())
	for _, cb := range cbs {
		cb(prev, next)
	}
}

func (s *Supervisor) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.err = err
	close(s.done)
}

// Package ingest receives raw UDP audio datagrams and forwards each payload
// to a [Sink].
//
// An [Ingestor] binds one endpoint, then blocks on receive in a single
// goroutine; there is at most one datagram in flight and no queue. Receive
// and sink failures are transient: they are logged, counted and looped past.
// Only a bind failure ends [Ingestor.Run] early, wrapped in [ErrFatalBind].
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/udpaudio/internal/observe"
)

var (
	// ErrFatalBind wraps socket creation and bind failures.
	ErrFatalBind = errors.New("ingest: bind failed")

	// ErrAlreadyRunning is returned when Run is called on an ingestor that is
	// already running.
	ErrAlreadyRunning = errors.New("ingest: already running")
)

// DefaultBufferSize is the receive buffer capacity in bytes.
const DefaultBufferSize = 1024

// OversizePolicy decides what happens to datagrams larger than the buffer.
type OversizePolicy string

const (
	// OversizeTruncate forwards the first BufferSize bytes and marks the
	// datagram Truncated.
	OversizeTruncate OversizePolicy = "truncate"

	// OversizeDrop discards the datagram.
	OversizeDrop OversizePolicy = "drop"
)

// ParseOversizePolicy parses a policy name. The empty string selects
// [OversizeTruncate].
func ParseOversizePolicy(s string) (OversizePolicy, error) {
	switch OversizePolicy(s) {
	case "", OversizeTruncate:
		return OversizeTruncate, nil
	case OversizeDrop:
		return OversizeDrop, nil
	default:
		return "", fmt.Errorf("ingest: unknown oversize policy %q", s)
	}
}

// Config configures an [Ingestor].
type Config struct {
	// BufferSize is the largest payload forwarded. Defaults to
	// [DefaultBufferSize].
	BufferSize int

	// Oversize selects the oversize policy. Defaults to [OversizeTruncate].
	Oversize OversizePolicy

	// DSCP marks outgoing replies when > 0.
	DSCP int

	// ReadBuffer sets the kernel receive buffer size when > 0.
	ReadBuffer int

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Ingestor runs the receive loop. Create with [New]; Run may be called again
// after a previous Run returned.
type Ingestor struct {
	bufSize  int
	oversize OversizePolicy
	dscp     int
	rcvbuf   int
	metrics  *observe.Metrics

	active  atomic.Bool
	running atomic.Bool

	mu    sync.Mutex
	local netip.AddrPort
	bound chan struct{}

	// wrap, when set, decorates the bound socket before the receive loop.
	wrap func(packetConn) packetConn
}

// packetConn is the part of [net.UDPConn] the receive loop uses.
type packetConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// New returns an [Ingestor] for cfg.
func New(cfg Config) *Ingestor {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	policy := cfg.Oversize
	if policy == "" {
		policy = OversizeTruncate
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Ingestor{
		bufSize:  size,
		oversize: policy,
		dscp:     cfg.DSCP,
		rcvbuf:   cfg.ReadBuffer,
		metrics:  m,
		bound:    make(chan struct{}),
	}
}

// Running reports whether the ingestor is bound and receiving.
func (in *Ingestor) Running() bool { return in.running.Load() }

// Bound returns a channel that is closed once the socket of the current Run
// is bound.
func (in *Ingestor) Bound() <-chan struct{} {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.bound
}

// LocalAddr returns the bound socket address, or the zero value when not
// bound. Useful when the endpoint port is 0.
func (in *Ingestor) LocalAddr() netip.AddrPort {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.local
}

// Run binds ep and forwards every received payload to sink until ctx is
// cancelled, then returns ctx.Err(). The socket is closed on every return
// path. A bind failure returns an error wrapping [ErrFatalBind].
func (in *Ingestor) Run(ctx context.Context, ep Endpoint, sink Sink) error {
	if !in.active.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer in.active.Store(false)

	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(ep.AddrPort()))
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrFatalBind, ep, err)
		slog.Error("ingest socket unable to bind", "endpoint", ep, "err", err)
		return err
	}
	defer conn.Close()

	// Closing the socket is the only way to unblock a pending read.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	in.tune(conn)

	in.running.Store(true)
	in.metrics.IngestRunning.Add(ctx, 1)
	defer func() {
		in.running.Store(false)
		in.metrics.IngestRunning.Add(context.WithoutCancel(ctx), -1)
	}()

	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	in.mu.Lock()
	in.local = local
	close(in.bound)
	in.mu.Unlock()
	defer func() {
		in.mu.Lock()
		in.local = netip.AddrPort{}
		in.bound = make(chan struct{})
		in.mu.Unlock()
	}()

	var pc packetConn = conn
	if in.wrap != nil {
		pc = in.wrap(pc)
	}

	slog.Info("udp ingest running", "addr", local, "sink", sink.Name(), "buffer_size", in.bufSize, "oversize", in.oversize)
	return in.loop(ctx, pc, sink)
}

func (in *Ingestor) tune(conn *net.UDPConn) {
	if in.rcvbuf > 0 {
		if err := conn.SetReadBuffer(in.rcvbuf); err != nil {
			slog.Warn("unable to set socket read buffer", "bytes", in.rcvbuf, "err", err)
		}
	}
	if in.dscp > 0 {
		if err := setDSCP(conn, in.dscp); err != nil {
			slog.Warn("unable to mark replies", "dscp", in.dscp, "err", err)
		}
	}
}

func (in *Ingestor) loop(ctx context.Context, conn packetConn, sink Sink) error {
	// One spare byte makes oversize datagrams observable: a read that fills
	// the whole slice was longer than bufSize.
	buf := make([]byte, in.bufSize+1)
	reply := func(b []byte, addr netip.AddrPort) (int, error) {
		return conn.WriteToUDPAddrPort(b, addr)
	}

	for {
		n, src, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("ingest: socket closed: %w", err)
			}
			in.metrics.ReceiveErrors.Add(ctx, 1)
			slog.Warn("udp receive failed", "err", err)
			continue
		}

		dg := Datagram{
			Source:     src,
			ReceivedAt: time.Now(),
			reply:      reply,
		}
		if n > in.bufSize {
			in.metrics.RecordOversize(ctx, string(in.oversize))
			slog.Warn("oversize datagram", "source", src, "buffer_size", in.bufSize, "action", in.oversize)
			if in.oversize == OversizeDrop {
				continue
			}
			n = in.bufSize
			dg.Truncated = true
		}
		dg.Payload = buf[:n]

		in.metrics.RecordReceived(ctx, n)
		slog.Debug("datagram received", "source", src, "bytes", n)

		start := time.Now()
		err = sink.Output(ctx, dg)
		in.metrics.RecordForward(ctx, sink.Name(), err, time.Since(start))
		if err != nil {
			slog.Warn("forwarding datagram failed", "sink", sink.Name(), "source", src, "err", err)
		}
	}
}

// Package wsout streams pipeline PCM to a websocket endpoint as binary
// messages, one message per write.
//
// The connection is dialled lazily on the first write and re-dialled after a
// write failure or a close from the peer. The target never reads data
// messages; control frames are handled by [websocket.Conn.CloseRead].
//
// Dials go through a [resilience.CircuitBreaker] so an unreachable endpoint
// costs one fast failure per datagram instead of one dial timeout.
package wsout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/udpaudio/internal/resilience"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = time.Second
)

// Config configures a [Target].
type Config struct {
	// URL is the ws:// or wss:// endpoint. Required.
	URL string

	// Breaker guards dial attempts. Name defaults to "wsout".
	Breaker resilience.BreakerConfig

	// DialTimeout defaults to 5s.
	DialTimeout time.Duration

	// WriteTimeout bounds a single message write. Defaults to 1s.
	WriteTimeout time.Duration
}

// Target is a pipeline target that writes to a websocket.
type Target struct {
	url          string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	breaker      *resilience.CircuitBreaker

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// New returns a [Target] for cfg. No connection is made until the first
// Write.
func New(cfg Config) (*Target, error) {
	if cfg.URL == "" {
		return nil, errors.New("wsout: url is required")
	}
	bc := cfg.Breaker
	if bc.Name == "" {
		bc.Name = "wsout"
	}
	t := &Target{
		url:          cfg.URL,
		dialTimeout:  cfg.DialTimeout,
		writeTimeout: cfg.WriteTimeout,
		breaker:      resilience.NewCircuitBreaker(bc),
	}
	if t.dialTimeout <= 0 {
		t.dialTimeout = defaultDialTimeout
	}
	if t.writeTimeout <= 0 {
		t.writeTimeout = defaultWriteTimeout
	}
	return t, nil
}

// Kind implements pipeline.Target.
func (t *Target) Kind() string { return "websocket" }

// Write sends p as one binary message.
func (t *Target) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errors.New("wsout: target closed")
	}
	if t.conn == nil {
		if err := t.breaker.Execute(t.dial); err != nil {
			return 0, fmt.Errorf("wsout: dial %s: %w", t.url, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	defer cancel()
	if err := t.conn.Write(ctx, websocket.MessageBinary, p); err != nil {
		_ = t.conn.CloseNow()
		t.conn = nil
		slog.Warn("websocket target write failed, will redial", "url", t.url, "err", err)
		return 0, fmt.Errorf("wsout: write: %w", err)
	}
	return len(p), nil
}

// dial runs under t.mu.
func (t *Target) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return err
	}
	slog.Info("websocket target connected", "url", t.url)
	t.conn = conn

	// Pings and the close handshake are only answered while a read is in
	// progress.
	readCtx := conn.CloseRead(context.Background())
	go t.watch(readCtx, conn)
	return nil
}

// watch drops conn once its read side ends so the next Write redials.
func (t *Target) watch(readCtx context.Context, conn *websocket.Conn) {
	<-readCtx.Done()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != conn {
		return
	}
	_ = conn.CloseNow()
	t.conn = nil
	slog.Warn("websocket target disconnected by peer, will redial", "url", t.url)
}

// BreakerState reports the dial breaker state.
func (t *Target) BreakerState() resilience.State { return t.breaker.State() }

// Close closes the connection with a normal closure.
func (t *Target) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close(websocket.StatusNormalClosure, "done")
	t.conn = nil
	return err
}

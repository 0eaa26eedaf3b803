// Package mock provides a recording [ingest.Sink] for tests.
package mock

import (
	"bytes"
	"context"
	"sync"

	"github.com/MrWong99/udpaudio/internal/ingest"
)

// Call is one recorded Output call. Payload is a copy.
type Call struct {
	Payload   []byte
	Truncated bool
}

// Sink records every datagram it is given.
type Sink struct {
	// SinkName is returned by Name. Defaults to "mock".
	SinkName string

	// Err is returned by every Output call.
	Err error

	// Notify, when non-nil, receives a value after every recorded call.
	// Sends do not block; size the buffer accordingly.
	Notify chan struct{}

	mu    sync.Mutex
	calls []Call
}

// Name implements [ingest.Sink].
func (s *Sink) Name() string {
	if s.SinkName == "" {
		return "mock"
	}
	return s.SinkName
}

// Output implements [ingest.Sink].
func (s *Sink) Output(_ context.Context, dg ingest.Datagram) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Payload: bytes.Clone(dg.Payload), Truncated: dg.Truncated})
	err := s.Err
	s.mu.Unlock()

	if s.Notify != nil {
		select {
		case s.Notify <- struct{}{}:
		default:
		}
	}
	return err
}

// Calls returns a copy of all recorded calls.
func (s *Sink) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

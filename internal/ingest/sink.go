package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Sink consumes received datagrams. Output is called from the receive loop
// goroutine, one datagram at a time; a returned error is logged and counted
// by the ingestor and never stops the loop.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	Output(ctx context.Context, dg Datagram) error
}

// EchoSink sends every payload back to its sender, byte for byte.
type EchoSink struct{}

// Name implements [Sink].
func (EchoSink) Name() string { return "echo" }

// Output implements [Sink].
func (EchoSink) Output(_ context.Context, dg Datagram) error {
	return dg.Reply(dg.Payload)
}

// Element is the capability a [PipelineSink] pushes payloads into.
type Element interface {
	Output(p []byte) (int, error)
}

// PipelineSink forwards every payload into a pipeline element.
type PipelineSink struct {
	Element Element
}

// Name implements [Sink].
func (PipelineSink) Name() string { return "pipeline" }

// Output implements [Sink]. A short write is reported as [io.ErrShortWrite].
func (s PipelineSink) Output(_ context.Context, dg Datagram) error {
	n, err := s.Element.Output(dg.Payload)
	if err != nil {
		return fmt.Errorf("ingest: pipeline output: %w", err)
	}
	if n != len(dg.Payload) {
		return fmt.Errorf("ingest: pipeline output: wrote %d of %d bytes: %w", n, len(dg.Payload), io.ErrShortWrite)
	}
	return nil
}

// Tee hands each datagram to every sink in order. All sinks see the
// datagram even when an earlier one failed; the errors are joined.
type Tee []Sink

// Name implements [Sink].
func (Tee) Name() string { return "tee" }

// Output implements [Sink].
func (t Tee) Output(ctx context.Context, dg Datagram) error {
	var errs []error
	for _, s := range t {
		if err := s.Output(ctx, dg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

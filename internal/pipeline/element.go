// Package pipeline is the playback side of udpaudio: an [Element] accepts raw
// 16-bit little-endian PCM from the ingestion loop, converts it to the output
// format when the formats differ, and writes it to a [Target].
//
// Targets provided here are [FileTarget] (a raw PCM file or stdout) and, in
// the wsout subpackage, a websocket stream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/udpaudio/internal/observe"
	"github.com/MrWong99/udpaudio/pkg/audio"
)

// ErrClosed is returned by Output after Close.
var ErrClosed = errors.New("pipeline: element closed")

// Target is where converted PCM ends up.
type Target interface {
	io.WriteCloser

	// Kind names the target in logs and metrics, e.g. "file".
	Kind() string
}

// Config configures an [Element].
type Config struct {
	// Input is the PCM format of incoming payloads.
	Input audio.Format

	// Output is the format written to Target. The zero value means Input.
	Output audio.Format

	// Target receives converted PCM. Required.
	Target Target

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Element is a single-writer playback stage. It is safe for concurrent use,
// but writes are serialised.
type Element struct {
	conv    *audio.Stream
	target  Target
	metrics *observe.Metrics

	mu     sync.Mutex
	closed bool
}

// New validates cfg and returns an [Element].
func New(cfg Config) (*Element, error) {
	if cfg.Target == nil {
		return nil, errors.New("pipeline: target is required")
	}
	if !cfg.Input.IsValid() {
		return nil, fmt.Errorf("pipeline: invalid input format %s", cfg.Input)
	}
	out := cfg.Output
	if out == (audio.Format{}) {
		out = cfg.Input
	}
	if !out.IsValid() {
		return nil, fmt.Errorf("pipeline: invalid output format %s", out)
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Element{
		conv:    audio.NewStream(cfg.Input, out),
		target:  cfg.Target,
		metrics: m,
	}, nil
}

// Format returns the output format.
func (e *Element) Format() audio.Format { return e.conv.Converter().To }

// Output converts p and writes it to the target. Consecutive payloads are
// resampled as one continuous signal. On success it reports len(p): the
// whole input payload was consumed, whatever the size of the converted
// output.
func (e *Element) Output(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}

	out, err := e.conv.Convert(p)
	if err != nil {
		return 0, fmt.Errorf("pipeline: convert: %w", err)
	}
	if len(out) == 0 && len(p) > 0 {
		return len(p), nil
	}
	n, err := e.target.Write(out)
	if n > 0 {
		e.metrics.RecordPipelineWrite(context.Background(), e.target.Kind(), n)
	}
	if err != nil {
		return 0, fmt.Errorf("pipeline: write %s: %w", e.target.Kind(), err)
	}
	if n != len(out) {
		return 0, fmt.Errorf("pipeline: write %s: %w", e.target.Kind(), io.ErrShortWrite)
	}
	return len(p), nil
}

// Close closes the target. Further Output calls fail with [ErrClosed].
func (e *Element) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.target.Close()
}

package pipeline

import (
	"errors"
	"io"

	"github.com/MrWong99/udpaudio/internal/resilience"
)

// FallbackTarget writes to the primary target and switches to the fallback
// while the primary fails. Each side sits behind its own circuit breaker, so
// a failing primary is only retried once its reset timeout has passed.
type FallbackTarget struct {
	group *resilience.FallbackGroup[Target]
}

// NewFallbackTarget returns a [FallbackTarget] over primary and fallback.
func NewFallbackTarget(primary, fallback Target, breaker resilience.BreakerConfig) *FallbackTarget {
	g := resilience.NewFallbackGroup(primary.Kind(), primary, breaker)
	g.AddFallback("fallback-"+fallback.Kind(), fallback)
	return &FallbackTarget{group: g}
}

// Kind implements [Target].
func (t *FallbackTarget) Kind() string { return "fallback" }

// Write implements [io.Writer]. A chunk is written whole to one target.
func (t *FallbackTarget) Write(p []byte) (int, error) {
	_, err := t.group.Execute(func(tgt Target) error {
		n, err := tgt.Write(p)
		if err == nil && n != len(p) {
			err = io.ErrShortWrite
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes both targets.
func (t *FallbackTarget) Close() error {
	var errs []error
	t.group.Each(func(_ string, tgt Target) {
		if err := tgt.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

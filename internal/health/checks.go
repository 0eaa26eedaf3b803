package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/udpaudio/internal/netsup"
)

// LinkStater reports the station link state; satisfied by *netsup.Supervisor.
type LinkStater interface {
	State() netsup.ConnectionState
}

// Runner reports whether a task is active; satisfied by *ingest.Ingestor.
type Runner interface {
	Running() bool
}

// NetworkChecker passes while the link is Connected.
func NetworkChecker(link LinkStater) Checker {
	return Checker{Name: "network", Check: func(context.Context) error {
		if s := link.State(); s != netsup.Connected {
			return fmt.Errorf("link %s", s)
		}
		return nil
	}}
}

// IngestChecker passes while the ingest loop is bound and receiving.
func IngestChecker(r Runner) Checker {
	return Checker{Name: "ingest", Check: func(context.Context) error {
		if !r.Running() {
			return errors.New("not receiving")
		}
		return nil
	}}
}

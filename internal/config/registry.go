package config

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/MrWong99/udpaudio/internal/ingest"
	"github.com/MrWong99/udpaudio/internal/netsup"
	"github.com/MrWong99/udpaudio/internal/netsup/hostif"
	"github.com/MrWong99/udpaudio/internal/observe"
	"github.com/MrWong99/udpaudio/internal/pipeline"
	"github.com/MrWong99/udpaudio/internal/pipeline/wsout"
	"github.com/MrWong99/udpaudio/internal/resilience"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: component not registered")

// DriverFactory builds a network driver from its config section.
type DriverFactory func(NetworkConfig) (netsup.Driver, error)

// TargetFactory builds a pipeline target. storageDir is the resolved
// [StorageConfig.Dir].
type TargetFactory func(storageDir string, t TargetConfig) (pipeline.Target, error)

// Registry maps network driver and pipeline target names to their
// constructors. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	drivers map[NetworkDriver]DriverFactory
	targets map[TargetKind]TargetFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[NetworkDriver]DriverFactory),
		targets: make(map[TargetKind]TargetFactory),
	}
}

// DefaultRegistry returns a [Registry] with the built-in drivers (static,
// hostif) and targets (file, websocket).
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterDriver(DriverStatic, func(NetworkConfig) (netsup.Driver, error) {
		return netsup.NewStatic(netip.IPv4Unspecified()), nil
	})
	r.RegisterDriver(DriverHostIf, func(nc NetworkConfig) (netsup.Driver, error) {
		return hostif.New(hostif.Config{Interface: nc.Interface, PollInterval: nc.PollInterval}), nil
	})
	r.RegisterTarget(TargetFile, func(dir string, t TargetConfig) (pipeline.Target, error) {
		return pipeline.OpenFile(dir, t.Path)
	})
	r.RegisterTarget(TargetWebsocket, func(_ string, t TargetConfig) (pipeline.Target, error) {
		return wsout.New(wsout.Config{
			URL: t.URL,
			Breaker: resilience.BreakerConfig{
				Name:         "wsout",
				MaxFailures:  t.Breaker.MaxFailures,
				ResetTimeout: t.Breaker.ResetTimeout,
			},
		})
	})
	return r
}

// RegisterDriver registers a network driver factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDriver(name NetworkDriver, factory DriverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[name] = factory
}

// RegisterTarget registers a pipeline target factory under kind.
func (r *Registry) RegisterTarget(kind TargetKind, factory TargetFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[kind] = factory
}

// CreateDriver instantiates the driver registered under nc.Driver.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateDriver(nc NetworkConfig) (netsup.Driver, error) {
	r.mu.RLock()
	factory, ok := r.drivers[nc.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: driver/%q", ErrNotRegistered, nc.Driver)
	}
	return factory(nc)
}

// CreateTarget instantiates the pipeline target registered under t.Kind.
func (r *Registry) CreateTarget(storageDir string, t TargetConfig) (pipeline.Target, error) {
	r.mu.RLock()
	factory, ok := r.targets[t.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: target/%q", ErrNotRegistered, t.Kind)
	}
	return factory(storageDir, t)
}

// Credentials returns the station credentials.
func (nc NetworkConfig) Credentials() netsup.Credentials {
	return netsup.Credentials{SSID: nc.SSID, Passphrase: nc.Passphrase}
}

// RetryPolicy returns the configured reconnect policy.
func (rc RetryConfig) RetryPolicy() resilience.RetryPolicy {
	if rc.Policy == RetryBackoff {
		return resilience.Backoff{Initial: rc.Initial, Max: rc.Max, MaxRetries: rc.MaxRetries}
	}
	return resilience.Immediate{}
}

// Endpoint returns the ingest endpoint. An unparsable bind address yields
// the zero address, which binds all IPv4 interfaces; [Validate] rejects it
// beforehand.
func (ic IngestConfig) Endpoint() ingest.Endpoint {
	addr, _ := netip.ParseAddr(ic.BindAddress)
	return ingest.Endpoint{Port: ic.Port, BindAddress: addr}
}

// IngestorConfig returns the receive loop settings.
func (ic IngestConfig) IngestorConfig(m *observe.Metrics) ingest.Config {
	policy, _ := ingest.ParseOversizePolicy(ic.Oversize)
	return ingest.Config{
		BufferSize: ic.BufferSize,
		Oversize:   policy,
		DSCP:       ic.DSCP,
		ReadBuffer: ic.ReadBuffer,
		Metrics:    m,
	}
}

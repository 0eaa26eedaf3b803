package netsup

import (
	"context"
	"log/slog"
	"net/netip"
)

// Credentials identify the network the station joins.
type Credentials struct {
	SSID       string
	Passphrase string
}

// LogValue implements [slog.LogValuer] so the passphrase never reaches the log.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("ssid", c.SSID),
		slog.Bool("passphrase_set", c.Passphrase != ""),
	)
}

// EventKind classifies link-layer events emitted by a [Driver].
type EventKind int

const (
	// EventStarted is emitted once the interface is up and ready to associate.
	EventStarted EventKind = iota

	// EventDisconnected is emitted whenever the link or its address is lost.
	EventDisconnected

	// EventGotAddress is emitted when the interface acquires a usable address.
	EventGotAddress
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventDisconnected:
		return "disconnected"
	case EventGotAddress:
		return "got_address"
	default:
		return "unknown"
	}
}

// Event is a single asynchronous connectivity notification.
type Event struct {
	Kind EventKind

	// Addr is set for [EventGotAddress].
	Addr netip.Addr

	// Reason optionally describes an [EventDisconnected].
	Reason string
}

// Driver is the station link driver: association, authentication and
// address acquisition live behind it. The [Supervisor] consumes its events
// and decides when to call Connect.
//
// Implementations must be safe for concurrent use.
type Driver interface {
	// Start initialises the interface with creds and brings it up. On success
	// the driver emits [EventStarted]. A Start error is fatal.
	Start(ctx context.Context, creds Credentials) error

	// Connect issues one connect attempt. It does not wait for the outcome;
	// success is reported as [EventGotAddress], failure as [EventDisconnected].
	// A returned error means the attempt could not even be issued.
	Connect(ctx context.Context) error

	// Events returns the driver's event stream. The same channel is returned
	// on every call.
	Events() <-chan Event
}

// Static is a [Driver] for hosts whose address is already configured (wired
// links, loopback). It reports started on Start and the fixed address on
// every Connect.
type Static struct {
	addr   netip.Addr
	events chan Event
}

// NewStatic returns a [Static] driver announcing addr.
func NewStatic(addr netip.Addr) *Static {
	return &Static{addr: addr, events: make(chan Event, 4)}
}

// Start implements [Driver].
func (s *Static) Start(ctx context.Context, _ Credentials) error {
	return s.emit(ctx, Event{Kind: EventStarted})
}

// Connect implements [Driver].
func (s *Static) Connect(ctx context.Context) error {
	return s.emit(ctx, Event{Kind: EventGotAddress, Addr: s.addr})
}

// Events implements [Driver].
func (s *Static) Events() <-chan Event { return s.events }

func (s *Static) emit(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

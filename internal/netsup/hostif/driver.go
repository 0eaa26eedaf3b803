// Package hostif implements a [netsup.Driver] on top of a host network
// interface whose association is managed by the operating system.
//
// The driver polls the interface and turns its flags and unicast addresses
// into link events: [netsup.EventGotAddress] when the interface is up with a
// usable address, [netsup.EventDisconnected] when it loses either. Events are
// only emitted on transitions, so a stable link produces no traffic.
package hostif

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/MrWong99/udpaudio/internal/netsup"
)

// ErrNotStarted is returned by Connect before a successful Start.
var ErrNotStarted = errors.New("hostif: driver not started")

const defaultPollInterval = time.Second

// Status is a snapshot of an interface.
type Status struct {
	Up    bool
	Addrs []netip.Addr
}

// usable returns the preferred address of a status: the first global
// unicast IPv4 address, else the first global unicast IPv6 address.
func (s Status) usable() (netip.Addr, bool) {
	if !s.Up {
		return netip.Addr{}, false
	}
	var v6 netip.Addr
	for _, a := range s.Addrs {
		if !a.IsGlobalUnicast() {
			continue
		}
		if a.Is4() {
			return a, true
		}
		if !v6.IsValid() {
			v6 = a
		}
	}
	return v6, v6.IsValid()
}

// LookupFunc reports the current status of the named interface.
type LookupFunc func(name string) (Status, error)

// Config configures a [Driver].
type Config struct {
	// Interface is the host interface name, e.g. "wlan0". Required.
	Interface string

	// PollInterval is the status polling period. Defaults to 1s.
	PollInterval time.Duration

	// Lookup overrides the interface lookup. Defaults to [LookupInterface].
	Lookup LookupFunc
}

// Driver watches a host interface. Create with [New].
type Driver struct {
	name     string
	interval time.Duration
	lookup   LookupFunc

	events chan netsup.Event
	kick   chan struct{}

	mu      sync.Mutex
	started bool
	current netip.Addr // valid while the link is reported up
}

var _ netsup.Driver = (*Driver)(nil)

// New returns a [Driver] for cfg.Interface.
func New(cfg Config) *Driver {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	lookup := cfg.Lookup
	if lookup == nil {
		lookup = LookupInterface
	}
	return &Driver{
		name:     cfg.Interface,
		interval: interval,
		lookup:   lookup,
		events:   make(chan netsup.Event, 16),
		kick:     make(chan struct{}, 1),
	}
}

// Start verifies the interface exists and begins polling it until ctx is
// cancelled. Association itself is left to the host, so creds are only
// logged.
func (d *Driver) Start(ctx context.Context, creds netsup.Credentials) error {
	if _, err := d.lookup(d.name); err != nil {
		return fmt.Errorf("hostif: interface %q: %w", d.name, err)
	}

	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("hostif: interface %q already started", d.name)
	}
	d.started = true
	d.mu.Unlock()

	slog.Info("watching host interface", "interface", d.name, "ssid", creds.SSID, "poll_interval", d.interval)
	if err := d.emit(ctx, netsup.Event{Kind: netsup.EventStarted}); err != nil {
		return err
	}
	go d.poll(ctx)
	return nil
}

// Connect triggers an immediate status check. The outcome is reported
// through the event stream.
func (d *Driver) Connect(_ context.Context) error {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	select {
	case d.kick <- struct{}{}:
	default:
	}
	return nil
}

// Events implements [netsup.Driver].
func (d *Driver) Events() <-chan netsup.Event { return d.events }

func (d *Driver) poll(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.kick:
		}
		if err := d.check(ctx); err != nil {
			return
		}
	}
}

// check compares the interface status with the last reported one and emits
// the events for any transition.
func (d *Driver) check(ctx context.Context) error {
	var (
		addr netip.Addr
		ok   bool
	)
	st, err := d.lookup(d.name)
	if err != nil {
		slog.Debug("interface lookup failed", "interface", d.name, "err", err)
	} else {
		addr, ok = st.usable()
	}

	d.mu.Lock()
	prev := d.current
	if ok {
		d.current = addr
	} else {
		d.current = netip.Addr{}
	}
	d.mu.Unlock()

	switch {
	case prev.IsValid() && !ok:
		reason := "interface down"
		if err != nil {
			reason = err.Error()
		} else if st.Up {
			reason = "address lost"
		}
		return d.emit(ctx, netsup.Event{Kind: netsup.EventDisconnected, Reason: reason})
	case prev.IsValid() && ok && prev != addr:
		if err := d.emit(ctx, netsup.Event{Kind: netsup.EventDisconnected, Reason: "address changed"}); err != nil {
			return err
		}
		return d.emit(ctx, netsup.Event{Kind: netsup.EventGotAddress, Addr: addr})
	case !prev.IsValid() && ok:
		return d.emit(ctx, netsup.Event{Kind: netsup.EventGotAddress, Addr: addr})
	}
	return nil
}

func (d *Driver) emit(ctx context.Context, ev netsup.Event) error {
	select {
	case d.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LookupInterface reads the status of a host interface through the net
// package. An interface counts as up when it is both administratively up
// and running.
func LookupInterface(name string) (Status, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return Status{}, err
	}
	st := Status{Up: iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagRunning != 0}
	addrs, err := iface.Addrs()
	if err != nil {
		return st, err
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip, ok := netip.AddrFromSlice(ipn.IP); ok {
			st.Addrs = append(st.Addrs, ip.Unmap())
		}
	}
	return st, nil
}

// Package mock provides a scriptable in-memory [netsup.Driver] for tests.
//
// The driver records every Start and Connect call. Tests push link events
// with [Driver.Emit]; with AutoAddress set, every accepted Connect is answered
// with an [netsup.EventGotAddress] so reconnect loops complete on their own.
//
//	drv := &mock.Driver{AutoAddress: netip.MustParseAddr("10.0.0.2")}
//	sup := netsup.New(netsup.Config{Driver: drv})
//	err := sup.Connect(ctx, netsup.Credentials{SSID: "lab"})
//	drv.Emit(netsup.Event{Kind: netsup.EventDisconnected})
package mock

import (
	"context"
	"net/netip"
	"sync"

	"github.com/MrWong99/udpaudio/internal/netsup"
)

// Driver is a mock implementation of [netsup.Driver]. Set the exported
// fields before handing it to a supervisor; inspect the call counters after.
type Driver struct {
	// StartError is returned by Start. When nil, Start emits EventStarted.
	StartError error

	// ConnectErrors are returned by successive Connect calls; once exhausted
	// Connect succeeds.
	ConnectErrors []error

	// AutoAddress, when valid, is announced via EventGotAddress after every
	// successful Connect.
	AutoAddress netip.Addr

	mu           sync.Mutex
	events       chan netsup.Event
	startCalls   []netsup.Credentials
	connectCalls int
}

func (d *Driver) ch() chan netsup.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.events == nil {
		d.events = make(chan netsup.Event, 64)
	}
	return d.events
}

// Start implements [netsup.Driver].
func (d *Driver) Start(_ context.Context, creds netsup.Credentials) error {
	d.mu.Lock()
	d.startCalls = append(d.startCalls, creds)
	err := d.StartError
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.Emit(netsup.Event{Kind: netsup.EventStarted})
	return nil
}

// Connect implements [netsup.Driver].
func (d *Driver) Connect(_ context.Context) error {
	d.mu.Lock()
	idx := d.connectCalls
	d.connectCalls++
	var err error
	if idx < len(d.ConnectErrors) {
		err = d.ConnectErrors[idx]
	}
	addr := d.AutoAddress
	d.mu.Unlock()

	if err != nil {
		return err
	}
	if addr.IsValid() {
		d.Emit(netsup.Event{Kind: netsup.EventGotAddress, Addr: addr})
	}
	return nil
}

// Events implements [netsup.Driver].
func (d *Driver) Events() <-chan netsup.Event { return d.ch() }

// Emit pushes ev onto the event stream.
func (d *Driver) Emit(ev netsup.Event) { d.ch() <- ev }

// Close closes the event stream.
func (d *Driver) Close() { close(d.ch()) }

// StartCalls returns the credentials passed to every Start call.
func (d *Driver) StartCalls() []netsup.Credentials {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]netsup.Credentials, len(d.startCalls))
	copy(out, d.startCalls)
	return out
}

// ConnectCalls returns how many times Connect was called.
func (d *Driver) ConnectCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectCalls
}

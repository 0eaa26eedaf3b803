package hostif

import (
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/udpaudio/internal/netsup"
)

// fakeIface is a mutable interface status served through a LookupFunc.
type fakeIface struct {
	mu  sync.Mutex
	st  Status
	err error
}

func (f *fakeIface) set(st Status, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st, f.err = st, err
}

func (f *fakeIface) lookup(string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st, f.err
}

func nextEvent(t *testing.T, d *Driver) netsup.Event {
	t.Helper()
	select {
	case ev := <-d.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return netsup.Event{}
	}
}

func noEvent(t *testing.T, d *Driver, within time.Duration) {
	t.Helper()
	select {
	case ev := <-d.Events():
		t.Fatalf("unexpected event %v", ev.Kind)
	case <-time.After(within):
	}
}

func TestStart_MissingInterface(t *testing.T) {
	f := &fakeIface{err: errors.New("no such network interface")}
	d := New(Config{Interface: "wlan9", Lookup: f.lookup})

	if err := d.Start(t.Context(), netsup.Credentials{SSID: "lab"}); err == nil {
		t.Fatal("expected error for a missing interface")
	}
	if err := d.Connect(t.Context()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Connect before Start = %v, want ErrNotStarted", err)
	}
}

func TestDriver_Transitions(t *testing.T) {
	addr := netip.MustParseAddr("192.168.4.2")
	f := &fakeIface{}
	d := New(Config{Interface: "wlan0", PollInterval: 5 * time.Millisecond, Lookup: f.lookup})

	if err := d.Start(t.Context(), netsup.Credentials{SSID: "lab"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ev := nextEvent(t, d); ev.Kind != netsup.EventStarted {
		t.Fatalf("first event = %v, want started", ev.Kind)
	}

	// Down interface: polling stays quiet.
	if err := d.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	noEvent(t, d, 30*time.Millisecond)

	f.set(Status{Up: true, Addrs: []netip.Addr{netip.MustParseAddr("fe80::1"), addr}}, nil)
	ev := nextEvent(t, d)
	if ev.Kind != netsup.EventGotAddress || ev.Addr != addr {
		t.Fatalf("event = %+v, want got_address %v", ev, addr)
	}
	noEvent(t, d, 30*time.Millisecond)

	f.set(Status{Up: false}, nil)
	ev = nextEvent(t, d)
	if ev.Kind != netsup.EventDisconnected || ev.Reason != "interface down" {
		t.Fatalf("event = %+v, want disconnected (interface down)", ev)
	}

	f.set(Status{Up: true, Addrs: []netip.Addr{addr}}, nil)
	if ev := nextEvent(t, d); ev.Kind != netsup.EventGotAddress {
		t.Fatalf("event = %v, want got_address", ev.Kind)
	}

	next := netip.MustParseAddr("192.168.4.7")
	f.set(Status{Up: true, Addrs: []netip.Addr{next}}, nil)
	if ev := nextEvent(t, d); ev.Kind != netsup.EventDisconnected || ev.Reason != "address changed" {
		t.Fatalf("event = %+v, want disconnected (address changed)", ev)
	}
	if ev := nextEvent(t, d); ev.Kind != netsup.EventGotAddress || ev.Addr != next {
		t.Fatalf("event = %+v, want got_address %v", ev, next)
	}
}

func TestStatus_Usable(t *testing.T) {
	tests := []struct {
		name   string
		st     Status
		want   string
		wantOK bool
	}{
		{name: "down", st: Status{Up: false, Addrs: []netip.Addr{netip.MustParseAddr("10.0.0.2")}}},
		{name: "link local only", st: Status{Up: true, Addrs: []netip.Addr{netip.MustParseAddr("fe80::1"), netip.MustParseAddr("169.254.1.1")}}},
		{name: "prefers ipv4", st: Status{Up: true, Addrs: []netip.Addr{netip.MustParseAddr("2001:db8::2"), netip.MustParseAddr("10.0.0.2")}}, want: "10.0.0.2", wantOK: true},
		{name: "ipv6 fallback", st: Status{Up: true, Addrs: []netip.Addr{netip.MustParseAddr("2001:db8::2")}}, want: "2001:db8::2", wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.st.usable()
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.String() != tt.want {
				t.Errorf("addr = %s, want %s", got, tt.want)
			}
		})
	}
}

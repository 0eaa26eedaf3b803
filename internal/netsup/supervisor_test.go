package netsup_test

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/udpaudio/internal/netsup"
	"github.com/MrWong99/udpaudio/internal/netsup/mock"
	"github.com/MrWong99/udpaudio/internal/observe"
	"github.com/MrWong99/udpaudio/internal/resilience"
)

var testAddr = netip.MustParseAddr("192.168.10.2")

func newSupervisor(t *testing.T, drv netsup.Driver, retry resilience.RetryPolicy) *netsup.Supervisor {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return netsup.New(netsup.Config{Driver: drv, Retry: retry, Metrics: m})
}

// transitions records every state change reported by a supervisor.
type transitions struct {
	mu  sync.Mutex
	got []netsup.ConnectionState
}

func (tr *transitions) record(_, to netsup.ConnectionState) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.got = append(tr.got, to)
}

func (tr *transitions) snapshot() []netsup.ConnectionState {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]netsup.ConnectionState(nil), tr.got...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSupervisor_ConnectBlocksUntilConnected(t *testing.T) {
	drv := &mock.Driver{AutoAddress: testAddr}
	sup := newSupervisor(t, drv, nil)

	creds := netsup.Credentials{SSID: "ESP32-CAM Access Point", Passphrase: "123456789"}
	if err := sup.Connect(t.Context(), creds); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if got := sup.State(); got != netsup.Connected {
		t.Errorf("state = %v, want connected", got)
	}
	if got := sup.Addr(); got != testAddr {
		t.Errorf("addr = %v, want %v", got, testAddr)
	}
	select {
	case <-sup.Ready():
	default:
		t.Error("ready channel should be closed while connected")
	}

	calls := drv.StartCalls()
	if len(calls) != 1 || calls[0] != creds {
		t.Errorf("start calls = %+v, want one call with %+v", calls, creds)
	}
}

func TestSupervisor_StartFailureIsFatal(t *testing.T) {
	drv := &mock.Driver{StartError: errors.New("radio init failed")}
	sup := newSupervisor(t, drv, nil)

	err := sup.Connect(t.Context(), netsup.Credentials{SSID: "lab"})
	if !errors.Is(err, netsup.ErrDriverInit) {
		t.Fatalf("err = %v, want ErrDriverInit", err)
	}
	if !errors.Is(sup.Wait(), netsup.ErrDriverInit) {
		t.Errorf("Wait() = %v, want ErrDriverInit", sup.Wait())
	}
}

func TestSupervisor_ReconnectsAfterDisconnect(t *testing.T) {
	drv := &mock.Driver{AutoAddress: testAddr}
	sup := newSupervisor(t, drv, nil)
	var tr transitions
	sup.OnStateChange(tr.record)

	if err := sup.Connect(t.Context(), netsup.Credentials{SSID: "lab"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	firstReady := sup.Ready()

	drv.Emit(netsup.Event{Kind: netsup.EventDisconnected, Reason: "beacon timeout"})

	waitFor(t, "second connection episode", func() bool {
		return len(tr.snapshot()) == 5
	})

	want := []netsup.ConnectionState{
		netsup.Connecting, netsup.Connected,
		netsup.Disconnected, netsup.Connecting, netsup.Connected,
	}
	got := tr.snapshot()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}

	if sup.Ready() == firstReady {
		t.Error("expected a fresh ready channel after the disconnect")
	}
	if drv.ConnectCalls() != 2 {
		t.Errorf("connect calls = %d, want 2", drv.ConnectCalls())
	}
}

func TestSupervisor_ImmediateRetryUntilAccepted(t *testing.T) {
	drv := &mock.Driver{
		AutoAddress:   testAddr,
		ConnectErrors: []error{errors.New("busy"), errors.New("busy")},
	}
	sup := newSupervisor(t, drv, resilience.Immediate{})

	if err := sup.Connect(t.Context(), netsup.Credentials{SSID: "lab"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := drv.ConnectCalls(); got != 3 {
		t.Errorf("connect calls = %d, want 3", got)
	}
}

func TestSupervisor_BoundedBackoffExhausts(t *testing.T) {
	fail := errors.New("auth rejected")
	drv := &mock.Driver{
		AutoAddress:   testAddr,
		ConnectErrors: []error{fail, fail, fail, fail, fail},
	}
	sup := newSupervisor(t, drv, resilience.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, MaxRetries: 2})

	err := sup.Connect(t.Context(), netsup.Credentials{SSID: "lab"})
	if !errors.Is(err, resilience.ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if got := drv.ConnectCalls(); got != 3 {
		t.Errorf("connect calls = %d, want 3 (initial + 2 retries)", got)
	}
	if !errors.Is(sup.Wait(), resilience.ErrRetriesExhausted) {
		t.Errorf("Wait() = %v", sup.Wait())
	}
}

func TestSupervisor_DuplicateAddressIgnored(t *testing.T) {
	drv := &mock.Driver{AutoAddress: testAddr}
	sup := newSupervisor(t, drv, nil)
	var tr transitions
	sup.OnStateChange(tr.record)

	if err := sup.Connect(t.Context(), netsup.Credentials{SSID: "lab"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	drv.Emit(netsup.Event{Kind: netsup.EventGotAddress, Addr: netip.MustParseAddr("192.168.10.9")})
	drv.Emit(netsup.Event{Kind: netsup.EventGotAddress, Addr: netip.MustParseAddr("192.168.10.9")})

	// Flush: a disconnect is processed after the duplicates.
	drv.Emit(netsup.Event{Kind: netsup.EventDisconnected})
	waitFor(t, "reconnect", func() bool { return len(tr.snapshot()) >= 5 })

	got := tr.snapshot()
	if got[1] != netsup.Connected || got[2] != netsup.Disconnected {
		t.Errorf("transitions = %v: duplicate address events must not re-signal", got)
	}
}

func TestSupervisor_WaitReturnsContextError(t *testing.T) {
	drv := &mock.Driver{AutoAddress: testAddr}
	sup := newSupervisor(t, drv, nil)

	ctx, cancel := context.WithCancel(t.Context())
	if err := sup.Connect(ctx, netsup.Credentials{SSID: "lab"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	cancel()
	if err := sup.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}

func TestSupervisor_ConnectHonoursContext(t *testing.T) {
	drv := &mock.Driver{} // never announces an address
	sup := newSupervisor(t, drv, nil)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := sup.Connect(ctx, netsup.Credentials{SSID: "lab"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if got := sup.State(); got == netsup.Connected {
		t.Error("must not be connected")
	}
}

func TestSupervisor_EventStreamClosed(t *testing.T) {
	drv := &mock.Driver{}
	sup := newSupervisor(t, drv, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- sup.Connect(t.Context(), netsup.Credentials{SSID: "lab"}) }()

	waitFor(t, "connect attempt", func() bool { return drv.ConnectCalls() == 1 })
	drv.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, netsup.ErrEventsClosed) {
			t.Fatalf("err = %v, want ErrEventsClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after the event stream closed")
	}
}

func TestSupervisor_ConnectTwice(t *testing.T) {
	drv := &mock.Driver{AutoAddress: testAddr}
	sup := newSupervisor(t, drv, nil)
	if err := sup.Connect(t.Context(), netsup.Credentials{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sup.Connect(t.Context(), netsup.Credentials{}); !errors.Is(err, netsup.ErrAlreadyStarted) {
		t.Errorf("second Connect = %v, want ErrAlreadyStarted", err)
	}
}

func TestStaticDriver(t *testing.T) {
	sup := newSupervisor(t, netsup.NewStatic(netip.MustParseAddr("127.0.0.1")), nil)
	if err := sup.Connect(t.Context(), netsup.Credentials{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := sup.Addr().String(); got != "127.0.0.1" {
		t.Errorf("addr = %s", got)
	}
}

func TestConnectionState_String(t *testing.T) {
	for s, want := range map[netsup.ConnectionState]string{
		netsup.Disconnected: "disconnected",
		netsup.Connecting:   "connecting",
		netsup.Connected:    "connected",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/udpaudio/internal/netsup"
)

func pass(context.Context) error { return nil }

func serve(t *testing.T, h *Handler, path string) (int, Report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, rep
}

func TestHealthz(t *testing.T) {
	h := New(Checker{Name: "network", Check: func(context.Context) error { return errors.New("down") }})
	code, rep := serve(t, h, "/healthz")
	if code != http.StatusOK || rep.Status != "ok" {
		t.Errorf("healthz = %d %+v, want 200 ok even with failing checks", code, rep)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		link       netsup.ConnectionState
		running    bool
		wantCode   int
		wantChecks map[string]string
	}{
		{
			name: "ready", link: netsup.Connected, running: true,
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"network": "ok", "ingest": "ok"},
		},
		{
			name: "link down", link: netsup.Connecting, running: true,
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"network": "fail: link connecting", "ingest": "ok"},
		},
		{
			name: "bind failed", link: netsup.Connected, running: false,
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"network": "ok", "ingest": "fail: not receiving"},
		},
		{
			name: "nothing up", link: netsup.Disconnected, running: false,
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"network": "fail: link disconnected", "ingest": "fail: not receiving"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(NetworkChecker(fakeLink(tt.link)), IngestChecker(fakeRunner(tt.running)))
			code, rep := serve(t, h, "/readyz")
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if rep.OK() != (tt.wantCode == http.StatusOK) {
				t.Errorf("report status = %q", rep.Status)
			}
			for name, want := range tt.wantChecks {
				if got := rep.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	code, rep := serve(t, New(), "/readyz")
	if code != http.StatusOK || !rep.OK() {
		t.Errorf("readyz = %d %+v, want 200 ok", code, rep)
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	h := New(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		Checker{Name: "fast", Check: pass},
	)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	rep := h.Evaluate(ctx)
	if rep.OK() {
		t.Fatal("cancelled check must fail readiness")
	}
	if rep.Checks["fast"] != "ok" {
		t.Errorf("fast = %q, want ok", rep.Checks["fast"])
	}
}

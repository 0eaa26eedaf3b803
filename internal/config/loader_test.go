package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/udpaudio/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string // substring; empty means valid
	}{
		{name: "log level", yaml: "server: {log_level: loud}", wantErr: "server.log_level"},
		{name: "negative rotation", yaml: "server: {log_max_backups: -1}", wantErr: "log rotation"},
		{name: "unknown driver", yaml: "network: {driver: esp-idf}", wantErr: "network.driver"},
		{name: "hostif needs interface", yaml: "network: {driver: hostif}", wantErr: "network.interface"},
		{name: "hostif ok", yaml: "network: {driver: hostif, interface: wlan0}"},
		{name: "unknown retry", yaml: "network: {retry: {policy: linear}}", wantErr: "network.retry.policy"},
		{name: "backoff inverted", yaml: "network: {retry: {policy: backoff, initial: 10s, max: 1s}}", wantErr: "below initial"},
		{name: "negative retries", yaml: "network: {retry: {max_retries: -2}}", wantErr: "max_retries"},
		{name: "bind address", yaml: "ingest: {bind_address: esp32.local}", wantErr: "ingest.bind_address"},
		{name: "port range", yaml: "ingest: {port: 70000}", wantErr: "ingest.port"},
		{name: "ephemeral port ok", yaml: "ingest: {port: 0}"},
		{name: "buffer zero", yaml: "ingest: {buffer_size: 0}", wantErr: "ingest.buffer_size"},
		{name: "buffer too big", yaml: "ingest: {buffer_size: 70000}", wantErr: "ingest.buffer_size"},
		{name: "oversize", yaml: "ingest: {oversize: reject}", wantErr: "ingest.oversize"},
		{name: "dscp", yaml: "ingest: {dscp: 64}", wantErr: "ingest.dscp"},
		{name: "sink mode", yaml: "sink: {mode: record}", wantErr: "sink.mode"},
		{name: "pipeline defaults ok", yaml: "sink: {mode: pipeline}"},
		{name: "bad input format", yaml: "sink: {mode: pipeline, pipeline: {input: {sample_rate: 16000, channels: 6}}}", wantErr: "sink.pipeline.input"},
		{name: "bad output format", yaml: "sink: {mode: tee, pipeline: {output: {sample_rate: 0, channels: 2}}}", wantErr: "sink.pipeline.output"},
		{name: "file needs path", yaml: "sink: {mode: pipeline, pipeline: {target: {kind: file, path: ''}}}", wantErr: "target.path"},
		{name: "websocket url", yaml: "sink: {mode: pipeline, pipeline: {target: {kind: websocket, url: 'http://x'}}}", wantErr: "target.url"},
		{name: "unknown target", yaml: "sink: {mode: pipeline, pipeline: {target: {kind: i2s}}}", wantErr: "target.kind"},
		{name: "fallback validated", yaml: "sink: {mode: pipeline, pipeline: {fallback: {kind: file}}}", wantErr: "sink.pipeline.fallback.path"},
		{name: "fallback ok", yaml: "sink: {mode: pipeline, pipeline: {target: {kind: websocket, url: 'ws://pi:8080/pcm'}, fallback: {kind: file, path: spool.pcm}}}"},
		{name: "echo ignores pipeline", yaml: "sink: {mode: echo, pipeline: {target: {kind: i2s}}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
server: {log_level: loud}
ingest: {port: -1, dscp: 99}
`))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "ingest.port", "ingest.dscp"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

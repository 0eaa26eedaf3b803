package config

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/udpaudio/internal/ingest"
	"github.com/MrWong99/udpaudio/pkg/audio"
)

// maxUDPPayload is the largest IPv4 UDP payload.
const maxUDPPayload = 65507

// Default returns the compiled-in configuration: join "ESP32-CAM Access
// Point", listen on 0.0.0.0:12345 with a 1024 byte buffer and echo every
// datagram.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel:      LogInfo,
			LogMaxSizeMB:  50,
			LogMaxBackups: 3,
			LogMaxAgeDays: 28,
			AdminAddr:     "127.0.0.1:9090",
		},
		Storage: StorageConfig{Dir: "data"},
		Network: NetworkConfig{
			Driver:       DriverStatic,
			SSID:         "ESP32-CAM Access Point",
			Passphrase:   "123456789",
			PollInterval: time.Second,
			Retry:        RetryConfig{Policy: RetryImmediate},
		},
		Ingest: IngestConfig{
			BindAddress: "0.0.0.0",
			Port:        12345,
			BufferSize:  ingest.DefaultBufferSize,
			Oversize:    string(ingest.OversizeTruncate),
		},
		Sink: SinkConfig{
			Mode: SinkEcho,
			Pipeline: PipelineConfig{
				Input: audio.Format{SampleRate: 16000, Channels: 1},
				Target: TargetConfig{
					Kind: TargetFile,
					Path: "playback.pcm",
				},
			},
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogMaxSizeMB < 0 || cfg.Server.LogMaxBackups < 0 || cfg.Server.LogMaxAgeDays < 0 {
		errs = append(errs, errors.New("server: log rotation limits must not be negative"))
	}

	// Network
	nw := cfg.Network
	switch nw.Driver {
	case DriverStatic:
	case DriverHostIf:
		if nw.Interface == "" {
			errs = append(errs, errors.New("network.interface is required when driver is hostif"))
		}
	default:
		errs = append(errs, fmt.Errorf("network.driver %q is invalid; valid values: static, hostif", nw.Driver))
	}
	if nw.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("network.poll_interval %s must not be negative", nw.PollInterval))
	}
	switch nw.Retry.Policy {
	case RetryImmediate, "":
	case RetryBackoff:
		if nw.Retry.Initial < 0 || nw.Retry.Max < 0 {
			errs = append(errs, errors.New("network.retry: initial and max must not be negative"))
		}
		if nw.Retry.Initial > 0 && nw.Retry.Max > 0 && nw.Retry.Max < nw.Retry.Initial {
			errs = append(errs, fmt.Errorf("network.retry.max %s is below initial %s", nw.Retry.Max, nw.Retry.Initial))
		}
	default:
		errs = append(errs, fmt.Errorf("network.retry.policy %q is invalid; valid values: immediate, backoff", nw.Retry.Policy))
	}
	if nw.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("network.retry.max_retries %d must not be negative", nw.Retry.MaxRetries))
	}

	// Ingest
	in := cfg.Ingest
	if _, err := netip.ParseAddr(in.BindAddress); err != nil {
		errs = append(errs, fmt.Errorf("ingest.bind_address %q is not an IP address", in.BindAddress))
	}
	if in.Port < 0 || in.Port > 65535 {
		errs = append(errs, fmt.Errorf("ingest.port %d is out of range [0, 65535]", in.Port))
	}
	if in.BufferSize <= 0 || in.BufferSize > maxUDPPayload {
		errs = append(errs, fmt.Errorf("ingest.buffer_size %d is out of range [1, %d]", in.BufferSize, maxUDPPayload))
	}
	if _, err := ingest.ParseOversizePolicy(in.Oversize); err != nil {
		errs = append(errs, fmt.Errorf("ingest.oversize %q is invalid; valid values: truncate, drop", in.Oversize))
	}
	if in.DSCP < 0 || in.DSCP > 63 {
		errs = append(errs, fmt.Errorf("ingest.dscp %d is out of range [0, 63]", in.DSCP))
	}
	if in.ReadBuffer < 0 {
		errs = append(errs, fmt.Errorf("ingest.read_buffer %d must not be negative", in.ReadBuffer))
	}

	// Sink
	switch cfg.Sink.Mode {
	case SinkEcho, SinkPipeline, SinkTee:
	default:
		errs = append(errs, fmt.Errorf("sink.mode %q is invalid; valid values: echo, pipeline, tee", cfg.Sink.Mode))
	}
	if cfg.Sink.Mode.NeedsPipeline() {
		errs = append(errs, validatePipeline(cfg.Sink.Pipeline)...)
	}

	return errors.Join(errs...)
}

func validatePipeline(p PipelineConfig) []error {
	var errs []error
	if !p.Input.IsValid() {
		errs = append(errs, fmt.Errorf("sink.pipeline.input %s is invalid; need a positive sample_rate and 1 or 2 channels", p.Input))
	}
	if p.Output != (audio.Format{}) && !p.Output.IsValid() {
		errs = append(errs, fmt.Errorf("sink.pipeline.output %s is invalid; need a positive sample_rate and 1 or 2 channels", p.Output))
	}

	errs = append(errs, validateTarget("sink.pipeline.target", p.Target)...)
	if p.Fallback.Kind != "" {
		errs = append(errs, validateTarget("sink.pipeline.fallback", p.Fallback)...)
	}
	return errs
}

func validateTarget(key string, t TargetConfig) []error {
	var errs []error
	switch t.Kind {
	case TargetFile:
		if t.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required when kind is file", key))
		}
	case TargetWebsocket:
		u, err := url.Parse(t.URL)
		if t.URL == "" || err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("%s.url %q must be a ws:// or wss:// url", key, t.URL))
		}
	default:
		errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: file, websocket", key, t.Kind))
	}
	if t.Breaker.MaxFailures < 0 || t.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s.breaker: values must not be negative", key))
	}
	return errs
}

// Package config provides the configuration schema, loader, watcher and
// component registry for udpaudio.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/udpaudio/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level returns the matching [slog.Level]. Unknown levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NetworkDriver selects the station link driver.
type NetworkDriver string

const (
	// DriverStatic assumes the host address is already configured.
	DriverStatic NetworkDriver = "static"

	// DriverHostIf watches a named host interface.
	DriverHostIf NetworkDriver = "hostif"
)

// RetryPolicyName selects the reconnect policy.
type RetryPolicyName string

const (
	RetryImmediate RetryPolicyName = "immediate"
	RetryBackoff   RetryPolicyName = "backoff"
)

// SinkMode selects what happens to every received datagram.
type SinkMode string

const (
	// SinkEcho sends the payload back to its sender.
	SinkEcho SinkMode = "echo"

	// SinkPipeline pushes the payload into the playback pipeline.
	SinkPipeline SinkMode = "pipeline"

	// SinkTee echoes and plays back.
	SinkTee SinkMode = "tee"
)

// NeedsPipeline reports whether the mode writes to the playback pipeline.
func (m SinkMode) NeedsPipeline() bool { return m == SinkPipeline || m == SinkTee }

// TargetKind selects the pipeline target.
type TargetKind string

const (
	TargetFile      TargetKind = "file"
	TargetWebsocket TargetKind = "websocket"
)

// Config is the root configuration structure for udpaudio. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader]; every field not
// present in the file keeps its [Default] value.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Network NetworkConfig `yaml:"network"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Sink    SinkConfig    `yaml:"sink"`
}

// ServerConfig holds logging and admin server settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, additionally writes logs to a rotating file.
	LogFile string `yaml:"log_file"`

	LogMaxSizeMB  int `yaml:"log_max_size_mb"`
	LogMaxBackups int `yaml:"log_max_backups"`
	LogMaxAgeDays int `yaml:"log_max_age_days"`

	// AdminAddr is the listen address of the health and metrics server.
	// Empty disables it.
	AdminAddr string `yaml:"admin_addr"`
}

// StorageConfig configures the local state directory.
type StorageConfig struct {
	// Dir is created at startup. Relative pipeline file paths resolve against it.
	Dir string `yaml:"dir"`
}

// NetworkConfig configures the station link.
type NetworkConfig struct {
	Driver NetworkDriver `yaml:"driver"`

	// Interface is the host interface watched by the hostif driver.
	Interface string `yaml:"interface"`

	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase"`

	// PollInterval is the hostif status polling period.
	PollInterval time.Duration `yaml:"poll_interval"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig configures reconnects after a disconnect.
type RetryConfig struct {
	Policy RetryPolicyName `yaml:"policy"`

	// Initial and Max bound the backoff delay.
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`

	// MaxRetries bounds consecutive attempts; 0 retries forever.
	MaxRetries int `yaml:"max_retries"`
}

// IngestConfig configures the UDP receive loop.
type IngestConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// BufferSize is the largest payload forwarded, in bytes.
	BufferSize int `yaml:"buffer_size"`

	// Oversize is "truncate" or "drop".
	Oversize string `yaml:"oversize"`

	// DSCP marks echo replies when > 0.
	DSCP int `yaml:"dscp"`

	// ReadBuffer sets the kernel receive buffer when > 0.
	ReadBuffer int `yaml:"read_buffer"`
}

// SinkConfig selects and configures the datagram sink.
type SinkConfig struct {
	Mode     SinkMode       `yaml:"mode"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// PipelineConfig configures the playback pipeline.
type PipelineConfig struct {
	Input audio.Format `yaml:"input"`

	// Output defaults to Input; a different format enables conversion.
	Output audio.Format `yaml:"output"`

	Target TargetConfig `yaml:"target"`

	// Fallback receives the audio while Target fails. An empty kind
	// disables it.
	Fallback TargetConfig `yaml:"fallback"`
}

// TargetConfig configures where the pipeline writes.
type TargetConfig struct {
	Kind TargetKind `yaml:"kind"`

	// Path is the file target path; "-" is stdout.
	Path string `yaml:"path"`

	// URL is the websocket target endpoint.
	URL string `yaml:"url"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the websocket dial circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// Package config provides the configuration schema and loader for voxcall.
package config

import (
	"time"

	"github.com/MrWong99/voxcall/internal/capture"
	"github.com/MrWong99/voxcall/internal/playback"
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

// Config is the root configuration structure for voxcall.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Identity  IdentityConfig  `yaml:"identity"`
	Signaling SignalingConfig `yaml:"signaling"`
	Capture   CaptureConfig   `yaml:"capture"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Audio     AudioConfig     `yaml:"audio"`
	Directory DirectoryConfig `yaml:"directory"`
	CallLog   CallLogConfig   `yaml:"calllog"`
}

// ServerConfig holds the health/metrics listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics server
	// (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Changes are applied without restart.
	LogLevel LogLevel `yaml:"log_level"`
}

// IdentityConfig is who this client signs in as.
type IdentityConfig struct {
	UserID       string `yaml:"user_id"`
	LanguageCode string `yaml:"language_code"`
}

// SignalingConfig configures the relay connection.
type SignalingConfig struct {
	// RelayURL is the websocket endpoint, e.g. "wss://relay.example.com/ws".
	RelayURL string `yaml:"relay_url"`

	// ReconnectDelay is the wait before each reconnect attempt. Default: 2s.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// MaxReconnectDelay enables doubling backoff capped at this value.
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`

	// MaxRetries bounds a reconnect cycle. 0 retries forever.
	MaxRetries int `yaml:"max_retries"`

	DialTimeout time.Duration `yaml:"dial_timeout"`

	// WriteTimeout bounds one frame write; a stalled relay is dropped and
	// reconnected. Default: 5s.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CaptureConfig selects how microphone audio is chunked.
type CaptureConfig struct {
	Mode      capture.Mode  `yaml:"mode"`
	Interval  time.Duration `yaml:"interval"`
	QueueSize int           `yaml:"queue_size"`
}

// PlaybackConfig selects how a busy player is handled.
type PlaybackConfig struct {
	Policy       playback.Policy `yaml:"policy"`
	QueueSize    int             `yaml:"queue_size"`
	PollInterval time.Duration   `yaml:"poll_interval"`
}

// AudioConfig names the local devices.
type AudioConfig struct {
	// InputDevice is the microphone label or device id. Empty picks the
	// system default.
	InputDevice string `yaml:"input_device"`

	// Player is the command that plays raw PCM from stdin, one call per
	// process. Default: aplay for 16 kHz mono s16le.
	Player []string `yaml:"player"`
}

// DirectoryConfig points at the optional user directory.
type DirectoryConfig struct {
	// URL is the directory base URL. Empty disables name lookup and call
	// announcements.
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// CallLogConfig selects where finished calls are recorded.
type CallLogConfig struct {
	// PostgresDSN enables the PostgreSQL store. Empty keeps records in memory.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MemoryLimit bounds the in-memory store. Default: 100.
	MemoryLimit int `yaml:"memory_limit"`
}

// DefaultPlayer plays 16 kHz mono little-endian PCM from stdin.
var DefaultPlayer = []string{"aplay", "-q", "-t", "raw", "-f", "S16_LE", "-r", "16000", "-c", "1"}

// DefaultMemoryLimit is the in-memory call log size when none is configured.
const DefaultMemoryLimit = 100

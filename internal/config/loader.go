package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvRelayURL     = "VOXCALL_RELAY_URL"
	EnvUserID       = "VOXCALL_USER_ID"
	EnvLanguageCode = "VOXCALL_LANGUAGE_CODE"
	EnvPostgresDSN  = "VOXCALL_POSTGRES_DSN"
	EnvDirectoryURL = "VOXCALL_DIRECTORY_URL"
)

// Load reads the YAML configuration file at path, applies environment
// overrides and returns a validated [Config].
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

// LoadFromReader decodes a YAML config from r, applies environment
// overrides from the process environment and validates the result.
// An empty document yields the zero config, which still has to pass
// validation (typically with the identity supplied by the environment).
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the VOXCALL_* variables found by lookup.
// Set but empty variables clear the field.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	overrides := []struct {
		key string
		dst *string
	}{
		{EnvRelayURL, &cfg.Signaling.RelayURL},
		{EnvUserID, &cfg.Identity.UserID},
		{EnvLanguageCode, &cfg.Identity.LanguageCode},
		{EnvPostgresDSN, &cfg.CallLog.PostgresDSN},
		{EnvDirectoryURL, &cfg.Directory.URL},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok {
			*o.dst = strings.TrimSpace(v)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Identity
	if cfg.Identity.UserID == "" {
		errs = append(errs, fmt.Errorf("identity.user_id is required (or set %s)", EnvUserID))
	}
	if cfg.Identity.LanguageCode == "" {
		slog.Warn("identity.language_code is empty; the relay will use its default language")
	}

	// Signaling
	sig := cfg.Signaling
	if sig.RelayURL == "" {
		errs = append(errs, fmt.Errorf("signaling.relay_url is required (or set %s)", EnvRelayURL))
	} else if err := checkURL(sig.RelayURL, "ws", "wss", "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("signaling.relay_url: %w", err))
	}
	if sig.ReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("signaling.reconnect_delay %s must not be negative", sig.ReconnectDelay))
	}
	if sig.MaxReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("signaling.max_reconnect_delay %s must not be negative", sig.MaxReconnectDelay))
	}
	if sig.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("signaling.max_retries %d must not be negative", sig.MaxRetries))
	}
	if sig.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("signaling.dial_timeout %s must not be negative", sig.DialTimeout))
	}
	if sig.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("signaling.write_timeout %s must not be negative", sig.WriteTimeout))
	}
	if sig.MaxReconnectDelay > 0 && sig.ReconnectDelay > sig.MaxReconnectDelay {
		slog.Warn("signaling.max_reconnect_delay is below reconnect_delay; backoff disabled",
			"reconnect_delay", sig.ReconnectDelay,
			"max_reconnect_delay", sig.MaxReconnectDelay,
		)
	}

	// Capture
	if cfg.Capture.Mode != "" && !cfg.Capture.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("capture.mode %q is invalid; valid values: gated, interval", cfg.Capture.Mode))
	}
	if cfg.Capture.Interval < 0 {
		errs = append(errs, fmt.Errorf("capture.interval %s must not be negative", cfg.Capture.Interval))
	}
	if cfg.Capture.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("capture.queue_size %d must not be negative", cfg.Capture.QueueSize))
	}

	// Playback
	if cfg.Playback.Policy != "" && !cfg.Playback.Policy.IsValid() {
		errs = append(errs, fmt.Errorf("playback.policy %q is invalid; valid values: queue, drop", cfg.Playback.Policy))
	}
	if cfg.Playback.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("playback.queue_size %d must not be negative", cfg.Playback.QueueSize))
	}
	if cfg.Playback.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("playback.poll_interval %s must not be negative", cfg.Playback.PollInterval))
	}

	// Audio
	if len(cfg.Audio.Player) > 0 && strings.TrimSpace(cfg.Audio.Player[0]) == "" {
		errs = append(errs, errors.New("audio.player[0] must name a command"))
	}

	// Directory
	if cfg.Directory.URL != "" {
		if err := checkURL(cfg.Directory.URL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("directory.url: %w", err))
		}
	}
	if cfg.Directory.Timeout < 0 {
		errs = append(errs, fmt.Errorf("directory.timeout %s must not be negative", cfg.Directory.Timeout))
	}

	// Call log
	if cfg.CallLog.MemoryLimit < 0 {
		errs = append(errs, fmt.Errorf("calllog.memory_limit %d must not be negative", cfg.CallLog.MemoryLimit))
	}
	if cfg.CallLog.PostgresDSN == "" {
		slog.Debug("calllog.postgres_dsn is empty; finished calls are kept in memory only")
	}

	return errors.Join(errs...)
}

// checkURL parses raw and checks its scheme and host.
func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("scheme %q is not one of %s", u.Scheme, strings.Join(schemes, ", "))
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

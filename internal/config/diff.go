package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed. Only the log
// level is applied at runtime; everything else is reported in
// RestartRequired.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	sections := []struct {
		name    string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"identity", old.Identity != new.Identity},
		{"signaling", old.Signaling != new.Signaling},
		{"capture", old.Capture != new.Capture},
		{"playback", old.Playback != new.Playback},
		{"audio", old.Audio.InputDevice != new.Audio.InputDevice || !slices.Equal(old.Audio.Player, new.Audio.Player)},
		{"directory", old.Directory != new.Directory},
		{"calllog", old.CallLog != new.CallLog},
	}
	for _, s := range sections {
		if s.changed {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

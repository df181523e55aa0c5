package config

// ChangeSet describes what changed between two configs. Mapping parameters
// and log level can be hot-applied; source, sink, and audio format changes
// need a restart and are only reported.
type ChangeSet struct {
	ParamsChanged   bool
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartNeeded is true when a section that cannot be hot-reloaded
	// (source, sink, audio format, listen address) differs.
	RestartNeeded bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ChangeSet {
	d := ChangeSet{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Params != new.Params {
		d.ParamsChanged = true
	}

	if old.Source != new.Source ||
		old.Sink != new.Sink ||
		old.Audio != new.Audio ||
		old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartNeeded = true
	}

	return d
}

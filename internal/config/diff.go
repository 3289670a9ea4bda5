package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CueWordChanged bool
	NewCueWord     string

	// RestartRequired is true when a change was detected outside the
	// hot-reloadable fields (providers, storage, network).
	RestartRequired bool
}

// Changed reports whether the diff contains any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.CueWordChanged
}

// Diff compares old and new configs and returns what changed.
// Only log level and cue word are safe to apply without restart; anything
// else sets RestartRequired.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Rehearsal.CueWord != new.Rehearsal.CueWord {
		d.CueWordChanged = true
		d.NewCueWord = new.Rehearsal.CueWord
	}

	if providersDiffer(old.Providers, new.Providers) ||
		old.Storage != new.Storage ||
		old.Server.ListenAddr != new.Server.ListenAddr ||
		tlsDiffer(old.Server.TLS, new.Server.TLS) ||
		tokenDiffer(old.Server.Token, new.Server.Token) ||
		old.Rehearsal.SampleRate != new.Rehearsal.SampleRate {
		d.RestartRequired = true
	}

	return d
}

func providersDiffer(old, new ProvidersConfig) bool {
	return entryDiffers(old.STT, new.STT) || entryDiffers(old.TTS, new.TTS)
}

func entryDiffers(old, new ProviderEntry) bool {
	if old.Name != new.Name || old.APIKey != new.APIKey ||
		old.BaseURL != new.BaseURL || old.Model != new.Model {
		return true
	}
	// Options may hold nested maps, so compare structurally.
	return !reflect.DeepEqual(old.Options, new.Options)
}

func tlsDiffer(old, new *TLSConfig) bool {
	if (old == nil) != (new == nil) {
		return true
	}
	return old != nil && *old != *new
}

func tokenDiffer(old, new *TokenConfig) bool {
	if (old == nil) != (new == nil) {
		return true
	}
	return old != nil && *old != *new
}

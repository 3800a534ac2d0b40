package config

// ConfigDiff describes what changed between two configs.
// Only the log level can be applied to a running process; every other
// change is reported so the caller can ask for a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is true when any stage setting or the vocabulary file
	// changed. Stage configuration is fixed for the lifetime of a pipeline.
	PipelineChanged bool

	// ProvidersChanged is true when the primary or fallback providers changed.
	ProvidersChanged bool

	// StoreChanged is true when the persistence target changed.
	StoreChanged bool
}

// RequiresRestart reports whether the diff contains changes that are not
// applied to a running process.
func (d ConfigDiff) RequiresRestart() bool {
	return d.PipelineChanged || d.ProvidersChanged || d.StoreChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.PipelineChanged = old.Pipeline != new.Pipeline
	d.ProvidersChanged = !sameProvider(old.Providers.LLM, new.Providers.LLM) ||
		len(old.Providers.LLMFallbacks) != len(new.Providers.LLMFallbacks)
	if !d.ProvidersChanged {
		for i := range old.Providers.LLMFallbacks {
			if !sameProvider(old.Providers.LLMFallbacks[i], new.Providers.LLMFallbacks[i]) {
				d.ProvidersChanged = true
				break
			}
		}
	}
	d.StoreChanged = old.Store != new.Store

	return d
}

// sameProvider compares the scalar fields of two entries. Options are not
// compared.
func sameProvider(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}

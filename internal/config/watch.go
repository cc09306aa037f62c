package config

import "time"

// WatchConfig controls the file watcher used by `ngweave watch`.
type WatchConfig struct {
	// Debounce is how long a path must stay quiet before a rebuild fires.
	Debounce string `yaml:"debounce" json:"debounce,omitempty"`
	// IgnorePatterns skips matching directories (names or relative paths).
	IgnorePatterns []string `yaml:"ignore_patterns" json:"ignore_patterns,omitempty"`
}

// DefaultWatchConfig returns defaults for the watcher.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Debounce: "150ms",
		IgnorePatterns: []string{
			".git",
			".ngweave",
			"node_modules",
			"dist",
			"out-tsc",
			".cache",
		},
	}
}

// GetDebounce returns the debounce window as a duration.
func (w WatchConfig) GetDebounce() time.Duration {
	d, err := time.ParseDuration(w.Debounce)
	if err != nil || d <= 0 {
		return 150 * time.Millisecond
	}
	return d
}

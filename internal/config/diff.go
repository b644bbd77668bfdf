package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level and the gesture threshold are applied live; every other
// changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	// RestartRequired names the top-level sections that changed but only
	// take effect after a restart.
	RestartRequired []string
}

// Changed reports whether any difference was found.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Gesture.Threshold != new.Gesture.Threshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Gesture.Threshold
	}

	// Compare the remaining fields with the live-reloadable ones masked out.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldGesture, newGesture := old.Gesture, new.Gesture
	oldGesture.Threshold, newGesture.Threshold = 0, 0

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"recognizer", old.Recognizer, new.Recognizer},
		{"providers", old.Providers, new.Providers},
		{"dialogflow", old.Dialogflow, new.Dialogflow},
		{"gesture", oldGesture, newGesture},
		{"launcher", old.Launcher, new.Launcher},
		{"recording", old.Recording, new.Recording},
		{"nlu_fallback", old.NLUFallback, new.NLUFallback},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

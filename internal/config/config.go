// Package config provides the configuration schema, loader, provider registry
// and file watcher for the hark voice assistant.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/hark/pkg/provider/nlu"
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

// Slog maps l to the slog level. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
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

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// LanguageModel hints the recognizer which kind of speech to expect.
type LanguageModel string

const (
	// ModelFreeForm suits conversational commands.
	ModelFreeForm LanguageModel = "free_form"

	// ModelWebSearch suits short search-like phrases.
	ModelWebSearch LanguageModel = "web_search"
)

// IsValid reports whether m is a recognised language model.
func (m LanguageModel) IsValid() bool {
	return m == ModelFreeForm || m == ModelWebSearch
}

// Config is the root configuration structure for hark.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Dialogflow DialogflowConfig `yaml:"dialogflow"`
	Gesture    GestureConfig    `yaml:"gesture"`
	Launcher   LauncherConfig   `yaml:"launcher"`
	Recording  RecordingConfig  `yaml:"recording"`

	// NLUFallback lists NLU provider names tried, in order, after
	// Providers.NLU fails.
	NLUFallback []string `yaml:"nlu_fallback"`
}

// ServerConfig holds the ops endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz.
	// Empty disables the ops server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`
}

// RecognizerConfig tunes the speech recognizer.
type RecognizerConfig struct {
	LanguageModel LanguageModel `yaml:"language_model"`

	// Locale is the BCP-47 tag passed to the STT provider (e.g. "en-US").
	Locale string `yaml:"locale"`

	// PartialResults enables relaying interim transcripts. Defaults to true.
	PartialResults *bool `yaml:"partial_results"`

	SampleRate    int           `yaml:"sample_rate"`
	SpeechTimeout time.Duration `yaml:"speech_timeout"`
	MaxUtterance  time.Duration `yaml:"max_utterance"`

	// RestartDelay pauses between a failed listening cycle and the next one.
	RestartDelay time.Duration `yaml:"restart_delay"`
}

// Partials reports the effective PartialResults value.
func (r RecognizerConfig) Partials() bool {
	return r.PartialResults == nil || *r.PartialResults
}

// ProvidersConfig selects the implementation of each capability. Each field
// names a provider registered in the [Registry].
type ProvidersConfig struct {
	Audio ProviderEntry `yaml:"audio"`
	STT   ProviderEntry `yaml:"stt"`

	// STTFallback lists transcription backends tried, in order, when STT
	// cannot open a stream.
	STTFallback []ProviderEntry `yaml:"stt_fallback"`

	TTS       ProviderEntry `yaml:"tts"`
	VAD       ProviderEntry `yaml:"vad"`
	LLM       ProviderEntry `yaml:"llm"`
	NLU       ProviderEntry `yaml:"nlu"`
	Contacts  ProviderEntry `yaml:"contacts"`
	Telephony ProviderEntry `yaml:"telephony"`
	Sensor    ProviderEntry `yaml:"sensor"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For file or database
	// backed providers it holds the path or DSN.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// String returns the option key as a string, or "" when absent.
func (e ProviderEntry) String(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// Strings returns a list option. A single string is split into one element.
func (e ProviderEntry) Strings(key string) ([]string, error) {
	switch v := e.Options[key].(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("config: option %s[%d] is %T, want string", key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("config: option %s is %T, want list of strings", key, v)
	}
}

// Int returns an integer option. Absent keys return def.
func (e ProviderEntry) Int(key string, def int) (int, error) {
	switch v := e.Options[key].(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("config: option %s is %T, want integer", key, v)
	}
}

// Duration parses a duration option such as "500ms". Absent keys return def.
func (e ProviderEntry) Duration(key string, def time.Duration) (time.Duration, error) {
	switch v := e.Options[key].(type) {
	case nil:
		return def, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("config: option %s: %w", key, err)
		}
		return d, nil
	case int:
		return time.Duration(v) * time.Millisecond, nil
	default:
		return 0, fmt.Errorf("config: option %s is %T, want duration", key, v)
	}
}

// DialogflowConfig configures the Dialogflow ES intent detector.
type DialogflowConfig struct {
	// ProjectID overrides the project of the credential record.
	ProjectID string `yaml:"project_id"`

	SessionID    string `yaml:"session_id"`
	LanguageCode string `yaml:"language_code"`

	// Endpoint overrides the API host, e.g. a regional endpoint.
	Endpoint string `yaml:"endpoint"`

	// Credentials is the inline service account record. Mutually exclusive
	// with CredentialsFile.
	Credentials nlu.Credentials `yaml:"credentials"`

	// CredentialsFile points at a service account JSON key.
	CredentialsFile string `yaml:"credentials_file"`
}

// ResolveCredentials returns the inline record or the one read from
// CredentialsFile.
func (d DialogflowConfig) ResolveCredentials() (nlu.Credentials, error) {
	if d.CredentialsFile == "" {
		return d.Credentials, nil
	}
	return nlu.LoadCredentialsFile(d.CredentialsFile)
}

// GestureConfig configures the shake detector.
type GestureConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Threshold   float64       `yaml:"threshold"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// LauncherConfig holds the external application commands.
type LauncherConfig struct {
	// CameraCommand is the argv started for OpenCameraIntent.
	CameraCommand []string `yaml:"camera_command"`

	// Grace is how long a launched command must survive to count as started.
	Grace time.Duration `yaml:"grace"`
}

// RecordingConfig enables storing recognized utterances as WAV files.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

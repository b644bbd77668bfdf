package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio":     {"portaudio"},
	"stt":       {"deepgram", "whisper"},
	"tts":       {"elevenlabs", "coqui"},
	"vad":       {"spectral"},
	"llm":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"nlu":       {"dialogflow", "llm", "keyword"},
	"contacts":  {"sqlite", "postgres", "book"},
	"telephony": {"exec"},
	"sensor":    {"iio"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultLocale         = "en-US"
	DefaultSampleRate     = 16000
	DefaultSpeechTimeout  = 5 * time.Second
	DefaultMaxUtterance   = 15 * time.Second
	DefaultShakeThreshold = 800.0
	DefaultShakeInterval  = 100 * time.Millisecond
	DefaultSessionID      = "unique-session-id"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}

	r := &cfg.Recognizer
	if r.LanguageModel == "" {
		r.LanguageModel = ModelFreeForm
	}
	if r.Locale == "" {
		r.Locale = DefaultLocale
	}
	if r.SampleRate == 0 {
		r.SampleRate = DefaultSampleRate
	}
	if r.SpeechTimeout == 0 {
		r.SpeechTimeout = DefaultSpeechTimeout
	}
	if r.MaxUtterance == 0 {
		r.MaxUtterance = DefaultMaxUtterance
	}

	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "portaudio"
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "spectral"
	}
	if cfg.Providers.NLU.Name == "" {
		cfg.Providers.NLU.Name = "keyword"
	}

	if cfg.Dialogflow.SessionID == "" {
		cfg.Dialogflow.SessionID = DefaultSessionID
	}
	if cfg.Dialogflow.LanguageCode == "" {
		cfg.Dialogflow.LanguageCode = DefaultLocale
	}

	if cfg.Gesture.Threshold == 0 {
		cfg.Gesture.Threshold = DefaultShakeThreshold
	}
	if cfg.Gesture.MinInterval == 0 {
		cfg.Gesture.MinInterval = DefaultShakeInterval
	}
}

// NLUChain returns Providers.NLU followed by NLUFallback with duplicates removed.
func (c *Config) NLUChain() []string {
	chain := make([]string, 0, 1+len(c.NLUFallback))
	for _, name := range append([]string{c.Providers.NLU.Name}, c.NLUFallback...) {
		if name != "" && !slices.Contains(chain, name) {
			chain = append(chain, name)
		}
	}
	return chain
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Recognizer
	r := cfg.Recognizer
	if r.LanguageModel != "" && !r.LanguageModel.IsValid() {
		errs = append(errs, fmt.Errorf("recognizer.language_model %q is invalid; valid values: free_form, web_search", r.LanguageModel))
	}
	if r.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("recognizer.sample_rate %d must be positive", r.SampleRate))
	}
	if r.SpeechTimeout < 0 || r.MaxUtterance < 0 || r.RestartDelay < 0 {
		errs = append(errs, errors.New("recognizer durations must not be negative"))
	}

	// Providers
	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallback {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallback[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("contacts", cfg.Providers.Contacts.Name)
	validateProviderName("telephony", cfg.Providers.Telephony.Name)
	validateProviderName("sensor", cfg.Providers.Sensor.Name)
	for _, name := range cfg.NLUChain() {
		validateProviderName("nlu", name)
	}

	required := []struct {
		kind string
		name string
	}{
		{"stt", cfg.Providers.STT.Name},
		{"tts", cfg.Providers.TTS.Name},
		{"contacts", cfg.Providers.Contacts.Name},
		{"telephony", cfg.Providers.Telephony.Name},
	}
	for _, req := range required {
		if req.name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", req.kind))
		}
	}

	// NLU chain ↔ provider cross-validation
	chain := cfg.NLUChain()
	if slices.Contains(chain, "llm") && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New(`nlu provider "llm" requires providers.llm to be configured`))
	}
	if slices.Contains(chain, "dialogflow") {
		df := cfg.Dialogflow
		switch {
		case df.CredentialsFile != "" && !df.Credentials.IsZero():
			errs = append(errs, errors.New("dialogflow.credentials and dialogflow.credentials_file are mutually exclusive"))
		case df.CredentialsFile == "" && df.Credentials.IsZero():
			errs = append(errs, errors.New(`nlu provider "dialogflow" requires dialogflow.credentials or dialogflow.credentials_file`))
		case df.CredentialsFile == "":
			if err := df.Credentials.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("dialogflow.credentials: %w", err))
			}
		}
	}

	// Gesture
	if cfg.Gesture.Threshold < 0 {
		errs = append(errs, fmt.Errorf("gesture.threshold %.1f must not be negative", cfg.Gesture.Threshold))
	}
	if cfg.Gesture.MinInterval < 0 {
		errs = append(errs, errors.New("gesture.min_interval must not be negative"))
	}
	if cfg.Gesture.Enabled && cfg.Providers.Sensor.Name == "" {
		errs = append(errs, errors.New("gesture.enabled requires providers.sensor to be configured"))
	}

	// Launcher
	if len(cfg.Launcher.CameraCommand) == 0 {
		slog.Warn("launcher.camera_command is empty; open camera requests will fail")
	}
	if cfg.Launcher.Grace < 0 {
		errs = append(errs, errors.New("launcher.grace must not be negative"))
	}

	// Recording
	if cfg.Recording.Enabled && cfg.Recording.Directory == "" {
		errs = append(errs, errors.New("recording.directory is required when recording is enabled"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

package main

import (
	"context"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/audio/portaudio"
	"github.com/MrWong99/hark/pkg/provider/contacts"
	"github.com/MrWong99/hark/pkg/provider/contacts/book"
	"github.com/MrWong99/hark/pkg/provider/contacts/postgres"
	"github.com/MrWong99/hark/pkg/provider/contacts/sqlite"
	"github.com/MrWong99/hark/pkg/provider/llm"
	"github.com/MrWong99/hark/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/hark/pkg/provider/llm/openai"
	"github.com/MrWong99/hark/pkg/provider/nlu"
	"github.com/MrWong99/hark/pkg/provider/nlu/dialogflow"
	"github.com/MrWong99/hark/pkg/provider/nlu/keyword"
	"github.com/MrWong99/hark/pkg/provider/nlu/llmnlu"
	"github.com/MrWong99/hark/pkg/provider/sensor"
	"github.com/MrWong99/hark/pkg/provider/sensor/iio"
	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/stt/deepgram"
	"github.com/MrWong99/hark/pkg/provider/stt/whisper"
	"github.com/MrWong99/hark/pkg/provider/telephony"
	"github.com/MrWong99/hark/pkg/provider/telephony/execcmd"
	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/provider/tts/coqui"
	"github.com/MrWong99/hark/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/hark/pkg/provider/vad"
	"github.com/MrWong99/hark/pkg/provider/vad/spectral"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. ctx bounds the connection
// checks of database-backed providers.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (*audio.Device, error) {
		rate, err := entry.Int("output_rate", 0)
		if err != nil {
			return nil, err
		}
		terminate, err := portaudio.Init()
		if err != nil {
			return nil, err
		}
		return &audio.Device{
			Source: portaudio.NewSource(),
			Sink:   portaudio.NewSink(rate),
			Close:  terminate,
		}, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.String("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		endpointing, err := entry.Duration("endpointing", 0)
		if err != nil {
			return nil, err
		}
		if endpointing > 0 {
			opts = append(opts, deepgram.WithEndpointing(endpointing))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// whisper runs locally; Model (or BaseURL) is the path to the ggml model file.
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.BaseURL
		}
		var opts []whisper.Option
		if lang := entry.String("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		silence, err := entry.Int("silence_ms", 0)
		if err != nil {
			return nil, err
		}
		if silence > 0 {
			opts = append(opts, whisper.WithSilenceMs(silence))
		}
		return whisper.New(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		rate, err := entry.Int("sample_rate", 0)
		if err != nil {
			return nil, err
		}
		if rate > 0 {
			opts = append(opts, elevenlabs.WithSampleRate(rate))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.String("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		timeout, err := entry.Duration("timeout", 0)
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, coqui.WithTimeout(timeout))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("spectral", func(config.ProviderEntry) (vad.Engine, error) {
		return spectral.New(), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.String("organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		timeout, err := entry.Duration("timeout", 0)
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, oaillm.WithTimeout(timeout))
		}
		retries, err := entry.Int("max_retries", -1)
		if err != nil {
			return nil, err
		}
		if retries >= 0 {
			opts = append(opts, oaillm.WithMaxRetries(retries))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends share one pattern: optional APIKey + optional
	// BaseURL. ollama is a local server and only needs the address.
	for _, providerName := range []string{
		"anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── NLU ───────────────────────────────────────────────────────────────────

	reg.RegisterNLU("dialogflow", func(ctx context.Context, cfg *config.Config) (nlu.Provider, error) {
		df := cfg.Dialogflow
		creds, err := df.ResolveCredentials()
		if err != nil {
			return nil, err
		}
		opts := []dialogflow.Option{
			dialogflow.WithSessionID(df.SessionID),
			dialogflow.WithLanguage(df.LanguageCode),
		}
		if df.ProjectID != "" {
			opts = append(opts, dialogflow.WithProjectID(df.ProjectID))
		}
		if df.Endpoint != "" {
			opts = append(opts, dialogflow.WithEndpoint(df.Endpoint))
		}
		return dialogflow.New(ctx, creds, opts...)
	})

	reg.RegisterNLU("llm", func(_ context.Context, cfg *config.Config) (nlu.Provider, error) {
		model, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("llm intent detector: %w", err)
		}
		return llmnlu.New(model)
	})

	reg.RegisterNLU("keyword", func(_ context.Context, cfg *config.Config) (nlu.Provider, error) {
		var specs []keyword.Spec
		if cfg.Providers.NLU.Name == "keyword" {
			var err error
			if specs, err = keywordSpecs(cfg.Providers.NLU); err != nil {
				return nil, err
			}
		}
		if len(specs) == 0 {
			return keyword.New(), nil
		}
		rules, err := keyword.Compile(specs)
		if err != nil {
			return nil, err
		}
		return keyword.New(rules...), nil
	})

	// ── Contacts ──────────────────────────────────────────────────────────────

	reg.RegisterContacts("sqlite", func(entry config.ProviderEntry) (contacts.Provider, error) {
		return sqlite.Open(ctx, entry.BaseURL)
	})

	reg.RegisterContacts("postgres", func(entry config.ProviderEntry) (contacts.Provider, error) {
		store, closePool, err := postgres.Connect(ctx, entry.BaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			closePool()
			return nil, err
		}
		return &pooledStore{Store: store, closePool: closePool}, nil
	})

	reg.RegisterContacts("book", func(entry config.ProviderEntry) (contacts.Provider, error) {
		var opts []book.Option
		if entry.Options["phonetic"] == false {
			opts = append(opts, book.WithoutPhonetic())
		}
		return book.Load(entry.BaseURL, opts...)
	})

	// ── Telephony ─────────────────────────────────────────────────────────────

	reg.RegisterTelephony("exec", func(entry config.ProviderEntry) (telephony.Provider, error) {
		accounts, err := entry.Strings("accounts_command")
		if err != nil {
			return nil, err
		}
		call, err := entry.Strings("call_command")
		if err != nil {
			return nil, err
		}
		timeout, err := entry.Duration("timeout", 0)
		if err != nil {
			return nil, err
		}
		return execcmd.New(execcmd.Config{AccountsCommand: accounts, CallCommand: call, Timeout: timeout})
	})

	// ── Sensor ────────────────────────────────────────────────────────────────

	reg.RegisterSensor("iio", func(entry config.ProviderEntry) (sensor.Provider, error) {
		interval, err := entry.Duration("interval", 0)
		if err != nil {
			return nil, err
		}
		var opts []iio.Option
		if interval > 0 {
			opts = append(opts, iio.WithInterval(interval))
		}
		return iio.New(entry.BaseURL, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// pooledStore releases the connection pool on Close.
type pooledStore struct {
	*postgres.Store
	closePool func()
}

func (s *pooledStore) Close() error {
	s.closePool()
	return nil
}

// keywordSpecs decodes the "rules" option of the keyword detector:
//
//	options:
//	  rules:
//	    - intent: CallContactIntent
//	      pattern: '^ring (?P<contact>.+)$'
func keywordSpecs(entry config.ProviderEntry) ([]keyword.Spec, error) {
	raw, ok := entry.Options["rules"]
	if !ok {
		return nil, nil
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("keyword rules: %w", err)
	}
	var specs []keyword.Spec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("keyword rules: %w", err)
	}
	return specs, nil
}

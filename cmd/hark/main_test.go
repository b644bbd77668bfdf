package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/pkg/provider/nlu"
	"github.com/MrWong99/hark/pkg/provider/nlu/keyword"
)

func TestKeywordSpecs(t *testing.T) {
	t.Parallel()

	entry := config.ProviderEntry{Name: "keyword", Options: map[string]any{
		"rules": []any{
			map[string]any{"intent": "CallContactIntent", "pattern": "^ring (?P<contact>.+)$"},
		},
	}}
	got, err := keywordSpecs(entry)
	if err != nil {
		t.Fatalf("keywordSpecs: %v", err)
	}
	want := []keyword.Spec{{Intent: "CallContactIntent", Pattern: "^ring (?P<contact>.+)$"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("specs mismatch (-want +got):\n%s", diff)
	}

	if got, err := keywordSpecs(config.ProviderEntry{}); err != nil || got != nil {
		t.Errorf("no rules: got %v, %v", got, err)
	}
}

func TestBuiltinKeywordDetector(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(context.Background(), reg)

	cfg := &config.Config{Providers: config.ProvidersConfig{NLU: config.ProviderEntry{
		Name: "keyword",
		Options: map[string]any{"rules": []any{
			map[string]any{"intent": "CallContactIntent", "pattern": "^ring (?P<contact>.+)$"},
		}},
	}}}
	p, err := reg.CreateNLU(context.Background(), "keyword", cfg)
	if err != nil {
		t.Fatalf("CreateNLU: %v", err)
	}
	res, err := p.DetectIntent(context.Background(), nlu.Query{Text: "ring grandma"})
	if err != nil {
		t.Fatalf("DetectIntent: %v", err)
	}
	if res.IntentName != "CallContactIntent" || res.Parameters["contact"] != "grandma" {
		t.Errorf("result = %+v", res)
	}

	if _, err := reg.CreateVAD(config.ProviderEntry{Name: "spectral"}); err != nil {
		t.Errorf("CreateVAD(spectral): %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format config.LogFormat
		want   string
	}{
		{config.LogFormatText, "msg=hello"},
		{config.LogFormatJSON, `"msg":"hello"`},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			level := new(slog.LevelVar)
			level.Set(slog.LevelWarn)
			log := newLogger(&buf, tt.format, level)

			log.Info("dropped")
			level.Set(slog.LevelInfo)
			log.Info("hello")

			out := buf.String()
			if strings.Contains(out, "dropped") {
				t.Errorf("info record written at warn level: %s", out)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output %q does not contain %q", out, tt.want)
			}
		})
	}
}

func TestPrintStartupSummary(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			STT:         config.ProviderEntry{Name: "deepgram", Model: "nova-2"},
			STTFallback: []config.ProviderEntry{{Name: "whisper"}},
			TTS:         config.ProviderEntry{Name: "elevenlabs"},
			Contacts:    config.ProviderEntry{Name: "sqlite"},
			Telephony:   config.ProviderEntry{Name: "exec"},
		},
		NLUFallback: []string{"keyword"},
	}
	config.ApplyDefaults(cfg)
	cfg.Providers.NLU.Name = "dialogflow"

	var buf bytes.Buffer
	printStartupSummary(&buf, cfg)
	out := buf.String()
	for _, want := range []string{"deepgram / nova-2", "whisper", "dialogflow", "keyword", "(disabled)", "en-US"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPrintProvider_Truncates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, provider, model string
		want                  string
	}{
		{name: "fits", provider: "ollama", model: "qwen3", want: "ollama / qwen3"},
		{name: "not configured", want: "(not configured)"},
		{name: "ascii", provider: "openai", model: "gpt-4o-mini-2024", want: "openai / gpt-4o-…"},
		{name: "multi-byte", provider: "llamacpp", model: "müsli-ßprache-klein", want: "llamacpp / müsli…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			printProvider(&buf, "LLM", tt.provider, tt.model)
			out := buf.String()
			if !utf8.ValidString(out) {
				t.Fatalf("output is not valid UTF-8: %q", out)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output %q missing %q", out, tt.want)
			}
			if n := utf8.RuneCountInString(out); n != utf8.RuneCountInString(fmt.Sprintf("║  %-12s    : %-19s ║\n", "LLM", "")) {
				t.Errorf("row is %d runes wide, want the fixed box width", n)
			}
		})
	}
}

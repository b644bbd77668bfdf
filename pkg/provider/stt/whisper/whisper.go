// Package whisper provides a local stt.Provider backed by the whisper.cpp Go
// bindings (CGO). The whisper.cpp static library and headers must be
// available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// whisper.cpp is not a streaming engine. A session buffers PCM while speech
// is present and runs inference once the speaker pauses, when the buffer
// reaches its maximum length, or when the session is closed. The resulting
// text is emitted as a single final transcript.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/types"
)

const (
	defaultLanguage     = "en"
	defaultSampleRate   = 16000
	defaultSilenceMs    = 600
	defaultMaxBufferMs  = 8000
	defaultRMSThreshold = 300.0
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("whisper: session is closed")

// transcriber runs inference on mono float32 samples. The whisper.cpp model is
// the production implementation.
type transcriber interface {
	transcribe(samples []float32, language string) (string, error)
	close() error
}

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the default language (ISO 639-1, e.g. "en").
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceMs sets how long the speaker must pause before the buffered
// utterance is transcribed.
func WithSilenceMs(ms int) Option {
	return func(p *Provider) { p.silenceMs = ms }
}

// WithMaxBufferMs caps how much audio is buffered before a forced transcription.
func WithMaxBufferMs(ms int) Option {
	return func(p *Provider) { p.maxBufferMs = ms }
}

// Provider implements stt.Provider on top of whisper.cpp.
type Provider struct {
	model       transcriber
	mu          sync.Mutex // whisper.cpp contexts share model state; inference is serialised
	language    string
	silenceMs   int
	maxBufferMs int
}

var _ stt.Provider = (*Provider)(nil)

// New loads the whisper.cpp model at modelPath. The caller must Close the
// provider to release the model.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	m, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return newProvider(&cppModel{model: m}, opts...), nil
}

func newProvider(t transcriber, opts ...Option) *Provider {
	p := &Provider{
		model:       t,
		language:    defaultLanguage,
		silenceMs:   defaultSilenceMs,
		maxBufferMs: defaultMaxBufferMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Close releases the model.
func (p *Provider) Close() error {
	return p.model.close()
}

// StartStream opens a buffering session. BCP-47 tags such as "en-US" are
// reduced to their language subtag.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	lang := p.language
	if cfg.Language != "" {
		lang, _, _ = strings.Cut(cfg.Language, "-")
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	s := &session{
		provider:   p,
		language:   strings.ToLower(lang),
		sampleRate: sr,
		audio:      make(chan []byte, 256),
		partials:   make(chan types.Transcript, 1),
		finals:     make(chan types.Transcript, 4),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (p *Provider) infer(pcm []byte, lang string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model.transcribe(pcmToFloat32(pcm), lang)
}

// ── session ──

type session struct {
	provider   *Provider
	language   string
	sampleRate int

	audio    chan []byte
	partials chan types.Transcript
	finals   chan types.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.audio <- chunk:
		return nil
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }
func (s *session) Finals() <-chan types.Transcript   { return s.finals }

func (s *session) SetKeywords([]types.KeywordBoost) error {
	return fmt.Errorf("whisper: %w", stt.ErrNotSupported)
}

// Close transcribes whatever speech is still buffered, then closes the
// transcript channels.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// run owns all buffering state.
func (s *session) run() {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		buf       []byte
		hadSpeech bool
		silenceMs int
	)
	maxBytes := s.provider.maxBufferMs * s.sampleRate / 1000 * 2

	flush := func() {
		pcm := buf
		speech := hadSpeech
		buf, hadSpeech, silenceMs = nil, false, 0
		if !speech || len(pcm) == 0 {
			return
		}
		text, err := s.provider.infer(pcm, s.language)
		if err != nil {
			slog.Warn("whisper: inference failed", "err", err)
			return
		}
		if text == "" {
			return
		}
		select {
		case s.finals <- types.Transcript{Text: text, IsFinal: true}:
		default:
			slog.Warn("whisper: final transcript dropped, consumer too slow")
		}
	}

	for {
		select {
		case <-s.done:
			// Drain queued audio so Close transcribes the complete utterance.
			for {
				select {
				case chunk := <-s.audio:
					buf = append(buf, chunk...)
				default:
					flush()
					return
				}
			}
		case chunk := <-s.audio:
			if rms(chunk) >= defaultRMSThreshold {
				hadSpeech = true
				silenceMs = 0
				buf = append(buf, chunk...)
				if len(buf) >= maxBytes {
					flush()
				}
				continue
			}
			if !hadSpeech {
				continue
			}
			buf = append(buf, chunk...)
			silenceMs += durationMs(chunk, s.sampleRate)
			if silenceMs >= s.provider.silenceMs {
				flush()
			}
		}
	}
}

// ── whisper.cpp ──

type cppModel struct {
	model whisperlib.Model
}

func (m *cppModel) transcribe(samples []float32, language string) (string, error) {
	wctx, err := m.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: unsupported language, using model default", "language", language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process: %w", err)
	}
	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: next segment: %w", err)
		}
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

func (m *cppModel) close() error {
	return m.model.Close()
}

// Package deepgram provides an stt.Provider backed by the Deepgram streaming
// WebSocket API.
//
// Voice commands are short, so the session relies on Deepgram endpointing:
// is_final segments are accumulated and a single final transcript is emitted
// when Deepgram marks the utterance with speech_final or sends an
// UtteranceEnd event.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/types"
)

const (
	defaultEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel       = "nova-3"
	defaultLanguage    = "en-US"
	defaultSampleRate  = 16000
	defaultEndpointing = 300 * time.Millisecond
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("deepgram: session is closed")

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language used when StreamConfig.Language is empty.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the WebSocket endpoint. Used for proxies and tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithEndpointing sets the silence duration after which Deepgram finalises an
// utterance.
func WithEndpointing(d time.Duration) Option {
	return func(p *Provider) { p.endpointing = d }
}

// Provider implements stt.Provider.
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	endpointing time.Duration
}

// New creates a Deepgram provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    defaultEndpoint,
		model:       defaultModel,
		language:    defaultLanguage,
		endpointing: defaultEndpointing,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram and returns a live session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build url: %w", err)
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	// The session outlives the dial context; Close or the read loop ends it.
	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:     conn,
		cancel:   cancel,
		partials: make(chan types.Transcript, 32),
		finals:   make(chan types.Transcript, 4),
		audio:    make(chan []byte, 128),
		done:     make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop(sctx)
	go s.writeLoop(sctx)
	return s, nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	q.Set("endpointing", strconv.FormatInt(p.endpointing.Milliseconds(), 10))
	q.Set("utterance_end_ms", "1000")
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	for _, kw := range cfg.Keywords {
		if kw.Boost == 0 {
			q.Add("keyterm", kw.Keyword)
			continue
		}
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ── session ──

type message struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type session struct {
	conn     *websocket.Conn
	cancel   context.CancelFunc
	partials chan types.Transcript
	finals   chan types.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// pending accumulates is_final segments until the utterance ends.
	// Only touched by readLoop.
	pending []types.Transcript
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

// SetKeywords is not supported: Deepgram binds keywords at connect time.
func (s *session) SetKeywords([]types.KeywordBoost) error {
	return fmt.Errorf("deepgram: %w", stt.ErrNotSupported)
}

func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.conn.Write(wctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		cancel()
		s.cancel()
		s.wg.Wait()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.flush()
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "Results":
			t, ok := toTranscript(msg)
			if !ok {
				continue
			}
			if !msg.IsFinal {
				s.emit(s.partials, t)
				continue
			}
			if t.Text != "" {
				s.pending = append(s.pending, t)
			}
			if msg.SpeechFinal {
				s.flush()
			}
		case "UtteranceEnd":
			s.flush()
		}
	}
}

// flush joins the pending segments into one final transcript.
func (s *session) flush() {
	if len(s.pending) == 0 {
		return
	}
	s.emit(s.finals, joinSegments(s.pending))
	s.pending = s.pending[:0]
}

func (s *session) emit(ch chan types.Transcript, t types.Transcript) {
	select {
	case ch <- t:
	case <-s.done:
	}
}

func toTranscript(msg message) (types.Transcript, bool) {
	if len(msg.Channel.Alternatives) == 0 {
		return types.Transcript{}, false
	}
	alt := msg.Channel.Alternatives[0]
	words := make([]types.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, types.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}
	return types.Transcript{
		Text:       strings.TrimSpace(alt.Transcript),
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
		Timestamp:  seconds(msg.Start),
		Duration:   seconds(msg.Duration),
	}, true
}

func joinSegments(segs []types.Transcript) types.Transcript {
	out := types.Transcript{IsFinal: true, Timestamp: segs[0].Timestamp}
	texts := make([]string, 0, len(segs))
	var conf float64
	for _, s := range segs {
		texts = append(texts, s.Text)
		out.Words = append(out.Words, s.Words...)
		out.Duration += s.Duration
		conf += s.Confidence
	}
	out.Text = strings.Join(texts, " ")
	out.Confidence = conf / float64(len(segs))
	return out
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

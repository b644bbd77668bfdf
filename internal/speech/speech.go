// Package speech speaks short acknowledgments through a TTS provider and an
// audio sink.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/types"
)

// FlushPolicy decides what happens to utterances already playing or waiting.
type FlushPolicy int

const (
	// Flush interrupts the current utterance and discards queued ones.
	Flush FlushPolicy = iota
	// Queue plays after everything already queued.
	Queue
)

// String implements fmt.Stringer.
func (p FlushPolicy) String() string {
	if p == Queue {
		return "queue"
	}
	return "flush"
}

var (
	// ErrInterrupted is returned by Speak when a later Flush utterance or
	// Stop cut this one short.
	ErrInterrupted = errors.New("speech: utterance interrupted")

	// ErrClosed is returned by Speak after Close.
	ErrClosed = errors.New("speech: speaker closed")
)

// Option configures a Speaker.
type Option func(*Speaker)

// WithVoice sets the voice used for every utterance.
func WithVoice(v types.VoiceProfile) Option {
	return func(s *Speaker) { s.voice = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Speaker) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) { s.metrics = m }
}

// Speaker plays one utterance at a time.
type Speaker struct {
	tts     tts.Provider
	sink    audio.Sink
	voice   types.VoiceProfile
	log     *slog.Logger
	metrics *observe.Metrics

	// turn holds a token while an utterance owns the sink.
	turn chan struct{}

	mu      sync.Mutex
	closed  bool
	seq     uint64
	pending map[uint64]context.CancelFunc
}

// New creates a Speaker.
func New(p tts.Provider, sink audio.Sink, opts ...Option) *Speaker {
	s := &Speaker{
		tts:     p,
		sink:    sink,
		log:     slog.Default(),
		turn:    make(chan struct{}, 1),
		pending: make(map[uint64]context.CancelFunc),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Speak synthesizes text and blocks until it has been played, interrupted or
// ctx is done. A blank utteranceID is replaced by a random one; the id used
// is returned either way.
func (s *Speaker) Speak(ctx context.Context, text string, policy FlushPolicy, utteranceID string) (string, error) {
	if strings.TrimSpace(utteranceID) == "" {
		utteranceID = uuid.NewString()
	}
	if strings.TrimSpace(text) == "" {
		return utteranceID, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return utteranceID, ErrClosed
	}
	if policy == Flush {
		s.cancelAllLocked()
	}
	uctx, cancel := context.WithCancel(ctx)
	s.seq++
	key := s.seq
	s.pending[key] = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		cancel()
	}()

	select {
	case s.turn <- struct{}{}:
	case <-uctx.Done():
		return utteranceID, s.interrupted(ctx)
	}
	defer func() { <-s.turn }()

	log := s.log.With("utterance_id", utteranceID)
	start := time.Now()
	err := s.play(uctx, text)
	s.metrics.SpeechDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if uctx.Err() != nil {
			return utteranceID, s.interrupted(ctx)
		}
		log.Warn("speech: playback failed", "err", err)
		return utteranceID, err
	}
	log.Debug("speech: spoken", "text", text, "policy", policy.String())
	return utteranceID, nil
}

func (s *Speaker) play(ctx context.Context, text string) error {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	pcm, err := s.tts.SynthesizeStream(ctx, textCh, s.voice)
	if err != nil {
		return fmt.Errorf("speech: synthesize: %w", err)
	}
	if err := s.sink.Play(ctx, pcm, s.tts.SampleRate()); err != nil {
		go audio.Drain(pcm)
		return fmt.Errorf("speech: play: %w", err)
	}
	return nil
}

func (s *Speaker) interrupted(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrInterrupted
}

func (s *Speaker) cancelAllLocked() {
	for _, c := range s.pending {
		c()
	}
}

// Stop interrupts the current utterance and discards queued ones.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllLocked()
}

// Close stops all speech and waits until the sink is released. Later Speak
// calls fail with ErrClosed.
func (s *Speaker) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cancelAllLocked()
	s.mu.Unlock()

	s.turn <- struct{}{}
	<-s.turn
	return nil
}

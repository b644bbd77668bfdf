// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for unit tests.
//
// Source hands out Captures that replay prepared frames and enforces the
// single-open-capture rule like a real device, so tests can assert that no two
// captures ever overlap via MaxActive.
//
// Typical usage:
//
//	src := &mock.Source{NewCapture: func() *mock.Capture {
//	    return mock.NewCapture([][]byte{frame, frame}, true)
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/types"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// NewCapture builds the capture for each Open call. When nil, an empty
	// capture that stays open until closed is returned.
	NewCapture func() *Capture

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls counts Open calls, including failed ones.
	OpenCalls int

	// MaxActive is the highest number of simultaneously open captures seen.
	MaxActive int

	active int
}

// Open returns a new capture or ErrBusy when one is already open.
func (s *Source) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.active > 0 {
		return nil, audio.ErrBusy
	}
	var c *Capture
	if s.NewCapture != nil {
		c = s.NewCapture()
	} else {
		c = NewCapture(nil, true)
	}
	c.onClose = s.release
	s.active++
	s.MaxActive = max(s.MaxActive, s.active)
	return c, nil
}

// Active returns the number of captures currently open. Thread-safe.
func (s *Source) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Opens returns OpenCalls. Thread-safe.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OpenCalls
}

// PeakActive returns MaxActive. Thread-safe.
func (s *Source) PeakActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MaxActive
}

func (s *Source) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
}

var _ audio.Source = (*Source)(nil)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture].
type Capture struct {
	mu      sync.Mutex
	ch      chan types.AudioFrame
	closed  bool
	ended   bool
	onClose func()

	// ErrValue is returned by Err.
	ErrValue error

	// CloseCalls counts Close calls.
	CloseCalls int
}

// NewCapture returns a capture pre-loaded with 16 kHz mono frames. With hold
// set the frame channel stays open after the frames until Close; otherwise it
// is closed right away, simulating a device that stopped delivering.
func NewCapture(frames [][]byte, hold bool) *Capture {
	c := &Capture{ch: make(chan types.AudioFrame, len(frames)+1)}
	for _, f := range frames {
		c.ch <- types.AudioFrame{Data: f, SampleRate: 16000, Channels: 1}
	}
	if !hold {
		close(c.ch)
		c.ended = true
	}
	return c
}

// Frames returns the frame channel.
func (c *Capture) Frames() <-chan types.AudioFrame { return c.ch }

// Err returns ErrValue.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ErrValue
}

// Close closes the frame channel once and releases the source claim.
func (c *Capture) Close() error {
	c.mu.Lock()
	c.CloseCalls++
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if !c.ended {
		close(c.ch)
		c.ended = true
	}
	onClose := c.onClose
	c.mu.Unlock()
	if onClose != nil {
		onClose()
	}
	return nil
}

var _ audio.Capture = (*Capture)(nil)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// PlayCall records a completed Play invocation.
type PlayCall struct {
	SampleRate int
	Data       []byte
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play after draining.
	PlayErr error

	// PlayCalls records every Play call.
	PlayCalls []PlayCall
}

// Play drains pcm, records the audio and returns PlayErr.
func (s *Sink) Play(ctx context.Context, pcm <-chan []byte, sampleRate int) error {
	var data []byte
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(pcm)
			s.record(sampleRate, data)
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				s.record(sampleRate, data)
				s.mu.Lock()
				defer s.mu.Unlock()
				return s.PlayErr
			}
			data = append(data, chunk...)
		}
	}
}

func (s *Sink) record(rate int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayCalls = append(s.PlayCalls, PlayCall{SampleRate: rate, Data: data})
}

// Calls returns a copy of PlayCalls. Thread-safe.
func (s *Sink) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlayCall(nil), s.PlayCalls...)
}

var _ audio.Sink = (*Sink)(nil)

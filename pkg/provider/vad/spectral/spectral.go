// Package spectral implements a vad.Engine that compares the speech-band
// energy of each frame against an adaptive noise floor.
//
// Each frame is Hann-windowed and transformed with an FFT; the power between
// 300 Hz and 3400 Hz is the frame's speech energy. While no speech is active
// the noise floor tracks that energy with an exponential moving average. The
// speech probability of a frame is 1 - floor/energy, so the default speech
// threshold of 0.43 fires when the band energy rises ~1.75× above the floor.
package spectral

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/MrWong99/hark/pkg/provider/vad"
)

const (
	bandLowHz  = 300
	bandHighHz = 3400

	defaultSpeechThreshold  = 0.43
	defaultSilenceThreshold = 0.3
	defaultSilenceMs        = 600

	// minFloor keeps digital silence from producing a zero floor.
	minFloor = 1e-7

	// floorAlpha is the EMA weight of the newest silent frame.
	floorAlpha = 0.05

	// startFrames is how many consecutive speech frames open a segment.
	startFrames = 2
)

// Engine implements vad.Engine.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// New returns a spectral VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg, applies defaults and returns a session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("spectral: sample rate must be positive")
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, errors.New("spectral: frame size must be positive")
	}
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = defaultSpeechThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = defaultSilenceThreshold
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("spectral: silence threshold %.2f exceeds speech threshold %.2f",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	if cfg.SilenceDurationMs == 0 {
		cfg.SilenceDurationMs = defaultSilenceMs
	}

	n := cfg.SampleRate * cfg.FrameSizeMs / 1000
	return &session{
		cfg:        cfg,
		samples:    n,
		window:     window.Hann(n),
		lowBin:     bandLowHz * n / cfg.SampleRate,
		highBin:    min(bandHighHz*n/cfg.SampleRate, n/2),
		hangFrames: max(1, cfg.SilenceDurationMs/cfg.FrameSizeMs),
	}, nil
}

type session struct {
	cfg        vad.Config
	samples    int
	window     []float64
	lowBin     int
	highBin    int
	hangFrames int

	floor    float64
	speaking bool
	voiced   int // consecutive speech frames while not speaking
	quiet    int // consecutive silent frames while speaking
	closed   bool
}

// ProcessFrame classifies one frame.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errors.New("spectral: session closed")
	}
	if len(frame) != s.samples*2 {
		return vad.Event{}, fmt.Errorf("spectral: frame is %d bytes, want %d", len(frame), s.samples*2)
	}

	energy := s.bandEnergy(frame)
	if s.floor == 0 {
		s.floor = max(energy, minFloor)
	}
	p := 0.0
	if energy > 0 {
		p = max(0, 1-s.floor/energy)
	}

	if !s.speaking {
		if p >= s.cfg.SpeechThreshold {
			s.voiced++
			if s.voiced >= startFrames {
				s.speaking, s.voiced, s.quiet = true, 0, 0
				return vad.Event{Type: vad.SpeechStart, Probability: p}, nil
			}
		} else {
			s.voiced = 0
			s.floor = max(minFloor, (1-floorAlpha)*s.floor+floorAlpha*energy)
		}
		return vad.Event{Type: vad.Silence, Probability: p}, nil
	}

	if p < s.cfg.SilenceThreshold {
		s.quiet++
		if s.quiet >= s.hangFrames {
			s.speaking, s.quiet = false, 0
			return vad.Event{Type: vad.SpeechEnd, Probability: p}, nil
		}
	} else {
		s.quiet = 0
	}
	return vad.Event{Type: vad.SpeechContinue, Probability: p}, nil
}

// bandEnergy returns the mean speech-band power of a frame normalised to
// [-1, 1] samples.
func (s *session) bandEnergy(frame []byte) float64 {
	x := make([]float64, s.samples)
	for i := range x {
		x[i] = float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / 32768.0
	}
	for i := range x {
		x[i] *= s.window[i]
	}
	spec := fft.FFTReal(x)
	var sum float64
	for k := s.lowBin; k <= s.highBin; k++ {
		m := cmplx.Abs(spec[k])
		sum += m * m
	}
	n := float64(s.samples)
	return sum / (n * n)
}

// Reset forgets the noise floor and any active segment.
func (s *session) Reset() {
	s.floor = 0
	s.speaking = false
	s.voiced = 0
	s.quiet = 0
}

// Close marks the session closed.
func (s *session) Close() error {
	s.closed = true
	return nil
}

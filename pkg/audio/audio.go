// Package audio defines the microphone and speaker abstractions used by hark.
//
// The two primary abstractions are:
//
//   - [Source]: opens the microphone and yields a [Capture], a stream of
//     fixed-size PCM frames.
//   - [Sink]: plays a stream of PCM chunks through the speaker.
//
// Only one Capture may be open on a Source at a time; the recognition pipeline
// relies on this to honour the single-microphone-claim rule of the host audio
// subsystem. Implementations live in sub-packages (audio/portaudio) and mocks
// in audio/mock.
package audio

import (
	"context"
	"errors"

	"github.com/MrWong99/hark/pkg/types"
)

var (
	// ErrBusy is returned by Source.Open while another Capture is open.
	ErrBusy = errors.New("audio: capture device busy")

	// ErrNoDevice is returned when no suitable device exists.
	ErrNoDevice = errors.New("audio: no device available")
)

// CaptureConfig describes the frames a Capture delivers.
type CaptureConfig struct {
	// SampleRate in Hz. Recognition uses 16000.
	SampleRate int

	// FrameSizeMs is the duration of each delivered frame.
	FrameSizeMs int
}

// FrameBytes returns the size in bytes of one mono 16-bit frame.
func (c CaptureConfig) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// Capture is an open microphone stream.
type Capture interface {
	// Frames delivers mono 16-bit PCM frames. The channel is closed when the
	// capture is closed or the device fails; Err then reports the failure.
	Frames() <-chan types.AudioFrame

	// Err returns the error that ended the capture, or nil.
	Err() error

	// Close stops capturing and releases the device. Safe to call repeatedly.
	Close() error
}

// Source opens microphone captures.
type Source interface {
	// Open claims the microphone. Returns ErrBusy if a capture is already open,
	// and an error wrapping os.ErrPermission if access is denied.
	Open(ctx context.Context, cfg CaptureConfig) (Capture, error)
}

// Sink plays audio.
type Sink interface {
	// Play writes mono 16-bit PCM chunks at sampleRate to the output device and
	// blocks until pcm is closed and drained, or ctx is cancelled.
	Play(ctx context.Context, pcm <-chan []byte, sampleRate int) error
}

// Device bundles the input and output of one audio backend.
type Device struct {
	Source Source
	Sink   Sink

	// Close releases the backend. May be nil.
	Close func() error
}

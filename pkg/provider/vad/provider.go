// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful per-stream session. The recognition pipeline uses it to decide when
// the user starts and stops talking, which gates the microphone audio that is
// forwarded to STT.
//
// ProcessFrame is synchronous and must not block. A SessionHandle is not safe
// for concurrent use; engines must be safe for concurrent NewSession calls.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each frame. ProcessFrame rejects frames of
	// any other size.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a frame counts as
	// speech. Range: [0.0, 1.0].
	SpeechThreshold float64

	// SilenceThreshold is the probability below which a frame counts as silence.
	// Must be ≤ SpeechThreshold.
	SilenceThreshold float64

	// SilenceDurationMs is how long silence must last before an active speech
	// segment ends. Zero selects the engine default.
	SilenceDurationMs int
}

// EventType enumerates detection states.
type EventType int

const (
	// Silence means no speech is in progress.
	Silence EventType = iota

	// SpeechStart marks the first frame of a speech segment.
	SpeechStart

	// SpeechContinue marks an ongoing speech segment.
	SpeechContinue

	// SpeechEnd marks the frame at which a speech segment ended.
	SpeechEnd
)

// String returns the lower-case event name.
func (t EventType) String() string {
	switch t {
	case Silence:
		return "silence"
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Event is the detection result for a single frame.
type Event struct {
	Type EventType

	// Probability is the speech probability (0.0–1.0).
	Probability float64
}

// SessionHandle is an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses one frame of 16-bit little-endian PCM.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a session. Returns an error for invalid configuration.
	NewSession(cfg Config) (SessionHandle, error)
}

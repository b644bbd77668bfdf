// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription engine (a cloud streaming API such as
// Deepgram, or a local whisper.cpp model) behind a uniform streaming
// interface. Once opened, a SessionHandle accepts raw PCM chunks and emits two
// streams of transcripts: low-latency partials and authoritative finals.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/hark/pkg/types"
)

// ErrNotSupported is returned by optional SessionHandle operations the backend
// cannot perform.
var ErrNotSupported = errors.New("stt: operation not supported")

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The microphone pipeline uses 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag (e.g., "en-US"). Empty lets the
	// provider auto-detect.
	Language string

	// Keywords are vocabulary hints, typically contact names.
	Keywords []types.KeywordBoost
}

// SessionHandle is an open streaming transcription session.
//
// Callers must call Close when done. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit PCM audio. Calling SendAudio after
	// Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals emits committed transcripts. Closed when the session ends.
	Finals() <-chan types.Transcript

	// SetKeywords replaces the keyword list mid-session. Backends that cannot do
	// so return ErrNotSupported.
	SetKeywords(keywords []types.KeywordBoost) error

	// Close flushes pending audio and releases all resources. After Close
	// returns the Partials and Finals channels are closed once any remaining
	// results have been delivered. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming session. Returns an error if the session
	// cannot be established (authentication failure, network error, ctx done).
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

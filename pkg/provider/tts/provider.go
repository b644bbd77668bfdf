// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a synthesis service (ElevenLabs, a local Coqui server)
// behind a uniform streaming interface. SynthesizeStream accepts a channel of
// text fragments and returns a channel of raw PCM chunks as they become
// available, so playback can start before synthesis completes.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/hark/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments and returns a channel of 16-bit
	// mono PCM chunks at SampleRate. The audio channel is closed when all text
	// has been synthesised, on a synthesis error, or when ctx is cancelled;
	// callers check ctx.Err() to tell cancellation apart from failure. The
	// caller must drain the audio channel.
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices the provider currently offers.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// SampleRate reports the sample rate in Hz of the PCM emitted by
	// SynthesizeStream.
	SampleRate() int
}

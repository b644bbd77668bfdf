// Package types defines the data structures shared across hark packages.
//
// Providers, the recognition pipeline and the command loop exchange these
// values. Each package keeps its own domain types; only structures that cross
// package boundaries in both directions live here to avoid import cycles.
package types

import "time"

// AudioFrame is a single frame of PCM audio moving through the pipeline.
// Frames are captured from the microphone, inspected by VAD, forwarded to STT
// and, for speech output, played back through the audio sink.
type AudioFrame struct {
	// Data holds signed 16-bit little-endian PCM samples.
	Data []byte

	// SampleRate in Hz (16000 for recognition input, provider-specific for TTS output).
	SampleRate int

	// Channels is 1 for mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Transcript is a speech-to-text result. Partial (interim) and final results
// share this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal reports whether the provider has committed to this result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report one.
	Confidence float64

	// Words carries per-word detail when the provider supports it.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to stream start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a vocabulary hint that raises the recognition probability of
// an uncommon word, such as a contact name.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Siobhan").
	Keyword string

	// Boost is the provider-specific intensity.
	Boost float64
}

// Message is a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// ToolCalls contains the tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool".
	ToolCallID string
}

// ToolCall is a function invocation requested by an LLM.
type ToolCall struct {
	// ID is the provider-assigned identifier.
	ID string

	// Name is the function name.
	Name string

	// Arguments is the JSON-encoded argument object.
	Arguments string
}

// ToolDefinition describes a function that can be offered to an LLM.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is the JSON Schema of the function input.
	Parameters map[string]any
}

// VoiceProfile selects a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	ContextWindow       int
	MaxOutputTokens     int
	SupportsToolCalling bool
	SupportsStreaming   bool
}

// Package recognition turns one start/stop cycle of a speech recognizer into
// a finite stream of discrete outcomes.
//
// A [Recognizer] produces raw outcome streams; a [Session] wraps exactly one
// such stream and enforces its contract: at most one of each non-partial
// outcome, nothing after a terminal outcome, and a synthesized error if the
// recognizer disappears without saying goodbye. [Pipeline] is the built-in
// Recognizer composed from a microphone, a VAD engine and a streaming STT
// provider.
package recognition

import "fmt"

// Kind discriminates Outcome variants.
type Kind int

const (
	// KindReady: the microphone is open and the recognizer awaits speech.
	KindReady Kind = iota
	// KindStarted: speech onset detected.
	KindStarted
	// KindPartial: interim hypothesis. May repeat.
	KindPartial
	// KindFinal: the finalized transcript.
	KindFinal
	// KindEnded: the session finished normally. Terminal.
	KindEnded
	// KindError: the session failed. Terminal.
	KindError
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindStarted:
		return "started"
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	case KindEnded:
		return "ended"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is one event of a recognition session.
type Outcome struct {
	Kind Kind

	// Text is set for KindPartial and KindFinal.
	Text string

	// Err is set for KindError.
	Err *Error
}

// Terminal reports whether no further outcome may follow o.
func (o Outcome) Terminal() bool {
	return o.Kind == KindEnded || o.Kind == KindError
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o.Kind {
	case KindPartial, KindFinal:
		return fmt.Sprintf("%s(%q)", o.Kind, o.Text)
	case KindError:
		if o.Err != nil {
			return fmt.Sprintf("error(%s)", o.Err.Kind)
		}
	}
	return o.Kind.String()
}

// Ready returns a KindReady outcome.
func Ready() Outcome { return Outcome{Kind: KindReady} }

// Started returns a KindStarted outcome.
func Started() Outcome { return Outcome{Kind: KindStarted} }

// Partial returns a KindPartial outcome.
func Partial(text string) Outcome { return Outcome{Kind: KindPartial, Text: text} }

// Final returns a KindFinal outcome.
func Final(text string) Outcome { return Outcome{Kind: KindFinal, Text: text} }

// Ended returns a KindEnded outcome.
func Ended() Outcome { return Outcome{Kind: KindEnded} }

// Failed returns a KindError outcome of the given kind.
func Failed(kind ErrorKind, cause error) Outcome {
	return Outcome{Kind: KindError, Err: &Error{Kind: kind, Cause: cause}}
}

// Package intent turns a finalized transcript into a resolved intent by
// consulting an NLU capability.
package intent

import "strings"

// Name is the closed set of intents the assistant acts on.
type Name int

const (
	// Unrecognized covers every intent name the assistant has no handler for.
	Unrecognized Name = iota
	OpenCamera
	CallContact
	StopAssistant
)

// NLU display names of the known intents.
const (
	OpenCameraIntent    = "OpenCameraIntent"
	CallContactIntent   = "CallContactIntent"
	StopAssistantIntent = "StopAssistantIntent"
)

// ParamContact is the parameter holding the spoken contact name.
const ParamContact = "contact"

// String returns the NLU display name, or "Unrecognized".
func (n Name) String() string {
	switch n {
	case OpenCamera:
		return OpenCameraIntent
	case CallContact:
		return CallContactIntent
	case StopAssistant:
		return StopAssistantIntent
	default:
		return "Unrecognized"
	}
}

// ParseName maps an NLU display name to a Name. Matching ignores case and
// surrounding whitespace; anything unknown is Unrecognized.
func ParseName(s string) Name {
	s = strings.TrimSpace(s)
	for _, n := range []Name{OpenCamera, CallContact, StopAssistant} {
		if strings.EqualFold(s, n.String()) {
			return n
		}
	}
	return Unrecognized
}

// Resolved is the NLU decision for one transcript.
type Resolved struct {
	Name Name

	// RawName is the intent name exactly as reported by the NLU backend.
	RawName string

	Parameters map[string]string

	// ConfidenceText is the backend's fulfillment or confidence text, if any.
	ConfidenceText string

	// RawQueryText is the text the backend classified.
	RawQueryText string
}

// Param returns the named parameter with surrounding whitespace removed.
func (r Resolved) Param(key string) string {
	return strings.TrimSpace(r.Parameters[key])
}

// Package nlu defines the natural-language-understanding capability: turning a
// finalized transcript into an intent name plus string parameters.
//
// Backends live in sub-packages: dialogflow (Google Dialogflow ES over REST),
// llmnlu (tool-calling LLM classifier) and keyword (offline regex rules). They
// can be chained with resilience.NLUFallback.
package nlu

import (
	"context"
	"errors"
)

// ErrMalformed is returned (wrapped) when a backend answered but its response
// could not be interpreted. Transport failures use other errors.
var ErrMalformed = errors.New("nlu: malformed response")

// Query is a single detect-intent request.
type Query struct {
	// SessionID groups queries into one conversation on the backend.
	SessionID string

	// Text is the user utterance.
	Text string

	// LanguageCode is a BCP-47 tag such as "en-US".
	LanguageCode string
}

// Result is the structured decision of the NLU backend.
type Result struct {
	// IntentName is the backend's display name of the matched intent. Empty
	// when nothing matched.
	IntentName string

	// Parameters holds the extracted slot values, e.g. {"contact": "john"}.
	Parameters map[string]string

	// QueryText is the text the backend actually evaluated.
	QueryText string

	// FulfillmentText is the backend's suggested reply, if any.
	FulfillmentText string

	// Confidence in [0,1]. Zero when the backend does not report one.
	Confidence float64
}

// Provider detects intents.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	DetectIntent(ctx context.Context, q Query) (Result, error)
}

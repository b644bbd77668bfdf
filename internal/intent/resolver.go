package intent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/MrWong99/hark/pkg/provider/nlu"
)

// Resolver defaults.
const (
	DefaultSessionID = "unique-session-id"
	DefaultLanguage  = "en-US"
)

// ResolutionErrorKind classifies resolver failures.
type ResolutionErrorKind int

const (
	// Unreachable: the NLU backend could not be reached or refused the request.
	Unreachable ResolutionErrorKind = iota
	// Malformed: the backend answered with data that could not be interpreted.
	Malformed
)

// String implements fmt.Stringer.
func (k ResolutionErrorKind) String() string {
	if k == Malformed {
		return "malformed"
	}
	return "unreachable"
}

// ResolutionError is returned by Resolve.
type ResolutionError struct {
	Kind ResolutionErrorKind
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("intent: resolution %s: %v", e.Kind, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Option configures a Resolver.
type Option func(*Resolver)

// WithSessionID sets the NLU conversation session id.
func WithSessionID(id string) Option {
	return func(r *Resolver) { r.sessionID = id }
}

// WithLanguage sets the language code sent with every query.
func WithLanguage(code string) Option {
	return func(r *Resolver) { r.language = code }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// Resolver queries an NLU provider for the intent behind a transcript. It
// never retries; a failed resolution is the caller's to handle.
type Resolver struct {
	nlu       nlu.Provider
	sessionID string
	language  string
	log       *slog.Logger
}

// NewResolver creates a Resolver backed by p.
func NewResolver(p nlu.Provider, opts ...Option) *Resolver {
	r := &Resolver{
		nlu:       p,
		sessionID: DefaultSessionID,
		language:  DefaultLanguage,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve lowercases transcript and classifies it. Failures are always
// *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, transcript string) (Resolved, error) {
	text := strings.ToLower(strings.TrimSpace(transcript))
	if text == "" {
		return Resolved{Name: Unrecognized, Parameters: map[string]string{}}, nil
	}
	res, err := r.nlu.DetectIntent(ctx, nlu.Query{
		SessionID:    r.sessionID,
		Text:         text,
		LanguageCode: r.language,
	})
	if err != nil {
		kind := Unreachable
		if errors.Is(err, nlu.ErrMalformed) {
			kind = Malformed
		}
		return Resolved{}, &ResolutionError{Kind: kind, Err: err}
	}

	out := Resolved{
		Name:           ParseName(res.IntentName),
		RawName:        res.IntentName,
		Parameters:     res.Parameters,
		ConfidenceText: res.FulfillmentText,
		RawQueryText:   res.QueryText,
	}
	if out.Parameters == nil {
		out.Parameters = map[string]string{}
	}
	if out.RawQueryText == "" {
		out.RawQueryText = text
	}
	if out.ConfidenceText == "" && res.Confidence > 0 {
		out.ConfidenceText = strconv.FormatFloat(res.Confidence, 'f', 2, 64)
	}
	r.log.Debug("intent: resolved", "intent", out.Name.String(), "raw", out.RawName, "query", out.RawQueryText)
	return out, nil
}

// Close releases the NLU provider if it holds resources.
func (r *Resolver) Close() error {
	if c, ok := r.nlu.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

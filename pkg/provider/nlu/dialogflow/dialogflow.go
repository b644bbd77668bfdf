// Package dialogflow implements nlu.Provider against the Google Dialogflow ES
// v2 REST API.
//
// Requests are authorised with a service-account token minted by
// golang.org/x/oauth2/google from an injected [nlu.Credentials] record:
//
//	p, err := dialogflow.New(ctx, creds)
//	res, err := p.DetectIntent(ctx, nlu.Query{Text: "open the camera"})
package dialogflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/MrWong99/hark/pkg/provider/nlu"
)

const (
	// DefaultEndpoint is the global Dialogflow API host.
	DefaultEndpoint = "https://dialogflow.googleapis.com"

	// DefaultSessionID is used when neither the query nor the provider
	// configuration names a session.
	DefaultSessionID = "unique-session-id"

	// DefaultLanguage is the query language when none is given.
	DefaultLanguage = "en-US"

	// Scope is the OAuth2 scope required by detectIntent.
	Scope = "https://www.googleapis.com/auth/dialogflow"
)

// Provider implements nlu.Provider using Dialogflow ES.
type Provider struct {
	endpoint  string
	projectID string
	sessionID string
	language  string
	base      *http.Client
	tokens    oauth2.TokenSource
	client    *http.Client
}

var _ nlu.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithEndpoint overrides the API host, e.g. a regional endpoint such as
// "https://europe-west1-dialogflow.googleapis.com".
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithProjectID overrides the project taken from the credential record.
func WithProjectID(id string) Option {
	return func(p *Provider) { p.projectID = id }
}

// WithSessionID sets the default session for queries that carry none.
func WithSessionID(id string) Option {
	return func(p *Provider) { p.sessionID = id }
}

// WithLanguage sets the default language code for queries that carry none.
func WithLanguage(code string) Option {
	return func(p *Provider) { p.language = code }
}

// WithHTTPClient sets the base client whose transport carries the
// authorised requests. Its Timeout is preserved.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.base = c }
}

// WithTokenSource supplies tokens directly instead of deriving them from the
// credential record.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(p *Provider) { p.tokens = ts }
}

// New creates a Provider. creds may be zero only when WithTokenSource is given.
func New(ctx context.Context, creds nlu.Credentials, opts ...Option) (*Provider, error) {
	p := &Provider{
		endpoint:  DefaultEndpoint,
		projectID: creds.ProjectID,
		sessionID: DefaultSessionID,
		language:  DefaultLanguage,
		base:      &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}

	if p.tokens == nil {
		if err := creds.Validate(); err != nil {
			return nil, fmt.Errorf("dialogflow: invalid credentials: %w", err)
		}
		raw, err := creds.JSON()
		if err != nil {
			return nil, fmt.Errorf("dialogflow: encode credentials: %w", err)
		}
		gc, err := google.CredentialsFromJSONWithType(ctx, raw, google.ServiceAccount, Scope)
		if err != nil {
			return nil, fmt.Errorf("dialogflow: load credentials: %w", err)
		}
		p.tokens = gc.TokenSource
	}
	if p.projectID == "" {
		return nil, errors.New("dialogflow: project id must not be empty")
	}

	p.client = &http.Client{
		Timeout:   p.base.Timeout,
		Transport: &oauth2.Transport{Source: p.tokens, Base: p.base.Transport},
	}
	return p, nil
}

// ── wire types ───────────────────────────────────────────────────────────────

type detectRequest struct {
	QueryInput queryInput `json:"queryInput"`
}

type queryInput struct {
	Text textInput `json:"text"`
}

type textInput struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode"`
}

type detectResponse struct {
	ResponseID  string       `json:"responseId"`
	QueryResult *queryResult `json:"queryResult"`
}

type queryResult struct {
	QueryText                 string         `json:"queryText"`
	Parameters                map[string]any `json:"parameters"`
	FulfillmentText           string         `json:"fulfillmentText"`
	IntentDetectionConfidence float64        `json:"intentDetectionConfidence"`
	Intent                    *struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"intent"`
}

// DetectIntent implements nlu.Provider.
func (p *Provider) DetectIntent(ctx context.Context, q nlu.Query) (nlu.Result, error) {
	session := q.SessionID
	if session == "" {
		session = p.sessionID
	}
	lang := q.LanguageCode
	if lang == "" {
		lang = p.language
	}

	body, err := json.Marshal(detectRequest{QueryInput: queryInput{Text: textInput{Text: q.Text, LanguageCode: lang}}})
	if err != nil {
		return nlu.Result{}, fmt.Errorf("dialogflow: encode request: %w", err)
	}

	u := fmt.Sprintf("%s/v2/projects/%s/agent/sessions/%s:detectIntent",
		p.endpoint, url.PathEscape(p.projectID), url.PathEscape(session))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nlu.Result{}, fmt.Errorf("dialogflow: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nlu.Result{}, fmt.Errorf("dialogflow: detect intent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nlu.Result{}, fmt.Errorf("dialogflow: detect intent: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var dr detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nlu.Result{}, fmt.Errorf("dialogflow: %w: %v", nlu.ErrMalformed, err)
	}
	if dr.QueryResult == nil {
		return nlu.Result{}, fmt.Errorf("dialogflow: %w: no queryResult", nlu.ErrMalformed)
	}

	qr := dr.QueryResult
	out := nlu.Result{
		QueryText:       qr.QueryText,
		FulfillmentText: qr.FulfillmentText,
		Confidence:      qr.IntentDetectionConfidence,
		Parameters:      flattenParameters(qr.Parameters),
	}
	if qr.Intent != nil {
		out.IntentName = qr.Intent.DisplayName
	}
	return out, nil
}

// flattenParameters converts the protobuf Struct rendering of parameters into
// plain strings. System entities such as @sys.person arrive as objects with a
// "name" field; lists contribute their first element.
func flattenParameters(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := paramString(v); ok {
			out[k] = s
		}
	}
	return out
}

func paramString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	case []any:
		if len(x) == 0 {
			return "", false
		}
		return paramString(x[0])
	case map[string]any:
		if name, ok := x["name"]; ok {
			return paramString(name)
		}
		raw, err := json.Marshal(x)
		if err != nil {
			return "", false
		}
		return string(raw), true
	default:
		return fmt.Sprint(x), true
	}
}

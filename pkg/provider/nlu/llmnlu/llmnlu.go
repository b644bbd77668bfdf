// Package llmnlu implements nlu.Provider with a tool-calling LLM.
//
// The model is offered a single classify_intent tool whose "intent" argument
// is restricted to the configured intent names (plus "None"). Any reply that
// does not contain a valid call of that tool is reported as
// [nlu.ErrMalformed].
package llmnlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/hark/pkg/provider/llm"
	"github.com/MrWong99/hark/pkg/provider/nlu"
	"github.com/MrWong99/hark/pkg/types"
)

// ToolName is the function the model must call.
const ToolName = "classify_intent"

// noIntent is the enum value for "nothing matched".
const noIntent = "None"

// maxTokens bounds the reply; a single tool call is far shorter.
const maxTokens = 256

// ErrNoToolCalling is returned by [New] for models that cannot call tools.
var ErrNoToolCalling = errors.New("llmnlu: model does not support tool calling")

// Intent describes one intent the classifier may choose.
type Intent struct {
	// Name is reported verbatim as nlu.Result.IntentName.
	Name string

	// Description tells the model when to pick this intent.
	Description string

	// Parameters lists the slot names the model should fill.
	Parameters []string
}

// DefaultIntents are the intents understood by the dispatcher.
var DefaultIntents = []Intent{
	{Name: "OpenCameraIntent", Description: "The user wants to open the camera or take a picture."},
	{Name: "CallContactIntent", Description: "The user wants to phone somebody. Put the person's name in parameter \"contact\".", Parameters: []string{"contact"}},
	{Name: "StopAssistantIntent", Description: "The user wants the assistant to stop, quit or go to sleep."},
}

// Provider implements nlu.Provider on top of an llm.Provider.
type Provider struct {
	llm         llm.Provider
	intents     []Intent
	temperature float64
	maxTokens   int
}

var _ nlu.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithIntents replaces DefaultIntents.
func WithIntents(intents ...Intent) Option {
	return func(p *Provider) { p.intents = intents }
}

// WithTemperature sets the sampling temperature. Defaults to 0.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// New wraps model as an intent classifier. It fails with [ErrNoToolCalling]
// when the model's capabilities rule out tool calls.
func New(model llm.Provider, opts ...Option) (*Provider, error) {
	caps := model.Capabilities()
	if !caps.SupportsToolCalling {
		return nil, ErrNoToolCalling
	}
	p := &Provider{llm: model, intents: DefaultIntents, maxTokens: maxTokens}
	if caps.MaxOutputTokens > 0 && caps.MaxOutputTokens < p.maxTokens {
		p.maxTokens = caps.MaxOutputTokens
	}
	for _, o := range opts {
		o(p)
	}
	if len(p.intents) == 0 {
		return nil, errors.New("llmnlu: at least one intent is required")
	}
	return p, nil
}

type classifyArgs struct {
	Intent     string            `json:"intent"`
	Parameters map[string]string `json:"parameters"`
	Confidence float64           `json:"confidence"`
}

// DetectIntent implements nlu.Provider.
func (p *Provider) DetectIntent(ctx context.Context, q nlu.Query) (nlu.Result, error) {
	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: p.systemPrompt(q.LanguageCode),
		Messages:     []types.Message{{Role: "user", Content: q.Text}},
		Tools:        []types.ToolDefinition{p.tool()},
		RequireTool:  true,
		Temperature:  p.temperature,
		MaxTokens:    p.maxTokens,
	})
	if err != nil {
		return nlu.Result{}, fmt.Errorf("llmnlu: complete: %w", err)
	}

	idx := slices.IndexFunc(resp.ToolCalls, func(tc types.ToolCall) bool { return tc.Name == ToolName })
	if idx < 0 {
		return nlu.Result{}, fmt.Errorf("llmnlu: %w: model did not call %s", nlu.ErrMalformed, ToolName)
	}

	var args classifyArgs
	if err := json.Unmarshal([]byte(resp.ToolCalls[idx].Arguments), &args); err != nil {
		return nlu.Result{}, fmt.Errorf("llmnlu: %w: %v", nlu.ErrMalformed, err)
	}

	res := nlu.Result{QueryText: q.Text, Parameters: args.Parameters, Confidence: args.Confidence}
	if res.Parameters == nil {
		res.Parameters = map[string]string{}
	}
	switch {
	case args.Intent == noIntent:
	case slices.ContainsFunc(p.intents, func(i Intent) bool { return i.Name == args.Intent }):
		res.IntentName = args.Intent
	default:
		return nlu.Result{}, fmt.Errorf("llmnlu: %w: unknown intent %q", nlu.ErrMalformed, args.Intent)
	}
	return res, nil
}

func (p *Provider) systemPrompt(lang string) string {
	var b strings.Builder
	b.WriteString("You classify short voice commands for a hands-free assistant. ")
	b.WriteString("Always answer by calling the ")
	b.WriteString(ToolName)
	b.WriteString(" tool exactly once. Use intent \"")
	b.WriteString(noIntent)
	b.WriteString("\" when no intent fits.\n\nIntents:\n")
	for _, i := range p.intents {
		fmt.Fprintf(&b, "- %s: %s\n", i.Name, i.Description)
	}
	if lang != "" {
		fmt.Fprintf(&b, "\nThe command is in %s. Copy parameter values as spoken.\n", lang)
	}
	return b.String()
}

func (p *Provider) tool() types.ToolDefinition {
	names := make([]any, 0, len(p.intents)+1)
	var params []string
	for _, i := range p.intents {
		names = append(names, i.Name)
		for _, s := range i.Parameters {
			if !slices.Contains(params, s) {
				params = append(params, s)
			}
		}
	}
	names = append(names, noIntent)

	paramProps := map[string]any{}
	for _, s := range params {
		paramProps[s] = map[string]any{"type": "string"}
	}

	return types.ToolDefinition{
		Name:        ToolName,
		Description: "Report the intent of the user's command and its parameters.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"intent":     map[string]any{"type": "string", "enum": names},
				"parameters": map[string]any{"type": "object", "properties": paramProps, "additionalProperties": map[string]any{"type": "string"}},
				"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			},
			"required": []any{"intent"},
		},
	}
}

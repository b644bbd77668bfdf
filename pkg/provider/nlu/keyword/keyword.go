// Package keyword implements an offline nlu.Provider that matches transcripts
// against an ordered list of regular expressions.
//
// Named capture groups become result parameters, so the rule
//
//	(?i)^(?:please\s+)?(?:call|phone|ring)\s+(?P<contact>.+?)$
//
// turns "call john" into CallContactIntent{contact: "john"}. The first
// matching rule wins. A transcript matching no rule yields an empty intent
// name with the query text preserved.
package keyword

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/hark/pkg/provider/nlu"
)

// Rule pairs a compiled pattern with the intent it signals.
type Rule struct {
	// Intent is reported as nlu.Result.IntentName.
	Intent string

	// Pattern is matched against the trimmed transcript.
	Pattern *regexp.Regexp
}

// DefaultRules covers the intents understood by the dispatcher.
func DefaultRules() []Rule {
	return []Rule{
		{
			Intent:  "OpenCameraIntent",
			Pattern: regexp.MustCompile(`(?i)^(?:please\s+)?(?:open|start|launch)\s+(?:the\s+|my\s+)?camera\b|^(?:please\s+)?take\s+a\s+(?:picture|photo)\b`),
		},
		{
			Intent:  "CallContactIntent",
			Pattern: regexp.MustCompile(`(?i)^(?:please\s+)?(?:call|phone|ring|dial)\s+(?P<contact>.+?)[.!?]?$`),
		},
		{
			Intent:  "StopAssistantIntent",
			Pattern: regexp.MustCompile(`(?i)^(?:please\s+)?(?:stop|quit|exit|goodbye|good\s+bye|go\s+to\s+sleep)\b`),
		},
	}
}

// Provider implements nlu.Provider with regex rules. It is stateless and safe
// for concurrent use.
type Provider struct {
	rules []Rule
}

var _ nlu.Provider = (*Provider)(nil)

// New creates a Provider. Without rules DefaultRules is used.
func New(rules ...Rule) *Provider {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Provider{rules: rules}
}

// Spec is the uncompiled form of a Rule, as found in configuration.
type Spec struct {
	Intent  string `yaml:"intent"`
	Pattern string `yaml:"pattern"`
}

// Compile builds rules from specs, preserving their order.
func Compile(specs []Spec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, s := range specs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("keyword: rule %d (%s): %w", i, s.Intent, err)
		}
		rules = append(rules, Rule{Intent: s.Intent, Pattern: re})
	}
	return rules, nil
}

// DetectIntent implements nlu.Provider.
func (p *Provider) DetectIntent(ctx context.Context, q nlu.Query) (nlu.Result, error) {
	if err := ctx.Err(); err != nil {
		return nlu.Result{}, err
	}

	text := strings.TrimSpace(q.Text)
	res := nlu.Result{QueryText: q.Text, Parameters: map[string]string{}}
	if text == "" {
		return res, nil
	}

	for _, r := range p.rules {
		m := r.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		for i, name := range r.Pattern.SubexpNames() {
			if name != "" && m[i] != "" {
				res.Parameters[name] = strings.TrimSpace(m[i])
			}
		}
		res.IntentName = r.Intent
		res.Confidence = 1
		return res, nil
	}
	return res, nil
}

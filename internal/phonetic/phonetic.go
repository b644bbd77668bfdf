// Package phonetic resolves a spoken name against a list of known names.
//
// Speech recognizers often spell names the way they sound ("jon" for "John",
// "catherine" for "Kathryn"). The Matcher tolerates this in two stages:
//
//  1. Double Metaphone codes are computed for every token of the query and of
//     each known name. Names sharing a code with the query are phonetic
//     candidates and are accepted above a lower Jaro-Winkler threshold.
//  2. Without any phonetic candidate, plain Jaro-Winkler similarity is tried
//     against all names with a stricter threshold.
//
// The highest-scoring name wins; ties keep the earlier name.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a Matcher.
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity for phonetic candidates.
// Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum similarity for non-phonetic matches.
// Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Best returns the index of the name in names that best matches query, with
// its score. ok is false when nothing clears the thresholds.
func (m *Matcher) Best(query string, names []string) (idx int, score float64, ok bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || len(names) == 0 {
		return -1, 0, false
	}
	qTokens := strings.Fields(q)
	qCodes := codes(qTokens)

	idx = -1
	phoneticHit := false
	for i, name := range names {
		n := strings.ToLower(strings.TrimSpace(name))
		if n == "" {
			continue
		}
		nTokens := strings.Fields(n)
		s := similarity(qTokens, nTokens, q, n)

		if overlap(qCodes, codes(nTokens)) {
			if s >= m.phoneticThreshold && (!phoneticHit || s > score) {
				idx, score, phoneticHit = i, s, true
			}
			continue
		}
		if !phoneticHit && s >= m.fuzzyThreshold && s > score {
			idx, score = i, s
		}
	}
	return idx, score, idx >= 0
}

// Match is Best returning the matched name itself.
func (m *Matcher) Match(query string, names []string) (string, float64, bool) {
	i, s, ok := m.Best(query, names)
	if !ok {
		return query, 0, false
	}
	return names[i], s, true
}

func codes(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			out[p] = struct{}{}
		}
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the full strings, the
// space-stripped strings and every token pair.
func similarity(qTokens, nTokens []string, q, n string) float64 {
	score := matchr.JaroWinkler(q, n, false)
	if len(qTokens) > 1 || len(nTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(qTokens, ""), strings.Join(nTokens, ""), false); s > score {
			score = s
		}
	}
	for _, a := range qTokens {
		for _, b := range nTokens {
			if s := matchr.JaroWinkler(a, b, false); s > score {
				score = s
			}
		}
	}
	return score
}

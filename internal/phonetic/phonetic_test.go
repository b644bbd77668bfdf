package phonetic_test

import (
	"testing"

	"github.com/MrWong99/hark/internal/phonetic"
)

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	names := []string{"John Smith", "Kathryn Miller", "Mom", "Dr. Alvarez"}
	tests := []struct {
		query   string
		want    string
		matched bool
	}{
		{query: "jon", want: "John Smith", matched: true},
		{query: "catherine", want: "Kathryn Miller", matched: true},
		{query: "MOM", want: "Mom", matched: true},
		{query: "alvares", want: "Dr. Alvarez", matched: true},
		{query: "pizza place", want: "pizza place", matched: false},
		{query: "   ", want: "   ", matched: false},
	}
	m := phonetic.New()
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			got, score, ok := m.Match(tt.query, names)
			if ok != tt.matched {
				t.Fatalf("Match(%q) matched = %v, want %v (got %q, %.2f)", tt.query, ok, tt.matched, got, score)
			}
			if got != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.query, got, tt.want)
			}
			if !ok && score != 0 {
				t.Errorf("unmatched score = %f, want 0", score)
			}
		})
	}
}

func TestMatcher_BestIndex(t *testing.T) {
	t.Parallel()

	idx, _, ok := phonetic.New().Best("smith", []string{"", "Jane Doe", "John Smith"})
	if !ok || idx != 2 {
		t.Errorf("Best = (%d, %v), want (2, true)", idx, ok)
	}
	if idx, _, ok := phonetic.New().Best("smith", nil); ok || idx != -1 {
		t.Errorf("Best on empty list = (%d, %v), want (-1, false)", idx, ok)
	}
}

func TestMatcher_Thresholds(t *testing.T) {
	t.Parallel()

	strict := phonetic.New(phonetic.WithPhoneticThreshold(0.99), phonetic.WithFuzzyThreshold(0.99))
	if _, _, ok := strict.Match("jon", []string{"John Smith"}); ok {
		t.Error("strict matcher should reject an approximate name")
	}
}

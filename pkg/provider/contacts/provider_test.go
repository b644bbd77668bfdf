package contacts

import "testing"

func TestLikePattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"john", "%john%"},
		{"  mary ann ", "%mary ann%"},
		{"100%", `%100\%%`},
		{"a_b", `%a\_b%`},
		{`back\slash`, `%back\\slash%`},
		{"", "%%"},
	}
	for _, tt := range tests {
		if got := LikePattern(tt.in); got != tt.want {
			t.Errorf("LikePattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

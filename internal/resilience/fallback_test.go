package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// detector is a stand-in provider that fails while err is set.
type detector struct {
	name  string
	err   error
	calls int
}

func (d *detector) answer(context.Context) (string, error) {
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	return d.name, nil
}

func newGroup(cfg FallbackConfig, ds ...*detector) *FallbackGroup[*detector] {
	fg := NewFallbackGroup(ds[0], ds[0].name, cfg)
	for _, d := range ds[1:] {
		fg.AddFallback(d.name, d)
	}
	return fg
}

func ask(ctx context.Context, fg *FallbackGroup[*detector]) (string, error) {
	return Call(ctx, fg, func(ctx context.Context, d *detector) (string, error) {
		return d.answer(ctx)
	})
}

func TestCall(t *testing.T) {
	t.Parallel()

	errDown := errors.New("unreachable")
	tests := []struct {
		name      string
		errs      []error // per detector
		want      string
		wantErr   error
		wantCalls []int
	}{
		{
			name:      "primary answers",
			errs:      []error{nil, nil},
			want:      "dialogflow",
			wantCalls: []int{1, 0},
		},
		{
			name:      "fails over in order",
			errs:      []error{errDown, errDown, nil},
			want:      "keyword",
			wantCalls: []int{1, 1, 1},
		},
		{
			name:      "all fail wraps the last error",
			errs:      []error{errTest, errDown},
			wantErr:   errDown,
			wantCalls: []int{1, 1},
		},
	}
	names := []string{"dialogflow", "llm", "keyword"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ds := make([]*detector, len(tt.errs))
			for i, err := range tt.errs {
				ds[i] = &detector{name: names[i], err: err}
			}
			got, err := ask(context.Background(), newGroup(FallbackConfig{}, ds...))

			if tt.wantErr != nil {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if got != tt.want {
				t.Errorf("answer = %q, want %q", got, tt.want)
			}
			calls := make([]int, len(ds))
			for i, d := range ds {
				calls[i] = d.calls
			}
			if diff := cmp.Diff(tt.wantCalls, calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCall_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	primary := &detector{name: "dialogflow", err: errTest}
	backup := &detector{name: "keyword"}
	fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{
		MaxFailures: 2, ResetTimeout: time.Minute, Now: clock.Now,
	}}, primary, backup)

	for range 4 {
		if got, err := ask(context.Background(), fg); err != nil || got != "keyword" {
			t.Fatalf("ask = %q, %v; want keyword", got, err)
		}
	}
	if primary.calls != 2 {
		t.Errorf("primary called %d times, want 2 before its breaker opened", primary.calls)
	}
	if s, _ := fg.State("dialogflow"); s != StateOpen {
		t.Errorf("primary breaker = %v, want open", s)
	}

	// Recovered primary is probed again after the reset timeout.
	primary.err = nil
	clock.Advance(time.Minute)
	if got, _ := ask(context.Background(), fg); got != "dialogflow" {
		t.Errorf("after reset timeout answer = %q, want dialogflow", got)
	}
}

func TestCall_StopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	primary := &detector{name: "dialogflow"}
	backup := &detector{name: "keyword"}
	fg := newGroup(FallbackConfig{}, primary, backup)

	_, err := Call(ctx, fg, func(ctx context.Context, d *detector) (string, error) {
		d.calls++
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times after cancellation, want 0", backup.calls)
	}
	if s, _ := fg.State("dialogflow"); s != StateClosed {
		t.Errorf("primary breaker = %v, want closed", s)
	}
}

func TestFallbackGroup_NamesAndState(t *testing.T) {
	t.Parallel()

	fg := newGroup(FallbackConfig{}, &detector{name: "dialogflow"}, &detector{name: "llm"})
	if diff := cmp.Diff([]string{"dialogflow", "llm"}, fg.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if _, ok := fg.State("keyword"); ok {
		t.Error("State(keyword) found an entry that was never added")
	}
}

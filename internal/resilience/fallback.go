package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/hark/internal/observe"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] succeeded. The
// last entry's error is wrapped alongside it so callers can still match
// sentinels such as nlu.ErrMalformed.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the breaker created for every group entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds providers of one kind in the order they are tried.
// Entries are added during construction; Call may then be used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: fallback, breaker: NewCircuitBreaker(cb)})
}

// Call runs fn against each entry in order until one succeeds, skipping
// entries whose breaker is open. Once ctx is done no further entries are
// tried and the current error is returned as is.
func Call[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		e := &fg.entries[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var res R
		err := e.breaker.Call(ctx, func(ctx context.Context) error {
			var err error
			res, err = fn(ctx, e.value)
			return err
		})
		switch {
		case err == nil:
			return res, nil
		case ctx.Err() != nil:
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("provider skipped, circuit open", "provider", e.name)
		default:
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// State returns the breaker state of the named entry.
func (fg *FallbackGroup[T]) State(name string) (State, bool) {
	for _, e := range fg.entries {
		if e.name == name {
			return e.breaker.State(), true
		}
	}
	return StateClosed, false
}

// exportState chains a gauge update for "<kind>/<entry>" in front of any
// state callback already set in cfg.
func exportState(cfg FallbackConfig, m *observe.Metrics, kind string) FallbackConfig {
	user := cfg.CircuitBreaker.OnStateChange
	cfg.CircuitBreaker.OnStateChange = func(name string, s State) {
		m.CircuitState.Record(context.Background(), int64(s),
			metric.WithAttributes(observe.Attr("breaker", kind+"/"+name)))
		if user != nil {
			user(name, s)
		}
	}
	return cfg
}

// recordCall counts one provider request and, on failure, one provider error.
func recordCall(ctx context.Context, m *observe.Metrics, provider, kind string, err error) {
	if err != nil {
		m.RecordProviderRequest(ctx, provider, kind, "error")
		m.RecordProviderError(ctx, provider, kind)
		return
	}
	m.RecordProviderRequest(ctx, provider, kind, "ok")
}

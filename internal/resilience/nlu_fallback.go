package resilience

import (
	"context"
	"errors"
	"io"

	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/pkg/provider/nlu"
)

// NLUFallback implements [nlu.Provider] with automatic failover across
// several intent detectors. Each detector has its own circuit breaker whose
// state is exported as the hark.circuit.state gauge.
//
// Malformed responses fail over like any other error. When every detector
// fails the returned error wraps both [ErrAllFailed] and the last detector's
// error, so a final nlu.ErrMalformed is still recognisable.
type NLUFallback struct {
	group   *FallbackGroup[namedNLU]
	metrics *observe.Metrics
}

// namedNLU carries the entry name into the per-call metrics.
type namedNLU struct {
	name string
	nlu.Provider
}

var (
	_ nlu.Provider = (*NLUFallback)(nil)
	_ io.Closer    = (*NLUFallback)(nil)
)

// NewNLUFallback creates an [NLUFallback] with primary as the preferred
// detector. A nil metrics uses observe.DefaultMetrics().
func NewNLUFallback(primary nlu.Provider, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *NLUFallback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	f := &NLUFallback{metrics: metrics}
	f.group = NewFallbackGroup(namedNLU{primaryName, primary}, primaryName, exportState(cfg, metrics, "nlu"))
	return f
}

// AddFallback registers an additional detector tried after the earlier ones.
func (f *NLUFallback) AddFallback(name string, p nlu.Provider) {
	f.group.AddFallback(name, namedNLU{name, p})
}

// Names returns the detector names in the order they are tried.
func (f *NLUFallback) Names() []string {
	return f.group.Names()
}

// DetectIntent asks the first healthy detector.
func (f *NLUFallback) DetectIntent(ctx context.Context, q nlu.Query) (nlu.Result, error) {
	return Call(ctx, f.group, func(ctx context.Context, p namedNLU) (nlu.Result, error) {
		res, err := p.DetectIntent(ctx, q)
		recordCall(ctx, f.metrics, p.name, "nlu", err)
		return res, err
	})
}

// Close closes every detector that holds resources.
func (f *NLUFallback) Close() error {
	var errs []error
	for _, e := range f.group.entries {
		if c, ok := e.value.Provider.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

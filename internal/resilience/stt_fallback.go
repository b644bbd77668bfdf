package resilience

import (
	"context"

	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across transcription
// backends, typically a cloud streaming service backed by a local whisper
// model. Only opening the stream fails over; an established session that
// breaks surfaces as a recognition error and the next listening cycle starts
// over from the primary.
type STTFallback struct {
	group   *FallbackGroup[namedSTT]
	metrics *observe.Metrics
}

type namedSTT struct {
	name string
	stt.Provider
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend. A nil metrics uses observe.DefaultMetrics().
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *STTFallback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	f := &STTFallback{metrics: metrics}
	f.group = NewFallbackGroup(namedSTT{primaryName, primary}, primaryName, exportState(cfg, metrics, "stt"))
	return f
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, namedSTT{name, provider})
}

// StartStream opens a session on the first healthy provider.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Call(ctx, f.group, func(ctx context.Context, p namedSTT) (stt.SessionHandle, error) {
		h, err := p.StartStream(ctx, cfg)
		recordCall(ctx, f.metrics, p.name, "stt", err)
		return h, err
	})
}

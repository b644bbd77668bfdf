// Package gesture detects shake gestures in a stream of accelerometer
// samples.
//
// The detector evaluates at most one sample per MinInterval of sample time.
// For each evaluated sample it computes
//
//	speed = |Δx + Δy + Δz| / elapsedMs * 10000
//
// against the previously evaluated sample and reports a shake when speed
// exceeds the threshold. The value is a scaled first difference of the axis
// sum, not a physical speed; tuned thresholds depend on this exact formula.
package gesture

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/pkg/provider/sensor"
)

// Detector defaults.
const (
	DefaultThreshold   = 800.0
	DefaultMinInterval = 100 * time.Millisecond
	defaultBackoff     = 500 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
	eventBuffer        = 16
)

// ErrAlreadyRunning is returned by Run when the detector is already running.
var ErrAlreadyRunning = errors.New("gesture: detector already running")

// Event is a detected shake.
type Event struct {
	// Speed is the computed shake speed that crossed the threshold.
	Speed float64

	// Sample is the reading that triggered the event.
	Sample sensor.Sample

	// Time is the sample timestamp.
	Time time.Time
}

// Handler receives shake events. Handlers run on the detector goroutine and
// must not block.
type Handler func(ctx context.Context, e Event)

// Option configures a Detector.
type Option func(*Detector)

// WithThreshold sets the speed above which a shake is reported.
func WithThreshold(v float64) Option {
	return func(d *Detector) { d.threshold = v }
}

// WithMinInterval sets the minimum sample-time spacing between evaluations.
func WithMinInterval(iv time.Duration) Option {
	return func(d *Detector) { d.interval = iv }
}

// WithBackoff sets the initial and maximum delay between sensor
// re-subscriptions.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(d *Detector) {
		d.backoff = initial
		d.maxBackoff = maxDelay
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// Detector turns accelerometer samples into shake events. Observe is safe for
// concurrent use, though samples are expected in time order.
type Detector struct {
	interval   time.Duration
	backoff    time.Duration
	maxBackoff time.Duration
	log        *slog.Logger
	metrics    *observe.Metrics

	mu        sync.Mutex
	threshold float64
	limiter   *rate.Limiter
	prev      sensor.Sample
	hasPrev   bool
	handlers  []Handler
	running   bool

	events chan Event
}

// New creates a Detector.
func New(opts ...Option) *Detector {
	d := &Detector{
		threshold:  DefaultThreshold,
		interval:   DefaultMinInterval,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
		log:        slog.Default(),
		events:     make(chan Event, eventBuffer),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.limiter = rate.NewLimiter(rate.Every(d.interval), 1)
	return d
}

// SetThreshold changes the shake threshold at runtime.
func (d *Detector) SetThreshold(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = v
}

// Threshold returns the current shake threshold.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// OnShake registers a handler invoked for every event Run detects.
func (d *Detector) OnShake(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Events returns the event channel fed by Run. When the buffer is full the
// oldest event is discarded. The channel is closed when Run returns.
func (d *Detector) Events() <-chan Event { return d.events }

// Observe evaluates one sample. The first sample only establishes the
// baseline. Samples arriving sooner than the minimum interval after the last
// evaluated one are ignored.
func (d *Detector) Observe(s sensor.Sample) (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.limiter.AllowN(s.Time, 1) {
		return Event{}, false
	}
	if !d.hasPrev {
		d.prev, d.hasPrev = s, true
		return Event{}, false
	}

	elapsedMs := float64(s.Time.Sub(d.prev.Time)) / float64(time.Millisecond)
	delta := s.X + s.Y + s.Z - d.prev.X - d.prev.Y - d.prev.Z
	d.prev = s
	if elapsedMs <= 0 {
		return Event{}, false
	}

	speed := math.Abs(delta) / elapsedMs * 10000
	if speed <= d.threshold {
		return Event{}, false
	}
	return Event{Speed: speed, Sample: s, Time: s.Time}, true
}

// Run subscribes to src and evaluates its samples until ctx is cancelled.
// A sensor stream that ends or fails to open is re-subscribed with
// exponential backoff. Run returns nil once ctx is done.
func (d *Detector) Run(ctx context.Context, src sensor.Provider) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.mu.Unlock()
	defer close(d.events)

	delay := d.backoff
	for {
		samples, err := src.Subscribe(ctx)
		if err == nil {
			if d.consume(ctx, samples) {
				delay = d.backoff
			}
		} else if ctx.Err() == nil {
			d.log.Warn("gesture: sensor subscribe failed", "err", err, "retry_in", delay)
		}

		if ctx.Err() != nil {
			return nil
		}
		d.log.Debug("gesture: sensor stream ended, re-subscribing", "retry_in", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, d.maxBackoff)
	}
}

// consume reads samples until the channel closes or ctx is done. It reports
// whether any sample arrived.
func (d *Detector) consume(ctx context.Context, samples <-chan sensor.Sample) bool {
	got := false
	for {
		select {
		case <-ctx.Done():
			return got
		case s, ok := <-samples:
			if !ok {
				return got
			}
			got = true
			if ev, shake := d.Observe(s); shake {
				d.publish(ctx, ev)
			}
		}
	}
}

func (d *Detector) publish(ctx context.Context, ev Event) {
	d.metrics.GestureShakes.Add(ctx, 1)
	d.log.Debug("gesture: shake", "speed", ev.Speed)

	select {
	case d.events <- ev:
	default:
		// Drop the oldest event to make room.
		select {
		case <-d.events:
		default:
		}
		select {
		case d.events <- ev:
		default:
		}
	}

	d.mu.Lock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.Unlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}

// Package loop runs the continuous voice-command cycle: listen, recognize,
// resolve, act, and listen again.
//
// A single owner goroutine drives the [Controller]. Every recognizer
// outcome, resolution and action result is handled on that goroutine, so the
// loop state has exactly one writer. At most one recognition session exists
// at any time; the previous session has released the microphone before the
// next one starts.
//
// Recognizer errors and resolution failures restart listening. Action
// failures are spoken and listening resumes. Only a stop intent, Stop, or
// cancellation of the start context ends the loop.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hark/internal/dispatch"
	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/recognition"
	"github.com/MrWong99/hark/internal/speech"
)

// State is the controller state.
type State int

const (
	// Idle: no session is held, before Start and while a restart is pending.
	Idle State = iota
	// Listening: exactly one recognition session is active.
	Listening
	Resolving
	Acting
	Stopping
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Resolving:
		return "resolving"
	case Acting:
		return "acting"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrAlreadyStarted is returned by Start on a running controller.
	ErrAlreadyStarted = errors.New("loop: already started")

	// ErrStopped is returned by Start after the controller has stopped.
	ErrStopped = errors.New("loop: controller stopped")
)

// Resolver turns transcripts into intents.
type Resolver interface {
	Resolve(ctx context.Context, transcript string) (intent.Resolved, error)
	Close() error
}

// Dispatcher acts on resolved intents.
type Dispatcher interface {
	Dispatch(ctx context.Context, r intent.Resolved) dispatch.ActionResult
}

// Speaker reads acknowledgments out loud.
type Speaker interface {
	Speak(ctx context.Context, text string, policy speech.FlushPolicy, utteranceID string) (string, error)
	Close() error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithRecognizerConfig sets the per-session recognizer configuration.
func WithRecognizerConfig(cfg recognition.Config) Option {
	return func(c *Controller) { c.recCfg = cfg }
}

// WithStateObserver registers fn to be called on the owner goroutine after
// every state transition.
func WithStateObserver(fn func(State)) Option {
	return func(c *Controller) { c.observer = fn }
}

// WithRestartDelay pauses before listening again after a failed or empty
// session. Zero restarts immediately.
func WithRestartDelay(d time.Duration) Option {
	return func(c *Controller) { c.restartDelay = d }
}

// Controller owns the recognizer, resolver and speaker for the lifetime of
// the loop and releases all three when it stops.
type Controller struct {
	rec  recognition.Recognizer
	res  Resolver
	disp Dispatcher
	spk  Speaker

	recCfg       recognition.Config
	log          *slog.Logger
	metrics      *observe.Metrics
	observer     func(State)
	restartDelay time.Duration

	mu      sync.Mutex
	state   State
	started bool
	cancel  context.CancelFunc

	done        chan struct{}
	releaseOnce sync.Once
	releaseErr  error
}

// New creates an idle Controller.
func New(rec recognition.Recognizer, res Resolver, disp Dispatcher, spk Speaker, opts ...Option) *Controller {
	c := &Controller{
		rec:    rec,
		res:    res,
		disp:   disp,
		spk:    spk,
		recCfg: recognition.Config{LanguageModel: "free_form", PartialResults: true},
		log:    slog.Default(),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Start begins listening. The loop runs until a stop intent, Stop, or
// cancellation of ctx.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		if c.state == Stopping {
			return ErrStopped
		}
		return ErrAlreadyStarted
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.log.Info("loop: starting", "locale", c.recCfg.Locale, "partial_results", c.recCfg.PartialResults)
	go c.run(ctx)
	return nil
}

// Stop cancels any in-flight session, resolution or speech, waits for the
// loop to finish and returns the result of releasing its resources. Safe to
// call more than once and before Start.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.started = true
		c.mu.Unlock()
		c.setState(Stopping)
		c.release()
		close(c.done)
		return c.releaseErr
	}
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case <-c.done:
		return c.releaseErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the loop has stopped and released its resources.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.Debug("loop: state", "from", prev.String(), "to", s.String())
	}
	if c.observer != nil {
		c.observer(s)
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	defer c.release()
	defer c.setState(Stopping)
	defer c.cancel()

	first := true
	for ctx.Err() == nil {
		if !first {
			c.metrics.LoopRestarts.Add(ctx, 1)
		}
		first = false

		if c.iterate(ctx) {
			c.log.Info("loop: stop requested")
			return
		}
	}
}

// iterate runs one listen-resolve-act cycle and reports whether the loop
// should stop.
func (c *Controller) iterate(ctx context.Context) (stop bool) {
	ctx, span := observe.StartSpan(ctx, "loop.iteration")
	defer span.End()

	transcript, ok := c.listen(ctx)
	if !ok {
		if ctx.Err() == nil {
			c.setState(Idle)
		}
		c.pause(ctx)
		return false
	}
	span.SetAttributes(attribute.Int("transcript.length", len(transcript)))

	c.setState(Resolving)
	resolved, ok := c.resolve(ctx, transcript)
	if !ok {
		c.pause(ctx)
		return false
	}

	c.setState(Acting)
	result := c.act(ctx, resolved)
	c.speak(ctx, result.Spoken)
	return result.Effect == dispatch.EffectStopService
}

// listen runs one recognition session and returns its final transcript.
// The controller reports Listening only while the recognizer holds the
// session.
func (c *Controller) listen(ctx context.Context) (string, bool) {
	var active bool
	sess := recognition.NewSession(c.rec, c.recCfg,
		recognition.WithSessionLogger(c.log),
		recognition.WithOnStarted(func() {
			active = true
			c.metrics.RecognitionActive.Add(ctx, 1)
			c.setState(Listening)
		}),
	)
	c.metrics.RecognitionSessions.Add(ctx, 1)
	defer func() {
		if active {
			c.metrics.RecognitionActive.Add(context.WithoutCancel(ctx), -1)
		}
	}()
	defer sess.Stop()

	outcomes, err := sess.Start(ctx)
	if err != nil {
		c.log.Warn("loop: session start", "err", err)
		return "", false
	}
	for o := range outcomes {
		switch o.Kind {
		case recognition.KindReady:
			c.log.Debug("loop: ready for speech")
		case recognition.KindStarted:
			c.log.Debug("loop: speech started")
		case recognition.KindPartial:
			c.log.Debug("loop: partial", "text", o.Text)
		case recognition.KindFinal:
			observe.WithTrace(ctx, c.log).Info("loop: heard", "text", o.Text)
			return o.Text, true
		case recognition.KindEnded:
			c.log.Debug("loop: session ended without transcript")
			return "", false
		case recognition.KindError:
			if ctx.Err() != nil {
				return "", false
			}
			c.metrics.RecordRecognitionError(ctx, o.Err.Kind.String())
			c.log.Warn("loop: recognizer error, restarting",
				"kind", o.Err.Kind.String(),
				"description", o.Err.Kind.Description(),
				"err", o.Err.Cause,
			)
			return "", false
		}
	}
	return "", false
}

func (c *Controller) resolve(ctx context.Context, transcript string) (intent.Resolved, bool) {
	ctx, span := observe.StartSpan(ctx, "intent.resolve")
	defer span.End()

	start := time.Now()
	r, err := c.res.Resolve(ctx, transcript)
	c.metrics.ResolveDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.Fail(span, err, "resolution failed")
		if ctx.Err() != nil {
			return intent.Resolved{}, false
		}
		kind := "unreachable"
		var re *intent.ResolutionError
		if errors.As(err, &re) {
			kind = re.Kind.String()
		}
		c.metrics.RecordResolveError(ctx, kind)
		observe.WithTrace(ctx, c.log).Warn("loop: resolution failed, restarting", "kind", kind, "err", err)
		return intent.Resolved{}, false
	}
	span.SetAttributes(attribute.String("intent", r.Name.String()))
	return r, true
}

func (c *Controller) act(ctx context.Context, r intent.Resolved) dispatch.ActionResult {
	ctx, span := observe.StartSpan(ctx, "dispatch.act",
		trace.WithAttributes(attribute.String("intent", r.Name.String())),
	)
	defer span.End()

	result := c.disp.Dispatch(ctx, r)
	span.SetAttributes(attribute.String("effect", result.Effect.String()))
	if result.Err != nil {
		span.RecordError(result.Err)
	}
	return result
}

func (c *Controller) speak(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if _, err := c.spk.Speak(ctx, text, speech.Flush, ""); err != nil && ctx.Err() == nil {
		c.log.Warn("loop: speech failed", "err", err)
	}
}

func (c *Controller) pause(ctx context.Context) {
	if c.restartDelay <= 0 {
		return
	}
	t := time.NewTimer(c.restartDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// release closes the recognizer (if closable), the speaker and the resolver.
// Every release runs even if an earlier one fails.
func (c *Controller) release() {
	c.releaseOnce.Do(func() {
		var errs []error
		if cl, ok := c.rec.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, fmt.Errorf("loop: release recognizer: %w", err))
			}
		}
		if err := c.spk.Close(); err != nil {
			errs = append(errs, fmt.Errorf("loop: release speaker: %w", err))
		}
		if err := c.res.Close(); err != nil {
			errs = append(errs, fmt.Errorf("loop: release resolver: %w", err))
		}
		c.releaseErr = errors.Join(errs...)
		if c.releaseErr != nil {
			c.log.Warn("loop: release", "err", c.releaseErr)
		} else {
			c.log.Info("loop: stopped")
		}
	})
}

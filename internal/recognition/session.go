package recognition

import (
	"context"
	"log/slog"
	"sync"
)

// Config carries the per-session recognizer settings.
type Config struct {
	// LanguageModel names the recognizer model family, e.g. "free_form".
	LanguageModel string

	// Locale is the BCP-47 tag the recognizer should expect.
	Locale string

	// PartialResults enables interim hypotheses.
	PartialResults bool
}

// Recognizer is a speech recognizer that can run one listening cycle per
// StartListening call.
//
// The returned channel is closed once the recognizer has released all its
// resources. Cancelling ctx must make the recognizer wind down promptly.
// StartListening returns an error if the cycle could not begin at all; the
// error is classified with [Classify].
type Recognizer interface {
	StartListening(ctx context.Context, cfg Config) (<-chan Outcome, error)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the logger. Defaults to slog.Default().
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithOnStarted registers fn to run once the recognizer has accepted the
// cycle, before any outcome is delivered. It does not run when the
// recognizer fails to start.
func WithOnStarted(fn func()) SessionOption {
	return func(s *Session) { s.onStarted = fn }
}

// Session is a single-use recognition cycle.
//
// The outcome stream delivered by Start obeys the following rules regardless
// of how the underlying recognizer behaves:
//
//   - Ready, Started and Final are each delivered at most once.
//   - Partials are delivered only when enabled and never after Final.
//   - Ended and Error are terminal: the stream closes right after either.
//   - A recognizer that stops without a terminal outcome yields Error(client).
//   - After Stop returns nothing more is delivered.
type Session struct {
	rec       Recognizer
	cfg       Config
	log       *slog.Logger
	onStarted func()

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSession prepares a session; no resources are claimed until Start.
func NewSession(rec Recognizer, cfg Config, opts ...SessionOption) *Session {
	s := &Session{
		rec:  rec,
		cfg:  cfg,
		log:  slog.Default(),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins listening and returns the outcome stream. A failure to start
// the recognizer is reported as an Error outcome on the stream. Calling Start
// a second time returns ErrSessionUsed.
func (s *Session) Start(ctx context.Context) (<-chan Outcome, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrSessionUsed
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	out := make(chan Outcome)
	raw, err := s.rec.StartListening(ctx, s.cfg)
	if err != nil {
		s.log.Warn("recognition: start failed", "err", err)
		go func() {
			defer close(s.done)
			defer close(out)
			defer cancel()
			select {
			case out <- Failed(Classify(err), err):
			case <-ctx.Done():
			}
		}()
		return out, nil
	}
	if s.onStarted != nil {
		s.onStarted()
	}
	go s.forward(ctx, raw, out)
	return out, nil
}

// Stop cancels the session and waits until the recognizer has released its
// resources. Safe to call before Start and more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.started = true
		close(s.done)
	}
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-s.done
}

// Done is closed once the session has fully wound down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) forward(ctx context.Context, raw <-chan Outcome, out chan<- Outcome) {
	defer close(s.done)
	defer close(out)
	defer func() {
		// The recognizer closes raw once its resources are released.
		s.cancel()
		for range raw {
		}
	}()

	var ready, started, final bool
	emit := func(o Outcome) bool {
		select {
		case out <- o:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var o Outcome
		var ok bool
		select {
		case <-ctx.Done():
			return
		case o, ok = <-raw:
		}
		if !ok {
			if ctx.Err() == nil {
				s.log.Warn("recognition: recognizer stream lost")
				emit(Failed(ErrorClient, ErrStreamLost))
			}
			return
		}

		switch o.Kind {
		case KindReady:
			if ready {
				continue
			}
			ready = true
		case KindStarted:
			if started {
				continue
			}
			started = true
		case KindPartial:
			if !s.cfg.PartialResults || final {
				continue
			}
		case KindFinal:
			if final {
				continue
			}
			final = true
		case KindError:
			if o.Err == nil {
				o.Err = &Error{Kind: ErrorClient}
			}
		case KindEnded:
		default:
			continue
		}

		if o.Kind == KindError {
			s.log.Debug("recognition: error", "kind", o.Err.Kind.String(), "description", o.Err.Kind.Description(), "err", o.Err.Cause)
		}
		if !emit(o) || o.Terminal() {
			return
		}
	}
}

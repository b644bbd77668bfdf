// Package mock provides a scripted recognition.Recognizer for tests.
//
// Each StartListening call consumes the next entry of Scripts and plays its
// outcomes in order. With Hold set the stream then stays open until the
// context is cancelled, like a recognizer still listening for speech.
//
// Example:
//
//	r := &mock.Recognizer{Scripts: []mock.Script{{
//		Outcomes: []recognition.Outcome{recognition.Ready(), recognition.Final("open camera"), recognition.Ended()},
//	}}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hark/internal/recognition"
)

// Script describes one listening cycle.
type Script struct {
	// StartErr, if non-nil, is returned by StartListening.
	StartErr error

	// Outcomes are sent in order.
	Outcomes []recognition.Outcome

	// Hold keeps the stream open after Outcomes until ctx is cancelled.
	Hold bool
}

// Recognizer is a mock implementation of recognition.Recognizer.
type Recognizer struct {
	mu     sync.Mutex
	active int
	peak   int

	// Scripts are consumed one per StartListening call. Once exhausted every
	// cycle holds without emitting anything.
	Scripts []Script

	// Configs records the Config of every StartListening call.
	Configs []recognition.Config
}

// StartListening plays the next script.
func (r *Recognizer) StartListening(ctx context.Context, cfg recognition.Config) (<-chan recognition.Outcome, error) {
	r.mu.Lock()
	r.Configs = append(r.Configs, cfg)
	s := Script{Hold: true}
	if len(r.Scripts) > 0 {
		s = r.Scripts[0]
		r.Scripts = r.Scripts[1:]
	}
	if s.StartErr != nil {
		r.mu.Unlock()
		return nil, s.StartErr
	}
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	r.mu.Unlock()

	out := make(chan recognition.Outcome)
	go func() {
		defer func() {
			r.mu.Lock()
			r.active--
			r.mu.Unlock()
			close(out)
		}()
		for _, o := range s.Outcomes {
			select {
			case out <- o:
			case <-ctx.Done():
				return
			}
		}
		if s.Hold {
			<-ctx.Done()
		}
	}()
	return out, nil
}

// Starts returns the number of StartListening calls. Thread-safe.
func (r *Recognizer) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Configs)
}

// Active returns the number of cycles currently running. Thread-safe.
func (r *Recognizer) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// PeakActive returns the highest number of concurrently running cycles.
func (r *Recognizer) PeakActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

var _ recognition.Recognizer = (*Recognizer)(nil)

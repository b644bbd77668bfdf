// Package mock provides test doubles for the vad package interfaces.
//
// Session replays a scripted sequence of events, one per ProcessFrame call,
// and then keeps returning Default.
//
// Example:
//
//	sess := &mock.Session{Script: []vad.EventType{vad.Silence, vad.SpeechStart}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/hark/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, NewSessionFunc is used, and
	// if that is nil an empty Session.
	Session vad.SessionHandle

	// NewSessionFunc builds a fresh session per call when Session is nil.
	NewSessionFunc func(cfg vad.Config) vad.SessionHandle

	// NewSessionErr, if non-nil, is returned by NewSession.
	NewSessionErr error

	// NewSessionCalls records every Config passed to NewSession.
	NewSessionCalls []vad.Config
}

// NewSession records the call and returns the configured session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	if e.NewSessionFunc != nil {
		return e.NewSessionFunc(cfg), nil
	}
	return &Session{}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Script is consumed one event per ProcessFrame call.
	Script []vad.EventType

	// Default is returned once Script is exhausted.
	Default vad.EventType

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	// Frames counts ProcessFrame calls.
	Frames int

	// ResetCalls and CloseCalls count the respective calls.
	ResetCalls int
	CloseCalls int
}

// ProcessFrame returns the next scripted event.
func (s *Session) ProcessFrame([]byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames++
	if s.ProcessFrameErr != nil {
		return vad.Event{}, s.ProcessFrameErr
	}
	typ := s.Default
	if len(s.Script) > 0 {
		typ = s.Script[0]
		s.Script = s.Script[1:]
	}
	p := 0.0
	if typ == vad.SpeechStart || typ == vad.SpeechContinue {
		p = 1
	}
	return vad.Event{Type: typ, Probability: p}, nil
}

// Reset records the call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

var _ vad.SessionHandle = (*Session)(nil)

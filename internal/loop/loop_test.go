package loop_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/MrWong99/hark/internal/dispatch"
	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/loop"
	"github.com/MrWong99/hark/internal/recognition"
	recmock "github.com/MrWong99/hark/internal/recognition/mock"
	"github.com/MrWong99/hark/internal/speech"
	"github.com/MrWong99/hark/pkg/provider/contacts"
	contactsmock "github.com/MrWong99/hark/pkg/provider/contacts/mock"
	"github.com/MrWong99/hark/pkg/provider/nlu"
	nlumock "github.com/MrWong99/hark/pkg/provider/nlu/mock"
	"github.com/MrWong99/hark/pkg/provider/telephony"
	telmock "github.com/MrWong99/hark/pkg/provider/telephony/mock"
)

// ── fakes ──────────────────────────────────────────────────────────────────

type fakeSpeaker struct {
	mu       sync.Mutex
	spoken   []string
	closeErr error
	closed   int
}

func (s *fakeSpeaker) Speak(_ context.Context, text string, _ speech.FlushPolicy, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return id, nil
}

func (s *fakeSpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.closeErr
}

func (s *fakeSpeaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type closingResolver struct {
	*intent.Resolver
	closeErr error
	closed   int
}

func (r *closingResolver) Close() error {
	r.closed++
	return r.closeErr
}

type closingRecognizer struct {
	*recmock.Recognizer
	closeErr error
	closed   int
}

func (r *closingRecognizer) Close() error {
	r.closed++
	return r.closeErr
}

type countingDispatcher struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDispatcher) Dispatch(context.Context, intent.Resolved) dispatch.ActionResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return dispatch.ActionResult{}
}

type stateLog struct {
	mu     sync.Mutex
	states []loop.State
}

func (l *stateLog) record(s loop.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) snapshot() []loop.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]loop.State(nil), l.states...)
}

// ── helpers ────────────────────────────────────────────────────────────────

func utterance(text string) recmock.Script {
	return recmock.Script{Outcomes: []recognition.Outcome{
		recognition.Ready(), recognition.Started(), recognition.Final(text), recognition.Ended(),
	}}
}

// keywordNLU maps a few transcripts to intents the way a trained agent would.
func keywordNLU() *nlumock.Provider {
	return &nlumock.Provider{DetectFunc: func(_ context.Context, q nlu.Query) (nlu.Result, error) {
		switch q.Text {
		case "call john":
			return nlu.Result{IntentName: "CallContactIntent", Parameters: map[string]string{"contact": "john"}, QueryText: q.Text}, nil
		case "stop":
			return nlu.Result{IntentName: "StopAssistantIntent", QueryText: q.Text}, nil
		default:
			return nlu.Result{IntentName: "Default Fallback Intent", QueryText: q.Text}, nil
		}
	}}
}

func newDispatcher() (*dispatch.Dispatcher, *telmock.Provider) {
	phone := &telmock.Provider{Accounts: []telephony.Account{{ID: "sim1"}}}
	book := &contactsmock.Provider{Contacts: []contacts.Contact{{Name: "John", PhoneNumber: "+15550100"}}}
	return dispatch.New(book, phone, noCamera{}), phone
}

type noCamera struct{}

func (noCamera) OpenCamera(context.Context) error { return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// ── tests ──────────────────────────────────────────────────────────────────

func TestController_CallScenario(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &recmock.Recognizer{Scripts: []recmock.Script{utterance("Call John")}}
	disp, phone := newDispatcher()
	spk := &fakeSpeaker{}
	states := &stateLog{}

	c := loop.New(rec, intent.NewResolver(keywordNLU()), disp, spk, loop.WithStateObserver(states.record))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "second session", func() bool { return rec.Starts() == 2 })
	waitFor(t, "listening", func() bool { return c.State() == loop.Listening })

	if diff := cmp.Diff([]string{"Calling john."}, spk.Spoken()); diff != "" {
		t.Errorf("spoken mismatch (-want +got):\n%s", diff)
	}
	if calls := phone.Calls(); len(calls) != 1 || calls[0].Number != "+15550100" {
		t.Errorf("calls = %+v", calls)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	want := []loop.State{loop.Listening, loop.Resolving, loop.Acting, loop.Listening, loop.Stopping}
	if diff := cmp.Diff(want, states.snapshot()); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
	if got := rec.PeakActive(); got != 1 {
		t.Errorf("PeakActive = %d, want 1", got)
	}
	if got := rec.Active(); got != 0 {
		t.Errorf("Active after Stop = %d, want 0", got)
	}
	if spk.closed != 1 {
		t.Errorf("speaker closed %d times, want 1", spk.closed)
	}
}

func TestController_StopIntent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &recmock.Recognizer{Scripts: []recmock.Script{utterance("Stop")}}
	disp, _ := newDispatcher()
	spk := &fakeSpeaker{}
	states := &stateLog{}

	c := loop.New(rec, intent.NewResolver(keywordNLU()), disp, spk, loop.WithStateObserver(states.record))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not stop after stop intent")
	}

	if got := c.State(); got != loop.Stopping {
		t.Errorf("State = %s, want stopping", got)
	}
	if diff := cmp.Diff([]string{"Goodbye!"}, spk.Spoken()); diff != "" {
		t.Errorf("spoken mismatch (-want +got):\n%s", diff)
	}
	if got := rec.Starts(); got != 1 {
		t.Errorf("sessions started = %d, want 1", got)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop after stop intent: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, loop.ErrStopped) {
		t.Errorf("Start after stop err = %v, want ErrStopped", err)
	}
}

func TestController_RestartsAfterRecognizerErrors(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	netErr := recmock.Script{Outcomes: []recognition.Outcome{
		recognition.Ready(), recognition.Failed(recognition.ErrorNetwork, errors.New("connection reset")),
	}}
	scripts := []recmock.Script{
		netErr, netErr, netErr,
		{Outcomes: []recognition.Outcome{recognition.Ready(), recognition.Ended()}},
		{StartErr: errors.New("mic busy")},
		{Outcomes: []recognition.Outcome{recognition.Ready()}},
	}
	rec := &recmock.Recognizer{Scripts: scripts}
	disp := &countingDispatcher{}
	nluProv := keywordNLU()

	c := loop.New(rec, intent.NewResolver(nluProv), disp, &fakeSpeaker{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "seventh session", func() bool { return rec.Starts() >= 7 })
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := rec.PeakActive(); got != 1 {
		t.Errorf("PeakActive = %d, want 1", got)
	}
	if len(nluProv.Calls()) != 0 || disp.calls != 0 {
		t.Error("resolver or dispatcher invoked without a transcript")
	}
}

func TestController_ListeningHoldsOneSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	netErr := recmock.Script{Outcomes: []recognition.Outcome{
		recognition.Ready(), recognition.Failed(recognition.ErrorNetwork, errors.New("connection reset")),
	}}
	rec := &recmock.Recognizer{Scripts: []recmock.Script{
		netErr,
		{StartErr: errors.New("mic busy")},
		netErr,
	}}

	var (
		mu     sync.Mutex
		states []loop.State
		active []int // rec.Active() at each Listening transition
	)
	observer := func(s loop.State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
		if s == loop.Listening {
			active = append(active, rec.Active())
		}
	}

	c := loop.New(rec, intent.NewResolver(keywordNLU()), &countingDispatcher{}, &fakeSpeaker{},
		loop.WithRestartDelay(50*time.Millisecond), loop.WithStateObserver(observer))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "first restart delay", func() bool {
		return rec.Starts() == 1 && rec.Active() == 0 && c.State() == loop.Idle
	})
	waitFor(t, "fourth session", func() bool { return rec.Starts() == 4 && c.State() == loop.Listening })
	if got := rec.Active(); got != 1 {
		t.Errorf("Active while Listening = %d, want 1", got)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]int{1, 1, 1}, active); diff != "" {
		t.Errorf("sessions at Listening mismatch (-want +got):\n%s", diff)
	}
	want := []loop.State{
		loop.Listening, loop.Idle, // network error
		loop.Idle,                 // recognizer never started
		loop.Listening, loop.Idle, // network error
		loop.Listening, loop.Stopping,
	}
	if diff := cmp.Diff(want, states); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
}

func TestController_ResolutionErrorRestarts(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &recmock.Recognizer{Scripts: []recmock.Script{utterance("call john")}}
	disp := &countingDispatcher{}
	spk := &fakeSpeaker{}
	states := &stateLog{}

	res := intent.NewResolver(&nlumock.Provider{Err: errors.New("dial tcp: connection refused")})
	c := loop.New(rec, res, disp, spk, loop.WithStateObserver(states.record))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "second session", func() bool { return rec.Starts() == 2 })
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []loop.State{loop.Listening, loop.Resolving, loop.Listening, loop.Stopping}
	if diff := cmp.Diff(want, states.snapshot()); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
	if disp.calls != 0 {
		t.Errorf("dispatcher called %d times after resolution error", disp.calls)
	}
	if len(spk.Spoken()) != 0 {
		t.Errorf("spoke %q after resolution error", spk.Spoken())
	}
}

func TestController_StopCancelsInFlightResolve(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &recmock.Recognizer{Scripts: []recmock.Script{utterance("call john")}}
	block := make(chan struct{})
	defer close(block)
	nluProv := &nlumock.Provider{Block: block}

	c := loop.New(rec, intent.NewResolver(nluProv), &countingDispatcher{}, &fakeSpeaker{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "resolving", func() bool { return c.State() == loop.Resolving })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := rec.Starts(); got != 1 {
		t.Errorf("sessions started = %d, want 1", got)
	}
}

func TestController_ReleaseJoinsErrors(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	errRec := errors.New("recognizer close")
	errSpk := errors.New("speaker close")
	errRes := errors.New("resolver close")

	rec := &closingRecognizer{Recognizer: &recmock.Recognizer{}, closeErr: errRec}
	spk := &fakeSpeaker{closeErr: errSpk}
	res := &closingResolver{Resolver: intent.NewResolver(&nlumock.Provider{}), closeErr: errRes}

	c := loop.New(rec, res, &countingDispatcher{}, spk)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "listening", func() bool { return rec.Active() == 1 })

	err := c.Stop(context.Background())
	for _, want := range []error{errRec, errSpk, errRes} {
		if !errors.Is(err, want) {
			t.Errorf("Stop err = %v, missing %v", err, want)
		}
	}
	if rec.closed != 1 || spk.closed != 1 || res.closed != 1 {
		t.Errorf("closed recognizer=%d speaker=%d resolver=%d, want 1 each", rec.closed, spk.closed, res.closed)
	}
	if err2 := c.Stop(context.Background()); !errors.Is(err2, errSpk) {
		t.Errorf("second Stop err = %v, want same release error", err2)
	}
	if rec.closed != 1 {
		t.Error("resources released twice")
	}
}

func TestController_Lifecycle(t *testing.T) {
	t.Parallel()

	t.Run("start twice", func(t *testing.T) {
		t.Parallel()
		c := loop.New(&recmock.Recognizer{}, intent.NewResolver(&nlumock.Provider{}), &countingDispatcher{}, &fakeSpeaker{})
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer c.Stop(context.Background())
		if err := c.Start(context.Background()); !errors.Is(err, loop.ErrAlreadyStarted) {
			t.Errorf("second Start err = %v, want ErrAlreadyStarted", err)
		}
	})

	t.Run("stop before start", func(t *testing.T) {
		t.Parallel()
		spk := &fakeSpeaker{}
		rec := &recmock.Recognizer{}
		c := loop.New(rec, intent.NewResolver(&nlumock.Provider{}), &countingDispatcher{}, spk)
		if err := c.Stop(context.Background()); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if c.State() != loop.Stopping || spk.closed != 1 {
			t.Errorf("state=%s speaker closed=%d", c.State(), spk.closed)
		}
		if err := c.Start(context.Background()); !errors.Is(err, loop.ErrStopped) {
			t.Errorf("Start after Stop err = %v, want ErrStopped", err)
		}
		if rec.Starts() != 0 {
			t.Error("recognizer started after Stop")
		}
	})

	t.Run("parent cancel stops loop", func(t *testing.T) {
		t.Parallel()
		c := loop.New(&recmock.Recognizer{}, intent.NewResolver(&nlumock.Provider{}), &countingDispatcher{}, &fakeSpeaker{})
		ctx, cancel := context.WithCancel(context.Background())
		if err := c.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		cancel()
		select {
		case <-c.Done():
		case <-time.After(3 * time.Second):
			t.Fatal("loop still running after parent cancel")
		}
	})
}

func TestState_String(t *testing.T) {
	t.Parallel()
	got := []string{}
	for _, s := range []loop.State{loop.Idle, loop.Listening, loop.Resolving, loop.Acting, loop.Stopping, loop.State(9)} {
		got = append(got, s.String())
	}
	want := []string{"idle", "listening", "resolving", "acting", "stopping", "state(9)"}
	if !slices.Equal(got, want) {
		t.Errorf("String() = %v, want %v", got, want)
	}
}

package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/hark/internal/app"
	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/loop"
	"github.com/MrWong99/hark/pkg/audio"
	audiomock "github.com/MrWong99/hark/pkg/audio/mock"
	"github.com/MrWong99/hark/pkg/provider/contacts"
	contactsmock "github.com/MrWong99/hark/pkg/provider/contacts/mock"
	"github.com/MrWong99/hark/pkg/provider/nlu"
	nlumock "github.com/MrWong99/hark/pkg/provider/nlu/mock"
	"github.com/MrWong99/hark/pkg/provider/stt"
	sttmock "github.com/MrWong99/hark/pkg/provider/stt/mock"
	"github.com/MrWong99/hark/pkg/provider/telephony"
	telephonymock "github.com/MrWong99/hark/pkg/provider/telephony/mock"
	ttsmock "github.com/MrWong99/hark/pkg/provider/tts/mock"
	"github.com/MrWong99/hark/pkg/provider/vad"
	vadmock "github.com/MrWong99/hark/pkg/provider/vad/mock"
	"github.com/MrWong99/hark/pkg/types"
)

// testConfig returns a defaulted config naming mock providers.
func testConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			STT:       config.ProviderEntry{Name: "mock"},
			TTS:       config.ProviderEntry{Name: "mock"},
			Contacts:  config.ProviderEntry{Name: "mock"},
			Telephony: config.ProviderEntry{Name: "mock"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// testProviders returns mocks that never hear any speech.
func testProviders() *app.Providers {
	return &app.Providers{
		Audio:     &audio.Device{Source: &audiomock.Source{}, Sink: &audiomock.Sink{}},
		STT:       &sttmock.Provider{},
		TTS:       &ttsmock.Provider{},
		VAD:       &vadmock.Engine{},
		NLU:       &nlumock.Provider{},
		Contacts:  &contactsmock.Provider{Contacts: []contacts.Contact{{Name: "Mom", PhoneNumber: "+15550100"}}},
		Telephony: &telephonymock.Provider{Accounts: []telephony.Account{{ID: "sim0"}}},
	}
}

// speakingProviders returns mocks that hear utterances in order, one per
// listening cycle, and then only silence.
func speakingProviders(utterances ...string) *app.Providers {
	ps := testProviders()
	ps.Audio.Source = &audiomock.Source{NewCapture: func() *audiomock.Capture {
		frames := make([][]byte, 6)
		for i := range frames {
			frames[i] = []byte{byte(i), byte(i)}
		}
		return audiomock.NewCapture(frames, true)
	}}
	ps.VAD = &vadmock.Engine{NewSessionFunc: func(vad.Config) vad.SessionHandle {
		return &vadmock.Session{Script: []vad.EventType{
			vad.Silence, vad.SpeechStart, vad.SpeechContinue, vad.SpeechEnd,
		}}
	}}

	var mu sync.Mutex
	next := 0
	ps.STT = &sttmock.Provider{NewSessionFunc: func(stt.StreamConfig) stt.SessionHandle {
		mu.Lock()
		defer mu.Unlock()
		s := sttmock.NewSession()
		if next < len(utterances) {
			s.FinalsCh <- types.Transcript{Text: utterances[next], IsFinal: true}
			next++
		}
		return s
	}}
	return ps
}

// intentsByText answers from a fixed transcript → intent table.
func intentsByText(table map[string]nlu.Result) *nlumock.Provider {
	return &nlumock.Provider{DetectFunc: func(_ context.Context, q nlu.Query) (nlu.Result, error) {
		return table[q.Text], nil
	}}
}

func runApp(ctx context.Context, a *app.App) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	ps := testProviders()
	a, err := app.New(context.Background(), testConfig(), ps)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if got := a.State(); got != loop.Idle {
		t.Errorf("State() = %v, want idle", got)
	}

	src := ps.Audio.Source.(*audiomock.Source)
	if got := src.Opens(); got != 1 {
		t.Errorf("preflight opened microphone %d times, want 1", got)
	}
	if got := src.Active(); got != 0 {
		t.Errorf("preflight left %d captures open", got)
	}
	if got := ps.Telephony.(*telephonymock.Provider).AccountsCallCount; got != 1 {
		t.Errorf("CallCapableAccounts calls = %d, want 1", got)
	}
}

func TestNew_MicrophoneUnavailable(t *testing.T) {
	t.Parallel()

	ps := testProviders()
	ps.Audio.Source = &audiomock.Source{OpenErr: os.ErrPermission}

	_, err := app.New(context.Background(), testConfig(), ps)
	if !errors.Is(err, app.ErrMicrophoneUnavailable) {
		t.Fatalf("New() error = %v, want ErrMicrophoneUnavailable", err)
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Errorf("New() error = %v, want it to wrap os.ErrPermission", err)
	}
}

func TestNew_OtherPermissionsOnlyWarn(t *testing.T) {
	t.Parallel()

	ps := testProviders()
	ps.Contacts = &contactsmock.Provider{PingErr: errors.New("no contacts permission")}
	ps.Telephony = &telephonymock.Provider{AccountsErr: telephony.ErrPermissionDenied}
	cfg := testConfig()
	cfg.Launcher.CameraCommand = []string{"hark-test-no-such-camera-app"}

	if _, err := app.New(context.Background(), cfg, ps); err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
}

func TestNew_RecordingNeedsWritableDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Recording = config.RecordingConfig{Enabled: true, Directory: "recordings"}
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())

	if _, err := app.New(context.Background(), cfg, testProviders(), app.WithFs(fs)); err == nil {
		t.Fatal("New() with unusable recording directory returned nil error")
	}
}

func TestApp_RunStopsOnStopIntent(t *testing.T) {
	t.Parallel()

	ps := speakingProviders("Stop Listening")
	detector := intentsByText(map[string]nlu.Result{
		"stop listening": {IntentName: intent.StopAssistantIntent},
	})
	ps.NLU = detector

	a, err := app.New(context.Background(), testConfig(), ps)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	if err := waitRun(t, runApp(context.Background(), a)); err != nil {
		t.Fatalf("Run() = %v, want nil after stop intent", err)
	}
	if got := a.State(); got != loop.Stopping {
		t.Errorf("State() = %v, want stopping", got)
	}

	queries := detector.Calls()
	if len(queries) != 1 || queries[0].Text != "stop listening" {
		t.Errorf("nlu queries = %+v, want one lowercased query", queries)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}

func TestApp_RunCallsContactThenStops(t *testing.T) {
	t.Parallel()

	ps := speakingProviders("call mom", "stop")
	ps.NLU = intentsByText(map[string]nlu.Result{
		"call mom": {IntentName: intent.CallContactIntent, Parameters: map[string]string{intent.ParamContact: "mom"}},
		"stop":     {IntentName: intent.StopAssistantIntent},
	})
	phone := &telephonymock.Provider{Accounts: []telephony.Account{{ID: "sim0"}, {ID: "sim1"}}}
	ps.Telephony = phone

	a, err := app.New(context.Background(), testConfig(), ps)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if err := waitRun(t, runApp(context.Background(), a)); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	calls := phone.Calls()
	if len(calls) != 1 {
		t.Fatalf("PlaceCall calls = %d, want 1", len(calls))
	}
	if calls[0].Number != "+15550100" {
		t.Errorf("dialed %q, want +15550100", calls[0].Number)
	}
	if calls[0].Hint == nil || calls[0].Hint.Slot != 0 {
		t.Errorf("hint = %+v, want slot 0 for dual SIM", calls[0].Hint)
	}
	if len(ps.Audio.Sink.(*audiomock.Sink).Calls()) == 0 {
		t.Error("nothing was spoken")
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	ps := testProviders()
	a, err := app.New(context.Background(), testConfig(), ps)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := runApp(ctx, a)

	deadline := time.Now().Add(2 * time.Second)
	for a.State() != loop.Listening {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %v, want listening", a.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := waitRun(t, done); err != nil {
		t.Errorf("Run() = %v, want nil after cancel", err)
	}

	shutdownCtx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
	if got := ps.Audio.Source.(*audiomock.Source).Active(); got != 0 {
		t.Errorf("microphone still claimed after shutdown: %d", got)
	}

	// Second shutdown is a no-op.
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
}

func TestApp_Handler(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), testProviders())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	h := a.Handler()

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable}, // loop not started
		{"/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
			}
		})
	}
}

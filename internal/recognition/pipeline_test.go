package recognition_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/hark/internal/recognition"
	"github.com/MrWong99/hark/pkg/audio"
	audiomock "github.com/MrWong99/hark/pkg/audio/mock"
	"github.com/MrWong99/hark/pkg/provider/stt"
	sttmock "github.com/MrWong99/hark/pkg/provider/stt/mock"
	"github.com/MrWong99/hark/pkg/provider/vad"
	vadmock "github.com/MrWong99/hark/pkg/provider/vad/mock"
	"github.com/MrWong99/hark/pkg/types"
)

func frames(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte(i), byte(i)}
	}
	return out
}

type fakeRecorder struct {
	mu   sync.Mutex
	utts []recognition.Utterance
}

func (r *fakeRecorder) Record(_ context.Context, u recognition.Utterance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.utts = append(r.utts, u)
	return nil
}

func TestPipeline_RecognizesUtterance(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{NewCapture: func() *audiomock.Capture {
		return audiomock.NewCapture(frames(6), true)
	}}
	vs := &vadmock.Session{Script: []vad.EventType{
		vad.Silence, vad.Silence, vad.Silence, vad.SpeechStart, vad.SpeechContinue, vad.SpeechEnd,
	}}
	sess := sttmock.NewSession()
	sess.FinalsCh <- types.Transcript{Text: " Call Mom ", IsFinal: true}
	prov := &sttmock.Provider{Session: sess}
	rec := &fakeRecorder{}

	p := recognition.NewPipeline(src, &vadmock.Engine{Session: vs}, prov,
		recognition.WithPreRoll(40*time.Millisecond),
		recognition.WithRecorder(rec),
		recognition.WithKeywords(func() []types.KeywordBoost {
			return []types.KeywordBoost{{Keyword: "Mom", Boost: 2}}
		}),
	)
	ch, err := p.StartListening(context.Background(), recognition.Config{Locale: "en-US"})
	if err != nil {
		t.Fatalf("StartListening: %v", err)
	}

	want := []string{"ready", "started", `final("Call Mom")`, "ended"}
	if diff := cmp.Diff(want, kinds(collect(t, ch))); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}

	if got := src.Active(); got != 0 {
		t.Errorf("capture still open after cycle: Active() = %d", got)
	}
	if sess.CloseCalls() == 0 {
		t.Error("stt session not closed")
	}
	if vs.CloseCalls == 0 {
		t.Error("vad session not closed")
	}

	calls := prov.StartStreamCalls
	if len(calls) != 1 {
		t.Fatalf("StartStream calls = %d, want 1", len(calls))
	}
	wantCfg := stt.StreamConfig{
		SampleRate: 16000, Channels: 1, Language: "en-US",
		Keywords: []types.KeywordBoost{{Keyword: "Mom", Boost: 2}},
	}
	if diff := cmp.Diff(wantCfg, calls[0].Cfg); diff != "" {
		t.Errorf("StreamConfig mismatch (-want +got):\n%s", diff)
	}

	// Two frames of pre-roll precede the onset frame.
	sent := sess.SendAudioCalls
	if len(sent) < 3 {
		t.Fatalf("SendAudio calls = %d, want at least 3", len(sent))
	}
	if diff := cmp.Diff(frames(4)[1:], sent[:3]); diff != "" {
		t.Errorf("pre-roll mismatch (-want +got):\n%s", diff)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.utts) != 1 || rec.utts[0].Transcript != "Call Mom" || len(rec.utts[0].PCM) == 0 {
		t.Errorf("recorded utterances = %+v", rec.utts)
	}
}

func TestPipeline_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		capture func() *audiomock.Capture
		script  []vad.EventType
		sttErr  error
		want    recognition.ErrorKind
	}{
		{
			name:    "no speech",
			capture: func() *audiomock.Capture { return audiomock.NewCapture(frames(3), true) },
			want:    recognition.ErrorSpeechTimeout,
		},
		{
			name:    "microphone stops",
			capture: func() *audiomock.Capture { return audiomock.NewCapture(frames(2), false) },
			want:    recognition.ErrorAudio,
		},
		{
			name:    "empty transcript",
			capture: func() *audiomock.Capture { return audiomock.NewCapture(frames(3), true) },
			script:  []vad.EventType{vad.SpeechStart, vad.SpeechContinue, vad.SpeechEnd},
			want:    recognition.ErrorNoMatch,
		},
		{
			name:    "stt rejects audio",
			capture: func() *audiomock.Capture { return audiomock.NewCapture(frames(3), true) },
			script:  []vad.EventType{vad.SpeechStart},
			sttErr:  errors.New("stream reset"),
			want:    recognition.ErrorServer,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := &audiomock.Source{NewCapture: tt.capture}
			sess := sttmock.NewSession()
			sess.SendAudioErr = tt.sttErr
			p := recognition.NewPipeline(src,
				&vadmock.Engine{Session: &vadmock.Session{Script: tt.script}},
				&sttmock.Provider{Session: sess},
				recognition.WithSpeechTimeout(30*time.Millisecond),
			)
			ch, err := p.StartListening(context.Background(), recognition.Config{})
			if err != nil {
				t.Fatalf("StartListening: %v", err)
			}
			got := collect(t, ch)
			last := got[len(got)-1]
			if last.Kind != recognition.KindError || last.Err.Kind != tt.want {
				t.Errorf("outcomes = %v, want trailing error(%s)", got, tt.want)
			}
			if src.Active() != 0 {
				t.Error("capture not released")
			}
		})
	}
}

func TestPipeline_StartErrors(t *testing.T) {
	t.Parallel()

	t.Run("microphone busy", func(t *testing.T) {
		t.Parallel()
		src := &audiomock.Source{}
		held, err := src.Open(context.Background(), audio.CaptureConfig{SampleRate: 16000, FrameSizeMs: 20})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer held.Close()

		p := recognition.NewPipeline(src, &vadmock.Engine{}, &sttmock.Provider{})
		_, err = p.StartListening(context.Background(), recognition.Config{})
		if got := recognition.Classify(err); got != recognition.ErrorBusy {
			t.Errorf("Classify(%v) = %s, want busy", err, got)
		}
	})

	t.Run("stt unavailable", func(t *testing.T) {
		t.Parallel()
		src := &audiomock.Source{}
		vs := &vadmock.Session{}
		p := recognition.NewPipeline(src, &vadmock.Engine{Session: vs},
			&sttmock.Provider{StartStreamErr: errors.New("401 unauthorized")})
		_, err := p.StartListening(context.Background(), recognition.Config{})
		if got := recognition.Classify(err); got != recognition.ErrorServer {
			t.Errorf("Classify(%v) = %s, want server", err, got)
		}
		if src.Active() != 0 {
			t.Error("capture not released after stt failure")
		}
		if vs.CloseCalls != 1 {
			t.Errorf("vad CloseCalls = %d, want 1", vs.CloseCalls)
		}
	})
}

func TestPipeline_CancelReleasesMicrophone(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	p := recognition.NewPipeline(src, &vadmock.Engine{}, &sttmock.Provider{})
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.StartListening(ctx, recognition.Config{})
	if err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if o := <-ch; o.Kind != recognition.KindReady {
		t.Fatalf("first outcome = %s, want ready", o)
	}
	cancel()
	collect(t, ch)
	if src.Active() != 0 {
		t.Error("capture not released after cancel")
	}
}

package coqui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/hark/pkg/types"
)

// makeWAV encodes samples as a 16-bit WAV file.
func makeWAV(t *testing.T, rate, channels int, samples []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("encoder close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

func TestDecodeWAV_StereoDownmix(t *testing.T) {
	t.Parallel()
	data := makeWAV(t, 16000, 2, []int{100, 300, -200, -400})
	pcm, err := decodeWAV(data, 16000)
	if err != nil {
		t.Fatalf("decodeWAV: %v", err)
	}
	want := toBytes([]int16{200, -300})
	if diff := cmp.Diff(want, pcm); diff != "" {
		t.Errorf("pcm mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := decodeWAV([]byte("not a wav"), 16000); err == nil {
		t.Fatal("expected error for invalid wav")
	}
}

func TestResample(t *testing.T) {
	t.Parallel()
	got := resample([]int16{0, 100, 200, 300}, 16000, 8000)
	if diff := cmp.Diff([]int16{0, 200}, got); diff != "" {
		t.Errorf("downsample mismatch (-want +got):\n%s", diff)
	}
	same := []int16{1, 2, 3}
	if diff := cmp.Diff(same, resample(same, 8000, 8000)); diff != "" {
		t.Errorf("identity resample changed data:\n%s", diff)
	}
}

func TestSynthesizeStream(t *testing.T) {
	t.Parallel()
	wavData := makeWAV(t, 22050, 1, []int{1, 2, 3})
	queries := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ttsPath {
			http.NotFound(w, r)
			return
		}
		queries <- r.URL.RawQuery
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := make(chan string, 1)
	text <- "Goodbye!"
	close(text)
	audioCh, err := p.SynthesizeStream(ctx, text, types.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var got []byte
	for c := range audioCh {
		got = append(got, c...)
	}
	if diff := cmp.Diff(toBytes([]int16{1, 2, 3}), got); diff != "" {
		t.Errorf("audio mismatch (-want +got):\n%s", diff)
	}
	if gotQuery, want := <-queries, "language_id=en&speaker_id=p225&text=Goodbye%21"; gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
}

func TestSynthesizeStream_ServerErrorClosesChannel(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	text := make(chan string, 1)
	text <- "hello"
	close(text)
	audioCh, _ := p.SynthesizeStream(context.Background(), text, types.VoiceProfile{})
	for range audioCh {
		t.Fatal("unexpected audio")
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want []types.VoiceProfile
	}{
		{
			name: "multi speaker sorted",
			body: `{"model_name":"vctk","speakers":["p2","p1"]}`,
			want: []types.VoiceProfile{
				{ID: "p1", Name: "p1", Provider: "coqui"},
				{ID: "p2", Name: "p2", Provider: "coqui"},
			},
		},
		{
			name: "single speaker",
			body: `{"model_name":"ljspeech"}`,
			want: []types.VoiceProfile{{Name: "ljspeech", Provider: "coqui"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			p, _ := New(srv.URL)
			got, err := p.ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

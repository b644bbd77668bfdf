package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/hark/pkg/types"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()
	p, _ := New("k", WithModel("m1"), WithSampleRate(24000))
	want := "wss://api.elevenlabs.io/v1/text-to-speech/v42/stream-input?model_id=m1&output_format=pcm_24000"
	if got := p.streamURL("v42"); got != want {
		t.Errorf("streamURL = %q, want %q", got, want)
	}
	if p.SampleRate() != 24000 {
		t.Errorf("SampleRate = %d, want 24000", p.SampleRate())
	}
}

func TestSynthesizeStream_EmptyVoice(t *testing.T) {
	t.Parallel()
	p, _ := New("k")
	if _, err := p.SynthesizeStream(context.Background(), nil, types.VoiceProfile{}); err == nil {
		t.Fatal("expected error for empty voice id")
	}
}

func TestSynthesizeStream_RoundTrip(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "k" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			_, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			var m textMessage
			_ = json.Unmarshal(data, &m)
			mu.Lock()
			received = append(received, m.Text)
			mu.Unlock()
			if m.Text == "" {
				audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
				_ = c.Write(r.Context(), websocket.MessageText, []byte(`{"audio":"`+audio+`"}`))
				_ = c.Write(r.Context(), websocket.MessageText, []byte(`{"isFinal":true}`))
				return
			}
		}
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURLs("ws"+strings.TrimPrefix(srv.URL, "http"), srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := make(chan string, 2)
	text <- "Opening camera."
	close(text)

	audio, err := p.SynthesizeStream(ctx, text, types.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var got []byte
	for chunk := range audio {
		got = append(got, chunk...)
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4}, got); diff != "" {
		t.Errorf("audio mismatch (-want +got):\n%s", diff)
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{" ", "Opening camera. ", ""}, received); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"a","name":"Rachel"}]}`))
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURLs("ws://unused", srv.URL))
	got, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	want := []types.VoiceProfile{{ID: "a", Name: "Rachel", Provider: "elevenlabs"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("voices mismatch (-want +got):\n%s", diff)
	}
}

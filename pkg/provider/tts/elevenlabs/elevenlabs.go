// Package elevenlabs provides a tts.Provider backed by the ElevenLabs
// stream-input WebSocket API.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/types"
)

const (
	defaultWSBase   = "wss://api.elevenlabs.io"
	defaultHTTPBase = "https://api.elevenlabs.io"
	defaultModel    = "eleven_flash_v2_5"
	defaultRate     = 16000
)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithSampleRate selects the pcm_<rate> output format. ElevenLabs supports
// 16000, 22050, 24000 and 44100.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.rate = rate }
}

// WithBaseURLs overrides the WebSocket and REST base URLs. Used for tests.
func WithBaseURLs(wsBase, httpBase string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimRight(wsBase, "/")
		p.httpBase = strings.TrimRight(httpBase, "/")
	}
}

// WithHTTPClient sets the client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider.
type Provider struct {
	apiKey     string
	model      string
	rate       int
	wsBase     string
	httpBase   string
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates an ElevenLabs provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		rate:       defaultRate,
		wsBase:     defaultWSBase,
		httpBase:   defaultHTTPBase,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.rate }

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type textMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

type audioMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (p *Provider) streamURL(voiceID string) string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=pcm_%s",
		p.wsBase, voiceID, p.model, strconv.Itoa(p.rate))
}

// SynthesizeStream opens a stream-input socket, forwards text fragments and
// emits decoded PCM.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice id must not be empty")
	}
	hdr := http.Header{}
	hdr.Set("xi-api-key", p.apiKey)
	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	// Beginning of input: a single space plus the voice settings.
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if voice.SpeedFactor > 0 {
		vs.Speed = voice.SpeedFactor
	}
	if err := writeJSON(ctx, conn, textMessage{Text: " ", VoiceSettings: vs}); err != nil {
		conn.Close(websocket.StatusInternalError, "begin of input failed")
		return nil, fmt.Errorf("elevenlabs: begin of input: %w", err)
	}

	audio := make(chan []byte, 64)
	go func() {
		defer close(audio)
		defer conn.CloseNow()

		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			readAudio(ctx, conn, audio)
		}()

		for {
			select {
			case frag, ok := <-text:
				if !ok {
					// End of input: empty text flushes the remaining audio.
					_ = writeJSON(ctx, conn, textMessage{Text: ""})
					<-readDone
					conn.Close(websocket.StatusNormalClosure, "done")
					return
				}
				if strings.TrimSpace(frag) == "" {
					continue
				}
				// ElevenLabs expects each fragment to end with a space.
				if err := writeJSON(ctx, conn, textMessage{Text: frag + " ", TryTriggerGeneration: true}); err != nil {
					return
				}
			case <-readDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return audio, nil
}

func readAudio(ctx context.Context, conn *websocket.Conn, out chan<- []byte) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg audioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return
		}
		if msg.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				continue
			}
			select {
			case out <- pcm:
			case <-ctx.Done():
				return
			}
		}
		if msg.IsFinal {
			return
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type voicesResponse struct {
	Voices []struct {
		VoiceID string `json:"voice_id"`
		Name    string `json:"name"`
	} `json:"voices"`
}

// ListVoices returns the voices available to the API key.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}
	out := make([]types.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		out = append(out, types.VoiceProfile{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs"})
	}
	return out, nil
}

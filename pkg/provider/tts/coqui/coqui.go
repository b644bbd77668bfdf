// Package coqui provides a tts.Provider for a locally running Coqui TTS server
// (ghcr.io/coqui-ai/tts-cpu), for setups that keep speech output off the
// network.
//
// The server synthesises one utterance per GET /api/tts request and answers
// with a WAV file. Each text fragment is synthesised in order; the WAV payload
// is decoded, downmixed to mono and resampled to the configured output rate.
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-audio/wav"

	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/types"
)

const (
	ttsPath        = "/api/tts"
	detailsPath    = "/details"
	defaultRate    = 22050
	defaultTimeout = 30 * time.Second
	chunkBytes     = 4096
)

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the language_id sent to multilingual models.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithSampleRate sets the output sample rate. Server audio at a different rate
// is resampled.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.rate = rate }
}

// Provider implements tts.Provider.
type Provider struct {
	serverURL  string
	language   string
	rate       int
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a provider targeting serverURL (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: server url must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		rate:       defaultRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.rate }

// SynthesizeStream synthesises each fragment in order and emits PCM chunks.
// Synthesis stops at the first failed fragment.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for {
			var frag string
			select {
			case s, ok := <-text:
				if !ok {
					return
				}
				frag = strings.TrimSpace(s)
			case <-ctx.Done():
				return
			}
			if frag == "" {
				continue
			}
			pcm, err := p.synthesize(ctx, frag, voice)
			if err != nil {
				return
			}
			for len(pcm) > 0 {
				n := min(chunkBytes, len(pcm))
				select {
				case out <- pcm[:n]:
				case <-ctx.Done():
					return
				}
				pcm = pcm[n:]
			}
		}
	}()
	return out, nil
}

func (p *Provider) synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	q := url.Values{}
	q.Set("text", text)
	if voice.ID != "" {
		q.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+ttsPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: synthesize: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: synthesize: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}
	return decodeWAV(body, p.rate)
}

// decodeWAV turns a WAV file into mono 16-bit PCM at rate.
func decodeWAV(data []byte, rate int) ([]byte, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, errors.New("coqui: response is not a valid wav file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("coqui: decode wav: %w", err)
	}
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	shift := buf.SourceBitDepth - 16

	frames := len(buf.Data) / channels
	mono := make([]int16, frames)
	for i := range frames {
		var sum int
		for c := range channels {
			v := buf.Data[i*channels+c]
			switch {
			case shift > 0:
				v >>= shift
			case shift < 0:
				v <<= -shift
			}
			sum += v
		}
		mono[i] = int16(sum / channels)
	}
	return toBytes(resample(mono, buf.Format.SampleRate, rate)), nil
}

// resample converts mono samples between rates by linear interpolation.
func resample(in []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	ratio := float64(from) / float64(to)
	for i := range n {
		pos := float64(i) * ratio
		j := int(pos)
		frac := pos - float64(j)
		s0 := float64(in[j])
		s1 := s0
		if j+1 < len(in) {
			s1 = float64(in[j+1])
		}
		out[i] = int16(s0*(1-frac) + s1*frac)
	}
	return out
}

func toBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Speakers  []string `json:"speakers"`
}

// ListVoices returns one voice per speaker of a multi-speaker model, or a
// single voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+detailsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: list voices: unexpected status %d", resp.StatusCode)
	}
	var d detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("coqui: list voices: decode: %w", err)
	}
	if len(d.Speakers) == 0 {
		name := d.ModelName
		if name == "" {
			name = "default"
		}
		return []types.VoiceProfile{{ID: "", Name: name, Provider: "coqui"}}, nil
	}
	speakers := append([]string(nil), d.Speakers...)
	sort.Strings(speakers)
	out := make([]types.VoiceProfile, 0, len(speakers))
	for _, s := range speakers {
		out = append(out, types.VoiceProfile{ID: s, Name: s, Provider: "coqui"})
	}
	return out, nil
}

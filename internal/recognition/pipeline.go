package recognition

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/vad"
	"github.com/MrWong99/hark/pkg/types"
)

// Pipeline defaults.
const (
	DefaultSampleRate    = 16000
	DefaultFrameSizeMs   = 20
	DefaultSpeechTimeout = 5 * time.Second
	DefaultMaxUtterance  = 15 * time.Second
	DefaultFinalTimeout  = 5 * time.Second
	DefaultPreRoll       = 300 * time.Millisecond
)

var errCaptureEnded = errors.New("recognition: microphone stopped delivering audio")

// Utterance is the audio and transcript of one recognized command.
type Utterance struct {
	Transcript string
	PCM        []byte
	SampleRate int
	Time       time.Time
}

// Recorder persists recognized utterances.
type Recorder interface {
	Record(ctx context.Context, u Utterance) error
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithFrameSize sets the microphone frame duration in milliseconds.
func WithFrameSize(ms int) PipelineOption {
	return func(p *Pipeline) { p.frameMs = ms }
}

// WithVADConfig overrides the VAD thresholds. SampleRate and FrameSizeMs are
// always taken from the pipeline.
func WithVADConfig(cfg vad.Config) PipelineOption {
	return func(p *Pipeline) { p.vadCfg = cfg }
}

// WithSpeechTimeout bounds the wait for speech onset.
func WithSpeechTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.speechTimeout = d }
}

// WithSampleRate sets the capture rate in Hz. Non-positive values are ignored.
func WithSampleRate(hz int) PipelineOption {
	return func(p *Pipeline) {
		if hz > 0 {
			p.sampleRate = hz
		}
	}
}

// WithMaxUtterance bounds the length of a single utterance.
func WithMaxUtterance(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.maxUtterance = d }
}

// WithFinalTimeout bounds the wait for the final transcript once speech
// has ended.
func WithFinalTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.finalTimeout = d }
}

// WithPreRoll sets how much audio before speech onset is forwarded to STT.
func WithPreRoll(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.preRoll = d }
}

// WithKeywords supplies vocabulary hints, evaluated at the start of every
// listening cycle.
func WithKeywords(fn func() []types.KeywordBoost) PipelineOption {
	return func(p *Pipeline) { p.keywords = fn }
}

// WithRecorder stores every recognized utterance.
func WithRecorder(r Recorder) PipelineOption {
	return func(p *Pipeline) { p.recorder = r }
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

// Pipeline is a Recognizer built from a microphone, a VAD engine and a
// streaming STT provider. Each cycle claims the microphone, waits for speech,
// streams it to STT and reports the first non-empty final transcript.
type Pipeline struct {
	source audio.Source
	vad    vad.Engine
	stt    stt.Provider

	sampleRate    int
	frameMs       int
	vadCfg        vad.Config
	speechTimeout time.Duration
	maxUtterance  time.Duration
	finalTimeout  time.Duration
	preRoll       time.Duration
	keywords      func() []types.KeywordBoost
	recorder      Recorder
	log           *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(source audio.Source, engine vad.Engine, provider stt.Provider, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		source:        source,
		vad:           engine,
		stt:           provider,
		sampleRate:    DefaultSampleRate,
		frameMs:       DefaultFrameSizeMs,
		vadCfg:        vad.Config{SpeechThreshold: 0.5, SilenceThreshold: 0.35, SilenceDurationMs: 700},
		speechTimeout: DefaultSpeechTimeout,
		maxUtterance:  DefaultMaxUtterance,
		finalTimeout:  DefaultFinalTimeout,
		preRoll:       DefaultPreRoll,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// StartListening implements Recognizer.
func (p *Pipeline) StartListening(ctx context.Context, cfg Config) (<-chan Outcome, error) {
	capture, err := p.source.Open(ctx, audio.CaptureConfig{SampleRate: p.sampleRate, FrameSizeMs: p.frameMs})
	if err != nil {
		return nil, err
	}

	vcfg := p.vadCfg
	vcfg.SampleRate = p.sampleRate
	vcfg.FrameSizeMs = p.frameMs
	vs, err := p.vad.NewSession(vcfg)
	if err != nil {
		_ = capture.Close()
		return nil, &Error{Kind: ErrorClient, Cause: err}
	}

	scfg := stt.StreamConfig{SampleRate: p.sampleRate, Channels: 1, Language: cfg.Locale}
	if p.keywords != nil {
		scfg.Keywords = p.keywords()
	}
	sess, err := p.stt.StartStream(ctx, scfg)
	if err != nil {
		_ = vs.Close()
		_ = capture.Close()
		return nil, &Error{Kind: classifyRemote(err), Cause: err}
	}

	out := make(chan Outcome)
	c := &cycle{
		p:       p,
		capture: capture,
		vad:     vs,
		stt:     sess,
		out:     out,
	}
	go c.run(ctx)
	return out, nil
}

// cycle is the state of one StartListening call.
type cycle struct {
	p       *Pipeline
	capture audio.Capture
	vad     vad.SessionHandle
	stt     stt.SessionHandle
	out     chan<- Outcome

	closeOnce sync.Once
	closeDone chan struct{}
	pcm       []byte
}

func (c *cycle) run(ctx context.Context) {
	defer close(c.out)
	defer c.release()

	if !c.emit(ctx, Ready()) {
		return
	}
	if !c.awaitSpeech(ctx) {
		return
	}
	c.transcribe(ctx)
}

func (c *cycle) emit(ctx context.Context, o Outcome) bool {
	select {
	case c.out <- o:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *cycle) fail(ctx context.Context, kind ErrorKind, cause error) {
	c.p.log.Debug("recognition: cycle failed", "kind", kind.String(), "err", cause)
	c.emit(ctx, Failed(kind, cause))
}

func (c *cycle) captureErr() error {
	if err := c.capture.Err(); err != nil {
		return err
	}
	return errCaptureEnded
}

// awaitSpeech consumes frames until VAD reports speech onset, keeping a
// short pre-roll that is forwarded to STT along with the onset frame.
func (c *cycle) awaitSpeech(ctx context.Context) bool {
	timer := time.NewTimer(c.p.speechTimeout)
	defer timer.Stop()

	keep := int(c.p.preRoll / (time.Duration(c.p.frameMs) * time.Millisecond))
	var ring [][]byte
	frames := c.capture.Frames()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			c.fail(ctx, ErrorSpeechTimeout, ErrSpeechTimeout)
			return false
		case f, ok := <-frames:
			if !ok {
				c.fail(ctx, ErrorAudio, c.captureErr())
				return false
			}
			ev, err := c.vad.ProcessFrame(f.Data)
			if err != nil {
				c.fail(ctx, ErrorAudio, err)
				return false
			}
			if ev.Type != vad.SpeechStart {
				if keep > 0 {
					ring = append(ring, f.Data)
					if len(ring) > keep {
						ring = ring[1:]
					}
				}
				continue
			}
			if !c.emit(ctx, Started()) {
				return false
			}
			for _, chunk := range append(ring, f.Data) {
				if err := c.send(chunk); err != nil {
					c.fail(ctx, classifyRemote(err), err)
					return false
				}
			}
			return true
		}
	}
}

func (c *cycle) send(chunk []byte) error {
	c.pcm = append(c.pcm, chunk...)
	return c.stt.SendAudio(chunk)
}

// finish stops feeding audio and asks STT to flush its final transcript.
// Returns a channel that fires once the flush deadline has passed.
func (c *cycle) finish() <-chan time.Time {
	c.closeOnce.Do(func() {
		c.closeDone = make(chan struct{})
		go func() {
			defer close(c.closeDone)
			if err := c.stt.Close(); err != nil {
				c.p.log.Debug("recognition: stt close", "err", err)
			}
		}()
	})
	return time.After(c.p.finalTimeout)
}

// transcribe streams speech to STT until a final transcript arrives.
func (c *cycle) transcribe(ctx context.Context) {
	maxTimer := time.NewTimer(c.p.maxUtterance)
	defer maxTimer.Stop()

	frames := c.capture.Frames()
	partials := c.stt.Partials()
	finals := c.stt.Finals()
	var deadline <-chan time.Time
	var lastPartial string

	for {
		select {
		case <-ctx.Done():
			return

		case f, ok := <-frames:
			if !ok {
				if err := c.capture.Err(); err != nil {
					c.fail(ctx, ErrorAudio, err)
					return
				}
				frames = nil
				deadline = c.finish()
				continue
			}
			if err := c.send(f.Data); err != nil {
				c.fail(ctx, classifyRemote(err), err)
				return
			}
			ev, err := c.vad.ProcessFrame(f.Data)
			if err == nil && ev.Type == vad.SpeechEnd {
				frames = nil
				deadline = c.finish()
			}

		case <-maxTimer.C:
			c.p.log.Debug("recognition: utterance hit max length", "max", c.p.maxUtterance)
			frames = nil
			deadline = c.finish()

		case <-deadline:
			c.fail(ctx, ErrorNetworkTimeout, context.DeadlineExceeded)
			return

		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			text := strings.TrimSpace(t.Text)
			if text == "" || text == lastPartial {
				continue
			}
			lastPartial = text
			if !c.emit(ctx, Partial(text)) {
				return
			}

		case t, ok := <-finals:
			if !ok {
				c.fail(ctx, ErrorNoMatch, ErrNoMatch)
				return
			}
			text := strings.TrimSpace(t.Text)
			if text == "" {
				continue
			}
			c.record(ctx, text)
			if c.emit(ctx, Final(text)) {
				c.emit(ctx, Ended())
			}
			return
		}
	}
}

func (c *cycle) record(ctx context.Context, text string) {
	if c.p.recorder == nil || len(c.pcm) == 0 {
		return
	}
	u := Utterance{Transcript: text, PCM: c.pcm, SampleRate: c.p.sampleRate, Time: time.Now()}
	if err := c.p.recorder.Record(ctx, u); err != nil {
		c.p.log.Warn("recognition: failed to record utterance", "err", err)
	}
}

// release frees the microphone, the VAD session and the STT session. The
// microphone goes first so that the next cycle can claim it.
func (c *cycle) release() {
	if err := c.capture.Close(); err != nil {
		c.p.log.Debug("recognition: capture close", "err", err)
	}
	_ = c.vad.Close()
	c.finish()
	<-c.closeDone
}

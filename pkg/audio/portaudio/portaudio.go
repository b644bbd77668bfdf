// Package portaudio implements audio.Source and audio.Sink on top of the
// PortAudio C library via github.com/gordonklaus/portaudio.
//
// PortAudio must be initialised once per process; [Init] does that and
// returns a function that terminates it again.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/types"
)

// Init initialises PortAudio. Call the returned function on shutdown.
func Init() (terminate func() error, err error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return pa.Terminate, nil
}

// ── capture ──

// Source opens the default input device.
type Source struct {
	mu   sync.Mutex
	open bool
}

var _ audio.Source = (*Source)(nil)

// NewSource returns a Source for the default input device.
func NewSource() *Source { return &Source{} }

// Open starts a mono 16-bit capture.
func (s *Source) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil, audio.ErrBusy
	}
	if _, err := pa.DefaultInputDevice(); err != nil {
		return nil, fmt.Errorf("portaudio: %w: %v", audio.ErrNoDevice, err)
	}

	buf := make([]int16, cfg.SampleRate*cfg.FrameSizeMs/1000)
	stream, err := pa.OpenDefaultStream(1, 0, float64(cfg.SampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}

	c := &capture{
		source: s,
		stream: stream,
		buf:    buf,
		rate:   cfg.SampleRate,
		frames: make(chan types.AudioFrame, 32),
		done:   make(chan struct{}),
	}
	s.open = true
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

func (s *Source) release() {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
}

type capture struct {
	source *Source
	stream *pa.Stream
	buf    []int16
	rate   int
	frames chan types.AudioFrame

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (c *capture) Frames() <-chan types.AudioFrame { return c.frames }

func (c *capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *capture) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.wg.Wait()
		err = errors.Join(c.stream.Stop(), c.stream.Close())
		c.source.release()
	})
	return err
}

// readLoop owns the stream buffer. Read blocks for at most one frame, so the
// done check runs at frame cadence.
func (c *capture) readLoop() {
	defer c.wg.Done()
	defer close(c.frames)

	start := time.Now()
	for {
		select {
		case <-c.done:
			return
		default:
		}
		if err := c.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				slog.Debug("portaudio: input overflow, frame dropped")
				continue
			}
			c.mu.Lock()
			c.err = fmt.Errorf("portaudio: read: %w", err)
			c.mu.Unlock()
			return
		}
		frame := types.AudioFrame{
			Data:       audio.Int16ToBytes(c.buf),
			SampleRate: c.rate,
			Channels:   1,
			Timestamp:  time.Since(start),
		}
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		default:
			slog.Debug("portaudio: consumer slow, frame dropped")
		}
	}
}

// ── playback ──

// Sink plays through the default output device. Concurrent Play calls are
// serialised.
type Sink struct {
	mu         sync.Mutex
	deviceRate int
}

var _ audio.Sink = (*Sink)(nil)

// NewSink returns a Sink. deviceRate forces the output stream rate with
// resampling; zero plays at the rate of each stream.
func NewSink(deviceRate int) *Sink { return &Sink{deviceRate: deviceRate} }

// Play blocks until pcm is drained or ctx is cancelled.
func (s *Sink) Play(ctx context.Context, pcm <-chan []byte, sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := sampleRate
	if s.deviceRate > 0 {
		rate = s.deviceRate
	}
	out := make([]int16, rate/50) // 20 ms
	stream, err := pa.OpenDefaultStream(0, 1, float64(rate), len(out), out)
	if err != nil {
		audio.Drain(pcm)
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		audio.Drain(pcm)
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	defer stream.Stop()

	rf := audio.NewReframer(len(out) * 2)
	write := func(frame []byte) error {
		copy(out, audio.BytesToInt16(frame))
		if err := stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write: %w", err)
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			go audio.Drain(pcm)
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				if tail := rf.Flush(); tail != nil {
					return write(tail)
				}
				return nil
			}
			for _, frame := range rf.Push(audio.ResampleMono16(chunk, sampleRate, rate)) {
				if err := write(frame); err != nil {
					go audio.Drain(pcm)
					return err
				}
			}
		}
	}
}

// Package recording stores recognized utterances as WAV files next to a
// plain-text transcript.
package recording

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/MrWong99/hark/internal/recognition"
	"github.com/MrWong99/hark/pkg/audio"
)

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// Recorder writes each utterance to dir as <timestamp>-<uuid>.wav with a
// matching .txt transcript.
type Recorder struct {
	fs  afero.Fs
	dir string
	log *slog.Logger
}

// New creates a Recorder writing below dir on fs. The directory is created
// if missing.
func New(fs afero.Fs, dir string, opts ...Option) (*Recorder, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording: create %s: %w", dir, err)
	}
	r := &Recorder{fs: fs, dir: dir, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Record implements recognition.Recorder.
func (r *Recorder) Record(ctx context.Context, u recognition.Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ts := u.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	base := filepath.Join(r.dir, fmt.Sprintf("%s-%s", ts.UTC().Format("20060102T150405Z"), uuid.NewString()))

	if err := r.writeWAV(base+".wav", u); err != nil {
		return err
	}
	if err := afero.WriteFile(r.fs, base+".txt", []byte(u.Transcript+"\n"), 0o644); err != nil {
		return fmt.Errorf("recording: write transcript: %w", err)
	}
	r.log.Debug("recording: utterance stored", "path", base+".wav", "bytes", len(u.PCM))
	return nil
}

func (r *Recorder) writeWAV(path string, u recognition.Utterance) (err error) {
	f, err := r.fs.Create(path)
	if err != nil {
		return fmt.Errorf("recording: create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("recording: close %s: %w", path, cerr)
		}
	}()

	samples := audio.BytesToInt16(u.PCM)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(f, u.SampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: u.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("recording: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("recording: finalize: %w", err)
	}
	return nil
}

var _ recognition.Recorder = (*Recorder)(nil)

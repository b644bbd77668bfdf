// Package launcher starts external desktop applications on behalf of the
// assistant.
package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultGrace is how long a launched application may take to fail before
// the launch counts as successful.
const DefaultGrace = 500 * time.Millisecond

// ErrNotConfigured is returned when no command is set for the application.
var ErrNotConfigured = errors.New("launcher: no command configured")

// Option configures a Launcher.
type Option func(*Launcher)

// WithGrace overrides DefaultGrace.
func WithGrace(d time.Duration) Option {
	return func(l *Launcher) { l.grace = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ln *Launcher) { ln.log = l }
}

// Launcher runs the configured camera command. The launched process outlives
// the request that started it.
type Launcher struct {
	camera []string
	grace  time.Duration
	log    *slog.Logger
}

// New creates a Launcher. camera is the argv of the camera application, for
// example ["cheese"] or ["xdg-open", "camera:"].
func New(camera []string, opts ...Option) *Launcher {
	l := &Launcher{
		camera: camera,
		grace:  DefaultGrace,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// OpenCamera starts the camera application. It fails if the command cannot
// be started or exits unsuccessfully within the grace period.
func (l *Launcher) OpenCamera(ctx context.Context) error {
	return l.launch(ctx, "camera", l.camera)
}

func (l *Launcher) launch(ctx context.Context, app string, argv []string) error {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return fmt.Errorf("%s: %w", app, ErrNotConfigured)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launcher: start %s: %w", app, err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	timer := time.NewTimer(l.grace)
	defer timer.Stop()
	select {
	case err := <-exited:
		if err != nil {
			return fmt.Errorf("launcher: %s: %w: %s", app, err, strings.TrimSpace(stderr.String()))
		}
		l.log.Info("launcher: started", "app", app, "command", argv[0])
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	l.log.Info("launcher: started", "app", app, "command", argv[0], "pid", cmd.Process.Pid)
	go func() {
		if err := <-exited; err != nil {
			l.log.Debug("launcher: application exited", "app", app, "err", err)
		}
	}()
	return nil
}

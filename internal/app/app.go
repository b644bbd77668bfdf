// Package app wires all hark subsystems into a running voice assistant.
//
// The App struct owns the full lifecycle: New checks the capabilities the
// assistant needs and assembles the command loop, Run starts listening
// together with the gesture detector, the ops HTTP server and the config
// watcher, and Shutdown tears everything down in order.
//
// Providers are built by [BuildProviders] from the config registry or
// assembled by hand in tests. Collaborators that touch the host (camera
// launcher, filesystem) can be replaced via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/dispatch"
	"github.com/MrWong99/hark/internal/gesture"
	"github.com/MrWong99/hark/internal/health"
	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/launcher"
	"github.com/MrWong99/hark/internal/loop"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/recognition"
	"github.com/MrWong99/hark/internal/recording"
	"github.com/MrWong99/hark/internal/speech"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/contacts"
	"github.com/MrWong99/hark/pkg/provider/telephony"
	"github.com/MrWong99/hark/pkg/types"
)

// keywordBoost is the recognizer boost applied to contact names.
const keywordBoost = 2.0

// shutdownGrace bounds the ops server drain.
const shutdownGrace = 5 * time.Second

// ErrMicrophoneUnavailable is returned by New when the microphone cannot be
// opened. The assistant is useless without it.
var ErrMicrophoneUnavailable = errors.New("app: microphone unavailable")

// App owns all subsystem lifetimes and orchestrates the hark command loop.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics    *observe.Metrics
	level      *slog.LevelVar
	configPath string
	camera     dispatch.CameraLauncher
	fs         afero.Fs

	// Subsystems, initialised in New.
	dispatcher *dispatch.Dispatcher
	controller *loop.Controller
	detector   *gesture.Detector
	health     *health.Handler
	mux        *http.ServeMux

	watcher atomic.Pointer[config.Watcher]

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets a config reload change the log level of the handler
// that was built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigPath enables watching path for configuration changes while
// running.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithCameraLauncher replaces the command-based camera launcher.
func WithCameraLauncher(c dispatch.CameraLauncher) Option {
	return func(a *App) { a.camera = c }
}

// WithFs sets the filesystem utterance recordings are written to. Defaults
// to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]; New does not take ownership of them until it
// returns successfully.
//
// New runs a permission preflight first. A microphone that cannot be opened
// aborts start-up with [ErrMicrophoneUnavailable]; other missing capabilities
// are logged and the assistant starts regardless.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}

	// ── 1. Permission preflight ──────────────────────────────────────────
	if err := a.preflight(ctx); err != nil {
		return nil, err
	}

	// ── 2. Recognizer ────────────────────────────────────────────────────
	pipeline, err := a.buildPipeline()
	if err != nil {
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}

	// ── 3. Resolver, dispatcher, speaker ─────────────────────────────────
	resolver := intent.NewResolver(providers.NLU,
		intent.WithSessionID(cfg.Dialogflow.SessionID),
		intent.WithLanguage(cfg.Dialogflow.LanguageCode),
	)

	if a.camera == nil {
		a.camera = launcher.New(cfg.Launcher.CameraCommand, launcher.WithGrace(cfg.Launcher.Grace))
	}
	a.dispatcher = dispatch.New(providers.Contacts, providers.Telephony, a.camera,
		dispatch.WithMetrics(a.metrics),
	)

	speaker := speech.New(providers.TTS, providers.Audio.Sink,
		speech.WithVoice(types.VoiceProfile{
			ID:       cfg.Providers.TTS.String("voice"),
			Provider: cfg.Providers.TTS.Name,
		}),
		speech.WithMetrics(a.metrics),
	)

	// ── 4. Command loop ──────────────────────────────────────────────────
	rc := cfg.Recognizer
	a.controller = loop.New(pipeline, resolver, a.dispatcher, speaker,
		loop.WithMetrics(a.metrics),
		loop.WithRestartDelay(rc.RestartDelay),
		loop.WithRecognizerConfig(recognition.Config{
			LanguageModel:  string(rc.LanguageModel),
			Locale:         rc.Locale,
			PartialResults: rc.Partials(),
		}),
	)

	// ── 5. Gesture detector ──────────────────────────────────────────────
	if providers.Sensor != nil {
		a.detector = gesture.New(
			gesture.WithThreshold(cfg.Gesture.Threshold),
			gesture.WithMinInterval(cfg.Gesture.MinInterval),
			gesture.WithMetrics(a.metrics),
		)
		a.detector.OnShake(a.dispatcher.OnShake)
	}

	// ── 6. Ops endpoints ─────────────────────────────────────────────────
	checkers := []health.Checker{
		health.LoopChecker(a.controller),
		health.ConfigChecker(a.configErr),
	}
	if p, ok := providers.Contacts.(contacts.Pinger); ok {
		checkers = append(checkers, health.ContactsChecker(p))
	}
	a.health = health.New(checkers...)
	a.mux = http.NewServeMux()
	a.health.Register(a.mux)
	a.mux.Handle("GET /metrics", promhttp.Handler())

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// preflight checks each capability the assistant relies on.
func (a *App) preflight(ctx context.Context) error {
	// Record audio: claim and release the microphone once.
	capture, err := a.providers.Audio.Source.Open(ctx, audio.CaptureConfig{
		SampleRate:  a.cfg.Recognizer.SampleRate,
		FrameSizeMs: recognition.DefaultFrameSizeMs,
	})
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			slog.Error("permission missing", "capability", "record_audio", "err", err)
		}
		return fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
	}
	if err := capture.Close(); err != nil {
		slog.Warn("preflight: releasing microphone", "err", err)
	}

	// Read contacts.
	if p, ok := a.providers.Contacts.(contacts.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			slog.Warn("permission missing", "capability", "read_contacts", "err", err)
		}
	}

	// Read phone state / call phone.
	accounts, err := a.providers.Telephony.CallCapableAccounts(ctx)
	switch {
	case errors.Is(err, telephony.ErrPermissionDenied):
		slog.Warn("permission missing", "capability", "read_phone_state", "err", err)
	case err != nil:
		slog.Warn("preflight: listing call-capable accounts", "err", err)
	default:
		slog.Info("telephony ready", "accounts", len(accounts))
	}

	// Camera.
	if cmd := a.cfg.Launcher.CameraCommand; len(cmd) > 0 {
		if _, err := exec.LookPath(cmd[0]); err != nil {
			slog.Warn("permission missing", "capability", "camera", "command", cmd[0], "err", err)
		}
	}
	return nil
}

// buildPipeline assembles the microphone, VAD and STT into a recognizer.
func (a *App) buildPipeline() (*recognition.Pipeline, error) {
	rc := a.cfg.Recognizer
	opts := []recognition.PipelineOption{
		recognition.WithSampleRate(rc.SampleRate),
		recognition.WithSpeechTimeout(rc.SpeechTimeout),
		recognition.WithMaxUtterance(rc.MaxUtterance),
	}

	if lister, ok := a.providers.Contacts.(contacts.Lister); ok {
		opts = append(opts, recognition.WithKeywords(func() []types.KeywordBoost {
			names := lister.Names()
			boosts := make([]types.KeywordBoost, 0, len(names))
			for _, n := range names {
				boosts = append(boosts, types.KeywordBoost{Keyword: n, Boost: keywordBoost})
			}
			return boosts
		}))
	}

	if a.cfg.Recording.Enabled {
		rec, err := recording.New(a.fs, a.cfg.Recording.Directory)
		if err != nil {
			return nil, err
		}
		opts = append(opts, recognition.WithRecorder(rec))
		slog.Info("recording utterances", "dir", a.cfg.Recording.Directory)
	}

	return recognition.NewPipeline(a.providers.Audio.Source, a.providers.VAD, a.providers.STT, opts...), nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts listening and blocks until ctx is cancelled, the loop stops on
// a stop intent, or a subsystem fails. A stop intent ends Run with a nil
// error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// ── Command loop ─────────────────────────────────────────────────────
	if err := a.controller.Start(gctx); err != nil {
		return fmt.Errorf("app: start loop: %w", err)
	}
	g.Go(func() error {
		select {
		case <-a.controller.Done():
			slog.Info("command loop stopped, shutting down")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	// ── Gesture detector ─────────────────────────────────────────────────
	if a.detector != nil {
		g.Go(func() error {
			return a.detector.Run(gctx, a.providers.Sensor)
		})
	}

	// ── Address book reload ──────────────────────────────────────────────
	if w, ok := a.providers.Contacts.(contacts.Watcher); ok {
		g.Go(func() error {
			if err := w.Watch(gctx); err != nil {
				slog.Warn("contacts hot reload disabled", "err", err)
			}
			return nil
		})
	}

	// ── Ops server ───────────────────────────────────────────────────────
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: shutdownGrace,
		}
		g.Go(func() error {
			slog.Info("ops server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	// ── Config watcher ───────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			slog.Warn("config hot reload disabled", "path", a.configPath, "err", err)
		} else {
			a.watcher.Store(w)
			g.Go(func() error {
				<-gctx.Done()
				w.Stop()
				return nil
			})
		}
	}

	slog.Info("app running", "gesture", a.detector != nil, "ops_addr", a.cfg.Server.ListenAddr)
	return g.Wait()
}

// Handler returns the ops HTTP handler serving /healthz, /readyz and
// /metrics.
func (a *App) Handler() http.Handler {
	return observe.Middleware(a.metrics)(a.mux)
}

// State reports the command loop state.
func (a *App) State() loop.State {
	return a.controller.State()
}

// applyConfig is the watcher callback. Only the log level and the shake
// threshold take effect live.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdChanged && a.detector != nil {
		a.detector.SetThreshold(d.NewThreshold)
		slog.Info("shake threshold changed", "threshold", d.NewThreshold)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changed; restart required to apply", "sections", d.RestartRequired)
	}
}

// configErr reports the last reload failure for the readiness check.
func (a *App) configErr() error {
	if w := a.watcher.Load(); w != nil {
		return w.LastError()
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the command loop and releases the providers. It respects
// the context deadline: if ctx expires while the loop is still winding
// down, the providers are left alone and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.controller.Stop(ctx); err != nil {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded")
				shutdownErr = err
				return
			}
			shutdownErr = err
		}
		if err := a.providers.Close(); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("app: release providers: %w", err))
		}

		if shutdownErr != nil {
			slog.Warn("shutdown completed with errors", "err", shutdownErr)
			return
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

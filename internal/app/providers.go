package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/resilience"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/contacts"
	"github.com/MrWong99/hark/pkg/provider/nlu"
	"github.com/MrWong99/hark/pkg/provider/sensor"
	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/telephony"
	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

// Providers holds one value per capability slot. Sensor is nil when the
// gesture detector is disabled.
type Providers struct {
	Audio     *audio.Device
	STT       stt.Provider
	TTS       tts.Provider
	VAD       vad.Engine
	NLU       nlu.Provider
	Contacts  contacts.Provider
	Telephony telephony.Provider
	Sensor    sensor.Provider

	// closers release the backends that hold OS or network resources. NLU is
	// not listed: the loop releases it through the intent resolver.
	closers []func() error
}

// track remembers v for Close when it holds resources.
func (ps *Providers) track(v any) {
	if c, ok := v.(io.Closer); ok {
		ps.closers = append(ps.closers, c.Close)
	}
}

// Close releases the tracked backends in reverse creation order.
func (ps *Providers) Close() error {
	var errs []error
	for _, c := range slices.Backward(ps.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	ps.closers = nil
	return errors.Join(errs...)
}

// BuildProviders instantiates every provider named in cfg through reg. STT
// and NLU are wrapped in failover groups when fallbacks are configured. On
// error every backend created so far is released.
func BuildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (_ *Providers, err error) {
	ps := &Providers{}
	defer func() {
		if err != nil {
			_ = ps.Close()
		}
	}()

	// ── Audio ────────────────────────────────────────────────────────────
	dev, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		return nil, providerErr("audio", cfg.Providers.Audio.Name, err)
	}
	if dev.Close != nil {
		ps.closers = append(ps.closers, dev.Close)
	}
	ps.Audio = dev
	logCreated("audio", cfg.Providers.Audio)

	// ── STT (+ fallbacks) ────────────────────────────────────────────────
	primary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, providerErr("stt", cfg.Providers.STT.Name, err)
	}
	ps.track(primary)
	logCreated("stt", cfg.Providers.STT)
	ps.STT = primary
	if len(cfg.Providers.STTFallback) > 0 {
		group := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, resilience.FallbackConfig{}, metrics)
		for _, entry := range cfg.Providers.STTFallback {
			p, err := reg.CreateSTT(entry)
			if err != nil {
				return nil, providerErr("stt", entry.Name, err)
			}
			ps.track(p)
			group.AddFallback(entry.Name, p)
			logCreated("stt fallback", entry)
		}
		ps.STT = group
	}

	// ── TTS ──────────────────────────────────────────────────────────────
	if ps.TTS, err = reg.CreateTTS(cfg.Providers.TTS); err != nil {
		return nil, providerErr("tts", cfg.Providers.TTS.Name, err)
	}
	ps.track(ps.TTS)
	logCreated("tts", cfg.Providers.TTS)

	// ── VAD ──────────────────────────────────────────────────────────────
	if ps.VAD, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
		return nil, providerErr("vad", cfg.Providers.VAD.Name, err)
	}
	logCreated("vad", cfg.Providers.VAD)

	// ── Contacts + telephony ─────────────────────────────────────────────
	if ps.Contacts, err = reg.CreateContacts(cfg.Providers.Contacts); err != nil {
		return nil, providerErr("contacts", cfg.Providers.Contacts.Name, err)
	}
	ps.track(ps.Contacts)
	logCreated("contacts", cfg.Providers.Contacts)

	if ps.Telephony, err = reg.CreateTelephony(cfg.Providers.Telephony); err != nil {
		return nil, providerErr("telephony", cfg.Providers.Telephony.Name, err)
	}
	logCreated("telephony", cfg.Providers.Telephony)

	// ── Sensor ───────────────────────────────────────────────────────────
	if cfg.Gesture.Enabled {
		if ps.Sensor, err = reg.CreateSensor(cfg.Providers.Sensor); err != nil {
			return nil, providerErr("sensor", cfg.Providers.Sensor.Name, err)
		}
		ps.track(ps.Sensor)
		logCreated("sensor", cfg.Providers.Sensor)
	}

	// ── NLU chain ────────────────────────────────────────────────────────
	// Built last: once it exists nothing else here can fail.
	if ps.NLU, err = buildNLU(ctx, cfg, reg, metrics); err != nil {
		return nil, err
	}
	return ps, nil
}

// buildNLU creates the intent detector chain from cfg.NLUChain.
func buildNLU(ctx context.Context, cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (nlu.Provider, error) {
	chain := cfg.NLUChain()
	if len(chain) == 0 {
		return nil, errors.New("app: no nlu provider configured")
	}

	created := make([]nlu.Provider, 0, len(chain))
	for _, name := range chain {
		p, err := reg.CreateNLU(ctx, name, cfg)
		if err != nil {
			for _, c := range created {
				if cl, ok := c.(io.Closer); ok {
					_ = cl.Close()
				}
			}
			return nil, providerErr("nlu", name, err)
		}
		created = append(created, p)
		slog.Info("provider created", "kind", "nlu", "name", name)
	}
	if len(created) == 1 {
		return created[0], nil
	}

	group := resilience.NewNLUFallback(created[0], chain[0], resilience.FallbackConfig{}, metrics)
	for i, p := range created[1:] {
		group.AddFallback(chain[i+1], p)
	}
	return group, nil
}

func providerErr(kind, name string, err error) error {
	return fmt.Errorf("app: create %s provider %q: %w", kind, name, err)
}

func logCreated(kind string, e config.ProviderEntry) {
	slog.Info("provider created", "kind", kind, "name", e.Name, "model", e.Model)
}

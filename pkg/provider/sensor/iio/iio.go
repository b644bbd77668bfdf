// Package iio implements sensor.Provider for Linux Industrial I/O
// accelerometers exposed under /sys/bus/iio/devices.
//
// The device directory must provide in_accel_{x,y,z}_raw and may provide a
// shared in_accel_scale (or per-axis in_accel_{x,y,z}_scale). Raw values are
// multiplied by the scale to yield m/s². Samples are polled on a ticker since
// sysfs offers no change notification for these attributes.
package iio

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/hark/pkg/provider/sensor"
)

// DevicesDir is the sysfs directory holding IIO devices.
const DevicesDir = "/sys/bus/iio/devices"

// ErrNoAccelerometer is returned by Discover when no device exposes
// acceleration channels.
var ErrNoAccelerometer = errors.New("iio: no accelerometer found")

// Provider polls one IIO device.
type Provider struct {
	fs       afero.Fs
	dir      string
	interval time.Duration
	now      func() time.Time
}

var _ sensor.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithInterval sets the polling period. Default: 20ms (50 Hz).
func WithInterval(d time.Duration) Option {
	return func(p *Provider) { p.interval = d }
}

// WithFs replaces the OS filesystem, for tests.
func WithFs(fs afero.Fs) Option {
	return func(p *Provider) { p.fs = fs }
}

// New returns a Provider reading from the device directory dir. An empty dir
// selects the first accelerometer found by Discover.
func New(dir string, opts ...Option) (*Provider, error) {
	p := &Provider{fs: afero.NewOsFs(), interval: 20 * time.Millisecond, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	if dir == "" {
		d, err := Discover(p.fs)
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if ok, _ := afero.Exists(p.fs, filepath.Join(dir, "in_accel_x_raw")); !ok {
		return nil, fmt.Errorf("iio: %s has no in_accel_x_raw", dir)
	}
	p.dir = dir
	return p, nil
}

// Discover returns the first device under DevicesDir with acceleration
// channels.
func Discover(fs afero.Fs) (string, error) {
	matches, err := afero.Glob(fs, filepath.Join(DevicesDir, "iio:device*", "in_accel_x_raw"))
	if err != nil {
		return "", fmt.Errorf("iio: discover: %w", err)
	}
	if len(matches) == 0 {
		return "", ErrNoAccelerometer
	}
	return filepath.Dir(matches[0]), nil
}

// Subscribe implements sensor.Provider.
func (p *Provider) Subscribe(ctx context.Context) (<-chan sensor.Sample, error) {
	if _, err := p.read(); err != nil {
		return nil, err
	}

	ch := make(chan sensor.Sample, 1)
	go func() {
		defer close(ch)
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			s, err := p.read()
			if err != nil {
				// Device vanished; the subscriber re-subscribes.
				return
			}
			select {
			case ch <- s:
			case <-ctx.Done():
				return
			default:
				// Consumer is behind; a stale motion sample is worthless.
			}
		}
	}()
	return ch, nil
}

func (p *Provider) read() (sensor.Sample, error) {
	shared, err := p.readFloat("in_accel_scale")
	if err != nil {
		shared = 1
	}
	var v [3]float64
	for i, axis := range []string{"x", "y", "z"} {
		raw, err := p.readFloat("in_accel_" + axis + "_raw")
		if err != nil {
			return sensor.Sample{}, err
		}
		scale, err := p.readFloat("in_accel_" + axis + "_scale")
		if err != nil {
			scale = shared
		}
		v[i] = raw * scale
	}
	return sensor.Sample{X: v[0], Y: v[1], Z: v[2], Time: p.now()}, nil
}

func (p *Provider) readFloat(name string) (float64, error) {
	b, err := afero.ReadFile(p.fs, filepath.Join(p.dir, name))
	if err != nil {
		return 0, fmt.Errorf("iio: read %s: %w", name, err)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, fmt.Errorf("iio: parse %s: %w", name, err)
	}
	return f, nil
}

package gesture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/MrWong99/hark/internal/gesture"
	"github.com/MrWong99/hark/pkg/provider/sensor"
	"github.com/MrWong99/hark/pkg/provider/sensor/mock"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(ms int, x, y, z float64) sensor.Sample {
	return sensor.Sample{X: x, Y: y, Z: z, Time: t0.Add(time.Duration(ms) * time.Millisecond)}
}

func TestDetector_Observe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		samples   []sensor.Sample
		wantShake []bool
		wantSpeed float64
	}{
		{
			name:      "crosses threshold",
			samples:   []sensor.Sample{at(0, 0, 0, 0), at(100, 9, 0, 0)},
			wantShake: []bool{false, true},
			wantSpeed: 900,
		},
		{
			name:      "below threshold",
			samples:   []sensor.Sample{at(0, 0, 0, 0), at(100, 7, 0, 0)},
			wantShake: []bool{false, false},
		},
		{
			name:      "exactly at threshold",
			samples:   []sensor.Sample{at(0, 0, 0, 0), at(100, 8, 0, 0)},
			wantShake: []bool{false, false},
		},
		{
			name:      "axis deltas cancel out",
			samples:   []sensor.Sample{at(0, 0, 0, 0), at(100, 9, -9, 0)},
			wantShake: []bool{false, false},
		},
		{
			name:      "negative sum counts by magnitude",
			samples:   []sensor.Sample{at(0, 5, 5, 5), at(200, -5, -5, -5)},
			wantShake: []bool{false, true},
			wantSpeed: 1500,
		},
		{
			name:      "samples inside interval are skipped",
			samples:   []sensor.Sample{at(0, 0, 0, 0), at(50, 100, 0, 0), at(100, 9, 0, 0)},
			wantShake: []bool{false, false, true},
			wantSpeed: 900,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := gesture.New()
			for i, s := range tt.samples {
				ev, ok := d.Observe(s)
				if ok != tt.wantShake[i] {
					t.Fatalf("sample %d: shake = %v, want %v", i, ok, tt.wantShake[i])
				}
				if ok && ev.Speed != tt.wantSpeed {
					t.Errorf("sample %d: speed = %v, want %v", i, ev.Speed, tt.wantSpeed)
				}
				if ok && !ev.Time.Equal(s.Time) {
					t.Errorf("sample %d: event time = %v, want %v", i, ev.Time, s.Time)
				}
			}
		})
	}
}

func TestDetector_SetThreshold(t *testing.T) {
	t.Parallel()

	d := gesture.New(gesture.WithThreshold(1000))
	d.Observe(at(0, 0, 0, 0))
	if _, ok := d.Observe(at(100, 9, 0, 0)); ok {
		t.Fatal("shake reported below custom threshold")
	}
	d.SetThreshold(500)
	if got := d.Threshold(); got != 500 {
		t.Fatalf("Threshold() = %v, want 500", got)
	}
	if _, ok := d.Observe(at(200, 0, 0, 0)); !ok {
		t.Error("shake not reported after lowering threshold")
	}
}

func TestDetector_RunPublishes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	src := &mock.Provider{
		Samples: []sensor.Sample{at(0, 0, 0, 0), at(100, 9, 0, 0), at(200, 9, 0, 0)},
		Hold:    true,
	}
	d := gesture.New()

	var mu sync.Mutex
	var handled []gesture.Event
	d.OnShake(func(_ context.Context, e gesture.Event) {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, e)
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx, src) }()

	select {
	case ev := <-d.Events():
		if ev.Speed != 900 {
			t.Errorf("event speed = %v, want 900", ev.Speed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no shake event")
	}

	if err := d.Run(ctx, src); !errors.Is(err, gesture.ErrAlreadyRunning) {
		t.Errorf("second Run err = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	for range d.Events() {
	}
	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 {
		t.Errorf("handler called %d times, want 1", len(handled))
	}
}

func TestDetector_RunResubscribes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	src := &mock.Provider{SubscribeErr: errors.New("no device")}
	d := gesture.New(gesture.WithBackoff(time.Millisecond, 4*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx, src) }()

	deadline := time.Now().Add(2 * time.Second)
	for src.SubscribeCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d subscribe attempts", src.SubscribeCount())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestDetector_EventsDropOldest(t *testing.T) {
	t.Parallel()

	var samples []sensor.Sample
	for i := 0; i < 40; i++ {
		x := 0.0
		if i%2 == 1 {
			x = 9
		}
		samples = append(samples, at(i*100, x, 0, 0))
	}
	src := &mock.Provider{Samples: samples, Hold: true}
	d := gesture.New()

	var mu sync.Mutex
	count := 0
	d.OnShake(func(context.Context, gesture.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx, src)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := count
		mu.Unlock()
		if n == 39 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("handler saw %d shakes, want 39", n)
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	var last gesture.Event
	buffered := 0
	for ev := range d.Events() {
		buffered++
		last = ev
	}
	if buffered != 16 {
		t.Errorf("buffered events = %d, want 16", buffered)
	}
	if want := samples[39].Time; !last.Time.Equal(want) {
		t.Errorf("newest buffered event at %v, want %v", last.Time, want)
	}
}

// Package sensor defines the 3-axis motion sensor capability consumed by the
// gesture detector.
package sensor

import (
	"context"
	"time"
)

// Sample is one accelerometer reading in m/s².
type Sample struct {
	X, Y, Z float64
	Time    time.Time
}

// Provider delivers samples at a device-defined cadence.
type Provider interface {
	// Subscribe starts delivery. The channel is closed when ctx is cancelled
	// or the device stops producing samples.
	Subscribe(ctx context.Context) (<-chan Sample, error)
}

package dispatch

import (
	"context"

	"github.com/MrWong99/hark/internal/gesture"
)

// OnShake is the extension point for shake gestures. It currently only logs
// the event; shakes are counted by the detector itself.
func (d *Dispatcher) OnShake(ctx context.Context, e gesture.Event) {
	d.log.InfoContext(ctx, "dispatch: shake gesture", "speed", e.Speed, "at", e.Time)
}

// Package mock provides a scripted sensor.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hark/pkg/provider/sensor"
)

// Provider replays Samples on every subscription.
type Provider struct {
	mu sync.Mutex

	// Samples are sent in order on each subscription.
	Samples []sensor.Sample

	// Hold keeps the channel open after the samples until ctx is cancelled.
	// Without it the channel closes, simulating a device that went away.
	Hold bool

	// SubscribeErr, if non-nil, is returned by Subscribe.
	SubscribeErr error

	// Subscriptions counts Subscribe calls.
	Subscriptions int
}

// Subscribe starts replaying Samples.
func (p *Provider) Subscribe(ctx context.Context) (<-chan sensor.Sample, error) {
	p.mu.Lock()
	p.Subscriptions++
	samples := append([]sensor.Sample(nil), p.Samples...)
	hold, err := p.Hold, p.SubscribeErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan sensor.Sample)
	go func() {
		defer close(ch)
		for _, s := range samples {
			select {
			case ch <- s:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// SubscribeCount returns Subscriptions. Thread-safe.
func (p *Provider) SubscribeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Subscriptions
}

var _ sensor.Provider = (*Provider)(nil)

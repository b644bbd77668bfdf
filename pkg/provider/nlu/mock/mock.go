// Package mock provides a test double for nlu.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hark/pkg/provider/nlu"
)

// Provider is a mock implementation of nlu.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by DetectIntent when DetectFunc is nil.
	Result nlu.Result

	// Err, if non-nil, is returned by DetectIntent.
	Err error

	// DetectFunc, if set, computes the answer per query.
	DetectFunc func(ctx context.Context, q nlu.Query) (nlu.Result, error)

	// Block, if non-nil, makes DetectIntent wait until it is closed or ctx is
	// cancelled.
	Block chan struct{}

	// Queries records every query received.
	Queries []nlu.Query
}

// DetectIntent records q and returns the configured answer.
func (p *Provider) DetectIntent(ctx context.Context, q nlu.Query) (nlu.Result, error) {
	p.mu.Lock()
	p.Queries = append(p.Queries, q)
	block, fn, res, err := p.Block, p.DetectFunc, p.Result, p.Err
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nlu.Result{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, q)
	}
	return res, err
}

// Calls returns a copy of Queries. Thread-safe.
func (p *Provider) Calls() []nlu.Query {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]nlu.Query(nil), p.Queries...)
}

var _ nlu.Provider = (*Provider)(nil)

// Package mock provides a test double for contacts.Provider.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/hark/pkg/provider/contacts"
)

// Provider is an in-memory contacts.Provider with substring matching.
type Provider struct {
	mu sync.Mutex

	// Contacts is searched in order.
	Contacts []contacts.Contact

	// FindErr, if non-nil, is returned by Find.
	FindErr error

	// PingErr is returned by Ping.
	PingErr error

	// FindCalls records every name looked up.
	FindCalls []string
}

// Find records name and returns the first contact containing it.
func (p *Provider) Find(_ context.Context, name string) (contacts.Contact, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FindCalls = append(p.FindCalls, name)
	if p.FindErr != nil {
		return contacts.Contact{}, false, p.FindErr
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, c := range p.Contacts {
		if strings.Contains(strings.ToLower(c.Name), needle) {
			return c, true, nil
		}
	}
	return contacts.Contact{}, false, nil
}

// Ping returns PingErr.
func (p *Provider) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PingErr
}

// Calls returns a copy of FindCalls. Thread-safe.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.FindCalls...)
}

var (
	_ contacts.Provider = (*Provider)(nil)
	_ contacts.Pinger   = (*Provider)(nil)
)

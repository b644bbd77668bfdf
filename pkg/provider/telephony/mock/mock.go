// Package mock provides a test double for telephony.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hark/pkg/provider/telephony"
)

// PlaceCallCall records a PlaceCall invocation.
type PlaceCallCall struct {
	Number string
	Hint   *telephony.AccountHint
}

// Provider is a mock implementation of telephony.Provider.
type Provider struct {
	mu sync.Mutex

	// Accounts is returned by CallCapableAccounts.
	Accounts []telephony.Account

	// AccountsErr, if non-nil, is returned by CallCapableAccounts.
	AccountsErr error

	// PlaceCallErr, if non-nil, is returned by PlaceCall.
	PlaceCallErr error

	// PlaceCallCalls records every PlaceCall invocation.
	PlaceCallCalls []PlaceCallCall

	// AccountsCallCount counts CallCapableAccounts invocations.
	AccountsCallCount int
}

// CallCapableAccounts returns Accounts or AccountsErr.
func (p *Provider) CallCapableAccounts(context.Context) ([]telephony.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AccountsCallCount++
	if p.AccountsErr != nil {
		return nil, p.AccountsErr
	}
	return append([]telephony.Account(nil), p.Accounts...), nil
}

// PlaceCall records the call and returns PlaceCallErr.
func (p *Provider) PlaceCall(_ context.Context, number string, hint *telephony.AccountHint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlaceCallCalls = append(p.PlaceCallCalls, PlaceCallCall{Number: number, Hint: hint})
	return p.PlaceCallErr
}

// Calls returns a copy of PlaceCallCalls. Thread-safe.
func (p *Provider) Calls() []PlaceCallCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlaceCallCall(nil), p.PlaceCallCalls...)
}

var _ telephony.Provider = (*Provider)(nil)

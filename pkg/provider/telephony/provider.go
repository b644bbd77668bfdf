// Package telephony defines the capability used to place outgoing calls.
//
// An exec-based backend that drives ModemManager, a softphone CLI or any
// other dialer lives in telephony/execcmd.
package telephony

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned when the process may not read phone state
// or place calls.
var ErrPermissionDenied = errors.New("telephony: permission denied")

// Account is a call-capable line, typically one SIM slot.
type Account struct {
	ID    string
	Label string
}

// AccountHint asks the dialer to use a specific slot instead of prompting.
type AccountHint struct {
	Slot int
}

// Provider places calls.
type Provider interface {
	// CallCapableAccounts lists the lines able to place calls. It returns an
	// error wrapping ErrPermissionDenied when phone state is not readable.
	CallCapableAccounts(ctx context.Context) ([]Account, error)

	// PlaceCall dials number. hint is nil when the default line should be
	// used.
	PlaceCall(ctx context.Context, number string, hint *AccountHint) error
}

package health

import (
	"context"
	"fmt"

	"github.com/MrWong99/hark/internal/loop"
	"github.com/MrWong99/hark/pkg/provider/contacts"
)

// StateReporter is implemented by *loop.Controller.
type StateReporter interface {
	State() loop.State
}

// LoopChecker fails while the controller is Idle (not started or waiting to
// restart listening) or Stopping.
func LoopChecker(c StateReporter) Checker {
	return Checker{
		Name: "loop",
		Check: func(context.Context) error {
			switch s := c.State(); s {
			case loop.Idle, loop.Stopping:
				return fmt.Errorf("command loop is %s", s)
			}
			return nil
		},
	}
}

// ConfigChecker fails while the most recent config reload was rejected.
// lastErr is typically (*config.Watcher).LastError.
func ConfigChecker(lastErr func() error) Checker {
	return Checker{
		Name: "config",
		Check: func(context.Context) error {
			if err := lastErr(); err != nil {
				return fmt.Errorf("last reload rejected: %w", err)
			}
			return nil
		},
	}
}

// ContactsChecker pings the contact store.
func ContactsChecker(p contacts.Pinger) Checker {
	return Checker{
		Name:  "contacts",
		Check: p.Ping,
	}
}

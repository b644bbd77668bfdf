// Package contacts defines the contact lookup capability used to resolve a
// spoken name to a phone number.
//
// Backends live in sub-packages: sqlite (embedded database), postgres (shared
// address book) and book (YAML file with phonetic matching).
package contacts

import (
	"context"
	"strings"
)

// Contact is a single address-book entry.
type Contact struct {
	Name        string `yaml:"name"`
	PhoneNumber string `yaml:"phone"`
}

// Provider looks up contacts.
//
// Find returns the first contact whose display name contains name,
// case-insensitively. A miss is (Contact{}, false, nil); errors are reserved
// for an unreachable or broken store.
type Provider interface {
	Find(ctx context.Context, name string) (Contact, bool, error)
}

// Pinger is implemented by providers that can verify their store is reachable
// without performing a lookup.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Lister is implemented by providers that hold their whole address book in
// memory. The names are used as recognizer vocabulary hints.
type Lister interface {
	Names() []string
}

// Watcher is implemented by providers that can follow changes to their
// backing store. Watch blocks until ctx is done.
type Watcher interface {
	Watch(ctx context.Context) error
}

// LikePattern returns a SQL LIKE pattern matching any value containing name.
// The wildcards % and _ and the escape character \ inside name are escaped,
// so the query must use ESCAPE '\'.
func LikePattern(name string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(name)) + "%"
}

// Package book implements contacts.Provider over a YAML address book:
//
//	contacts:
//	  - name: John Smith
//	    phone: "+15550001"
//	  - name: Mom
//	    phone: "+15550100"
//
// Lookup first tries a case-insensitive substring match in file order. If that
// misses, the spoken name is matched phonetically, which absorbs recognizer
// spellings such as "jon" for "John".
package book

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hark/internal/phonetic"
	"github.com/MrWong99/hark/pkg/provider/contacts"
)

type file struct {
	Contacts []contacts.Contact `yaml:"contacts"`
}

// Book is a contacts.Provider backed by an in-memory list. It is safe for
// concurrent use; Reload swaps the list atomically.
type Book struct {
	mu       sync.RWMutex
	entries  []contacts.Contact
	path     string
	matcher  *phonetic.Matcher
	phonetic bool
}

var (
	_ contacts.Provider = (*Book)(nil)
	_ contacts.Pinger   = (*Book)(nil)
	_ contacts.Lister   = (*Book)(nil)
	_ contacts.Watcher  = (*Book)(nil)
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Option configures a Book.
type Option func(*Book)

// WithoutPhonetic disables the phonetic fallback.
func WithoutPhonetic() Option {
	return func(b *Book) { b.phonetic = false }
}

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(b *Book) { b.matcher = m }
}

// New creates a Book from entries.
func New(entries []contacts.Contact, opts ...Option) *Book {
	b := &Book{entries: entries, matcher: phonetic.New(), phonetic: true}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Load reads the YAML file at path.
func Load(path string, opts ...Option) (*Book, error) {
	entries, err := readFile(path)
	if err != nil {
		return nil, err
	}
	b := New(entries, opts...)
	b.path = path
	return b, nil
}

// Decode parses an address book from r.
func Decode(r io.Reader) ([]contacts.Contact, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("contacts/book: decode: %w", err)
	}
	var errs []error
	for i, c := range f.Contacts {
		if strings.TrimSpace(c.Name) == "" {
			errs = append(errs, fmt.Errorf("contacts[%d]: name is required", i))
		}
		if strings.TrimSpace(c.PhoneNumber) == "" {
			errs = append(errs, fmt.Errorf("contacts[%d] (%s): phone is required", i, c.Name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("contacts/book: %w", err)
	}
	return f.Contacts, nil
}

func readFile(path string) ([]contacts.Contact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("contacts/book: open: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Reload re-reads the file the Book was loaded from. On error the current
// entries are kept.
func (b *Book) Reload() error {
	if b.path == "" {
		return errors.New("contacts/book: not loaded from a file")
	}
	entries, err := readFile(b.path)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()
	return nil
}

// Watch reloads the book whenever its file is written or replaced, until ctx
// is done. A reload that fails keeps the current entries. The directory is
// watched rather than the file so rename-on-save editors are picked up.
func (b *Book) Watch(ctx context.Context) error {
	if b.path == "" {
		return errors.New("contacts/book: not loaded from a file")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("contacts/book: create watcher: %w", err)
	}
	defer fsw.Close()
	path := filepath.Clean(b.path)
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("contacts/book: watch %q: %w", path, err)
	}

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(reloadDebounce)
		case <-timer.C:
			if err := b.Reload(); err != nil {
				slog.Warn("contacts/book: keeping previous entries", "path", path, "err", err)
				continue
			}
			slog.Info("contacts/book: reloaded", "path", path, "entries", b.Len())
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("contacts/book: watch error", "err", err)
		}
	}
}

// Len returns the number of entries.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Names returns the display names in file order.
func (b *Book) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.entries))
	for i, c := range b.entries {
		out[i] = c.Name
	}
	return out
}

// Find implements contacts.Provider.
func (b *Book) Find(ctx context.Context, name string) (contacts.Contact, bool, error) {
	if err := ctx.Err(); err != nil {
		return contacts.Contact{}, false, err
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return contacts.Contact{}, false, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range b.entries {
		if strings.Contains(strings.ToLower(c.Name), needle) {
			return c, true, nil
		}
	}
	if !b.phonetic {
		return contacts.Contact{}, false, nil
	}

	names := make([]string, len(b.entries))
	for i, c := range b.entries {
		names[i] = c.Name
	}
	if i, _, ok := b.matcher.Best(needle, names); ok {
		return b.entries[i], true, nil
	}
	return contacts.Contact{}, false, nil
}

// Ping implements contacts.Pinger. It fails when the backing file has become
// unreadable.
func (b *Book) Ping(context.Context) error {
	if b.path == "" {
		return nil
	}
	if _, err := os.Stat(b.path); err != nil {
		return fmt.Errorf("contacts/book: %w", err)
	}
	return nil
}

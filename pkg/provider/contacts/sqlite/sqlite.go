// Package sqlite implements contacts.Provider on an embedded SQLite database
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	"github.com/MrWong99/hark/pkg/provider/contacts"
)

// Schema creates the contacts table.
const Schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	name  TEXT NOT NULL,
	phone TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contacts_name ON contacts(name);
`

// Store is a contacts.Provider backed by SQLite.
type Store struct {
	db *sql.DB
}

var (
	_ contacts.Provider = (*Store)(nil)
	_ contacts.Pinger   = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and applies Schema.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		path, (5 * time.Second).Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("contacts/sqlite: open: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("contacts/sqlite: ping: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("contacts/sqlite: migrate: %w", err)
	}
	return nil
}

// Add inserts contacts in order.
func (s *Store) Add(ctx context.Context, cs ...contacts.Contact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("contacts/sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range cs {
		if c.Name == "" || c.PhoneNumber == "" {
			return fmt.Errorf("contacts/sqlite: contact %q: name and phone are required", c.Name)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO contacts (name, phone) VALUES (?, ?)`, c.Name, c.PhoneNumber); err != nil {
			return fmt.Errorf("contacts/sqlite: insert %q: %w", c.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("contacts/sqlite: commit: %w", err)
	}
	return nil
}

// Find implements contacts.Provider. SQLite's LIKE is case-insensitive for
// ASCII; the earliest inserted match wins.
func (s *Store) Find(ctx context.Context, name string) (contacts.Contact, bool, error) {
	const query = `SELECT name, phone FROM contacts WHERE name LIKE ? ESCAPE '\' ORDER BY id LIMIT 1`

	var c contacts.Contact
	err := s.db.QueryRowContext(ctx, query, contacts.LikePattern(name)).Scan(&c.Name, &c.PhoneNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return contacts.Contact{}, false, nil
	}
	if err != nil {
		return contacts.Contact{}, false, fmt.Errorf("contacts/sqlite: find %q: %w", name, err)
	}
	return c, true, nil
}

// Ping implements contacts.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

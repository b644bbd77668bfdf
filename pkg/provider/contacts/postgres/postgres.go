// Package postgres implements contacts.Provider on a shared PostgreSQL address
// book using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/hark/pkg/provider/contacts"
)

// Schema is the DDL for the contacts table. Apply it with [Store.Migrate].
const Schema = `
CREATE TABLE IF NOT EXISTS contacts (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL,
    phone      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_contacts_name_lower ON contacts(lower(name));
`

// DB is the subset of *pgxpool.Pool and *pgx.Conn used by Store.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a contacts.Provider backed by PostgreSQL.
type Store struct {
	db DB
}

var (
	_ contacts.Provider = (*Store)(nil)
	_ contacts.Pinger   = (*Store)(nil)
)

// New wraps an existing connection or pool.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pool for dsn and verifies connectivity. The returned close
// function releases the pool.
func Connect(ctx context.Context, dsn string) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("contacts/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("contacts/postgres: ping: %w", err)
	}
	return New(pool), pool.Close, nil
}

// Migrate executes Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("contacts/postgres: migrate: %w", err)
	}
	return nil
}

// Add inserts a contact.
func (s *Store) Add(ctx context.Context, c contacts.Contact) error {
	if c.Name == "" || c.PhoneNumber == "" {
		return fmt.Errorf("contacts/postgres: contact %q: name and phone are required", c.Name)
	}
	if _, err := s.db.Exec(ctx, `INSERT INTO contacts (name, phone) VALUES ($1, $2)`, c.Name, c.PhoneNumber); err != nil {
		return fmt.Errorf("contacts/postgres: insert %q: %w", c.Name, err)
	}
	return nil
}

// Find implements contacts.Provider.
func (s *Store) Find(ctx context.Context, name string) (contacts.Contact, bool, error) {
	const query = `
		SELECT name, phone
		FROM contacts
		WHERE name ILIKE $1 ESCAPE '\'
		ORDER BY id
		LIMIT 1`

	var c contacts.Contact
	err := s.db.QueryRow(ctx, query, contacts.LikePattern(name)).Scan(&c.Name, &c.PhoneNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contacts.Contact{}, false, nil
		}
		return contacts.Contact{}, false, fmt.Errorf("contacts/postgres: find %q: %w", name, err)
	}
	return c, true, nil
}

// Ping implements contacts.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("contacts/postgres: ping: %w", err)
	}
	return nil
}

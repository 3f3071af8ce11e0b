// Package store implements typed persistence for builds, verified programs,
// program authorities, and build logs over database/sql.
//
// The SQL is portable: it runs against Postgres (lib/pq) in production and
// against SQLite (modernc.org/sqlite) in lite mode and tests.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// ErrorKind classifies store failures.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota
	KindConstraint
	KindTransport
)

// Error is the failure type surfaced by every Store operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a store not-found error.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindNotFound
}

// wrap classifies a database error. sql.ErrNoRows maps to NotFound,
// unique/check violations to Constraint, everything else to Transport.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindTransport
	switch {
	case errors.Is(err, sql.ErrNoRows):
		kind = KindNotFound
	default:
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && strings.HasPrefix(string(pqErr.Code), "23") {
			kind = KindConstraint
		} else if strings.Contains(err.Error(), "constraint") {
			// modernc.org/sqlite reports violations as plain strings
			kind = KindConstraint
		}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Store provides typed access to the verification schema.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle. Callers own pool sizing.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

const schema = `
CREATE TABLE IF NOT EXISTS builds (
	id TEXT PRIMARY KEY,
	program_id TEXT NOT NULL,
	repository TEXT NOT NULL,
	commit_hash TEXT,
	lib_name TEXT,
	base_image TEXT,
	mount_path TEXT,
	cargo_args TEXT,
	bpf_flag BOOLEAN NOT NULL DEFAULT FALSE,
	arch TEXT,
	signer TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_builds_program_created
	ON builds (program_id, created_at);

CREATE TABLE IF NOT EXISTS verified_programs (
	id TEXT PRIMARY KEY,
	program_id TEXT NOT NULL,
	is_verified BOOLEAN NOT NULL,
	on_chain_hash TEXT NOT NULL,
	executable_hash TEXT NOT NULL,
	verified_at TIMESTAMP NOT NULL,
	build_id TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_verified_program_at
	ON verified_programs (program_id, verified_at);

CREATE TABLE IF NOT EXISTS program_authority (
	program_id TEXT PRIMARY KEY,
	authority TEXT,
	is_frozen BOOLEAN NOT NULL DEFAULT FALSE,
	is_closed BOOLEAN NOT NULL DEFAULT FALSE,
	last_updated TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS build_logs (
	id TEXT PRIMARY KEY,
	program_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_build_logs_program
	ON build_logs (program_id, created_at);
`

// Init creates the schema if absent.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return wrap("init", err)
	}
	return nil
}

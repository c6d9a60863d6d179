// Package accounts implements credential record rotation over a pluggable
// store. Selection is least-used-first so rotation stays fair across
// concurrent relay processes sharing one store, without in-process pointer
// state or locks.
package accounts

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoAccountAvailable means the pool is empty or every account is
	// disabled or missing credentials.
	ErrNoAccountAvailable = errors.New("no enabled account available")

	// ErrAccountNotFound means a lookup by alias matched nothing.
	ErrAccountNotFound = errors.New("account not found")
)

// Record is one credential row: a pair of opaque session cookies captured
// from a real browser, plus the fingerprint context (outbound proxy and
// captured headers) needed to reuse them without detection.
type Record struct {
	Alias       string
	PSID        string
	PSIDTS      string
	Proxy       string
	Headers     map[string]string
	Enabled     bool
	CallCount   int
	LastUsed    time.Time
	LastUpdated time.Time
}

// Usable reports whether the record can authenticate a session.
func (r *Record) Usable() bool {
	return r.Enabled && r.PSID != "" && r.PSIDTS != ""
}

// Store is the credential store contract. Implementations: internal/db
// (local sqlite) and internal/store/supabase (PostgREST). No transactional
// semantics are assumed; see Manager for the resulting race tolerance.
type Store interface {
	// NextEnabled returns the enabled record with the lowest call count,
	// or ErrNoAccountAvailable.
	NextEnabled(ctx context.Context) (*Record, error)

	// Get fetches a record by alias, or ErrAccountNotFound.
	Get(ctx context.Context, alias string) (*Record, error)

	// RecordUse increments the record's call count and stamps last_used,
	// returning the post-increment count.
	RecordUse(ctx context.Context, alias string) (int, error)

	// Upsert inserts a record or patches credential fields of an existing
	// one. Existing rows keep their enabled flag and call count. Returns
	// true if a new row was created.
	Upsert(ctx context.Context, rec Record) (bool, error)

	// List returns every record, most recently updated first.
	List(ctx context.Context) ([]Record, error)

	// ResetCounters sets every call count back to zero.
	ResetCounters(ctx context.Context) error
}

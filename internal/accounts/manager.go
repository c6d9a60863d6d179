package accounts

import (
	"context"
	"fmt"
	"log"
)

// Snapshot is a by-value copy of the selected record with its
// post-increment call count. Callers never see the stored record itself.
type Snapshot struct {
	Alias     string
	PSID      string
	PSIDTS    string
	Proxy     string
	Headers   map[string]string
	CallCount int
}

// Manager hands out the least-recently-used enabled account and records
// usage. Two concurrent callers may pick the same lowest-count account and
// both increment it; that degrades fairness slightly but never yields an
// invalid account, so no lock is taken (and none should be added).
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Select returns the next account under the least-used-first policy and
// bumps its usage counter. The counter update is best-effort: if it fails,
// the selection is still returned, since availability matters more than
// bookkeeping.
func (m *Manager) Select(ctx context.Context) (Snapshot, error) {
	rec, err := m.store.NextEnabled(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	// The store only filters on the enabled flag; a row with missing
	// cookies must still never be handed out.
	if !rec.Usable() {
		return Snapshot{}, fmt.Errorf("account %q has no usable credentials: %w", rec.Alias, ErrNoAccountAvailable)
	}

	count, err := m.store.RecordUse(ctx, rec.Alias)
	if err != nil {
		log.Printf("⚠️ Failed to record usage for account %s: %v", rec.Alias, err)
		count = rec.CallCount + 1
	}

	return snapshotOf(rec, count), nil
}

// Lookup fetches a specific account by alias without touching its counter.
func (m *Manager) Lookup(ctx context.Context, alias string) (Snapshot, error) {
	rec, err := m.store.Get(ctx, alias)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(rec, rec.CallCount), nil
}

// ResetCounters zeroes every account's call count. Administrative
// rebalancing only, never on the request path.
func (m *Manager) ResetCounters(ctx context.Context) error {
	return m.store.ResetCounters(ctx)
}

func snapshotOf(rec *Record, count int) Snapshot {
	headers := make(map[string]string, len(rec.Headers))
	for k, v := range rec.Headers {
		headers[k] = v
	}
	return Snapshot{
		Alias:     rec.Alias,
		PSID:      rec.PSID,
		PSIDTS:    rec.PSIDTS,
		Proxy:     rec.Proxy,
		Headers:   headers,
		CallCount: count,
	}
}

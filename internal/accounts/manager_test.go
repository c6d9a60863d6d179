package accounts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"
)

// fakeStore is an in-memory Store with the same selection semantics as the
// real backends: enabled filter, call_count ascending, limit 1.
type fakeStore struct {
	records    map[string]*Record
	recordErr  error // forced RecordUse failure
	useCalls   int
	resetCalls int
}

func newFakeStore(recs ...Record) *fakeStore {
	s := &fakeStore{records: make(map[string]*Record)}
	for i := range recs {
		r := recs[i]
		s.records[r.Alias] = &r
	}
	return s
}

func (s *fakeStore) NextEnabled(ctx context.Context) (*Record, error) {
	var candidates []*Record
	for _, r := range s.records {
		if r.Enabled {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoAccountAvailable
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CallCount != candidates[j].CallCount {
			return candidates[i].CallCount < candidates[j].CallCount
		}
		return candidates[i].Alias < candidates[j].Alias
	})
	cp := *candidates[0]
	return &cp, nil
}

func (s *fakeStore) Get(ctx context.Context, alias string) (*Record, error) {
	r, ok := s.records[alias]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) RecordUse(ctx context.Context, alias string) (int, error) {
	s.useCalls++
	if s.recordErr != nil {
		return 0, s.recordErr
	}
	r, ok := s.records[alias]
	if !ok {
		return 0, ErrAccountNotFound
	}
	r.CallCount++
	r.LastUsed = time.Now()
	return r.CallCount, nil
}

func (s *fakeStore) Upsert(ctx context.Context, rec Record) (bool, error) {
	_, exists := s.records[rec.Alias]
	s.records[rec.Alias] = &rec
	return !exists, nil
}

func (s *fakeStore) List(ctx context.Context) ([]Record, error) {
	var out []Record
	for _, r := range s.records {
		out = append(out, *r)
	}
	return out, nil
}

func (s *fakeStore) ResetCounters(ctx context.Context) error {
	s.resetCalls++
	for _, r := range s.records {
		r.CallCount = 0
	}
	return nil
}

func enabled(alias string, count int) Record {
	return Record{
		Alias:     alias,
		PSID:      "psid-" + alias,
		PSIDTS:    "psidts-" + alias,
		Enabled:   true,
		CallCount: count,
	}
}

func TestSelect_LeastUsedFirst(t *testing.T) {
	store := newFakeStore(
		enabled("a", 5),
		enabled("b", 2),
	)
	m := NewManager(store)

	snap, err := m.Select(context.Background())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if snap.Alias != "b" {
		t.Errorf("selected alias = %q, want b (lowest call count)", snap.Alias)
	}
	if snap.CallCount != 3 {
		t.Errorf("post-increment call count = %d, want 3", snap.CallCount)
	}
}

func TestSelect_SkipsDisabled(t *testing.T) {
	store := newFakeStore(
		Record{Alias: "off", PSID: "p", PSIDTS: "ts", Enabled: false, CallCount: 0},
		enabled("on", 100),
	)
	m := NewManager(store)

	for i := 0; i < 5; i++ {
		snap, err := m.Select(context.Background())
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if snap.Alias != "on" {
			t.Fatalf("selected disabled account %q", snap.Alias)
		}
	}
}

func TestSelect_EmptyPool(t *testing.T) {
	cases := []struct {
		name  string
		store *fakeStore
	}{
		{"no accounts", newFakeStore()},
		{"all disabled", newFakeStore(Record{Alias: "x", PSID: "p", PSIDTS: "ts", Enabled: false})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(tc.store)
			_, err := m.Select(context.Background())
			if !errors.Is(err, ErrNoAccountAvailable) {
				t.Errorf("err = %v, want ErrNoAccountAvailable", err)
			}
		})
	}
}

func TestSelect_RejectsEmptyCredentials(t *testing.T) {
	store := newFakeStore(Record{Alias: "hollow", Enabled: true})
	m := NewManager(store)

	_, err := m.Select(context.Background())
	if !errors.Is(err, ErrNoAccountAvailable) {
		t.Errorf("err = %v, want ErrNoAccountAvailable for credential-less account", err)
	}
}

func TestSelect_ConvergesTowardUniformUsage(t *testing.T) {
	store := newFakeStore(
		enabled("a", 7),
		enabled("b", 0),
		enabled("c", 3),
	)
	m := NewManager(store)

	// Sequential calls must drive max-min call count to <= 1.
	for i := 0; i < 30; i++ {
		if _, err := m.Select(context.Background()); err != nil {
			t.Fatalf("Select %d failed: %v", i, err)
		}
	}

	min, max := int(^uint(0)>>1), 0
	for _, r := range store.records {
		if r.CallCount < min {
			min = r.CallCount
		}
		if r.CallCount > max {
			max = r.CallCount
		}
	}
	if max-min > 1 {
		t.Errorf("call count spread = %d (min=%d max=%d), want <= 1", max-min, min, max)
	}
}

func TestSelect_BestEffortBookkeeping(t *testing.T) {
	store := newFakeStore(enabled("a", 4))
	store.recordErr = fmt.Errorf("store write refused")
	m := NewManager(store)

	// Counter update failure must not fail the selection.
	snap, err := m.Select(context.Background())
	if err != nil {
		t.Fatalf("Select failed despite best-effort bookkeeping: %v", err)
	}
	if snap.Alias != "a" || snap.CallCount != 5 {
		t.Errorf("snapshot = %q/%d, want a/5 (locally bumped)", snap.Alias, snap.CallCount)
	}
}

func TestLookup(t *testing.T) {
	store := newFakeStore(enabled("known", 9))
	m := NewManager(store)

	snap, err := m.Lookup(context.Background(), "known")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if snap.CallCount != 9 {
		t.Errorf("lookup call count = %d, want 9 (no increment)", snap.CallCount)
	}

	if _, err := m.Lookup(context.Background(), "ghost"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestResetCounters(t *testing.T) {
	store := newFakeStore(enabled("a", 12), enabled("b", 1))
	m := NewManager(store)

	if err := m.ResetCounters(context.Background()); err != nil {
		t.Fatalf("ResetCounters failed: %v", err)
	}
	for alias, r := range store.records {
		if r.CallCount != 0 {
			t.Errorf("account %s call count = %d after reset, want 0", alias, r.CallCount)
		}
	}
}

func TestSnapshotIsolation(t *testing.T) {
	rec := enabled("a", 0)
	rec.Headers = map[string]string{"User-Agent": "captured"}
	store := newFakeStore(rec)
	m := NewManager(store)

	snap, err := m.Select(context.Background())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	snap.Headers["User-Agent"] = "mutated"

	if store.records["a"].Headers["User-Agent"] != "captured" {
		t.Error("mutating a snapshot leaked into the stored record")
	}
}

package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pysugar/gemini-relay/internal/accounts"
	"github.com/pysugar/gemini-relay/internal/config"
	"github.com/pysugar/gemini-relay/internal/upstream"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RetryDelay = 0
	cfg.StreamDelay = 0
	return cfg
}

// memStore is an in-memory accounts.Store with real selection semantics.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*accounts.Record
}

func newMemStore(aliases ...string) *memStore {
	s := &memStore{recs: make(map[string]*accounts.Record)}
	for _, alias := range aliases {
		s.recs[alias] = &accounts.Record{
			Alias:   alias,
			PSID:    "psid-" + alias,
			PSIDTS:  "psidts-" + alias,
			Enabled: true,
		}
	}
	return s
}

func (s *memStore) NextEnabled(ctx context.Context) (*accounts.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *accounts.Record
	for _, rec := range s.recs {
		if !rec.Enabled {
			continue
		}
		if best == nil || rec.CallCount < best.CallCount {
			best = rec
		}
	}
	if best == nil {
		return nil, accounts.ErrNoAccountAvailable
	}
	cp := *best
	return &cp, nil
}

func (s *memStore) Get(ctx context.Context, alias string) (*accounts.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[alias]
	if !ok {
		return nil, accounts.ErrAccountNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) RecordUse(ctx context.Context, alias string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[alias]
	if !ok {
		return 0, accounts.ErrAccountNotFound
	}
	rec.CallCount++
	rec.LastUsed = time.Now()
	return rec.CallCount, nil
}

func (s *memStore) Upsert(ctx context.Context, rec accounts.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.recs[rec.Alias]
	if !ok {
		rec.Enabled = true
		rec.LastUpdated = time.Now()
		s.recs[rec.Alias] = &rec
		return true, nil
	}
	existing.PSID = rec.PSID
	existing.PSIDTS = rec.PSIDTS
	if rec.Proxy != "" {
		existing.Proxy = rec.Proxy
	}
	if len(rec.Headers) > 0 {
		existing.Headers = rec.Headers
	}
	existing.LastUpdated = time.Now()
	return false, nil
}

func (s *memStore) List(ctx context.Context) ([]accounts.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accounts.Record, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out, nil
}

func (s *memStore) ResetCounters(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recs {
		rec.CallCount = 0
	}
	return nil
}

func (s *memStore) callCount(alias string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[alias].CallCount
}

// scriptedSession replays one canned result and counts Close calls.
type scriptedSession struct {
	reply *upstream.Reply
	err   error

	mu       sync.Mutex
	closed   int
	prompts  []string
	files    [][]string
	wantImgs []bool
}

func (s *scriptedSession) Exchange(ctx context.Context, prompt string, files []string, wantImages bool) (*upstream.Reply, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.files = append(s.files, append([]string(nil), files...))
	s.wantImgs = append(s.wantImgs, wantImages)
	s.mu.Unlock()
	return s.reply, s.err
}

func (s *scriptedSession) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

// scriptedOpener hands out one scripted session per Open call, in order.
// The last entry repeats if Open is called more often than scripted.
type scriptedOpener struct {
	mu       sync.Mutex
	sessions []*scriptedSession
	opened   []upstream.Credentials
	openErr  error
}

func (o *scriptedOpener) Open(ctx context.Context, creds upstream.Credentials) (upstream.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.opened = append(o.opened, creds)
	idx := len(o.opened) - 1
	if idx >= len(o.sessions) {
		idx = len(o.sessions) - 1
	}
	return o.sessions[idx], nil
}

func (o *scriptedOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

// noSleep replaces sleepFn for the duration of a test.
func noSleep(t interface{ Cleanup(func()) }) *int {
	calls := new(int)
	orig := sleepFn
	sleepFn = func(ctx context.Context, d time.Duration) { *calls++ }
	t.Cleanup(func() { sleepFn = orig })
	return calls
}

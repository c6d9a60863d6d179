// Package supabase is the PostgREST backend of the credential store
// contract. It speaks the same wire shape the browser-extension ingestion
// pipeline writes to: one row per account in the gemini_accounts table,
// filtered and ordered through query-string operators.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pysugar/gemini-relay/internal/accounts"
)

const accountsTable = "gemini_accounts"

type Store struct {
	apiURL     string
	key        string
	httpClient *http.Client
}

// NewStore builds a store client for the given project URL and service key.
func NewStore(baseURL, key string) *Store {
	return &Store{
		apiURL: strings.TrimRight(baseURL, "/") + "/rest/v1",
		key:    key,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// wireAccount is the PostgREST row shape.
type wireAccount struct {
	Alias       string            `json:"alias"`
	PSID        string            `json:"psid"`
	PSIDTS      string            `json:"psidts"`
	Proxy       string            `json:"proxy,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Enabled     bool              `json:"enabled"`
	CallCount   int               `json:"call_count"`
	LastUsed    string            `json:"last_used,omitempty"`
	LastUpdated string            `json:"last_updated,omitempty"`
}

func (s *Store) NextEnabled(ctx context.Context) (*accounts.Record, error) {
	params := url.Values{}
	params.Set("enabled", "eq.true")
	params.Set("order", "call_count.asc")
	params.Set("limit", "1")

	rows, err := s.getRows(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, accounts.ErrNoAccountAvailable
	}
	return toRecord(&rows[0]), nil
}

func (s *Store) Get(ctx context.Context, alias string) (*accounts.Record, error) {
	params := url.Values{}
	params.Set("alias", "eq."+alias)

	rows, err := s.getRows(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", accounts.ErrAccountNotFound, alias)
	}
	return toRecord(&rows[0]), nil
}

// RecordUse is a read-then-patch: PostgREST has no increment expression
// reachable from a PATCH, so two racing callers may write the same count.
// That degradation is accepted by the rotation design.
func (s *Store) RecordUse(ctx context.Context, alias string) (int, error) {
	rec, err := s.Get(ctx, alias)
	if err != nil {
		return 0, err
	}
	newCount := rec.CallCount + 1

	params := url.Values{}
	params.Set("alias", "eq."+alias)
	patch := map[string]interface{}{
		"call_count": newCount,
		"last_used":  time.Now().Format(time.RFC3339),
	}
	if err := s.write(ctx, http.MethodPatch, params, patch); err != nil {
		return 0, err
	}
	return newCount, nil
}

func (s *Store) Upsert(ctx context.Context, rec accounts.Record) (bool, error) {
	now := time.Now().Format(time.RFC3339)

	_, err := s.Get(ctx, rec.Alias)
	if err == nil {
		params := url.Values{}
		params.Set("alias", "eq."+rec.Alias)
		patch := map[string]interface{}{
			"psid":         rec.PSID,
			"psidts":       rec.PSIDTS,
			"last_updated": now,
		}
		if rec.Proxy != "" {
			patch["proxy"] = rec.Proxy
		}
		if len(rec.Headers) > 0 {
			patch["headers"] = rec.Headers
		}
		if werr := s.write(ctx, http.MethodPatch, params, patch); werr != nil {
			return false, werr
		}
		return false, nil
	}
	if !errors.Is(err, accounts.ErrAccountNotFound) {
		return false, err
	}

	row := wireAccount{
		Alias:       rec.Alias,
		PSID:        rec.PSID,
		PSIDTS:      rec.PSIDTS,
		Proxy:       rec.Proxy,
		Headers:     rec.Headers,
		Enabled:     true,
		CallCount:   0,
		LastUpdated: now,
	}
	if werr := s.write(ctx, http.MethodPost, nil, row); werr != nil {
		return false, werr
	}
	return true, nil
}

func (s *Store) List(ctx context.Context) ([]accounts.Record, error) {
	params := url.Values{}
	params.Set("order", "last_updated.desc.nullslast")

	rows, err := s.getRows(ctx, params)
	if err != nil {
		return nil, err
	}
	out := make([]accounts.Record, 0, len(rows))
	for i := range rows {
		out = append(out, *toRecord(&rows[i]))
	}
	return out, nil
}

func (s *Store) ResetCounters(ctx context.Context) error {
	// PostgREST refuses an unfiltered bulk update; a never-matching
	// not-equals keeps the whole-table semantics.
	params := url.Values{}
	params.Set("alias", "neq.PLACEHOLDER")
	return s.write(ctx, http.MethodPatch, params, map[string]interface{}{"call_count": 0})
}

func (s *Store) getRows(ctx context.Context, params url.Values) ([]wireAccount, error) {
	req, err := s.newRequest(ctx, http.MethodGet, params, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credential store request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("credential store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows []wireAccount
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode credential store response: %w", err)
	}
	return rows, nil
}

func (s *Store) write(ctx context.Context, method string, params url.Values, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode credential store payload: %w", err)
	}

	req, err := s.newRequest(ctx, method, params, bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("credential store request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("credential store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func (s *Store) newRequest(ctx context.Context, method string, params url.Values, body io.Reader) (*http.Request, error) {
	endpoint := s.apiURL + "/" + accountsTable
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build credential store request: %w", err)
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	return req, nil
}

func toRecord(row *wireAccount) *accounts.Record {
	rec := &accounts.Record{
		Alias:     row.Alias,
		PSID:      row.PSID,
		PSIDTS:    row.PSIDTS,
		Proxy:     row.Proxy,
		Headers:   row.Headers,
		Enabled:   row.Enabled,
		CallCount: row.CallCount,
	}
	if t, err := time.Parse(time.RFC3339, row.LastUsed); err == nil {
		rec.LastUsed = t
	}
	if t, err := time.Parse(time.RFC3339, row.LastUpdated); err == nil {
		rec.LastUpdated = t
	}
	return rec
}

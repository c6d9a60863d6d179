// Package db is the local sqlite backend of the credential store contract.
// It is the default for single-machine deployments; multi-process pools
// point at the shared PostgREST backend instead (internal/store/supabase).
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/gemini-relay/internal/accounts"
	"github.com/pysugar/gemini-relay/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the SQLite database and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := gdb.AutoMigrate(&models.Account{}); err != nil {
		return nil, err
	}

	return gdb, nil
}

// Store implements accounts.Store over gorm.
type Store struct {
	db *gorm.DB
}

func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

func (s *Store) NextEnabled(ctx context.Context) (*accounts.Record, error) {
	var acc models.Account
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("call_count ASC").
		First(&acc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accounts.ErrNoAccountAvailable
		}
		return nil, fmt.Errorf("query enabled accounts: %w", err)
	}
	return toRecord(&acc), nil
}

func (s *Store) Get(ctx context.Context, alias string) (*accounts.Record, error) {
	var acc models.Account
	err := s.db.WithContext(ctx).First(&acc, "alias = ?", alias).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", accounts.ErrAccountNotFound, alias)
		}
		return nil, fmt.Errorf("fetch account %s: %w", alias, err)
	}
	return toRecord(&acc), nil
}

// RecordUse bumps the counter in a single UPDATE so two concurrent callers
// both land their increment even when they raced on the same row.
func (s *Store) RecordUse(ctx context.Context, alias string) (int, error) {
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("alias = ?", alias).
		Updates(map[string]interface{}{
			"call_count": gorm.Expr("call_count + 1"),
			"last_used":  time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("update usage for %s: %w", alias, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("%w: %s", accounts.ErrAccountNotFound, alias)
	}

	var acc models.Account
	if err := s.db.WithContext(ctx).Select("call_count").First(&acc, "alias = ?", alias).Error; err != nil {
		return 0, fmt.Errorf("read usage for %s: %w", alias, err)
	}
	return acc.CallCount, nil
}

func (s *Store) Upsert(ctx context.Context, rec accounts.Record) (bool, error) {
	headers, err := encodeHeaders(rec.Headers)
	if err != nil {
		return false, err
	}
	now := time.Now()

	var existing models.Account
	err = s.db.WithContext(ctx).First(&existing, "alias = ?", rec.Alias).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		acc := models.Account{
			Alias:       rec.Alias,
			PSID:        rec.PSID,
			PSIDTS:      rec.PSIDTS,
			Proxy:       rec.Proxy,
			Headers:     headers,
			Enabled:     true,
			CallCount:   0,
			LastUpdated: now,
		}
		if err := s.db.WithContext(ctx).Create(&acc).Error; err != nil {
			return false, fmt.Errorf("create account %s: %w", rec.Alias, err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("query account %s: %w", rec.Alias, err)
	}

	// Partial update: refresh credentials, never touch enabled/call_count.
	updates := map[string]interface{}{
		"psid":         rec.PSID,
		"psidts":       rec.PSIDTS,
		"last_updated": now,
	}
	if rec.Proxy != "" {
		updates["proxy"] = rec.Proxy
	}
	if headers != "" {
		updates["headers"] = headers
	}
	if err := s.db.WithContext(ctx).Model(&models.Account{}).Where("alias = ?", rec.Alias).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("update account %s: %w", rec.Alias, err)
	}
	return false, nil
}

func (s *Store) List(ctx context.Context) ([]accounts.Record, error) {
	var accs []models.Account
	if err := s.db.WithContext(ctx).Order("last_updated DESC").Find(&accs).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]accounts.Record, 0, len(accs))
	for i := range accs {
		out = append(out, *toRecord(&accs[i]))
	}
	return out, nil
}

func (s *Store) ResetCounters(ctx context.Context) error {
	err := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("1 = 1").
		Update("call_count", 0).Error
	if err != nil {
		return fmt.Errorf("reset call counts: %w", err)
	}
	return nil
}

func toRecord(acc *models.Account) *accounts.Record {
	rec := &accounts.Record{
		Alias:       acc.Alias,
		PSID:        acc.PSID,
		PSIDTS:      acc.PSIDTS,
		Proxy:       acc.Proxy,
		Enabled:     acc.Enabled,
		CallCount:   acc.CallCount,
		LastUsed:    acc.LastUsed,
		LastUpdated: acc.LastUpdated,
	}
	if acc.Headers != "" {
		// Malformed header blobs degrade to fingerprint-less requests
		// rather than blocking the account.
		_ = json.Unmarshal([]byte(acc.Headers), &rec.Headers)
	}
	return rec
}

func encodeHeaders(headers map[string]string) (string, error) {
	if len(headers) == 0 {
		return "", nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("encode headers: %w", err)
	}
	return string(data), nil
}

package store

import (
	"context"
	"strings"
	"time"

	"crypto-etl/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertResult counts rows written and rows the store rejected.
type UpsertResult struct {
	Written int
	Failed  int
}

// AppendRaw inserts raw payloads. Raw rows are never updated.
func (s *Store) AppendRaw(ctx context.Context, rows []models.RawRecord) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&rows, s.batchSize).Error; err != nil {
		return &WriteError{Op: "append raw", Err: err}
	}
	return nil
}

// Upsert writes rows keyed by (coin_id, source). Each group of batchSize rows is
// committed on its own; when a group fails its rows are retried one by one so a
// single bad row only costs itself. Applying the same rows twice leaves the same
// table state as applying them once.
func (s *Store) Upsert(ctx context.Context, rows []models.UnifiedCrypto) (UpsertResult, error) {
	var res UpsertResult
	var firstErr error

	rows = dedupeByKey(rows)
	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return upsertClause(tx).Create(&chunk).Error
		})
		if err == nil {
			res.Written += len(chunk)
			continue
		}
		if ctx.Err() != nil {
			res.Failed += len(rows) - start
			return res, &WriteError{Op: "upsert", Err: ctx.Err()}
		}

		for i := range chunk {
			row := chunk[i]
			row.ID = 0
			if err := upsertClause(s.db.WithContext(ctx)).Create(&row).Error; err != nil {
				res.Failed++
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			res.Written++
		}
	}

	if firstErr != nil {
		return res, &WriteError{Op: "upsert", Err: firstErr}
	}
	return res, nil
}

func upsertClause(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "coin_id"}, {Name: "source"}},
		DoUpdates: clause.AssignmentColumns(models.UnifiedMutableColumns),
	})
}

// dedupeByKey keeps the last row for each (coin_id, source) pair. A single
// INSERT ... ON CONFLICT cannot touch the same key twice.
func dedupeByKey(rows []models.UnifiedCrypto) []models.UnifiedCrypto {
	type key struct{ coin, source string }
	last := make(map[key]int, len(rows))
	for i, r := range rows {
		last[key{r.CoinID, r.Source}] = i
	}
	if len(last) == len(rows) {
		return rows
	}
	out := make([]models.UnifiedCrypto, 0, len(last))
	for i, r := range rows {
		if last[key{r.CoinID, r.Source}] == i {
			out = append(out, r)
		}
	}
	return out
}

// SourceMarkers returns the stored source_updated_at of each coin of source that
// already has a unified row.
func (s *Store) SourceMarkers(ctx context.Context, source string, coinIDs []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(coinIDs))
	if len(coinIDs) == 0 {
		return out, nil
	}
	var rows []models.UnifiedCrypto
	err := s.db.WithContext(ctx).
		Select("coin_id", "source_updated_at").
		Where("source = ? AND coin_id IN ?", source, coinIDs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.CoinID] = r.SourceUpdatedAt
	}
	return out, nil
}

// UnifiedFilter selects a page of unified rows. Page is 1-based.
type UnifiedFilter struct {
	Source   string
	Symbol   string
	Page     int
	PageSize int
}

// ListUnified returns one page of unified rows, most recently updated first, and
// the total number of matching rows.
func (s *Store) ListUnified(ctx context.Context, f UnifiedFilter) ([]models.UnifiedCrypto, int64, error) {
	filter := func(db *gorm.DB) *gorm.DB {
		if f.Source != "" {
			db = db.Where("source = ?", f.Source)
		}
		if f.Symbol != "" {
			db = db.Where("symbol = ?", strings.ToUpper(f.Symbol))
		}
		return db
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.UnifiedCrypto{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.UnifiedCrypto
	err := s.db.WithContext(ctx).Scopes(filter).
		Order("updated_at DESC").Order("id DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

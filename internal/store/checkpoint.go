package store

import (
	"context"
	"errors"
	"time"

	"crypto-etl/internal/models"

	"gorm.io/gorm"
)

// GetCheckpoint returns the cursor for source, or nil when it has never completed a run.
func (s *Store) GetCheckpoint(ctx context.Context, source string) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	err := s.db.WithContext(ctx).Where("source_name = ?", source).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// SetCheckpoint advances the cursor for source. The marker never moves backwards:
// an older marker only adds to the processed count. Call it only after the rows
// it covers have been committed.
func (s *Store) SetCheckpoint(ctx context.Context, source string, marker time.Time, lastID string, processed int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cp models.Checkpoint
		err := tx.Where("source_name = ?", source).First(&cp).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.Checkpoint{
				SourceName:       source,
				LastProcessedID:  lastID,
				LastProcessedAt:  marker.UTC(),
				RecordsProcessed: int64(processed),
			}).Error
		}
		if err != nil {
			return err
		}

		if marker.After(cp.LastProcessedAt) {
			cp.LastProcessedAt = marker.UTC()
			cp.LastProcessedID = lastID
		}
		cp.RecordsProcessed += int64(processed)
		return tx.Save(&cp).Error
	})
	if err != nil {
		return &WriteError{Op: "set checkpoint", Err: err}
	}
	return nil
}

// ListCheckpoints returns every source cursor.
func (s *Store) ListCheckpoints(ctx context.Context) ([]models.Checkpoint, error) {
	var cps []models.Checkpoint
	err := s.db.WithContext(ctx).Order("source_name").Find(&cps).Error
	return cps, err
}

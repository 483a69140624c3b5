package store

import (
	"context"

	"crypto-etl/internal/models"

	"gorm.io/gorm/clause"
)

func (s *Store) RecordDrift(ctx context.Context, ev *models.SchemaDrift) error {
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return &WriteError{Op: "record drift", Err: err}
	}
	return nil
}

// RecentDrift returns the newest drift events, optionally for one source.
func (s *Store) RecentDrift(ctx context.Context, source string, limit int) ([]models.SchemaDrift, error) {
	q := s.db.WithContext(ctx).Order("detected_at DESC").Order("id DESC").Limit(limit)
	if source != "" {
		q = q.Where("source_name = ?", source)
	}
	var events []models.SchemaDrift
	err := q.Find(&events).Error
	return events, err
}

// LoadBaselines returns every stored source shape keyed by source name.
func (s *Store) LoadBaselines(ctx context.Context) (map[string]map[string]string, error) {
	var rows []models.SchemaBaseline
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string, len(rows))
	for _, r := range rows {
		out[r.SourceName] = r.Fields
	}
	return out, nil
}

// SaveBaseline replaces the stored shape of source.
func (s *Store) SaveBaseline(ctx context.Context, source string, fields map[string]string) error {
	row := models.SchemaBaseline{
		SourceName: source,
		Fields:     fields,
		UpdatedAt:  s.now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"fields", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return &WriteError{Op: "save baseline", Err: err}
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"crypto-etl/internal/models"

	"github.com/google/uuid"
)

// RunOutcome is what a finished run reports.
type RunOutcome struct {
	Status    string
	Processed int
	Failed    int
	Skipped   int
	Attempts  int
	Err       error
}

// BeginRun writes a running row for source and returns it.
func (s *Store) BeginRun(ctx context.Context, source, passID string, metadata map[string]string) (*models.Run, error) {
	run := &models.Run{
		RunID:      uuid.NewString(),
		PassID:     passID,
		SourceName: source,
		Status:     models.RunStatusRunning,
		Metadata:   metadata,
		StartedAt:  s.now(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, &WriteError{Op: "begin run", Err: err}
	}
	return run, nil
}

// FinishRun moves a running row to a terminal status. Only running rows are
// touched, so a finalized run can never change again.
func (s *Store) FinishRun(ctx context.Context, run *models.Run, out RunOutcome) error {
	if out.Status == models.RunStatusRunning || out.Status == "" {
		return fmt.Errorf("invalid terminal status %q", out.Status)
	}

	completed := s.now()
	duration := completed.Sub(run.StartedAt).Seconds()
	updates := map[string]interface{}{
		"status":            out.Status,
		"records_processed": out.Processed,
		"records_failed":    out.Failed,
		"records_skipped":   out.Skipped,
		"attempts":          out.Attempts,
		"duration_seconds":  duration,
		"completed_at":      completed,
	}
	if out.Err != nil {
		updates["error_message"] = out.Err.Error()
	}

	res := s.db.WithContext(ctx).Model(&models.Run{}).
		Where("run_id = ? AND status = ?", run.RunID, models.RunStatusRunning).
		Updates(updates)
	if res.Error != nil {
		return &WriteError{Op: "finish run", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &WriteError{Op: "finish run", Err: ErrRunNotRunning}
	}

	run.Status = out.Status
	run.RecordsProcessed = out.Processed
	run.RecordsFailed = out.Failed
	run.RecordsSkipped = out.Skipped
	run.Attempts = out.Attempts
	run.DurationSeconds = &duration
	run.CompletedAt = &completed
	if out.Err != nil {
		msg := out.Err.Error()
		run.ErrorMessage = &msg
	}
	return nil
}

// ReapStale fails running rows started before cutoff. Such rows belong to a
// process that died between BeginRun and FinishRun.
func (s *Store) ReapStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Run{}).
		Where("status = ? AND started_at < ?", models.RunStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":        models.RunStatusFailed,
			"error_message": "abandoned: run never finished",
			"completed_at":  s.now(),
		})
	if res.Error != nil {
		return 0, &WriteError{Op: "reap stale runs", Err: res.Error}
	}
	return res.RowsAffected, nil
}

// GetRun loads a run by its run id.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var run models.Run
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// RecentRuns returns the newest runs, optionally for one source.
func (s *Store) RecentRuns(ctx context.Context, source string, limit int) ([]models.Run, error) {
	q := s.db.WithContext(ctx).Order("started_at DESC").Order("id DESC").Limit(limit)
	if source != "" {
		q = q.Where("source_name = ?", source)
	}
	var runs []models.Run
	err := q.Find(&runs).Error
	return runs, err
}

// RunsAfterID returns runs with an id greater than afterID in id order, whatever
// their status.
func (s *Store) RunsAfterID(ctx context.Context, afterID uint, limit int) ([]models.Run, error) {
	var runs []models.Run
	err := s.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// SettledRunID is the highest run id at or below which every run is terminal.
func (s *Store) SettledRunID(ctx context.Context) (uint, error) {
	var open []models.Run
	err := s.db.WithContext(ctx).
		Where("status = ?", models.RunStatusRunning).
		Order("id ASC").
		Limit(1).
		Find(&open).Error
	if err != nil {
		return 0, err
	}
	if len(open) > 0 {
		return open[0].ID - 1, nil
	}

	var last []models.Run
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(1).Find(&last).Error; err != nil {
		return 0, err
	}
	if len(last) == 0 {
		return 0, nil
	}
	return last[0].ID, nil
}

// LatestRunPerSource returns the most recently started run of every source that has one.
func (s *Store) LatestRunPerSource(ctx context.Context) (map[string]models.Run, error) {
	var runs []models.Run
	latest := s.db.Model(&models.Run{}).Select("MAX(id)").Group("source_name")
	if err := s.db.WithContext(ctx).Where("id IN (?)", latest).Find(&runs).Error; err != nil {
		return nil, err
	}
	out := make(map[string]models.Run, len(runs))
	for _, r := range runs {
		out[r.SourceName] = r
	}
	return out, nil
}

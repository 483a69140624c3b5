package store

import (
	"context"
	"time"

	"crypto-etl/internal/models"
)

// SourceStats summarises the run history of one source.
type SourceStats struct {
	Source              string     `json:"source"`
	TotalRuns           int64      `json:"total_runs"`
	SuccessfulRuns      int64      `json:"successful_runs"`
	SuccessRate         float64    `json:"success_rate"`
	RecordsProcessed    int64      `json:"records_processed"`
	LastSuccess         *time.Time `json:"last_success"`
	LastFailure         *time.Time `json:"last_failure"`
	LastDurationSeconds *float64   `json:"last_duration_seconds"`
	LastStatus          string     `json:"last_status"`
}

type statusCount struct {
	SourceName string
	Status     string
	Count      int64
}

// Stats builds per-source statistics for the given sources, in order.
func (s *Store) Stats(ctx context.Context, sources []string) ([]SourceStats, error) {
	var counts []statusCount
	err := s.db.WithContext(ctx).Model(&models.Run{}).
		Select("source_name, status, COUNT(*) AS count").
		Group("source_name, status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}

	cps, err := s.ListCheckpoints(ctx)
	if err != nil {
		return nil, err
	}
	processed := make(map[string]int64, len(cps))
	for _, cp := range cps {
		processed[cp.SourceName] = cp.RecordsProcessed
	}

	latest, err := s.LatestRunPerSource(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]SourceStats, 0, len(sources))
	for _, src := range sources {
		st := SourceStats{Source: src, RecordsProcessed: processed[src]}
		for _, c := range counts {
			if c.SourceName != src {
				continue
			}
			st.TotalRuns += c.Count
			if c.Status == models.RunStatusSuccess {
				st.SuccessfulRuns += c.Count
			}
		}
		if st.TotalRuns > 0 {
			st.SuccessRate = float64(st.SuccessfulRuns) / float64(st.TotalRuns)
		}
		if run, ok := latest[src]; ok {
			st.LastStatus = run.Status
			st.LastDurationSeconds = run.DurationSeconds
		}
		if st.LastSuccess, err = s.lastCompleted(ctx, src, models.RunStatusSuccess); err != nil {
			return nil, err
		}
		if st.LastFailure, err = s.lastCompleted(ctx, src, models.RunStatusFailed); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Store) lastCompleted(ctx context.Context, source, status string) (*time.Time, error) {
	var runs []models.Run
	err := s.db.WithContext(ctx).
		Where("source_name = ? AND status = ?", source, status).
		Order("completed_at DESC").
		Limit(1).
		Find(&runs).Error
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0].CompletedAt, nil
}

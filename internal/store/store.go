// Package store persists raw payloads, unified rows, checkpoints, run records and
// drift state through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrRunNotRunning is returned when finishing a run that was already finalized
// or never existed.
var ErrRunNotRunning = errors.New("run is not in running state")

// WriteError wraps a storage failure during a write the pipeline depends on.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

type Store struct {
	db        *gorm.DB
	batchSize int
	now       func() time.Time
}

// New wraps an already migrated connection. batchSize bounds how many unified
// rows share one transaction.
func New(db *gorm.DB, batchSize int) *Store {
	if batchSize < 1 {
		batchSize = 10
	}
	return &Store{
		db:        db,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying handle for callers that need raw access.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

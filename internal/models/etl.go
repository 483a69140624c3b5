package models

import "time"

// Run status values. running is the only non-terminal state.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// Checkpoint is the per-source ingestion cursor. Exactly one row per source.
type Checkpoint struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	SourceName       string    `json:"source_name" gorm:"size:100;not null;uniqueIndex"`
	LastProcessedID  string    `json:"last_processed_id" gorm:"size:255"`
	LastProcessedAt  time.Time `json:"last_processed_at"`
	RecordsProcessed int64     `json:"records_processed" gorm:"default:0"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Checkpoint) TableName() string {
	return "etl_checkpoints"
}

// Run is the audit entry for one source attempt within an ingestion pass.
type Run struct {
	ID               uint              `json:"id" gorm:"primaryKey"`
	RunID            string            `json:"run_id" gorm:"size:100;not null;uniqueIndex"`
	PassID           string            `json:"pass_id" gorm:"size:100;index"`
	SourceName       string            `json:"source_name" gorm:"size:100;not null;index:idx_etl_run_source_status,priority:1"`
	Status           string            `json:"status" gorm:"size:50;not null;index:idx_etl_run_source_status,priority:2"`
	RecordsProcessed int               `json:"records_processed" gorm:"default:0"`
	RecordsFailed    int               `json:"records_failed" gorm:"default:0"`
	RecordsSkipped   int               `json:"records_skipped" gorm:"default:0"`
	Attempts         int               `json:"attempts" gorm:"default:0"`
	DurationSeconds  *float64          `json:"duration_seconds"`
	ErrorMessage     *string           `json:"error_message" gorm:"type:text"`
	Metadata         map[string]string `json:"metadata" gorm:"serializer:json"`
	StartedAt        time.Time         `json:"started_at" gorm:"not null;index"`
	CompletedAt      *time.Time        `json:"completed_at"`
}

func (Run) TableName() string {
	return "etl_runs"
}

// Terminal reports whether the run has been finalized.
func (r Run) Terminal() bool {
	return r.Status != RunStatusRunning
}

// SchemaDrift records a difference between the remembered and the observed shape of a source.
type SchemaDrift struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	SourceName        string    `json:"source_name" gorm:"size:100;not null;index"`
	RunID             string    `json:"run_id" gorm:"size:100"`
	AddedFields       []string  `json:"added_fields" gorm:"serializer:json"`
	MissingFields     []string  `json:"missing_fields" gorm:"serializer:json"`
	TypeChangedFields []string  `json:"type_changed_fields" gorm:"serializer:json"`
	ConfidenceScore   float64   `json:"confidence_score"`
	Severity          string    `json:"severity" gorm:"size:20"`
	DetectedAt        time.Time `json:"detected_at" gorm:"index"`
}

func (SchemaDrift) TableName() string {
	return "schema_drift"
}

// SchemaBaseline is the last shape observed for a source: field path -> value kind.
type SchemaBaseline struct {
	ID         uint              `json:"id" gorm:"primaryKey"`
	SourceName string            `json:"source_name" gorm:"size:100;not null;uniqueIndex"`
	Fields     map[string]string `json:"fields" gorm:"serializer:json"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (SchemaBaseline) TableName() string {
	return "schema_baselines"
}

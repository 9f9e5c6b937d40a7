// Package domain defines the records exchanged with the remote table API and
// the persistence models for batch run history. Run and RunItem are mapped
// with GORM; Record and UpdateResult are transient and live only for the
// duration of one request.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record is one row fetched from the remote table.
//
// ID is the primary key value exactly as decoded from the remote JSON
// (json.Number for numeric keys, string otherwise) so it can be sent back
// unchanged in a write. Fields holds every projected column by name.
type Record struct {
	ID     any
	Fields map[string]any
}

// Text returns the named field as a trimmed string. Missing, null and
// non-scalar values yield "".
func (r Record) Text(field string) string {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64, int, int64, bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

// Raw returns the field as stored. Strings keep their surrounding whitespace;
// other values render as in Text.
func (r Record) Raw(field string) string {
	if s, ok := r.Fields[field].(string); ok {
		return s
	}
	return r.Text(field)
}

// IDString renders the record identifier for logs and persistence.
func (r Record) IDString() string {
	if r.ID == nil {
		return ""
	}
	return fmt.Sprint(r.ID)
}

// UpdateResult is the outcome of one successful code write-back.
type UpdateResult struct {
	ID   any    `json:"id"`
	Code string `json:"code"`
	Date string `json:"date"`
}

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is the persisted summary of one code generation batch against a
// remote table. It doubles as the idempotency record: a succeeded run with
// an IdempotencyKey can be replayed within the configured TTL.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - TableID / CodeField / DateField / Digits / Limit: the run parameters.
//   - IdempotencyKey: optional client key, indexed with TableID.
//   - Status: running, succeeded or failed.
//   - Fetched / Processed / Skipped / Failed: per-record tallies.
//   - Error: the abort reason for failed runs.
type Run struct {
	ID             string     `json:"id"              gorm:"type:char(36);primaryKey"`
	TableID        string     `json:"table_id"        gorm:"type:varchar(64);not null;index:idx_runs_table,priority:1;index:idx_runs_table_key,priority:1"`
	CodeField      string     `json:"code_field"      gorm:"type:varchar(255);not null"`
	DateField      string     `json:"date_field"      gorm:"type:varchar(255);not null"`
	Digits         int        `json:"digits"          gorm:"not null"`
	Limit          int        `json:"limit"           gorm:"not null"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty" gorm:"type:varchar(200);index:idx_runs_table_key,priority:2"`
	Status         string     `json:"status"          gorm:"type:varchar(16);not null;check:status IN ('running','succeeded','failed')"`
	Fetched        int        `json:"fetched"`
	Processed      int        `json:"processed"`
	Skipped        int        `json:"skipped"`
	Failed         int        `json:"failed"`
	Error          string     `json:"error,omitempty" gorm:"type:text"`
	StartedAt      time.Time  `json:"started_at"      gorm:"not null;index:idx_runs_table,priority:2"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// TableName returns the database table name for Run.
func (Run) TableName() string { return "runs" }

// RunItem records one code assigned during a run.
type RunItem struct {
	ID        string    `json:"-"         gorm:"type:char(36);primaryKey"`
	RunID     string    `json:"run_id"    gorm:"type:char(36);not null;index:idx_run_items,priority:1"`
	Seq       int       `json:"-"         gorm:"not null;index:idx_run_items,priority:2"`
	RecordID  string    `json:"record_id" gorm:"type:varchar(64);not null"`
	Code      string    `json:"code"      gorm:"type:varchar(64);not null"`
	Date      string    `json:"date"      gorm:"type:varchar(32);not null"`
	CreatedAt time.Time `json:"created_at"`

	// Run is the parent batch. Items are cascade-deleted with their run.
	Run Run `json:"-" gorm:"foreignKey:RunID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for RunItem.
func (RunItem) TableName() string { return "run_items" }

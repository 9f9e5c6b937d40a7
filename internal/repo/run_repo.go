// Package repo implements the persistence layer for batch run history,
// backed by GORM. This file provides repository functions for the Run and
// RunItem models.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - When a run is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/nocodb-codegen/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateRun inserts run in the "running" state. ID and StartedAt are filled
// in when empty.
func CreateRun(ctx context.Context, db *gorm.DB, run *domain.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = domain.RunRunning
	}
	return db.WithContext(ctx).Create(run).Error
}

// FinishRun stores the final status and tallies of run and inserts its items
// in one transaction. Item IDs, RunID, Seq and CreatedAt are assigned here.
func FinishRun(ctx context.Context, db *gorm.DB, run *domain.Run, items []domain.RunItem) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Run{}).
			Where("id = ?", run.ID).
			Updates(map[string]any{
				"status":      run.Status,
				"fetched":     run.Fetched,
				"processed":   run.Processed,
				"skipped":     run.Skipped,
				"failed":      run.Failed,
				"error":       run.Error,
				"finished_at": run.FinishedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].ID = uuid.NewString()
			items[i].RunID = run.ID
			items[i].Seq = i + 1
			items[i].CreatedAt = *run.FinishedAt
		}
		return tx.Omit("Run").CreateInBatches(items, 100).Error
	})
}

// GetRun fetches a single run by ID, or ErrNotFound.
func GetRun(ctx context.Context, db *gorm.DB, id string) (*domain.Run, error) {
	var r domain.Run
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRunItems returns the codes assigned by a run, in assignment order.
func ListRunItems(ctx context.Context, db *gorm.DB, runID string) ([]domain.RunItem, error) {
	var out []domain.RunItem
	err := db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("seq asc").
		Find(&out).Error
	return out, err
}

// CountRuns returns the number of runs, optionally scoped to tableID.
func CountRuns(ctx context.Context, db *gorm.DB, tableID string) (int64, error) {
	var total int64
	err := scopeTable(db.WithContext(ctx).Model(&domain.Run{}), tableID).Count(&total).Error
	return total, err
}

// ListRunsPage returns a page of runs ordered by start time descending,
// optionally scoped to tableID.
func ListRunsPage(ctx context.Context, db *gorm.DB, tableID string, offset, limit int) ([]domain.Run, error) {
	var out []domain.Run
	err := scopeTable(db.WithContext(ctx), tableID).
		Order("started_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// FindRunByKey returns the most recent run for (tableID, key) started at or
// after since, or ErrNotFound.
func FindRunByKey(ctx context.Context, db *gorm.DB, tableID, key string, since time.Time) (*domain.Run, error) {
	if strings.TrimSpace(tableID) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var r domain.Run
	err := db.WithContext(ctx).
		Where("table_id = ? AND idempotency_key = ? AND started_at >= ?", tableID, key, since).
		Order("started_at desc").
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RunsStats returns aggregate metadata used for weak ETags on run listings:
// the total number of runs, how many have finished, and the latest start
// time (nil when there are no runs).
func RunsStats(ctx context.Context, db *gorm.DB, tableID string) (count, finished int64, latest *time.Time, err error) {
	q := func() *gorm.DB { return scopeTable(db.WithContext(ctx).Model(&domain.Run{}), tableID) }

	if err = q().Count(&count).Error; err != nil {
		return 0, 0, nil, err
	}
	if count == 0 {
		return 0, 0, nil, nil
	}
	if err = q().Where("status <> ?", domain.RunRunning).Count(&finished).Error; err != nil {
		return 0, 0, nil, err
	}

	// Latest started_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		StartedAt time.Time
	}
	if err = q().Select("started_at").Order("started_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, 0, nil, err
	}
	return count, finished, &row.StartedAt, nil
}

func scopeTable(q *gorm.DB, tableID string) *gorm.DB {
	if tableID == "" {
		return q
	}
	return q.Where("table_id = ?", tableID)
}

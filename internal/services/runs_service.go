// Package services – RunService
//
// RunService exposes the recorded history of code generation runs: a
// paginated listing (optionally scoped to one table), single-run lookup with
// the codes it assigned, and aggregate stats used by handlers for weak ETags.
package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/nocodb-codegen/internal/domain"
	"github.com/tbourn/nocodb-codegen/internal/repo"
)

// RunService reads run history. A nil DB makes every method return
// ErrHistoryDisabled.
type RunService struct {
	DB *gorm.DB
}

// RunDetail is a run together with the codes it assigned.
type RunDetail struct {
	Run   domain.Run
	Items []domain.RunItem
}

// ListPage returns runs newest first. page is 1-based; pageSize <= 0 means 20.
func (s *RunService) ListPage(ctx context.Context, tableID string, page, pageSize int) ([]domain.Run, int64, error) {
	tr := otel.Tracer("services/RunService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("table.id", tableID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if s.DB == nil {
		return nil, 0, ErrHistoryDisabled
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	total, err := repo.CountRuns(ctx, s.DB, tableID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Run{}, 0, nil
	}
	items, err := repo.ListRunsPage(ctx, s.DB, tableID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Get returns one run with its assigned codes in assignment order.
func (s *RunService) Get(ctx context.Context, id string) (*RunDetail, error) {
	tr := otel.Tracer("services/RunService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("run.id", id)))
	defer span.End()

	if s.DB == nil {
		return nil, ErrHistoryDisabled
	}
	run, err := repo.GetRun(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	items, err := repo.ListRunItems(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: *run, Items: items}, nil
}

// Stats returns the run count, finished count and latest start time for the
// listing scope.
func (s *RunService) Stats(ctx context.Context, tableID string) (count, finished int64, latest *time.Time, err error) {
	if s.DB == nil {
		return 0, 0, nil, ErrHistoryDisabled
	}
	return repo.RunsStats(ctx, s.DB, tableID)
}

// Exists reports whether a succeeded run for (tableID, key) started at or
// after since. It backs the Idempotency-Key rate limit bypass.
func (s *RunService) Exists(ctx context.Context, tableID, key string, since time.Time) (bool, error) {
	if s.DB == nil {
		return false, nil
	}
	run, err := repo.FindRunByKey(ctx, s.DB, tableID, key, since)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return run.Status == domain.RunSucceeded, nil
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/nocodb-codegen/internal/domain"
	"github.com/tbourn/nocodb-codegen/internal/services"
)

func newRunsRouter(runs RunReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(&stubCodes{}, runs, Info{})
	r.GET("/runs", h.ListRuns)
	r.GET("/runs/:id", h.GetRun)
	return r
}

func TestListRuns_PaginationAndFilter(t *testing.T) {
	var gotTable string
	var gotPage, gotSize int
	runs := stubRuns{
		listPage: func(_ context.Context, table string, page, size int) ([]domain.Run, int64, error) {
			gotTable, gotPage, gotSize = table, page, size
			return []domain.Run{{ID: "r1", TableID: table, Status: domain.RunSucceeded}}, 5, nil
		},
		stats: func(context.Context, string) (int64, int64, *time.Time, error) { return 5, 5, nil, nil },
	}
	w := doGet(newRunsRouter(runs), "/runs?tableId=t1&page=2&page_size=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if gotTable != "t1" || gotPage != 2 || gotSize != 2 {
		t.Fatalf("unexpected args: %s %d %d", gotTable, gotPage, gotSize)
	}

	var resp ListRunsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !resp.Success || len(resp.Runs) != 1 || resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestListRuns_ClampsPageSize(t *testing.T) {
	var gotPage, gotSize int
	runs := stubRuns{listPage: func(_ context.Context, _ string, page, size int) ([]domain.Run, int64, error) {
		gotPage, gotSize = page, size
		return []domain.Run{}, 0, nil
	}}
	doGet(newRunsRouter(runs), "/runs?page=0&page_size=1000", nil)
	if gotPage != 1 || gotSize != 100 {
		t.Fatalf("expected clamp to 1/100, got %d/%d", gotPage, gotSize)
	}
}

func TestListRuns_ETag304(t *testing.T) {
	latest := time.Unix(1700000000, 0).UTC()
	listed := 0
	runs := stubRuns{
		stats: func(context.Context, string) (int64, int64, *time.Time, error) { return 2, 1, &latest, nil },
		listPage: func(context.Context, string, int, int) ([]domain.Run, int64, error) {
			listed++
			return []domain.Run{}, 2, nil
		},
	}
	r := newRunsRouter(runs)

	w := doGet(r, "/runs", nil)
	etag := w.Header().Get("ETag")
	if etag == "" || etag[:2] != "W/" {
		t.Fatalf("expected weak etag, got %q", etag)
	}

	w = doGet(r, "/runs", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified || listed != 1 {
		t.Fatalf("expected 304 without listing, got %d (listed %d)", w.Code, listed)
	}

	// A different page is a different representation.
	w = doGet(r, "/runs?page=2", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for other page, got %d", w.Code)
	}
}

func TestListRuns_Errors(t *testing.T) {
	disabled := stubRuns{stats: func(context.Context, string) (int64, int64, *time.Time, error) {
		return 0, 0, nil, services.ErrHistoryDisabled
	}}
	w := doGet(newRunsRouter(disabled), "/runs", nil)
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if w.Code != http.StatusNotFound || er.Code != ErrCodeHistoryDisabled {
		t.Fatalf("expected history_disabled 404, got %d %+v", w.Code, er)
	}

	broken := stubRuns{listPage: func(context.Context, string, int, int) ([]domain.Run, int64, error) {
		return nil, 0, errors.New("db down")
	}}
	w = doGet(newRunsRouter(broken), "/runs", nil)
	er = ErrorResponse{}
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if w.Code != http.StatusInternalServerError || er.Code != ErrCodeListFailed {
		t.Fatalf("expected list_failed 500, got %d %+v", w.Code, er)
	}
}

func TestGetRun(t *testing.T) {
	id := uuid.NewString()
	runs := stubRuns{get: func(_ context.Context, got string) (*services.RunDetail, error) {
		if got != id {
			return nil, services.ErrRunNotFound
		}
		return &services.RunDetail{
			Run:   domain.Run{ID: id, TableID: "t", Status: domain.RunSucceeded, Processed: 1},
			Items: []domain.RunItem{{RunID: id, RecordID: "7", Code: "250115-01", Date: "2025-01-15"}},
		}, nil
	}}
	r := newRunsRouter(runs)

	w := doGet(r, "/runs/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp RunResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Run.ID != id || len(resp.Items) != 1 || resp.Items[0].Code != "250115-01" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if w := doGet(r, "/runs/not-a-uuid", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", w.Code)
	}
	if w := doGet(r, "/runs/"+uuid.NewString(), nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", w.Code)
	}
}

func TestGetRun_EmptyItemsAndErrors(t *testing.T) {
	id := uuid.NewString()
	empty := stubRuns{get: func(context.Context, string) (*services.RunDetail, error) {
		return &services.RunDetail{Run: domain.Run{ID: id}}, nil
	}}
	w := doGet(newRunsRouter(empty), "/runs/"+id, nil)
	if w.Code != http.StatusOK || !json.Valid(w.Body.Bytes()) {
		t.Fatalf("status=%d", w.Code)
	}
	var raw map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &raw)
	if items, ok := raw["items"].([]any); !ok || len(items) != 0 {
		t.Fatalf("expected empty items array, got %v", raw["items"])
	}

	disabled := stubRuns{get: func(context.Context, string) (*services.RunDetail, error) { return nil, services.ErrHistoryDisabled }}
	if w := doGet(newRunsRouter(disabled), "/runs/"+id, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when history disabled, got %d", w.Code)
	}
	broken := stubRuns{get: func(context.Context, string) (*services.RunDetail, error) { return nil, errors.New("db down") }}
	if w := doGet(newRunsRouter(broken), "/runs/"+id, nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

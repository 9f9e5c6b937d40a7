// Run history HTTP handlers.
//
//   - GET /runs        (list, paginated, optional tableId filter, ETag support)
//   - GET /runs/{id}   (one run with the codes it assigned)
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/nocodb-codegen/internal/domain"
	"github.com/tbourn/nocodb-codegen/internal/services"
	"github.com/tbourn/nocodb-codegen/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListRunsResponse wraps a page of runs and pagination information.
type ListRunsResponse struct {
	Success    bool         `json:"success"`
	Runs       []domain.Run `json:"runs"`
	Pagination Pagination   `json:"pagination"`
}

// RunResponse is a single run with its assigned codes.
type RunResponse struct {
	Success bool             `json:"success"`
	Run     domain.Run       `json:"run"`
	Items   []domain.RunItem `json:"items"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// ListRuns godoc
// @ID          listRuns
// @Summary     List generation runs (paginated)
// @Description Returns a page of recorded runs, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Runs
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"runs::3:3:0:1:20\")
// @Param       tableId        query   string  false "Only runs against this table"  example(mhwj2qg4d0u9xgx)
// @Param       page           query   int     false "Page number"                   minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"                minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRunsResponse
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Header      200  {string} Cache-Control  "no-cache"
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Run history disabled"
// @Failure     500  {object} handlers.ErrorResponse "Listing failed"
// @Router      /runs [get]
func (h *Handlers) ListRuns(c *gin.Context) {
	ctx := c.Request.Context()
	tableID := c.Query("tableId")
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	count, finished, latest, err := h.runs.Stats(ctx, tableID)
	if errors.Is(err, services.ErrHistoryDisabled) {
		fail(c, http.StatusNotFound, ErrCodeHistoryDisabled, err.Error())
		return
	}
	if err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"runs:%s:%d:%d:%d:%d:%d"`, tableID, count, finished, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.runs.ListPage(ctx, tableID, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListRunsResponse{
		Success: true,
		Runs:    items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetRun godoc
// @ID          getRun
// @Summary     Get one run
// @Description Returns a recorded run and the codes it assigned, in write order.
// @Tags        Runs
// @Produce     json
//
// @Param       id  path  string  true  "Run ID (UUID)"  format(uuid) example(141add05-4415-4938-b5a1-17e0d3171aff)
//
// @Success     200  {object} handlers.RunResponse
// @Failure     400  {object} handlers.ErrorResponse "Run id is not a UUID"
// @Failure     404  {object} handlers.ErrorResponse "Run not found or history disabled"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /runs/{id} [get]
func (h *Handlers) GetRun(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "run id must be a UUID")
		return
	}

	detail, err := h.runs.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, services.ErrHistoryDisabled):
		fail(c, http.StatusNotFound, ErrCodeHistoryDisabled, err.Error())
		return
	case errors.Is(err, services.ErrRunNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	items := detail.Items
	if items == nil {
		items = []domain.RunItem{}
	}
	ok(c, http.StatusOK, RunResponse{Success: true, Run: detail.Run, Items: items})
}

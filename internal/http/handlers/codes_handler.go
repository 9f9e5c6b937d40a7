// Code generation HTTP handler.
//
//   - GET /generate-codes?tableId&codeField&dateField&digits&limit
//
// Missing tableId is a 400; a failed remote read is a 500 that echoes the
// upstream error; everything else, including individual write failures,
// is a 200 with per-run tallies.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/nocodb-codegen/internal/domain"
	"github.com/tbourn/nocodb-codegen/internal/http/middleware"
	"github.com/tbourn/nocodb-codegen/internal/services"
	"github.com/tbourn/nocodb-codegen/internal/utils"
)

// GenerateResponse is the success body of GET /generate-codes.
type GenerateResponse struct {
	Success   bool                  `json:"success"`
	Message   string                `json:"message"`
	Processed int                   `json:"processed"`
	Fetched   int                   `json:"fetched"`
	Skipped   int                   `json:"skipped"`
	Failed    int                   `json:"failed"`
	RunID     string                `json:"run_id,omitempty"`
	Replayed  bool                  `json:"replayed,omitempty"`
	Details   []domain.UpdateResult `json:"details,omitempty"`
}

// GenerateCodes godoc
// @ID          generateCodes
// @Summary     Assign date-based codes
// @Description Fetches records of tableId whose code column is empty and writes YYMMDD-NN codes, numbered per date. digits and limit fall back to their defaults when missing, non-numeric or below 1. A valid Idempotency-Key makes retries replay the stored result instead of running again.
// @Tags        Codes
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Retry key, scoped to the table"  example(2025-01-15:batch)
// @Param       tableId          query   string  true  "Remote table ID"                 example(mhwj2qg4d0u9xgx)
// @Param       codeField        query   string  false "Code column"                     default(Código)
// @Param       dateField        query   string  false "Date column (YYYY-MM-DD...)"     default(Fecha)
// @Param       digits           query   int     false "Sequence digits"                 minimum(1) default(2)
// @Param       limit            query   int     false "Records per run"                 minimum(1) default(10)
//
// @Success     200  {object} handlers.GenerateResponse
// @Failure     400  {object} handlers.ErrorResponse "Missing tableId or bad Idempotency-Key"
// @Failure     409  {object} handlers.ErrorResponse "Run with this key still in progress"
// @Failure     429  {object} handlers.ErrorResponse "Rate limited"
// @Failure     500  {object} handlers.ErrorResponse "Remote read failed"
// @Router      /generate-codes [get]
func (h *Handlers) GenerateCodes(c *gin.Context) {
	key, _ := middleware.GetIdempotencyKey(c)
	p := services.GenerateParams{
		TableID:        c.Query("tableId"),
		CodeField:      c.Query("codeField"),
		DateField:      c.Query("dateField"),
		Digits:         utils.PositiveIntDefault(c.Query("digits"), services.DefaultDigits),
		Limit:          utils.PositiveIntDefault(c.Query("limit"), services.DefaultLimit),
		IdempotencyKey: key,
	}

	// Services log through the request-scoped logger.
	lg := middleware.LoggerFrom(c)
	if middleware.IsReplay(c) {
		lg.Debug().Str("idempotency_key", key).Msg("stored run found, expecting replay")
	}
	ctx := lg.WithContext(c.Request.Context())

	res, err := h.codes.Generate(ctx, p)
	if err != nil {
		var rerr *services.RemoteReadError
		switch {
		case errors.Is(err, services.ErrMissingTableID):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrRunInProgress):
			fail(c, http.StatusConflict, ErrCodeRunInProgress, err.Error())
		case errors.As(err, &rerr):
			failRemote(c, http.StatusInternalServerError, ErrCodeRemoteReadFailed, "could not read records from the remote table", rerr)
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, GenerateResponse{
		Success:   true,
		Message:   res.Message,
		Processed: res.Processed,
		Fetched:   res.Fetched,
		Skipped:   res.Skipped,
		Failed:    res.Failed,
		RunID:     res.RunID,
		Replayed:  res.Replayed,
		Details:   res.Details,
	})
}

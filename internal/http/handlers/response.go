// Package handlers provides HTTP handler implementations for the public API.
//
// Every body carries a boolean "success". Failures use ErrorResponse:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "success": false,
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "bad_request",
//	  "message": "missing tableId: /generate-codes?tableId=XXXX"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/nocodb-codegen/internal/http/middleware"
)

// ErrorResponse is the failure envelope. Error carries the upstream cause
// and is only set when the remote table could not be read.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
}

func fail(c *gin.Context, status int, code, msg string) {
	abort(c, status, ErrorResponse{Code: code, Message: msg})
}

func failRemote(c *gin.Context, status int, code, msg string, cause error) {
	abort(c, status, ErrorResponse{Code: code, Message: msg, Error: cause.Error()})
}

// abort writes resp and logs 5xx through the request-scoped logger. Client
// errors already show up as WARN access lines.
func abort(c *gin.Context, status int, resp ErrorResponse) {
	resp.Success = false
	resp.RequestID = c.Writer.Header().Get("X-Request-ID")

	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", resp.Code).
			Str("message", resp.Message)
		if resp.Error != "" {
			ev = ev.Str("error", resp.Error)
		}
		ev.Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail writes the error envelope for callers outside this package, such as
// the router's NoRoute and NoMethod handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

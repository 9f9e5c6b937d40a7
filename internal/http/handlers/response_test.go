package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/nocodb-codegen/internal/http/middleware"
)

// envelopeRouter mounts the real request ID and access logger so the
// envelope and the error log share one request_id.
func envelopeRouter(t *testing.T) (*gin.Engine, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.RedactingLogger(middleware.RedactOptions{}))
	return r, &buf
}

func apiErrorLogs(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("log decode: %v", err)
		}
		if m["message"] == "api error" {
			out = append(out, m)
		}
	}
	return out
}

func TestErrorEnvelope(t *testing.T) {
	r, buf := envelopeRouter(t)
	r.GET("/generate-codes", func(c *gin.Context) {
		if c.Query("tableId") == "" {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing tableId")
			return
		}
		failRemote(c, http.StatusInternalServerError, ErrCodeRemoteReadFailed,
			"could not read records from the remote table", errors.New("nocodb list: status 401"))
	})
	r.NoRoute(func(c *gin.Context) { Fail(c, http.StatusNotFound, ErrCodeNotFound, "route not found") })

	cases := []struct {
		target string
		status int
		code   string
		cause  string
		logged bool
	}{
		{"/generate-codes", http.StatusBadRequest, ErrCodeBadRequest, "", false},
		{"/generate-codes?tableId=t1", http.StatusInternalServerError, ErrCodeRemoteReadFailed, "nocodb list: status 401", true},
		{"/nope", http.StatusNotFound, ErrCodeNotFound, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			buf.Reset()
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			req.Header.Set("X-Request-ID", "rid-env")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tc.status {
				t.Fatalf("status = %d; want %d", w.Code, tc.status)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("json: %v", err)
			}
			if resp.Success || resp.RequestID != "rid-env" || resp.Code != tc.code || resp.Error != tc.cause {
				t.Fatalf("unexpected body: %+v", resp)
			}

			logs := apiErrorLogs(t, buf)
			if !tc.logged {
				if len(logs) != 0 {
					t.Fatalf("4xx must not log an api error: %v", logs)
				}
				return
			}
			if len(logs) != 1 || logs[0]["request_id"] != "rid-env" || logs[0]["table_id"] != "t1" || logs[0]["error"] != tc.cause {
				t.Fatalf("unexpected api error log: %v", logs)
			}
		})
	}
}

func TestOK_WritesBodyAsIs(t *testing.T) {
	r, _ := envelopeRouter(t)
	r.GET("/health", func(c *gin.Context) { ok(c, http.StatusOK, gin.H{"success": true, "status": "ok"}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || w.Body.String() != `{"status":"ok","success":true}` {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the structured access logger. Bodies
// are never logged. The raw query and header values pass through pattern
// scrubbing for UUIDs, emails and phone numbers, and credential headers,
// including the NocoDB xc-token and xc-auth, are masked outright.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions adds header names (case-insensitive) whose values are
// replaced with "[REDACTED]" on top of the built-in credential headers.
type RedactOptions struct {
	MaskHeaders []string
}

var builtinMaskedHeaders = []string{"authorization", "cookie", "set-cookie", "xc-token", "xc-auth"}

// Order matters: UUIDs go first so their digit groups never look like phone
// numbers, and the phone pattern is digits-only so hex runs are left alone.
var scrubbers = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

func scrub(s string) string {
	for _, sc := range scrubbers {
		if s == "" {
			return s
		}
		s = sc.re.ReplaceAllString(s, sc.with)
	}
	return s
}

// RedactingLogger installs the request-scoped logger (request_id, method,
// path, table_id) read by LoggerFrom, then emits one "http_request" line
// per request: INFO, WARN for 4xx, ERROR for 5xx or when handlers recorded
// Gin errors. Unmatched requests log their raw path.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := make(map[string]bool, len(builtinMaskedHeaders)+len(opts.MaskHeaders))
	for _, h := range append(append([]string{}, builtinMaskedHeaders...), opts.MaskHeaders...) {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = true
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		scoped := log.With().
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("table_id", c.Query("tableId")).
			Logger()
		c.Set(loggerKey, &scoped)

		// Captured before the handler so nothing it adds can leak in.
		query := truncate(scrub(c.Request.URL.RawQuery), maxQueryLogLength)
		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if masked[strings.ToLower(k)] {
				headers[k] = "[REDACTED]"
			} else {
				headers[k] = scrub(strings.Join(vv, ", "))
			}
		}

		c.Next()

		status := c.Writer.Status()
		ev := scoped.Info()
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = scoped.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = scoped.Warn()
		}
		ev.Str("query", query).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabelsAndUnmatched(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/runs/:id", func(c *gin.Context) { c.String(http.StatusOK, "run") })
	r.GET("/runs", func(c *gin.Context) { c.Status(http.StatusNotModified) })

	baseRun := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/runs/:id", "200"))
	baseMiss := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedPath, "404"))
	baseNotMod := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/runs", "304"))

	for _, target := range []string{"/runs/a", "/runs/b", "/wp-login.php", "/.env", "/runs"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	// Path params collapse onto the registered route.
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/runs/:id", "200")); got != baseRun+2 {
		t.Fatalf("route counter = %v; want %v", got, baseRun+2)
	}
	// Unknown paths share one label.
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedPath, "404")); got != baseMiss+2 {
		t.Fatalf("unmatched counter = %v; want %v", got, baseMiss+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/runs", "304")); got != baseNotMod+1 {
		t.Fatalf("304 counter = %v; want %v", got, baseNotMod+1)
	}

	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
	if n := testutil.CollectAndCount(httpLat); n == 0 {
		t.Fatalf("expected latency series")
	}
	// Only responses with a body are sized; the 304 is skipped.
	if n := testutil.CollectAndCount(httpRespSize, "http_response_size_bytes"); n == 0 {
		t.Fatalf("expected response size series")
	}
}

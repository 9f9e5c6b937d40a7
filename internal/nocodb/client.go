// Package nocodb is a thin client for the NocoDB v2 table records API.
//
// Only the two operations the code generator needs are implemented:
//   - ListMissingCode: GET  {base}/api/v2/tables/{tableId}/records
//     with a where=(field,is,null) filter, limit, sort and fields projection
//   - PatchCode:       PATCH {base}/api/v2/tables/{tableId}/records
//     with a single {pk: id, field: value} body
//
// Every request carries the static xc-token header, is bounded by the
// configured timeout, emits an OpenTelemetry span and is observed by the
// nocodb_request_duration_seconds histogram.
package nocodb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/nocodb-codegen/internal/config"
	"github.com/tbourn/nocodb-codegen/internal/domain"
)

const (
	// HeaderToken is the NocoDB API token header.
	HeaderToken = "xc-token"

	tablesPath = "/api/v2/tables"

	// maxErrorBody caps how much of a failed response body is kept.
	maxErrorBody = 512
)

var requestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "nocodb_request_duration_seconds",
		Help:    "Duration of calls to the NocoDB records API in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation", "outcome"},
)

func init() {
	prometheus.MustRegister(requestDuration)
}

// APIError is returned when NocoDB answers with a non-2xx status.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("nocodb %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("nocodb %s: status %d: %s", e.Op, e.Status, e.Body)
}

// ListQuery selects records whose CodeField is null.
type ListQuery struct {
	TableID   string
	CodeField string
	DateField string
	Limit     int
}

// Client talks to one NocoDB instance. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	primaryKey string
	timeout    time.Duration
	http       *http.Client
	tracer     trace.Tracer
}

// New builds a Client from the remote API configuration. A nil httpClient
// uses a default client.
func New(cfg config.NocoDBConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	pk := cfg.PrimaryKey
	if pk == "" {
		pk = "Id"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/") + tablesPath,
		token:      cfg.Token,
		primaryKey: pk,
		timeout:    cfg.Timeout,
		http:       httpClient,
		tracer:     otel.Tracer("github.com/tbourn/nocodb-codegen/internal/nocodb"),
	}
}

// PrimaryKey returns the primary key column name used in reads and writes.
func (c *Client) PrimaryKey() string { return c.primaryKey }

// listResponse is the subset of the list payload we consume.
type listResponse struct {
	List []map[string]any `json:"list"`
}

// ListMissingCode returns up to q.Limit records whose code column is null,
// newest primary key first, projected to the primary key, CreatedAt and the
// two named columns.
func (c *Client) ListMissingCode(ctx context.Context, q ListQuery) ([]domain.Record, error) {
	params := url.Values{}
	params.Set("where", fmt.Sprintf("(%s,is,null)", q.CodeField))
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("sort", "-"+c.primaryKey)
	params.Set("fields", strings.Join([]string{c.primaryKey, "CreatedAt", q.CodeField, q.DateField}, ","))
	endpoint := c.recordsURL(q.TableID) + "?" + params.Encode()

	body, err := c.do(ctx, "list", q.TableID, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var payload listResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("nocodb list: decode response: %w", err)
	}

	out := make([]domain.Record, 0, len(payload.List))
	for _, row := range payload.List {
		out = append(out, domain.Record{ID: row[c.primaryKey], Fields: row})
	}
	return out, nil
}

// PatchCode sets field=value on the record identified by id.
func (c *Client) PatchCode(ctx context.Context, tableID string, id any, field, value string) error {
	payload, err := json.Marshal(map[string]any{
		c.primaryKey: id,
		field:        value,
	})
	if err != nil {
		return fmt.Errorf("nocodb patch: encode body: %w", err)
	}
	_, err = c.do(ctx, "patch", tableID, http.MethodPatch, c.recordsURL(tableID), payload)
	return err
}

func (c *Client) recordsURL(tableID string) string {
	return c.baseURL + "/" + url.PathEscape(tableID) + "/records"
}

// do executes one request and returns the response body for 2xx answers.
func (c *Client) do(ctx context.Context, op, tableID, method, endpoint string, payload []byte) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "nocodb."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("nocodb.table_id", tableID),
			attribute.String("http.request.method", method),
		),
	)
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	outcome := "error"
	defer func() {
		requestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("nocodb %s: build request: %w", op, err)
	}
	req.Header.Set(HeaderToken, c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("nocodb %s: %w", op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("nocodb %s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, Status: resp.StatusCode, Body: truncate(strings.TrimSpace(string(body)), maxErrorBody)}
		span.SetStatus(codes.Error, apiErr.Error())
		return nil, apiErr
	}

	outcome = "ok"
	return body, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

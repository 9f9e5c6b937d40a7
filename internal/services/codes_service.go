// Package services – CodeService
//
// This file implements CodeService, the batch processor that assigns
// date-based correlative codes to remote table records whose code column is
// empty. One run reads a page of candidates, walks them strictly in the
// returned order and writes each code back before moving to the next record.
//
// A per-date counter advances only when a write-back succeeds, so a record
// whose write fails leaves its sequence number for the next record of the
// same date. Records with an empty or malformed date are skipped without
// consuming a number.
//
// When a database is configured every run is recorded (best effort), which
// also powers Idempotency-Key replays.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/nocodb-codegen/internal/codegen"
	"github.com/tbourn/nocodb-codegen/internal/domain"
	"github.com/tbourn/nocodb-codegen/internal/nocodb"
	"github.com/tbourn/nocodb-codegen/internal/repo"
)

// Defaults applied when a request leaves a parameter out.
const (
	DefaultCodeField = "Código"
	DefaultDateField = "Fecha"
	DefaultDigits    = 2
	DefaultLimit     = 10
)

// DefaultRunStaleAfter matches the default WRITE_TIMEOUT: no response can
// still be owed to a caller after it.
const DefaultRunStaleAfter = 120 * time.Second

// errAbandonedRun is stored on runs that never reported a result.
const errAbandonedRun = "abandoned: no result recorded before the run went stale"

// Messages returned on successful runs.
const (
	msgGenerated = "Codes generated successfully"
	msgNoRecords = "No records without %s"
)

// Skip reasons used in logs and the codegen_records_skipped_total metric.
const (
	skipEmptyDate     = "empty_date"
	skipMalformedDate = "malformed_date"
)

var (
	codesAssigned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "codegen_codes_assigned_total",
		Help: "Codes successfully written back to the remote table.",
	})

	recordsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codegen_records_skipped_total",
		Help: "Candidate records skipped without consuming a sequence number.",
	}, []string{"reason"})

	writeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "codegen_write_failures_total",
		Help: "Code write-backs rejected by the remote table.",
	})

	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codegen_runs_total",
		Help: "Code generation runs by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(codesAssigned, recordsSkipped, writeFailures, runsTotal)
}

// TableClient is the remote table API used by CodeService.
// *nocodb.Client satisfies it.
type TableClient interface {
	ListMissingCode(ctx context.Context, q nocodb.ListQuery) ([]domain.Record, error)
	PatchCode(ctx context.Context, tableID string, id any, field, value string) error
}

// GenerateParams are the inputs of one run. Zero values take the defaults
// above; Limit is additionally capped by CodeService.MaxLimit.
type GenerateParams struct {
	TableID        string
	CodeField      string
	DateField      string
	Digits         int
	Limit          int
	IdempotencyKey string
}

// GenerateResult summarizes one run. Details lists the codes written, in
// processing order.
type GenerateResult struct {
	RunID     string
	Message   string
	Fetched   int
	Processed int
	Skipped   int
	Failed    int
	Details   []domain.UpdateResult
	Replayed  bool
}

// CodeService runs code generation batches against a remote table.
type CodeService struct {
	Client TableClient

	// DB stores run history. Nil disables history and idempotent replay.
	DB *gorm.DB

	// IdempotencyTTL is how long a succeeded run can be replayed by key.
	IdempotencyTTL time.Duration

	// MaxLimit caps GenerateParams.Limit. Values <= 0 disable the cap.
	MaxLimit int

	// RunStaleAfter is how long a run may stay "running" before a retry with
	// the same key treats it as abandoned. Values <= 0 use
	// DefaultRunStaleAfter.
	RunStaleAfter time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Generate executes one run.
//
// Errors:
//   - ErrMissingTableID when p.TableID is blank (no remote calls)
//   - ErrRunInProgress when the same key is still running
//   - *RemoteReadError when candidates cannot be fetched
//
// Write-back failures are not errors: they are logged, counted in
// GenerateResult.Failed and left out of Details.
func (s *CodeService) Generate(ctx context.Context, p GenerateParams) (*GenerateResult, error) {
	p = s.normalize(p)
	if p.TableID == "" {
		return nil, ErrMissingTableID
	}

	tr := otel.Tracer("services/CodeService")
	ctx, span := tr.Start(ctx, "Generate",
		trace.WithAttributes(
			attribute.String("table.id", p.TableID),
			attribute.String("code.field", p.CodeField),
			attribute.String("date.field", p.DateField),
			attribute.Int("digits", p.Digits),
			attribute.Int("limit", p.Limit),
		),
	)
	defer span.End()

	lg := zerolog.Ctx(ctx).With().Str("table_id", p.TableID).Logger()

	if res, err := s.replay(ctx, p); err != nil || res != nil {
		if res != nil {
			span.SetAttributes(attribute.Bool("replayed", true))
			runsTotal.WithLabelValues("replayed").Inc()
			lg.Info().Str("run_id", res.RunID).Msg("replaying idempotent run")
		}
		return res, err
	}

	run := s.startRun(ctx, &lg, p)

	lg.Info().Int("limit", p.Limit).Str("code_field", p.CodeField).Msg("fetching records without code")
	records, err := s.Client.ListMissingCode(ctx, nocodb.ListQuery{
		TableID:   p.TableID,
		CodeField: p.CodeField,
		DateField: p.DateField,
		Limit:     p.Limit,
	})
	if err != nil {
		rerr := &RemoteReadError{TableID: p.TableID, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote read failed")
		lg.Error().Err(err).Msg("fetching records failed")
		runsTotal.WithLabelValues(domain.RunFailed).Inc()
		if run != nil {
			run.Status = domain.RunFailed
			run.Error = rerr.Error()
			s.finishRun(ctx, &lg, run, nil)
		}
		return nil, rerr
	}
	lg.Info().Int("fetched", len(records)).Msg("records without code found")

	res := &GenerateResult{Fetched: len(records)}
	if run != nil {
		res.RunID = run.ID
	}

	if len(records) == 0 {
		res.Message = noRecordsMessage(p.CodeField)
	} else {
		s.process(ctx, &lg, p, records, res)
		res.Message = msgGenerated
	}
	res.Processed = len(res.Details)

	span.SetAttributes(
		attribute.Int("processed", res.Processed),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("failed", res.Failed),
	)
	runsTotal.WithLabelValues(domain.RunSucceeded).Inc()

	if run != nil {
		run.Status = domain.RunSucceeded
		run.Fetched, run.Processed, run.Skipped, run.Failed = res.Fetched, res.Processed, res.Skipped, res.Failed
		s.finishRun(ctx, &lg, run, toItems(res.Details))
	}
	return res, nil
}

// process walks records in order, one remote write at a time.
func (s *CodeService) process(ctx context.Context, lg *zerolog.Logger, p GenerateParams, records []domain.Record, res *GenerateResult) {
	counter := codegen.NewCounter()
	var keys []string
	defer func() {
		for _, k := range keys {
			lg.Debug().Str("date_key", k).Int("last_seq", counter.Last(k)).Msg("date sequence closed")
		}
	}()

	for _, rec := range records {
		rl := lg.With().Str("record_id", rec.IDString()).Logger()

		date := rec.Text(p.DateField)
		if date == "" {
			rl.Warn().Str("date_field", p.DateField).Msg("empty date, record skipped")
			recordsSkipped.WithLabelValues(skipEmptyDate).Inc()
			res.Skipped++
			continue
		}

		key, err := codegen.FormatDate(date)
		if err != nil {
			rl.Warn().Err(err).Msg("malformed date, record skipped")
			recordsSkipped.WithLabelValues(skipMalformedDate).Inc()
			res.Skipped++
			continue
		}

		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
		seq := counter.Next(key)
		code, err := codegen.Generate(date, seq, p.Digits)
		if err != nil {
			// Digits is normalized above, so only a date error can land here.
			rl.Warn().Err(err).Msg("code generation failed, record skipped")
			recordsSkipped.WithLabelValues(skipMalformedDate).Inc()
			res.Skipped++
			continue
		}

		rl.Info().Str("code", code).Msg("assigning code")
		if err := s.Client.PatchCode(ctx, p.TableID, rec.ID, p.CodeField, code); err != nil {
			rl.Error().Err(err).Str("code", code).Msg("updating record failed")
			writeFailures.Inc()
			res.Failed++
			continue
		}

		counter.Commit(key, seq)
		codesAssigned.Inc()
		res.Details = append(res.Details, domain.UpdateResult{ID: rec.ID, Code: code, Date: rec.Raw(p.DateField)})
	}
}

// normalize trims inputs and applies defaults and the limit cap.
func (s *CodeService) normalize(p GenerateParams) GenerateParams {
	p.TableID = strings.TrimSpace(p.TableID)
	p.IdempotencyKey = strings.TrimSpace(p.IdempotencyKey)
	p.CodeField = normalizeColumn(p.CodeField, DefaultCodeField)
	p.DateField = normalizeColumn(p.DateField, DefaultDateField)
	if p.Digits < 1 {
		p.Digits = DefaultDigits
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if s.MaxLimit > 0 && p.Limit > s.MaxLimit {
		p.Limit = s.MaxLimit
	}
	return p
}

// normalizeColumn returns the NFC form of a column name so a decomposed
// "Código" still matches the remote column.
func normalizeColumn(name, def string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return def
	}
	return norm.NFC.String(name)
}

func noRecordsMessage(codeField string) string {
	return fmt.Sprintf(msgNoRecords, codeField)
}

func (s *CodeService) staleAfter() time.Duration {
	if s.RunStaleAfter > 0 {
		return s.RunStaleAfter
	}
	return DefaultRunStaleAfter
}

func (s *CodeService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// replay returns the stored result of a succeeded run with the same table and
// key inside the TTL window. A nil result with a nil error means "run it".
func (s *CodeService) replay(ctx context.Context, p GenerateParams) (*GenerateResult, error) {
	if s.DB == nil || p.IdempotencyKey == "" || s.IdempotencyTTL <= 0 {
		return nil, nil
	}
	lg := zerolog.Ctx(ctx)

	prev, err := repo.FindRunByKey(ctx, s.DB, p.TableID, p.IdempotencyKey, s.now().Add(-s.IdempotencyTTL))
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			lg.Warn().Err(err).Msg("idempotency lookup failed")
		}
		return nil, nil
	}

	switch prev.Status {
	case domain.RunRunning:
		if !prev.StartedAt.Before(s.now().Add(-s.staleAfter())) {
			return nil, ErrRunInProgress
		}
		// The process that owned it died or gave up; close it and run again.
		lg.Warn().Str("run_id", prev.ID).Time("started_at", prev.StartedAt).Msg("abandoned run marked failed")
		prev.Status = domain.RunFailed
		prev.Error = errAbandonedRun
		s.finishRun(ctx, lg, prev, nil)
		return nil, nil
	case domain.RunSucceeded:
		items, err := repo.ListRunItems(ctx, s.DB, prev.ID)
		if err != nil {
			lg.Warn().Err(err).Str("run_id", prev.ID).Msg("loading replayed run failed")
			return nil, nil
		}
		return resultFromRun(prev, items, true), nil
	default:
		// Failed runs are retried.
		return nil, nil
	}
}

// startRun records the run as running. Failures are logged and disable
// recording for this run.
func (s *CodeService) startRun(ctx context.Context, lg *zerolog.Logger, p GenerateParams) *domain.Run {
	if s.DB == nil {
		return nil
	}
	run := &domain.Run{
		TableID:   p.TableID,
		CodeField: p.CodeField,
		DateField: p.DateField,
		Digits:    p.Digits,
		Limit:     p.Limit,
		StartedAt: s.now(),
	}
	if p.IdempotencyKey != "" {
		key := p.IdempotencyKey
		run.IdempotencyKey = &key
	}
	if err := repo.CreateRun(ctx, s.DB, run); err != nil {
		lg.Warn().Err(err).Msg("recording run failed")
		return nil
	}
	return run
}

func (s *CodeService) finishRun(ctx context.Context, lg *zerolog.Logger, run *domain.Run, items []domain.RunItem) {
	now := s.now()
	run.FinishedAt = &now
	// The batch already ran; do not lose its record to a cancelled request.
	if err := repo.FinishRun(context.WithoutCancel(ctx), s.DB, run, items); err != nil {
		lg.Warn().Err(err).Str("run_id", run.ID).Msg("recording run result failed")
	}
}

func toItems(details []domain.UpdateResult) []domain.RunItem {
	if len(details) == 0 {
		return nil
	}
	items := make([]domain.RunItem, 0, len(details))
	for _, d := range details {
		items = append(items, domain.RunItem{
			RecordID: domain.Record{ID: d.ID}.IDString(),
			Code:     d.Code,
			Date:     d.Date,
		})
	}
	return items
}

// resultFromRun rebuilds a GenerateResult from stored history.
func resultFromRun(run *domain.Run, items []domain.RunItem, replayed bool) *GenerateResult {
	res := &GenerateResult{
		RunID:     run.ID,
		Fetched:   run.Fetched,
		Processed: run.Processed,
		Skipped:   run.Skipped,
		Failed:    run.Failed,
		Replayed:  replayed,
		Message:   msgGenerated,
	}
	if run.Fetched == 0 {
		res.Message = noRecordsMessage(run.CodeField)
	}
	for _, it := range items {
		res.Details = append(res.Details, domain.UpdateResult{
			ID:   storedID(it.RecordID),
			Code: it.Code,
			Date: it.Date,
		})
	}
	return res
}

// storedID restores a numeric record ID so replays serialize it the same way
// as the original response.
func storedID(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return json.Number(s)
	}
	return s
}

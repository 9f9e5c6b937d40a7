// Package handlers wires HTTP endpoints to application services.
//
// Handlers are transport-thin: they parse query parameters, call services and
// translate results and errors into HTTP responses.
package handlers

import (
	"context"
	"time"

	"github.com/tbourn/nocodb-codegen/internal/domain"
	"github.com/tbourn/nocodb-codegen/internal/services"
)

//
// Service contracts (context-aware)
//

// CodeGenerator runs code generation batches.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type CodeGenerator interface {
	Generate(ctx context.Context, p services.GenerateParams) (*services.GenerateResult, error)
}

// RunReader reads recorded run history.
type RunReader interface {
	// ListPage returns a page of runs (newest first) and the total count.
	ListPage(ctx context.Context, tableID string, page, pageSize int) ([]domain.Run, int64, error)
	// Get returns one run with its assigned codes.
	Get(ctx context.Context, id string) (*services.RunDetail, error)
	// Stats returns aggregate metadata used for weak ETags.
	Stats(ctx context.Context, tableID string) (count, finished int64, latest *time.Time, err error)
}

// Info describes the service on GET /.
type Info struct {
	Version  string
	MaxLimit int
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	codes CodeGenerator
	runs  RunReader
	info  Info
}

// New constructs and returns a Handlers instance bound to the given services.
func New(codes CodeGenerator, runs RunReader, info Info) *Handlers {
	return &Handlers{codes: codes, runs: runs, info: info}
}

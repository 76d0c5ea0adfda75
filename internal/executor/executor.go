package executor

import (
	"context"
	"errors"

	"github.com/me/hostbridge/pkg/model"
)

// ErrTransient marks a failure worth retrying. Executors wrap it; every
// other error is terminal for the operation.
var ErrTransient = errors.New("transient failure")

// Invocation is one call into an executor: a whole operation, or one chunk
// of it when the kind is chunkable.
type Invocation struct {
	OperationID string
	Kind        model.TaskKind
	Arguments   map[string]any
	Attempt     int

	// Code is the chunk to run for chunkable kinds; empty otherwise.
	Code       string
	ChunkIndex int
	ChunkCount int
}

// Executor runs one task kind against the host environment.
type Executor interface {
	// Kind returns the task kind this executor serves.
	Kind() model.TaskKind

	// Execute runs the invocation and returns a JSON-encodable result.
	Execute(ctx context.Context, inv *Invocation) (any, error)
}

// Chunkable is implemented by executors whose payload can be split by the
// classifier. ChunkField names the argument holding that payload.
type Chunkable interface {
	ChunkField() string
}

// Scope is a transactional scope in the host environment.
type Scope interface {
	Commit()
	Rollback()
}

// Environment is what the scheduler needs from the host besides executors.
type Environment interface {
	BeginScope(name string) (Scope, error)
	Refresh()
}

// Func adapts a function to an Executor.
type Func struct {
	TaskKind model.TaskKind
	Fn       func(ctx context.Context, inv *Invocation) (any, error)
}

// Kind returns f.TaskKind.
func (f Func) Kind() model.TaskKind { return f.TaskKind }

// Execute calls f.Fn.
func (f Func) Execute(ctx context.Context, inv *Invocation) (any, error) {
	return f.Fn(ctx, inv)
}

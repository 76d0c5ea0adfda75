package store

import (
	"context"
	"time"

	"github.com/me/hostbridge/pkg/model"
)

// Store is the durable operation journal. The scheduler records every
// transition through it and consults it for operations that have already
// been reaped from memory.
type Store interface {
	RecordOperation(ctx context.Context, op *model.Operation) error
	GetOperation(ctx context.Context, id string) (*model.Operation, error)
	ListOperations(ctx context.Context, opts model.ListOptions) ([]*model.Operation, int, error)
	CountOperations(ctx context.Context) (model.OperationCounts, error)
	PurgeOperations(ctx context.Context, before time.Time) (int64, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

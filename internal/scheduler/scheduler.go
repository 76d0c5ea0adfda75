package scheduler

import (
	"context"

	"github.com/me/hostbridge/pkg/model"
)

// Scheduler is the lifecycle surface the process entry point drives.
type Scheduler interface {
	// Start begins the scheduling loop. Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler.
	Stop() error

	// Tick runs a single scheduling iteration. Used for testing.
	Tick(ctx context.Context) error

	// Status returns the latest published snapshot. Safe from any goroutine.
	Status() model.Status
}

// Package operation owns the operation lifecycle: admission with request
// deduplication, the Pending → Running → Completed/Failed state machine,
// retries, timeouts and retention.
//
// The registry is mutated by the scheduler goroutine only and needs no locks.
package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/me/hostbridge/internal/clock"
	"github.com/me/hostbridge/internal/codec"
	"github.com/me/hostbridge/pkg/model"
)

// Config holds operation registry configuration.
type Config struct {
	DedupWindow time.Duration `yaml:"dedup_window"`
	MaxRetries  int           `yaml:"max_retries"`
	MaxRuntime  time.Duration `yaml:"max_runtime"`
	TerminalTTL time.Duration `yaml:"terminal_ttl"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DedupWindow: 5 * time.Second,
		MaxRetries:  3,
		MaxRuntime:  660 * time.Second,
		TerminalTTL: 300 * time.Second,
	}
}

// Journal receives a copy of an operation after every transition.
type Journal interface {
	RecordOperation(ctx context.Context, op *model.Operation) error
}

// ErrRetriesExhausted is returned by Retry when the attempt budget is spent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Registry maps operation ids to their state.
type Registry struct {
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	journal Journal

	ops     map[string]*model.Operation
	ledger  map[string]time.Time // request hash → first seen
	counter uint64
}

// NewRegistry creates an empty Registry. journal may be nil.
func NewRegistry(cfg Config, clk clock.Clock, journal Journal, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:     cfg,
		clock:   clk,
		logger:  logger.With("component", "operations"),
		journal: journal,
		ops:     make(map[string]*model.Operation),
		ledger:  make(map[string]time.Time),
	}
}

// Config returns the registry configuration.
func (r *Registry) Config() Config { return r.cfg }

// Create admits a request as a new Pending operation. It returns nil when an
// identical payload was admitted within the dedup window; the caller must
// not schedule anything for it.
func (r *Registry) Create(payload []byte, kind model.TaskKind, args map[string]any, connID string) *model.Operation {
	now := r.clock.Now()
	hash := codec.Hash(payload)
	if seen, ok := r.ledger[hash]; ok && now.Sub(seen) < r.cfg.DedupWindow {
		r.logger.Debug("duplicate request suppressed", "kind", kind, "conn_id", connID)
		return nil
	}

	r.counter++
	op := &model.Operation{
		ID:           fmt.Sprintf("op_%d_%d", r.counter, now.UnixNano()),
		Kind:         kind,
		Payload:      append([]byte(nil), payload...),
		Arguments:    args,
		ConnectionID: connID,
		Status:       model.OperationPending,
		CreatedAt:    now.UTC(),
	}
	r.ops[op.ID] = op
	r.ledger[hash] = now
	r.record(op)
	r.logger.Debug("operation created", "op_id", op.ID, "kind", kind, "conn_id", connID)
	return op
}

// Get returns the operation for id, or nil.
func (r *Registry) Get(id string) *model.Operation {
	return r.ops[id]
}

// Begin moves a Pending operation to Running. Unknown ids are a no-op and
// return (nil, nil): the operation may have been reaped, or the id may come
// from a stale retry.
func (r *Registry) Begin(id string) (*model.Operation, error) {
	op, ok := r.ops[id]
	if !ok {
		return nil, nil
	}
	if op.Status != model.OperationPending {
		return op, &model.InvalidTransitionError{ID: id, From: op.Status, To: model.OperationRunning}
	}
	return op, r.begin(op)
}

func (r *Registry) begin(op *model.Operation) error {
	if err := r.transition(op, model.OperationRunning); err != nil {
		return err
	}
	now := r.clock.Now().UTC()
	op.Attempts++
	op.LastAttemptAt = &now
	op.Error = ""
	op.ErrorCode = 0
	op.CompletedAt = nil
	r.record(op)
	return nil
}

// Succeed marks a Running operation Completed with result.
func (r *Registry) Succeed(id string, result any) (*model.Operation, error) {
	op, ok := r.ops[id]
	if !ok {
		return nil, nil
	}
	if err := r.transition(op, model.OperationCompleted); err != nil {
		return op, err
	}
	now := r.clock.Now().UTC()
	op.Result = result
	op.CompletedAt = &now
	r.record(op)
	return op, nil
}

// Fail marks a Running operation Failed with cause.
func (r *Registry) Fail(id string, cause error) (*model.Operation, error) {
	op, ok := r.ops[id]
	if !ok {
		return nil, nil
	}
	if err := r.transition(op, model.OperationFailed); err != nil {
		return op, err
	}
	r.markFailed(op, cause)
	return op, nil
}

func (r *Registry) markFailed(op *model.Operation, cause error) {
	if cause == nil {
		cause = errors.New("operation failed")
	}
	now := r.clock.Now().UTC()
	op.Error = cause.Error()
	op.ErrorCode = model.RPCCodeFor(cause)
	op.Result = nil
	op.CompletedAt = &now
	r.record(op)
}

// CanRetry reports whether a Failed operation still has attempts left.
func (r *Registry) CanRetry(op *model.Operation) bool {
	return op != nil && op.Status == model.OperationFailed && op.Attempts <= r.cfg.MaxRetries
}

// Retry moves a Failed operation back to Running for another attempt.
// Unknown ids are a no-op and return (nil, nil).
func (r *Registry) Retry(id string) (*model.Operation, error) {
	op, ok := r.ops[id]
	if !ok {
		return nil, nil
	}
	if op.Status != model.OperationFailed {
		return op, &model.InvalidTransitionError{ID: id, From: op.Status, To: model.OperationRunning}
	}
	if !r.CanRetry(op) {
		return op, fmt.Errorf("operation %s after %d attempts: %w", id, op.Attempts, ErrRetriesExhausted)
	}
	return op, r.begin(op)
}

// SweepResult reports what a sweep changed.
type SweepResult struct {
	TimedOut     []*model.Operation
	Reaped       int
	LedgerPurged int
}

// Sweep fails Running operations whose current attempt started more than
// maxRuntime ago, removes terminal operations older than terminalTTL and
// purges expired dedup ledger entries.
func (r *Registry) Sweep(now time.Time, maxRuntime, terminalTTL time.Duration) SweepResult {
	var res SweepResult
	for id, op := range r.ops {
		switch {
		case op.Status == model.OperationRunning:
			if op.LastAttemptAt != nil && now.Sub(*op.LastAttemptAt) > maxRuntime {
				op.Status = model.OperationFailed
				r.markFailed(op, fmt.Errorf("no result after %s: %w", maxRuntime, model.ErrOperationTimeout))
				res.TimedOut = append(res.TimedOut, op)
				r.logger.Warn("operation timed out", "op_id", id, "kind", op.Kind, "attempts", op.Attempts)
			}
		case op.Status.IsTerminal():
			if op.CompletedAt != nil && now.Sub(*op.CompletedAt) > terminalTTL {
				delete(r.ops, id)
				res.Reaped++
			}
		}
	}
	for hash, seen := range r.ledger {
		if now.Sub(seen) >= r.cfg.DedupWindow {
			delete(r.ledger, hash)
			res.LedgerPurged++
		}
	}
	if len(res.TimedOut) > 0 || res.Reaped > 0 {
		r.logger.Info("sweep", "timed_out", len(res.TimedOut), "reaped", res.Reaped, "remaining", len(r.ops))
	}
	return res
}

// Counts tallies operations by status.
func (r *Registry) Counts() model.OperationCounts {
	var c model.OperationCounts
	for _, op := range r.ops {
		switch op.Status {
		case model.OperationPending:
			c.Pending++
		case model.OperationRunning:
			c.Running++
		case model.OperationCompleted:
			c.Completed++
		case model.OperationFailed:
			c.Failed++
		}
	}
	return c
}

// IDs returns the tracked operation ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.ops))
	for id := range r.ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of tracked operations.
func (r *Registry) Len() int { return len(r.ops) }

func (r *Registry) transition(op *model.Operation, to model.OperationStatus) error {
	if !op.Status.CanTransitionTo(to) {
		return &model.InvalidTransitionError{ID: op.ID, From: op.Status, To: to}
	}
	op.Status = to
	return nil
}

func (r *Registry) record(op *model.Operation) {
	if r.journal == nil {
		return
	}
	if err := r.journal.RecordOperation(context.Background(), op.Clone()); err != nil {
		r.logger.Error("journal operation", "op_id", op.ID, "error", err)
	}
}

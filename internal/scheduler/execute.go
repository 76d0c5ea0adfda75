package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/me/hostbridge/internal/codec"
	"github.com/me/hostbridge/internal/executor"
	"github.com/me/hostbridge/pkg/model"
)

// execute admits one framed request.
func (l *Loop) execute(ctx context.Context, t Tick) error {
	req, err := codec.Decode(t.Frame)
	if err != nil {
		l.logger.Warn("malformed frame dropped", "conn_id", t.ConnID, "error", err)
		l.deps.Dispatch.ReplyError(t.ConnID, codec.CorrelationID(t.Frame), codec.DecodeErrorCode(err), err.Error())
		return nil
	}
	if l.control(ctx, t.ConnID, req) {
		return nil
	}

	kind, args, err := codec.ToolCall(req)
	if err != nil {
		l.deps.Dispatch.ReplyError(t.ConnID, req.ID, model.CodeInvalidParams, err.Error())
		return nil
	}
	op := l.deps.Operations.Create(t.Frame, kind, args, t.ConnID)
	if op == nil {
		return nil
	}
	l.lastOp = l.clock.Now()

	if _, err := l.deps.Operations.Begin(op.ID); err != nil {
		return fmt.Errorf("begin %s: %w", op.ID, err)
	}
	return l.attempt(ctx, op)
}

// retry starts another attempt of a failed operation once its backoff has
// elapsed.
func (l *Loop) retry(ctx context.Context, t Tick) error {
	if l.clock.Now().Before(t.NotBefore) {
		l.queue.Push(t)
		return nil
	}
	op, err := l.deps.Operations.Retry(t.OpID)
	if op == nil {
		return nil
	}
	if err != nil {
		// a sweep or an earlier retry got there first
		l.logger.Info("retry skipped", "op_id", t.OpID, "error", err)
		return nil
	}
	l.logger.Info("retrying operation", "op_id", op.ID, "attempt", op.Attempts)
	return l.attempt(ctx, op)
}

// attempt runs a Running operation: classify, announce, then execute all
// chunks now or schedule them one per tick.
func (l *Loop) attempt(ctx context.Context, op *model.Operation) error {
	l.current = op
	exec, err := l.deps.Executors.Get(op.Kind)
	if err != nil {
		return l.finish(op, nil, err)
	}

	field := l.deps.Executors.ChunkField(op.Kind)
	text := string(op.Payload)
	if field != "" {
		text, _ = op.Arguments[field].(string)
	}
	plan := l.deps.Classifier.Plan(op.Kind, text, field != "")
	op.Tier = plan.Tier.String()
	op.Chunks = len(plan.Chunks)

	l.logger.Debug("operation planned", "op_id", op.ID, "kind", op.Kind, "tier", op.Tier,
		"chunks", op.Chunks, "timeout", plan.Timeout)
	l.deps.Dispatch.Running(op, fmt.Sprintf("tier %s, %d chunk(s), timeout %s", op.Tier, op.Chunks, plan.Timeout))

	if plan.PerChunkScope() {
		l.runs[op.ID] = &run{
			op:       op,
			exec:     exec,
			plan:     plan,
			attempt:  op.Attempts,
			deadline: l.clock.Now().Add(plan.Timeout),
		}
		l.queue.Push(Tick{Kind: TickContinue, OpID: op.ID})
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, plan.Timeout)
	defer cancel()

	scope, err := l.deps.Env.BeginScope(op.ID)
	if err != nil {
		return l.finish(op, nil, err)
	}
	defer scope.Rollback()

	var result any
	for i, ch := range plan.Chunks {
		inv := l.invocation(op, plan.Chunkable, i, len(plan.Chunks), ch.Code)
		result, err = exec.Execute(runCtx, inv)
		if err != nil {
			break
		}
	}
	if err != nil {
		return l.finish(op, nil, classify(err, plan.Timeout))
	}
	scope.Commit()
	return l.finish(op, result, nil)
}

// continueRun executes the next chunk of a chunk-per-tick operation in its
// own scope.
func (l *Loop) continueRun(ctx context.Context, opID string) error {
	r, ok := l.runs[opID]
	if !ok {
		return nil
	}
	op := l.deps.Operations.Get(opID)
	if op == nil || op.Status != model.OperationRunning || op.Attempts != r.attempt {
		delete(l.runs, opID)
		return nil
	}
	l.current = op

	remaining := r.deadline.Sub(l.clock.Now())
	if remaining <= 0 {
		delete(l.runs, opID)
		return l.finish(op, nil, fmt.Errorf("exceeded %s: %w", r.plan.Timeout, model.ErrOperationTimeout))
	}
	if r.next > 0 && r.plan.Policy.Pause > 0 {
		if err := l.clock.Sleep(ctx, r.plan.Policy.Pause); err != nil {
			delete(l.runs, opID)
			return l.finish(op, nil, err)
		}
	}

	result, err := l.runChunk(ctx, op, r, remaining)
	if err != nil {
		delete(l.runs, opID)
		return l.finish(op, nil, classify(err, r.plan.Timeout))
	}
	r.result = result
	r.next++

	if every := r.plan.Policy.RefreshEvery; every > 0 && r.next%every == 0 {
		l.deps.Env.Refresh()
	}
	if r.next < len(r.plan.Chunks) {
		l.queue.Push(Tick{Kind: TickContinue, OpID: opID})
		return nil
	}
	delete(l.runs, opID)
	return l.finish(op, r.result, nil)
}

func (l *Loop) runChunk(ctx context.Context, op *model.Operation, r *run, remaining time.Duration) (any, error) {
	runCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	scope, err := l.deps.Env.BeginScope(fmt.Sprintf("%s#%d", op.ID, r.next))
	if err != nil {
		return nil, err
	}
	defer scope.Rollback()

	ch := r.plan.Chunks[r.next]
	res, err := r.exec.Execute(runCtx, l.invocation(op, true, r.next, len(r.plan.Chunks), ch.Code))
	if err != nil {
		return nil, err
	}
	scope.Commit()
	return res, nil
}

func (l *Loop) invocation(op *model.Operation, chunked bool, index, count int, code string) *executor.Invocation {
	inv := &executor.Invocation{
		OperationID: op.ID,
		Kind:        op.Kind,
		Arguments:   op.Arguments,
		Attempt:     op.Attempts,
		ChunkIndex:  index,
		ChunkCount:  count,
	}
	if chunked {
		inv.Code = code
	}
	return inv
}

// finish records the outcome of an attempt and reports it. Transient
// failures with attempts left are rescheduled with a progressive backoff.
func (l *Loop) finish(op *model.Operation, result any, cause error) error {
	if cause == nil {
		if _, err := l.deps.Operations.Succeed(op.ID, result); err != nil {
			return err
		}
		l.logger.Info("operation completed", "op_id", op.ID, "kind", op.Kind, "attempts", op.Attempts)
		l.deps.Dispatch.Completed(op)
		return nil
	}

	if _, err := l.deps.Operations.Fail(op.ID, cause); err != nil {
		return err
	}
	if errors.Is(cause, executor.ErrTransient) && l.deps.Operations.CanRetry(op) {
		delay := l.backoff(op.Attempts)
		l.queue.Push(Tick{Kind: TickRetry, OpID: op.ID, NotBefore: l.clock.Now().Add(delay)})
		l.logger.Info("operation will retry", "op_id", op.ID, "attempt", op.Attempts, "delay", delay, "error", cause)
		l.deps.Dispatch.Retrying(op, cause, delay)
		return nil
	}
	l.logger.Warn("operation failed", "op_id", op.ID, "kind", op.Kind, "attempts", op.Attempts, "error", cause)
	l.deps.Dispatch.Failed(op)
	return nil
}

// backoff returns min(attempt*step, max).
func (l *Loop) backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * l.cfg.RetryBackoffStep
	if d > l.cfg.RetryBackoffMax {
		return l.cfg.RetryBackoffMax
	}
	return d
}

// classify turns a context deadline into an operation timeout.
func classify(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, model.ErrOperationTimeout) {
		return fmt.Errorf("exceeded %s: %w", timeout, model.ErrOperationTimeout)
	}
	return err
}

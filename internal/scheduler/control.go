package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/me/hostbridge/pkg/model"
)

// control answers protocol-level methods inline. It reports false for
// methods that should become operations.
func (l *Loop) control(ctx context.Context, connID string, req *model.Request) bool {
	switch req.Method {
	case model.MethodPing:
		l.deps.Dispatch.Reply(connID, req.ID, map[string]any{
			"pong":      true,
			"timestamp": l.clock.Now().UTC(),
		})
	case model.MethodServerStatus:
		l.publish()
		l.deps.Dispatch.Reply(connID, req.ID, l.Status())
	case model.MethodOperationGet:
		ref, ok := l.operationRef(connID, req)
		if !ok {
			return true
		}
		op, err := l.lookup(ctx, ref.OperationID)
		if err != nil {
			l.deps.Dispatch.ReplyError(connID, req.ID, model.CodeInternalError, err.Error())
			return true
		}
		if op == nil {
			l.deps.Dispatch.ReplyError(connID, req.ID, model.CodeInvalidParams,
				fmt.Sprintf("operation %q not found", ref.OperationID))
			return true
		}
		l.deps.Dispatch.Reply(connID, req.ID, op)
	case model.MethodOperationRetry:
		ref, ok := l.operationRef(connID, req)
		if !ok {
			return true
		}
		op := l.deps.Operations.Get(ref.OperationID)
		switch {
		case op == nil:
			l.deps.Dispatch.ReplyError(connID, req.ID, model.CodeInvalidParams,
				fmt.Sprintf("operation %q not found", ref.OperationID))
		case !l.deps.Operations.CanRetry(op):
			l.deps.Dispatch.ReplyError(connID, req.ID, model.CodeInvalidParams,
				fmt.Sprintf("operation %q is %s after %d attempts and cannot be retried", op.ID, op.Status, op.Attempts))
		default:
			l.queue.Push(Tick{Kind: TickRetry, OpID: op.ID})
			l.deps.Dispatch.Reply(connID, req.ID, map[string]any{
				"operation_id": op.ID,
				"status":       model.StatusRetrying,
			})
		}
	default:
		return false
	}
	return true
}

func (l *Loop) operationRef(connID string, req *model.Request) (model.OperationRef, bool) {
	var ref model.OperationRef
	if err := json.Unmarshal(req.Params, &ref); err != nil || ref.OperationID == "" {
		l.deps.Dispatch.ReplyError(connID, req.ID, model.CodeInvalidParams,
			req.Method+" requires params.operation_id")
		return ref, false
	}
	return ref, true
}

// lookup finds an operation in the registry, then in the journal.
func (l *Loop) lookup(ctx context.Context, id string) (*model.Operation, error) {
	if op := l.deps.Operations.Get(id); op != nil {
		return op.Clone(), nil
	}
	if l.deps.Journal == nil {
		return nil, nil
	}
	return l.deps.Journal.GetOperation(ctx, id)
}

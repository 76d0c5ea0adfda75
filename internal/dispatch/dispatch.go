// Package dispatch writes operation events back to the originating
// connection. It never returns errors: a failed write means the client is
// gone, and the connection is dropped.
package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/hostbridge/internal/clock"
	"github.com/me/hostbridge/internal/codec"
	"github.com/me/hostbridge/pkg/model"
)

// Connections is the part of the connection registry the dispatcher uses.
type Connections interface {
	Live(id string) bool
	Write(id string, b []byte) error
	Drop(id, reason string)
}

// Dispatcher serializes and sends operation events.
type Dispatcher struct {
	conns  Connections
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Dispatcher.
func New(conns Connections, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		conns:  conns,
		clock:  clk,
		logger: logger.With("component", "dispatcher"),
	}
}

// Running emits a "running" status notification for op.
func (d *Dispatcher) Running(op *model.Operation, message string) bool {
	return d.status(op, string(model.OperationRunning), message)
}

// Retrying emits a "retrying" status notification after a transient failure.
func (d *Dispatcher) Retrying(op *model.Operation, cause error, delay time.Duration) bool {
	msg := fmt.Sprintf("attempt %d failed: %v; retrying in %s", op.Attempts, cause, delay)
	return d.status(op, model.StatusRetrying, msg)
}

// Completed emits the result event for op, correlated to the client's
// original request id.
func (d *Dispatcher) Completed(op *model.Operation) bool {
	id := codec.CorrelationID(op.Payload)
	b, err := codec.EncodeResult(id, op.Result)
	if err != nil {
		d.logger.Error("encode result", "op_id", op.ID, "error", err)
		b, err = codec.EncodeError(id, &model.RPCError{
			Code:    model.CodeInternalError,
			Message: fmt.Sprintf("encode result: %v", err),
			Data:    &model.RPCErrorData{OperationID: op.ID, Attempts: op.Attempts},
		})
	}
	return d.send(op.ConnectionID, b, err)
}

// Failed emits the error event for op.
func (d *Dispatcher) Failed(op *model.Operation) bool {
	code := op.ErrorCode
	if code == 0 {
		code = model.CodeTaskFailed
	}
	b, err := codec.EncodeError(codec.CorrelationID(op.Payload), &model.RPCError{
		Code:    code,
		Message: op.Error,
		Data:    &model.RPCErrorData{OperationID: op.ID, Attempts: op.Attempts},
	})
	return d.send(op.ConnectionID, b, err)
}

// Reply answers a request that did not create an operation.
func (d *Dispatcher) Reply(connID string, id json.RawMessage, result any) bool {
	b, err := codec.EncodeResult(id, result)
	return d.send(connID, b, err)
}

// ReplyError answers a request that was rejected before admission.
func (d *Dispatcher) ReplyError(connID string, id json.RawMessage, code int, message string) bool {
	b, err := codec.EncodeError(id, &model.RPCError{Code: code, Message: message})
	return d.send(connID, b, err)
}

func (d *Dispatcher) status(op *model.Operation, status, message string) bool {
	b, err := codec.EncodeStatus(op.ID, status, message, d.clock.Now())
	return d.send(op.ConnectionID, b, err)
}

func (d *Dispatcher) send(connID string, b []byte, encErr error) bool {
	if encErr != nil {
		d.logger.Error("encode event", "conn_id", connID, "error", encErr)
		return false
	}
	if !d.conns.Live(connID) {
		d.logger.Debug("event for closed connection discarded", "conn_id", connID)
		return false
	}
	if err := d.conns.Write(connID, b); err != nil {
		d.logger.Warn("write failed, dropping connection", "conn_id", connID, "error", err)
		d.conns.Drop(connID, "write failed")
		return false
	}
	return true
}

package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrNotFound, Message: "Operation 'op_1' not found"}
	want := "NOT_FOUND: Operation 'op_1' not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("Operation", "op_abc")
	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Message != "Operation 'op_abc' not found" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{ID: "op_7", From: OperationPending, To: OperationCompleted}
	want := "invalid operation state transition: pending → completed (operation op_7)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestRPCCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"timeout", fmt.Errorf("chunk 3: %w", ErrOperationTimeout), CodeTimeout},
		{"unknown kind", &UnknownKindError{Kind: "bogus"}, CodeUnknownKind},
		{"wrapped unknown kind", fmt.Errorf("resolve: %w", &UnknownKindError{Kind: "x"}), CodeUnknownKind},
		{"generic", errors.New("boom"), CodeTaskFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RPCCodeFor(tt.err); got != tt.want {
				t.Errorf("RPCCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

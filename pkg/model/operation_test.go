package model

import (
	"testing"
	"time"
)

func TestOperation_CloneCopiesTimestamps(t *testing.T) {
	now := time.Now().UTC()
	op := &Operation{ID: "op_1", Status: OperationRunning, LastAttemptAt: &now}

	cp := op.Clone()
	later := now.Add(time.Minute)
	*op.LastAttemptAt = later
	op.Status = OperationFailed

	if cp.Status != OperationRunning {
		t.Errorf("clone status = %q, want %q", cp.Status, OperationRunning)
	}
	if !cp.LastAttemptAt.Equal(now) {
		t.Errorf("clone LastAttemptAt = %v, want %v", cp.LastAttemptAt, now)
	}
}

func TestOperationCounts_InFlight(t *testing.T) {
	c := OperationCounts{Pending: 2, Running: 3, Completed: 10, Failed: 1}
	if got := c.InFlight(); got != 5 {
		t.Errorf("InFlight() = %d, want 5", got)
	}
}

package model

import "testing"

func TestOperationStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   OperationStatus
		terminal bool
	}{
		{OperationPending, false},
		{OperationRunning, false},
		{OperationCompleted, true},
		{OperationFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("OperationStatus(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestOperationStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  OperationStatus
		to    OperationStatus
		valid bool
	}{
		// Valid transitions
		{OperationPending, OperationRunning, true},
		{OperationRunning, OperationCompleted, true},
		{OperationRunning, OperationFailed, true},
		{OperationFailed, OperationRunning, true},

		// Invalid transitions
		{OperationPending, OperationCompleted, false},
		{OperationPending, OperationFailed, false},
		{OperationCompleted, OperationRunning, false},
		{OperationCompleted, OperationFailed, false},
		{OperationFailed, OperationCompleted, false},
		{OperationRunning, OperationPending, false},
		{OperationRunning, OperationRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("OperationStatus(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestParseOperationStatus(t *testing.T) {
	if s, ok := ParseOperationStatus("running"); !ok || s != OperationRunning {
		t.Errorf("ParseOperationStatus(running) = %q, %v", s, ok)
	}
	if _, ok := ParseOperationStatus("RUNNING"); ok {
		t.Error("ParseOperationStatus should be case sensitive")
	}
	if _, ok := ParseOperationStatus(""); ok {
		t.Error("ParseOperationStatus(\"\") should fail")
	}
}

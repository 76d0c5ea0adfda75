package model

// OperationStatus represents the lifecycle state of an Operation.
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// String returns the string representation of the operation status.
func (s OperationStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the operation is in a final state.
// A failed operation is terminal unless it is explicitly retried.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case OperationCompleted, OperationFailed:
		return true
	}
	return false
}

// ValidOperationTransitions defines the allowed state transitions for Operations.
var ValidOperationTransitions = map[OperationStatus][]OperationStatus{
	OperationPending: {OperationRunning},
	OperationRunning: {OperationCompleted, OperationFailed},
	OperationFailed:  {OperationRunning},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s OperationStatus) CanTransitionTo(next OperationStatus) bool {
	for _, allowed := range ValidOperationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseOperationStatus returns the status named by s, or false if s is not a status.
func ParseOperationStatus(s string) (OperationStatus, bool) {
	switch OperationStatus(s) {
	case OperationPending, OperationRunning, OperationCompleted, OperationFailed:
		return OperationStatus(s), true
	}
	return "", false
}

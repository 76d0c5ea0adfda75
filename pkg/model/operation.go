package model

import (
	"encoding/json"
	"time"
)

// TaskKind identifies which executor an operation invokes.
type TaskKind string

// Built-in task kinds served by the host environment.
const (
	KindNoopFast           TaskKind = "noop_fast"
	KindPingHost           TaskKind = "ping_host"
	KindCreateComponent    TaskKind = "create_component"
	KindDeleteComponent    TaskKind = "delete_component"
	KindTransformComponent TaskKind = "transform_component"
	KindSetMaterial        TaskKind = "set_material"
	KindGetSelection       TaskKind = "get_selection"
	KindSelectComponents   TaskKind = "select_components"
	KindQueryComponents    TaskKind = "query_all_components"
	KindCalculateDistance  TaskKind = "calculate_distance"
	KindExportScene        TaskKind = "export_scene"
	KindEvalScript         TaskKind = "eval_script"
)

// Operation is a tracked, retryable unit of work derived from one client request.
type Operation struct {
	ID           string          `json:"id"`
	Kind         TaskKind        `json:"kind"`
	Payload      json.RawMessage `json:"-"`
	Arguments    map[string]any  `json:"arguments,omitempty"`
	ConnectionID string          `json:"connection_id"`
	Status       OperationStatus `json:"status"`
	Attempts     int             `json:"attempts"`
	Tier         string          `json:"tier,omitempty"`
	Chunks       int             `json:"chunks,omitempty"`
	Error        string          `json:"error,omitempty"`
	ErrorCode    int             `json:"error_code,omitempty"`
	Result       any             `json:"result,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy safe to hand to another goroutine. Arguments and
// Result are shared; callers must treat them as read-only.
func (o *Operation) Clone() *Operation {
	cp := *o
	if o.LastAttemptAt != nil {
		t := *o.LastAttemptAt
		cp.LastAttemptAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// OperationCounts tallies operations by status.
type OperationCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// InFlight returns the number of operations that are not yet terminal.
func (c OperationCounts) InFlight() int {
	return c.Pending + c.Running
}

// Status is the lifecycle snapshot exposed to the surrounding application.
type Status struct {
	Running           bool            `json:"running"`
	Port              int             `json:"port"`
	ActiveConnections int             `json:"active_connections"`
	QueueLength       int             `json:"queue_length"`
	Interval          string          `json:"interval,omitempty"`
	Degraded          bool            `json:"degraded,omitempty"`
	Operations        OperationCounts `json:"operations"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
}

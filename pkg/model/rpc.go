package model

import (
	"encoding/json"
	"time"
)

// JSONRPCVersion is the protocol version carried on every frame.
const JSONRPCVersion = "2.0"

// Methods understood by the server.
const (
	MethodToolsCall       = "tools/call"
	MethodPing            = "ping"
	MethodServerStatus    = "server/status"
	MethodOperationGet    = "operation/get"
	MethodOperationRetry  = "operation/retry"
	MethodOperationStatus = "operation/status" // outbound notifications only
)

// JSON-RPC error codes. The -320xx range is server-defined.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeTaskFailed     = -32000
	CodeTimeout        = -32001
	CodeUnknownKind    = -32002
)

// Request is an inbound JSON-RPC frame.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// ToolCallParams are the params of a tools/call request.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// OperationRef names an operation in operation/get and operation/retry.
type OperationRef struct {
	OperationID string `json:"operation_id"`
}

// Response is an outbound result or error frame.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// RPCError is the error member of an error response.
type RPCError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    *RPCErrorData `json:"data,omitempty"`
}

// RPCErrorData ties an error response back to the failed operation.
type RPCErrorData struct {
	OperationID string `json:"operation_id"`
	Attempts    int    `json:"attempts"`
}

// Notification is a fire-and-forget frame without an id.
type Notification struct {
	JSONRPC string       `json:"jsonrpc"`
	Method  string       `json:"method"`
	Params  StatusParams `json:"params"`
}

// StatusParams are the params of an operation/status notification.
type StatusParams struct {
	OperationID string    `json:"operation_id"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// StatusRetrying is reported between a transient failure and the next attempt.
const StatusRetrying = "retrying"

// Package codec frames newline-delimited JSON-RPC messages and encodes the
// three outbound shapes: result, error and operation/status notification.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/me/hostbridge/pkg/model"
)

// DefaultMaxFrameBytes bounds a single frame.
const DefaultMaxFrameBytes = 4 << 20

// ErrFrameTooLarge is returned when the buffer holds no delimiter within the frame limit.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// ErrInvalidRequest is wrapped by Decode for well-formed JSON that is not a
// valid request. Other Decode errors are parse errors.
var ErrInvalidRequest = errors.New("invalid request")

// Framer splits a receive buffer into complete frames.
type Framer struct {
	MaxFrameBytes int
}

// Split extracts every complete, non-empty frame from buf in order and
// returns the unterminated remainder. Frames are trimmed of surrounding
// whitespace (including a trailing \r). When the remainder grows past
// MaxFrameBytes it is discarded and ErrFrameTooLarge is returned alongside
// the frames already extracted.
func (f Framer) Split(buf []byte) (frames [][]byte, rest []byte, err error) {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		frame := bytes.TrimSpace(buf[:i])
		buf = buf[i+1:]
		if len(frame) == 0 {
			continue
		}
		out := make([]byte, len(frame))
		copy(out, frame)
		frames = append(frames, out)
	}

	limit := f.MaxFrameBytes
	if limit <= 0 {
		limit = DefaultMaxFrameBytes
	}
	if len(buf) > limit {
		return frames, nil, fmt.Errorf("%w: %d bytes without delimiter", ErrFrameTooLarge, len(buf))
	}
	rest = make([]byte, len(buf))
	copy(rest, buf)
	return frames, rest, nil
}

// Decode parses a frame into a Request.
func Decode(frame []byte) (*model.Request, error) {
	var req model.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if req.JSONRPC != "" && req.JSONRPC != model.JSONRPCVersion {
		return nil, fmt.Errorf("%w: unsupported jsonrpc version %q", ErrInvalidRequest, req.JSONRPC)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("%w: frame has no method", ErrInvalidRequest)
	}
	return &req, nil
}

// DecodeErrorCode maps a Decode error to its JSON-RPC error code.
func DecodeErrorCode(err error) int {
	if errors.Is(err, ErrInvalidRequest) {
		return model.CodeInvalidRequest
	}
	return model.CodeParseError
}

// Hash returns a stable content hash of a raw frame.
func Hash(frame []byte) string {
	sum := sha256.Sum256(bytes.TrimSpace(frame))
	return hex.EncodeToString(sum[:])
}

// CorrelationID recovers the client-supplied id from a raw request payload.
// It returns JSON null when the payload has no id or cannot be parsed.
func CorrelationID(payload []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || len(probe.ID) == 0 {
		return json.RawMessage("null")
	}
	return probe.ID
}

// ToolCall resolves a request into a task kind and its arguments. Requests
// other than tools/call are treated as direct commands: the method names the
// kind and params are the arguments.
func ToolCall(req *model.Request) (model.TaskKind, map[string]any, error) {
	if req.Method != model.MethodToolsCall {
		args := map[string]any{}
		if len(req.Params) > 0 && !bytes.Equal(req.Params, []byte("null")) {
			if err := json.Unmarshal(req.Params, &args); err != nil {
				return "", nil, fmt.Errorf("params for %s: %w", req.Method, err)
			}
		}
		return model.TaskKind(req.Method), args, nil
	}

	var p model.ToolCallParams
	if len(req.Params) == 0 {
		return "", nil, errors.New("tools/call requires params")
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return "", nil, fmt.Errorf("tools/call params: %w", err)
	}
	if p.Name == "" {
		return "", nil, errors.New("tools/call params.name is required")
	}
	if p.Arguments == nil {
		p.Arguments = map[string]any{}
	}
	return model.TaskKind(p.Name), p.Arguments, nil
}

// EncodeResult encodes a result frame, newline terminated.
func EncodeResult(id json.RawMessage, result any) ([]byte, error) {
	if result == nil {
		result = map[string]any{}
	}
	return encode(model.Response{JSONRPC: model.JSONRPCVersion, Result: result, ID: nullable(id)})
}

// EncodeError encodes an error frame, newline terminated.
func EncodeError(id json.RawMessage, rpcErr *model.RPCError) ([]byte, error) {
	return encode(model.Response{JSONRPC: model.JSONRPCVersion, Error: rpcErr, ID: nullable(id)})
}

// EncodeStatus encodes an operation/status notification, newline terminated.
func EncodeStatus(opID, status, message string, ts time.Time) ([]byte, error) {
	return encode(model.Notification{
		JSONRPC: model.JSONRPCVersion,
		Method:  model.MethodOperationStatus,
		Params: model.StatusParams{
			OperationID: opID,
			Status:      status,
			Message:     message,
			Timestamp:   ts.UTC(),
		},
	})
}

func nullable(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/me/hostbridge/pkg/model"
)

// RPCClient speaks the newline-delimited JSON-RPC protocol to a running server.
// Each call uses its own connection.
type RPCClient struct {
	Addr    string
	Timeout time.Duration // bounds the whole call when ctx has no deadline
	Logger  *slog.Logger
}

// frame is any inbound frame: a notification or a response.
type frame struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *model.RPCError `json:"error"`
}

// Call sends one request and waits for the response carrying its id.
// operation/status notifications received meanwhile are passed to onStatus.
func (c *RPCClient) Call(ctx context.Context, method string, params any, id json.RawMessage,
	onStatus func(model.StatusParams)) (*model.Response, error) {

	if _, ok := ctx.Deadline(); !ok && c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.Addr, err)
	}
	defer nc.Close()
	if dl, ok := ctx.Deadline(); ok {
		nc.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { nc.SetDeadline(time.Now()) })
	defer stop()

	req := map[string]any{
		"jsonrpc": model.JSONRPCVersion,
		"method":  method,
		"id":      id,
	}
	if params != nil {
		req["params"] = params
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.Logger.Debug("rpc request", "addr", c.Addr, "method", method, "bytes", len(b))
	if _, err := nc.Write(append(b, '\n')); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	want := compact(id)
	r := bufio.NewReader(nc)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("waiting for response: %w", ctx.Err())
			}
			return nil, fmt.Errorf("read response: %w", err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		if f.Method == model.MethodOperationStatus {
			var sp model.StatusParams
			if err := json.Unmarshal(f.Params, &sp); err == nil && onStatus != nil {
				onStatus(sp)
			}
			continue
		}
		if !bytes.Equal(compact(f.ID), want) && !isNull(f.ID) {
			c.Logger.Debug("ignoring response for another request", "id", string(f.ID))
			continue
		}

		resp := &model.Response{JSONRPC: model.JSONRPCVersion, ID: f.ID, Error: f.Error}
		if len(f.Result) > 0 {
			if err := json.Unmarshal(f.Result, &resp.Result); err != nil {
				return nil, fmt.Errorf("decode result: %w", err)
			}
		}
		return resp, nil
	}
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// isNull reports a null or absent id, which the server uses when it could
// not parse the request at all.
func isNull(raw json.RawMessage) bool {
	s := string(bytes.TrimSpace(raw))
	return s == "" || s == "null"
}

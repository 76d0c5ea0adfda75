package dispatch

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/me/hostbridge/internal/clock"
	"github.com/me/hostbridge/pkg/model"
)

type fakeConns struct {
	live    map[string]bool
	written map[string][]string
	failing map[string]bool
	dropped []string
}

func newFakeConns(ids ...string) *fakeConns {
	f := &fakeConns{live: map[string]bool{}, written: map[string][]string{}, failing: map[string]bool{}}
	for _, id := range ids {
		f.live[id] = true
	}
	return f
}

func (f *fakeConns) Live(id string) bool { return f.live[id] }

func (f *fakeConns) Write(id string, b []byte) error {
	if f.failing[id] {
		return errors.New("broken pipe")
	}
	f.written[id] = append(f.written[id], string(b))
	return nil
}

func (f *fakeConns) Drop(id, reason string) {
	delete(f.live, id)
	f.dropped = append(f.dropped, id)
}

func testSetup(t *testing.T, ids ...string) (*Dispatcher, *fakeConns) {
	t.Helper()
	conns := newFakeConns(ids...)
	clk := clock.NewFake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	return New(conns, clk, slog.New(slog.NewTextHandler(io.Discard, nil))), conns
}

func decode(t *testing.T, frame string) map[string]any {
	t.Helper()
	if !strings.HasSuffix(frame, "\n") {
		t.Fatalf("frame %q is not newline terminated", frame)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(frame), &m); err != nil {
		t.Fatalf("unmarshal %q: %v", frame, err)
	}
	return m
}

func testOp() *model.Operation {
	return &model.Operation{
		ID:           "op_1_1",
		Kind:         model.KindNoopFast,
		Payload:      json.RawMessage(`{"jsonrpc":"2.0","id":"req-7","method":"tools/call","params":{"name":"noop_fast"}}`),
		ConnectionID: "conn_a",
		Attempts:     1,
	}
}

func TestCompleted_CarriesCorrelationID(t *testing.T) {
	d, conns := testSetup(t, "conn_a")
	op := testOp()
	op.Result = map[string]any{"success": true}

	if !d.Completed(op) {
		t.Fatal("Completed returned false")
	}
	m := decode(t, conns.written["conn_a"][0])
	if m["id"] != "req-7" {
		t.Errorf("id = %v, want req-7", m["id"])
	}
	if m["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v", m["jsonrpc"])
	}
	if res, _ := m["result"].(map[string]any); res["success"] != true {
		t.Errorf("result = %v", m["result"])
	}
}

func TestCompleted_UnencodableResult(t *testing.T) {
	d, conns := testSetup(t, "conn_a")
	op := testOp()
	op.Result = map[string]any{"fn": func() {}}

	d.Completed(op)
	m := decode(t, conns.written["conn_a"][0])
	e, _ := m["error"].(map[string]any)
	if e == nil || e["code"] != float64(model.CodeInternalError) {
		t.Errorf("response = %v, want internal error", m)
	}
}

func TestFailed_ErrorShape(t *testing.T) {
	d, conns := testSetup(t, "conn_a")
	op := testOp()
	op.Attempts = 2
	op.Error = "no result after 660s: operation timed out"
	op.ErrorCode = model.CodeTimeout

	d.Failed(op)
	m := decode(t, conns.written["conn_a"][0])
	e := m["error"].(map[string]any)
	if e["code"] != float64(model.CodeTimeout) || e["message"] != op.Error {
		t.Errorf("error = %v", e)
	}
	data := e["data"].(map[string]any)
	if data["operation_id"] != "op_1_1" || data["attempts"] != float64(2) {
		t.Errorf("data = %v", data)
	}
	if m["id"] != "req-7" {
		t.Errorf("id = %v", m["id"])
	}
}

func TestStatusNotifications(t *testing.T) {
	d, conns := testSetup(t, "conn_a")
	op := testOp()

	d.Running(op, "tier simple")
	d.Retrying(op, errors.New("host busy"), 500*time.Millisecond)

	frames := conns.written["conn_a"]
	if len(frames) != 2 {
		t.Fatalf("wrote %d frames, want 2", len(frames))
	}
	for i, want := range []string{"running", "retrying"} {
		m := decode(t, frames[i])
		if _, ok := m["id"]; ok {
			t.Errorf("notification %d carries an id", i)
		}
		if m["method"] != model.MethodOperationStatus {
			t.Errorf("method = %v", m["method"])
		}
		p := m["params"].(map[string]any)
		if p["status"] != want || p["operation_id"] != "op_1_1" {
			t.Errorf("params = %v, want status %s", p, want)
		}
		if p["timestamp"] != "2026-01-02T03:04:05Z" {
			t.Errorf("timestamp = %v", p["timestamp"])
		}
	}
}

func TestSend_WriteFailureDropsConnection(t *testing.T) {
	d, conns := testSetup(t, "conn_a")
	conns.failing["conn_a"] = true

	if d.Completed(testOp()) {
		t.Fatal("Completed reported success on a broken connection")
	}
	if len(conns.dropped) != 1 || conns.dropped[0] != "conn_a" {
		t.Errorf("dropped = %v, want [conn_a]", conns.dropped)
	}
	// later events for the dropped connection are discarded quietly
	if d.Failed(testOp()) {
		t.Error("Failed reported success for a dropped connection")
	}
	if len(conns.dropped) != 1 {
		t.Errorf("connection dropped twice")
	}
}

func TestReply(t *testing.T) {
	d, conns := testSetup(t, "conn_a")
	d.Reply("conn_a", json.RawMessage("3"), map[string]any{"pong": true})
	d.ReplyError("conn_a", nil, model.CodeParseError, "parse error")

	frames := conns.written["conn_a"]
	if m := decode(t, frames[0]); m["id"] != float64(3) {
		t.Errorf("reply id = %v", m["id"])
	}
	m := decode(t, frames[1])
	if v, ok := m["id"]; !ok || v != nil {
		t.Errorf("error reply id = %v, want null", v)
	}
}

package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/hostbridge/internal/host"
	"github.com/me/hostbridge/pkg/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSetup(t *testing.T) (*Registry, *host.Host) {
	t.Helper()
	h, err := host.New(host.DefaultConfig(), newTestLogger())
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}
	r := NewRegistry(newTestLogger())
	RegisterBuiltins(r, h)
	return r, h
}

func execute(t *testing.T, r *Registry, kind model.TaskKind, args map[string]any) (map[string]any, error) {
	t.Helper()
	exec, err := r.Get(kind)
	if err != nil {
		t.Fatalf("Get(%s): %v", kind, err)
	}
	res, err := exec.Execute(context.Background(), &Invocation{Kind: kind, Arguments: args})
	if err != nil {
		return nil, err
	}
	m, ok := res.(map[string]any)
	if !ok {
		t.Fatalf("result is %T, want map", res)
	}
	return m, nil
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry(newTestLogger())
	_, err := r.Get("teleport")
	var unknown *model.UnknownKindError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want *model.UnknownKindError", err)
	}
	if unknown.Kind != "teleport" {
		t.Errorf("Kind = %q", unknown.Kind)
	}
}

func TestRegistry_Builtins(t *testing.T) {
	r, _ := testSetup(t)
	if got := len(r.Kinds()); got != 12 {
		t.Errorf("registered %d kinds, want 12", got)
	}
	if got := r.ChunkField(model.KindEvalScript); got != "code" {
		t.Errorf("ChunkField(eval_script) = %q, want code", got)
	}
	if got := r.ChunkField(model.KindCreateComponent); got != "" {
		t.Errorf("ChunkField(create_component) = %q, want empty", got)
	}
	if got := r.ChunkField("missing"); got != "" {
		t.Errorf("ChunkField(missing) = %q, want empty", got)
	}
}

func TestBuiltins_ComponentLifecycle(t *testing.T) {
	r, h := testSetup(t)

	res, err := execute(t, r, model.KindCreateComponent, map[string]any{
		"type":       "box",
		"position":   []any{0.0, 0.0, 0.0},
		"dimensions": []any{2.0, 1.0, 1.0},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id, _ := res["id"].(string)
	if id == "" {
		t.Fatalf("create returned no id: %v", res)
	}

	if _, err := execute(t, r, model.KindTransformComponent, map[string]any{
		"id": id, "position": []any{3.0, 4.0, 0.0},
	}); err != nil {
		t.Fatalf("transform: %v", err)
	}
	if _, err := execute(t, r, model.KindSetMaterial, map[string]any{"id": id, "material": "red"}); err != nil {
		t.Fatalf("set_material: %v", err)
	}

	res, err = execute(t, r, model.KindCalculateDistance, map[string]any{
		"point1": []any{0.0, 0.0, 0.0}, "point2": []any{3.0, 4.0, 0.0},
	})
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	if res["distance"] != 5.0 {
		t.Errorf("distance = %v, want 5", res["distance"])
	}

	if _, err := execute(t, r, model.KindSelectComponents, map[string]any{"ids": []any{id}}); err != nil {
		t.Fatalf("select: %v", err)
	}
	res, err = execute(t, r, model.KindGetSelection, nil)
	if err != nil || res["count"] != 1 {
		t.Fatalf("get_selection = %v, %v", res, err)
	}

	res, err = execute(t, r, model.KindQueryComponents, map[string]any{"type_filter": "sphere"})
	if err != nil || res["count"] != 0 {
		t.Errorf("query sphere = %v, %v", res, err)
	}

	if _, err := execute(t, r, model.KindDeleteComponent, map[string]any{"id": id}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if h.Scene().Len() != 0 {
		t.Errorf("scene has %d components after delete", h.Scene().Len())
	}
	if _, err := execute(t, r, model.KindDeleteComponent, map[string]any{"id": id}); !errors.Is(err, host.ErrComponentNotFound) {
		t.Errorf("second delete err = %v, want ErrComponentNotFound", err)
	}
}

func TestBuiltins_ValidationErrors(t *testing.T) {
	r, _ := testSetup(t)
	tests := []struct {
		kind model.TaskKind
		args map[string]any
	}{
		{model.KindCreateComponent, map[string]any{"type": "teapot"}},
		{model.KindCreateComponent, map[string]any{"position": "origin"}},
		{model.KindDeleteComponent, nil},
		{model.KindSetMaterial, map[string]any{"id": "cmp_1"}},
		{model.KindCalculateDistance, map[string]any{"point1": []any{0.0, 0.0, 0.0}}},
		{model.KindExportScene, map[string]any{"format": "skp"}},
		{model.KindEvalScript, nil},
	}
	for _, tt := range tests {
		if _, err := execute(t, r, tt.kind, tt.args); err == nil {
			t.Errorf("%s(%v): expected error", tt.kind, tt.args)
		}
	}
}

func TestBuiltins_ExportScene(t *testing.T) {
	r, h := testSetup(t)
	h.Scene().Create(host.ComponentSpec{Name: "leg", Material: "oak"})

	res, err := execute(t, r, model.KindExportScene, map[string]any{"format": "yaml"})
	if err != nil {
		t.Fatalf("export yaml: %v", err)
	}
	content, _ := res["content"].(string)
	if !strings.Contains(content, "name: leg") || !strings.Contains(content, "material: oak") {
		t.Errorf("yaml export = %q", content)
	}

	path := filepath.Join(t.TempDir(), "scene.json")
	res, err = execute(t, r, model.KindExportScene, map[string]any{"path": path})
	if err != nil {
		t.Fatalf("export json: %v", err)
	}
	if res["file_path"] != path {
		t.Errorf("file_path = %v", res["file_path"])
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), `"name": "leg"`) {
		t.Errorf("json export = %s", data)
	}
}

func TestScriptExecutor_ChunkAndWhole(t *testing.T) {
	r, h := testSetup(t)
	exec, _ := r.Get(model.KindEvalScript)
	ctx := context.Background()

	inv := &Invocation{Kind: model.KindEvalScript, Arguments: map[string]any{"code": "ignored"}, Code: `scene.create("box", {}); scene.count();`}
	res, err := exec.Execute(ctx, inv)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if got := res.(map[string]any)["result"]; got != int64(1) {
		t.Errorf("chunk result = %v (%T), want 1", got, got)
	}

	res, err = exec.Execute(ctx, &Invocation{Kind: model.KindEvalScript, Arguments: map[string]any{"code": "scene.count() + 1"}})
	if err != nil {
		t.Fatalf("whole: %v", err)
	}
	if got := res.(map[string]any)["result"]; got != int64(2) {
		t.Errorf("whole result = %v, want 2", got)
	}
	if h.Scene().Len() != 1 {
		t.Errorf("scene has %d components, want 1", h.Scene().Len())
	}
}

func TestHostEnvironment_Scope(t *testing.T) {
	_, h := testSetup(t)
	env := HostEnvironment(h)

	scope, err := env.BeginScope("op_1")
	if err != nil {
		t.Fatalf("BeginScope: %v", err)
	}
	_, err = env.BeginScope("op_2")
	if !errors.Is(err, host.ErrScopeActive) || !errors.Is(err, ErrTransient) {
		t.Errorf("nested scope err = %v, want a transient ErrScopeActive", err)
	}
	h.Scene().Create(host.ComponentSpec{})
	scope.Rollback()
	if h.Scene().Len() != 0 {
		t.Errorf("rollback left %d components", h.Scene().Len())
	}

	env.Refresh()
	if h.Refreshes() != 1 {
		t.Errorf("refreshes = %d, want 1", h.Refreshes())
	}
}

func TestFunc(t *testing.T) {
	f := Func{TaskKind: "flaky", Fn: func(context.Context, *Invocation) (any, error) {
		return nil, errors.Join(ErrTransient, errors.New("host busy"))
	}}
	r := NewRegistry(newTestLogger())
	r.Register(f)
	exec, err := r.Get("flaky")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := exec.Execute(context.Background(), &Invocation{}); !errors.Is(err, ErrTransient) {
		t.Errorf("err = %v, want ErrTransient", err)
	}
}

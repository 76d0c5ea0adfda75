package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/me/hostbridge/internal/host"
	"github.com/me/hostbridge/pkg/model"
)

// hostTask is a built-in kind implemented directly against the scene.
type hostTask struct {
	kind model.TaskKind
	host *host.Host
	run  func(ctx context.Context, h *host.Host, args host.Args) (any, error)
}

func (t *hostTask) Kind() model.TaskKind { return t.kind }

func (t *hostTask) Execute(ctx context.Context, inv *Invocation) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.run(ctx, t.host, host.Args(inv.Arguments))
}

// ScriptExecutor runs JavaScript on the host runtime. Its code argument is
// chunkable.
type ScriptExecutor struct {
	host *host.Host
}

// Kind returns model.KindEvalScript.
func (e *ScriptExecutor) Kind() model.TaskKind { return model.KindEvalScript }

// ChunkField returns "code".
func (e *ScriptExecutor) ChunkField() string { return "code" }

// Execute runs inv.Code, or the whole code argument when the invocation is
// not chunked.
func (e *ScriptExecutor) Execute(ctx context.Context, inv *Invocation) (any, error) {
	code := inv.Code
	if code == "" {
		var err error
		if code, err = host.Args(inv.Arguments).RequiredString("code"); err != nil {
			return nil, err
		}
	}
	v, err := e.host.Run(ctx, code)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "result": v}, nil
}

// RegisterBuiltins registers every built-in task kind served by h.
func RegisterBuiltins(r *Registry, h *host.Host) {
	for kind, run := range map[model.TaskKind]func(context.Context, *host.Host, host.Args) (any, error){
		model.KindNoopFast:           noopFast,
		model.KindPingHost:           pingHost,
		model.KindCreateComponent:    createComponent,
		model.KindDeleteComponent:    deleteComponent,
		model.KindTransformComponent: transformComponent,
		model.KindSetMaterial:        setMaterial,
		model.KindGetSelection:       getSelection,
		model.KindSelectComponents:   selectComponents,
		model.KindQueryComponents:    queryComponents,
		model.KindCalculateDistance:  calculateDistance,
		model.KindExportScene:        exportScene,
	} {
		r.Register(&hostTask{kind: kind, host: h, run: run})
	}
	r.Register(&ScriptExecutor{host: h})
}

// HostEnvironment adapts h to Environment.
func HostEnvironment(h *host.Host) Environment {
	return hostEnv{h: h}
}

type hostEnv struct {
	h *host.Host
}

// BeginScope opens a host scope. A scope still held by someone else makes
// the host busy, which is worth retrying.
func (e hostEnv) BeginScope(name string) (Scope, error) {
	s, err := e.h.Begin(name)
	if errors.Is(err, host.ErrScopeActive) {
		return nil, errors.Join(ErrTransient, err)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (e hostEnv) Refresh() { e.h.Refresh() }

func noopFast(context.Context, *host.Host, host.Args) (any, error) {
	return map[string]any{"success": true}, nil
}

func pingHost(_ context.Context, h *host.Host, _ host.Args) (any, error) {
	return map[string]any{
		"success":    true,
		"components": h.Scene().Len(),
		"refreshes":  h.Refreshes(),
		"yields":     h.Yields(),
	}, nil
}

func createComponent(_ context.Context, h *host.Host, args host.Args) (any, error) {
	spec, err := args.ComponentSpec()
	if err != nil {
		return nil, err
	}
	c, err := h.Scene().Create(spec)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "id": c.ID, "component": c}, nil
}

func deleteComponent(_ context.Context, h *host.Host, args host.Args) (any, error) {
	ids, err := idsArg(args)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := h.Scene().Remove(id); err != nil {
			return nil, err
		}
	}
	return map[string]any{"success": true, "deleted": len(ids)}, nil
}

func transformComponent(_ context.Context, h *host.Host, args host.Args) (any, error) {
	id, err := args.RequiredString("id")
	if err != nil {
		return nil, err
	}
	t, err := args.TransformSpec()
	if err != nil {
		return nil, err
	}
	c, err := h.Scene().Transform(id, t)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "id": c.ID, "component": c}, nil
}

func setMaterial(_ context.Context, h *host.Host, args host.Args) (any, error) {
	id, err := args.RequiredString("id")
	if err != nil {
		return nil, err
	}
	material, err := args.RequiredString("material")
	if err != nil {
		return nil, err
	}
	c, err := h.Scene().SetMaterial(id, material)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "id": c.ID, "material": c.Material}, nil
}

func getSelection(_ context.Context, h *host.Host, _ host.Args) (any, error) {
	sel := h.Scene().Selection()
	return map[string]any{"success": true, "count": len(sel), "components": sel}, nil
}

func selectComponents(_ context.Context, h *host.Host, args host.Args) (any, error) {
	ids, err := idsArg(args)
	if err != nil {
		return nil, err
	}
	if err := h.Scene().Select(ids); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "count": len(h.Scene().Selection())}, nil
}

func queryComponents(_ context.Context, h *host.Host, args host.Args) (any, error) {
	filter, err := args.String("type_filter")
	if err != nil {
		return nil, err
	}
	details := true
	if v, ok := args["include_details"].(bool); ok {
		details = v
	}

	var out []any
	for _, c := range h.Scene().List() {
		if filter != "" && !strings.EqualFold(c.Kind, filter) {
			continue
		}
		if details {
			out = append(out, c)
		} else {
			out = append(out, map[string]any{"id": c.ID, "name": c.Name, "kind": c.Kind})
		}
	}
	return map[string]any{"success": true, "count": len(out), "components": out}, nil
}

// calculateDistance measures between two points or two components.
func calculateDistance(_ context.Context, h *host.Host, args host.Args) (any, error) {
	if from, _ := args.String("from"); from != "" {
		to, err := args.RequiredString("to")
		if err != nil {
			return nil, err
		}
		d, err := h.Scene().Distance(from, to)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "distance": d}, nil
	}

	p1, ok1, err := args.Vec("point1")
	if err != nil {
		return nil, err
	}
	p2, ok2, err := args.Vec("point2")
	if err != nil {
		return nil, err
	}
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("calculate_distance needs point1 and point2, or from and to")
	}
	var sum float64
	for i := range 3 {
		d := p2[i] - p1[i]
		sum += d * d
	}
	return map[string]any{"success": true, "distance": math.Sqrt(sum)}, nil
}

type sceneExport struct {
	Components []*host.Component `json:"components" yaml:"components"`
	Selection  []string          `json:"selection,omitempty" yaml:"selection,omitempty"`
}

func exportScene(_ context.Context, h *host.Host, args host.Args) (any, error) {
	format, err := args.String("format")
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = "json"
	}

	doc := sceneExport{Components: h.Scene().List()}
	for _, c := range h.Scene().Selection() {
		doc.Selection = append(doc.Selection, c.ID)
	}

	var data []byte
	switch strings.ToLower(format) {
	case "json":
		data, err = json.MarshalIndent(doc, "", "  ")
	case "yaml", "yml":
		data, err = yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("unsupported export format %q (want json or yaml)", format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode scene: %w", err)
	}

	res := map[string]any{"success": true, "format": format, "components": len(doc.Components)}
	path, err := args.String("path")
	if err != nil {
		return nil, err
	}
	if path == "" {
		res["content"] = string(data)
		return res, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write export: %w", err)
	}
	res["file_path"] = path
	return res, nil
}

func idsArg(args host.Args) ([]string, error) {
	ids, err := args.Strings("ids")
	if err != nil {
		return nil, err
	}
	if id, err := args.String("id"); err != nil {
		return nil, err
	} else if id != "" {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("id or ids is required")
	}
	return ids, nil
}

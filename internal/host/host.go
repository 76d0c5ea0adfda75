// Package host is the single-threaded host environment tasks run against:
// an in-memory scene and a persistent JavaScript runtime (goja) exposing it
// to scripts. Mutations can be wrapped in scopes that commit or roll back.
//
// A Host is owned by the scheduler goroutine. The only cross-goroutine call
// is the interrupt issued when a running script's context expires.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dop251/goja"
)

// ErrScopeActive is returned by Begin while another scope is open.
var ErrScopeActive = errors.New("a scope is already open")

// Config holds host configuration.
type Config struct {
	MaxComponents int `yaml:"max_components"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxComponents: 100000}
}

// Host owns the scene and the script runtime.
type Host struct {
	logger *slog.Logger
	scene  *Scene
	vm     *goja.Runtime
	scope  *Scope

	runCtx    context.Context
	yields    int
	refreshes int
}

// New creates a host with an empty scene.
func New(cfg Config, logger *slog.Logger) (*Host, error) {
	h := &Host{
		logger: logger.With("component", "host"),
		scene:  NewScene(cfg.MaxComponents),
		vm:     goja.New(),
	}
	h.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := h.bind(); err != nil {
		return nil, fmt.Errorf("bind host api: %w", err)
	}
	return h, nil
}

// Scene returns the scene.
func (h *Host) Scene() *Scene { return h.scene }

// Refresh signals the host to redraw. It only counts and logs; there is no
// UI to repaint.
func (h *Host) Refresh() {
	h.refreshes++
	h.logger.Debug("refresh", "components", h.scene.Len(), "refreshes", h.refreshes)
}

// Refreshes returns how many refreshes were requested.
func (h *Host) Refreshes() int { return h.refreshes }

// Yields returns how many cooperative yields scripts have reached.
func (h *Host) Yields() int { return h.yields }

// Scope is a transactional scope over the scene.
type Scope struct {
	host     *Host
	name     string
	snapshot *Scene
	done     bool
}

// Begin opens a scope. Scopes do not nest.
func (h *Host) Begin(name string) (*Scope, error) {
	if h.scope != nil {
		return nil, fmt.Errorf("begin %q: %w (%q)", name, ErrScopeActive, h.scope.name)
	}
	h.scope = &Scope{host: h, name: name, snapshot: h.scene.snapshot()}
	return h.scope, nil
}

// Commit keeps every change made inside the scope.
func (s *Scope) Commit() {
	s.close()
}

// Rollback restores the scene to its state when the scope opened.
func (s *Scope) Rollback() {
	if s.done {
		return
	}
	s.host.scene.restore(s.snapshot)
	s.host.logger.Debug("scope rolled back", "scope", s.name)
	s.close()
}

func (s *Scope) close() {
	if s.done {
		return
	}
	s.done = true
	s.snapshot = nil
	if s.host.scope == s {
		s.host.scope = nil
	}
}

// Run executes code on the runtime and returns its completion value. The
// runtime keeps global state between calls, so consecutive chunks of one
// script see each other's declarations. When ctx ends mid-script the
// runtime is interrupted and the returned error wraps ctx.Err().
func (h *Host) Run(ctx context.Context, code string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.runCtx = ctx
	defer func() { h.runCtx = nil }()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			h.vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	v, err := h.vm.RunString(code)
	close(stop)
	<-done
	h.vm.ClearInterrupt()

	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("script interrupted: %w", cerr)
		}
		var ex *goja.Exception
		if errors.As(err, &ex) {
			return nil, fmt.Errorf("script error: %s", ex.Error())
		}
		return nil, fmt.Errorf("script: %w", err)
	}
	return export(v), nil
}

func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// yield is bound to __yield(). It is a cancellation point: a script whose
// context has ended stops at its next yield.
func (h *Host) yield() error {
	h.yields++
	if h.runCtx != nil {
		if err := h.runCtx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) bind() error {
	s := h.scene
	scene := h.vm.NewObject()
	fns := map[string]any{
		"create": func(kind string, opts map[string]any) (*Component, error) {
			spec, err := Args(opts).ComponentSpec()
			if err != nil {
				return nil, err
			}
			if kind != "" {
				spec.Kind = kind
			}
			return s.Create(spec)
		},
		"remove": func(id string) error {
			return s.Remove(id)
		},
		"transform": func(id string, opts map[string]any) (*Component, error) {
			t, err := Args(opts).TransformSpec()
			if err != nil {
				return nil, err
			}
			return s.Transform(id, t)
		},
		"setMaterial": func(id, material string) (*Component, error) {
			return s.SetMaterial(id, material)
		},
		"group": func(ids []string, name string) (*Component, error) {
			return s.Group(ids, name)
		},
		"boolean": func(op, a, b string) (*Component, error) {
			return s.Boolean(op, a, b)
		},
		"clear": func() int {
			return s.Clear()
		},
		"get": func(id string) (*Component, error) {
			return s.Get(id)
		},
		"list": func() []*Component {
			return s.List()
		},
		"count": func() int {
			return s.Len()
		},
		"select": func(ids []string) error {
			return s.Select(ids)
		},
		"selection": func() []*Component {
			return s.Selection()
		},
		"distance": func(a, b string) (float64, error) {
			return s.Distance(a, b)
		},
	}
	for name, fn := range fns {
		if err := scene.Set(name, fn); err != nil {
			return fmt.Errorf("scene.%s: %w", name, err)
		}
	}
	if err := h.vm.Set("scene", scene); err != nil {
		return err
	}
	if err := h.vm.Set("__yield", h.yield); err != nil {
		return err
	}
	return h.vm.Set("refresh", h.Refresh)
}

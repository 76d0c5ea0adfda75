package executor

import (
	"log/slog"
	"sort"

	"github.com/me/hostbridge/pkg/model"
)

// Registry maps task kinds to their Executor implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	executors map[model.TaskKind]Executor
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		executors: make(map[model.TaskKind]Executor),
		logger:    logger.With("component", "executor-registry"),
	}
}

// Register adds an Executor to the registry, keyed by its Kind().
func (r *Registry) Register(exec Executor) {
	k := exec.Kind()
	r.executors[k] = exec
	r.logger.Debug("executor registered", "kind", k)
}

// Get returns the Executor for the given kind or a *model.UnknownKindError.
func (r *Registry) Get(k model.TaskKind) (Executor, error) {
	exec, ok := r.executors[k]
	if !ok {
		return nil, &model.UnknownKindError{Kind: k}
	}
	return exec, nil
}

// ChunkField returns the splittable argument of kind, or "" when the kind
// is unknown or not chunkable.
func (r *Registry) ChunkField(k model.TaskKind) string {
	if c, ok := r.executors[k].(Chunkable); ok {
		return c.ChunkField()
	}
	return ""
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []model.TaskKind {
	kinds := make([]model.TaskKind, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sloppy/orangesage/internal/llm"
)

var (
	ErrUnknownAgentType = errors.New("agent: unknown agent type")
	ErrAgentCancelled   = errors.New("agent: cancelled")
	ErrNotPending       = errors.New("agent: not pending")
)

// Registry maps agent type names to executors. It is fixed at construction.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry registers the given executors by their Type.
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[string]Executor, len(executors))}
	for _, e := range executors {
		r.executors[e.Type()] = e
	}
	return r
}

// DefaultRegistry wires the general, recon and vulnerability executors to gen.
func DefaultRegistry(gen llm.Generator, logger *slog.Logger) *Registry {
	return NewRegistry(
		NewGeneral(gen, logger),
		NewRecon(gen, logger),
		NewVulnerability(gen, logger),
	)
}

// Lookup returns the executor for typ.
func (r *Registry) Lookup(typ string) (Executor, error) {
	e, ok := r.executors[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgentType, typ)
	}
	return e, nil
}

// Types lists registered type names in order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Package registry maintains the catalogue of executable action
// definitions and validates actions against them.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/PixelDroid19/orbis-core/internal/logging"
	"github.com/PixelDroid19/orbis-core/internal/model"
)

// Handler executes one action against a context snapshot.
type Handler func(ctx context.Context, action model.Action, snapshot model.ContextSnapshot) model.ActionResult

// Definition describes one registered action type.
type Definition struct {
	Type               model.ActionType
	Name               string
	Description        string
	SupportedTargets   []model.TargetType
	RequiredParameters []string
	OptionalParameters []string
	Handler            Handler
}

func (d Definition) supportsTarget(t model.TargetType) bool {
	for _, st := range d.SupportedTargets {
		if st == t {
			return true
		}
	}
	return false
}

// Registry is the catalogue of action definitions. The built-in
// heuristic handlers are registered at construction; callers may add
// or replace definitions at runtime.
type Registry struct {
	mu   sync.RWMutex
	defs map[model.ActionType]Definition
}

// New creates a registry pre-populated with the built-in handlers.
func New() *Registry {
	r := &Registry{defs: make(map[model.ActionType]Definition)}
	for _, def := range builtinDefinitions() {
		r.defs[def.Type] = def
	}
	return r
}

// Register adds or replaces a definition. Incomplete definitions are
// rejected rather than stored.
func (r *Registry) Register(def Definition) error {
	if def.Type == "" {
		return fmt.Errorf("register action: type is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("register action %q: handler is required", def.Type)
	}
	if len(def.SupportedTargets) == 0 {
		return fmt.Errorf("register action %q: at least one supported target is required", def.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Type] = def
	return nil
}

// Unregister removes a definition and reports whether it existed.
func (r *Registry) Unregister(t model.ActionType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.defs[t]
	delete(r.defs, t)
	return ok
}

// Definition returns the definition for an action type.
func (r *Registry) Definition(t model.ActionType) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[t]
	return def, ok
}

// Definitions returns all registered definitions sorted by type.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Validate checks an action against its definition and returns every
// violation found; it never stops at the first problem.
func (r *Registry) Validate(action model.Action) []string {
	r.mu.RLock()
	def, ok := r.defs[action.Type]
	r.mu.RUnlock()
	if !ok {
		return []string{fmt.Sprintf("Unknown action type: %s", action.Type)}
	}

	var problems []string
	if !def.supportsTarget(action.Target.Type) {
		problems = append(problems, fmt.Sprintf("Target type %s not supported for action %s", action.Target.Type, action.Type))
	}
	for _, name := range def.RequiredParameters {
		if _, present := action.Parameters[name]; !present {
			problems = append(problems, fmt.Sprintf("Missing required parameter: %s", name))
		}
	}
	problems = append(problems, ValidateTarget(action.Target)...)
	return problems
}

// ValidateTarget checks the structural shape of a target independent
// of any definition: selections need a range, files a path, functions
// and classes an identifier.
func ValidateTarget(target model.Target) []string {
	var problems []string
	switch target.Type {
	case model.TargetSelection:
		if target.Range == nil {
			problems = append(problems, "Selection target requires a range")
		}
	case model.TargetFile:
		if target.Path == "" {
			problems = append(problems, "File target requires a path")
		}
	case model.TargetFunction, model.TargetClass:
		if target.Identifier == "" {
			problems = append(problems, fmt.Sprintf("%s target requires an identifier", capitalize(string(target.Type))))
		}
	case model.TargetProject:
		// nothing to check
	default:
		problems = append(problems, fmt.Sprintf("Unknown target type: %s", target.Type))
	}
	return problems
}

// Execute re-validates the action and invokes the matching handler.
// Handler panics are converted into failed results so a misbehaving
// handler can never take down the pipeline.
func (r *Registry) Execute(ctx context.Context, action model.Action, snapshot model.ContextSnapshot) (result model.ActionResult) {
	if problems := r.Validate(action); len(problems) > 0 {
		return model.ActionResult{
			Success: false,
			Error:   fmt.Sprintf("Action validation failed: %s", joinProblems(problems)),
		}
	}
	def, ok := r.Definition(action.Type)
	if !ok {
		return model.ActionResult{Success: false, Error: fmt.Sprintf("Unsupported action type: %s", action.Type)}
	}

	defer func() {
		if rec := recover(); rec != nil {
			l := logging.Component("registry")
			l.Error().
				Str("action", action.ID).
				Str("type", string(action.Type)).
				Msgf("handler panicked: %v", rec)
			result = model.ActionResult{
				Success: false,
				Error:   fmt.Sprintf("Action execution failed: %v", rec),
			}
		}
	}()
	return def.Handler(ctx, action, snapshot)
}

func joinProblems(problems []string) string {
	return strings.Join(problems, "; ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Package executor orchestrates single-action execution: snapshot
// before, execute through the registry or providers, snapshot update
// after, bounded history.
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PixelDroid19/orbis-core/internal/events"
	"github.com/PixelDroid19/orbis-core/internal/logging"
	"github.com/PixelDroid19/orbis-core/internal/model"
	"github.com/PixelDroid19/orbis-core/internal/registry"
	"github.com/PixelDroid19/orbis-core/internal/rollback"
)

// DefaultMaxHistorySize bounds the action history when no limit is given.
const DefaultMaxHistorySize = 100

// ActionProvider is the provider surface the executor's manual
// fallback loop needs.
type ActionProvider interface {
	ID() string
	ExecuteAction(ctx context.Context, action model.Action, snapshot model.ContextSnapshot) (model.ActionResult, error)
}

// HistoryEntry records one executed action.
type HistoryEntry struct {
	Action    model.Action          `json:"action"`
	Result    model.ActionResult    `json:"result"`
	Context   model.ContextSnapshot `json:"context"`
	Timestamp time.Time             `json:"timestamp"`
}

// Executor runs actions and keeps a bounded, insertion-ordered
// history. Validation failures are terminal here; retrying across
// providers or attempts belongs to the workflow and protocol layers.
type Executor struct {
	registry *registry.Registry
	rollback *rollback.Manager
	bus      *events.Bus

	mu             sync.Mutex
	history        []HistoryEntry
	maxHistorySize int

	log zerolog.Logger
}

// New creates an executor; maxHistorySize <= 0 uses the default.
func New(reg *registry.Registry, rb *rollback.Manager, bus *events.Bus, maxHistorySize int) *Executor {
	if maxHistorySize <= 0 {
		maxHistorySize = DefaultMaxHistorySize
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Executor{
		registry:       reg,
		rollback:       rb,
		bus:            bus,
		maxHistorySize: maxHistorySize,
		log:            logging.Component("executor"),
	}
}

// ExecuteAction runs one action. A rollback snapshot is taken before
// execution; the registry handles registered types, otherwise each
// supplied provider is tried until one succeeds. The snapshot is
// updated with the real changes and the outcome is appended to
// history.
func (e *Executor) ExecuteAction(ctx context.Context, action model.Action, snapshot model.ContextSnapshot, providers map[string]ActionProvider) model.ActionResult {
	e.rollback.CreateSnapshot(action.ID, snapshot, nil)

	var result model.ActionResult
	if _, registered := e.registry.Definition(action.Type); registered {
		result = e.registry.Execute(ctx, action, snapshot)
	} else {
		result = e.executeViaProviders(ctx, action, snapshot, providers)
	}

	e.rollback.UpdateSnapshot(action.ID, result.Changes)
	e.appendHistory(HistoryEntry{
		Action:    action,
		Result:    result,
		Context:   snapshot,
		Timestamp: time.Now().UTC(),
	})
	e.bus.Publish(events.Event{Type: events.ActionExecuted, ActionID: action.ID, Data: map[string]any{
		"type":    string(action.Type),
		"success": result.Success,
	}})
	return result
}

func (e *Executor) executeViaProviders(ctx context.Context, action model.Action, snapshot model.ContextSnapshot, providers map[string]ActionProvider) model.ActionResult {
	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var failures []string
	for _, id := range ids {
		result, err := providers[id].ExecuteAction(ctx, action, snapshot)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		if !result.Success {
			failures = append(failures, fmt.Sprintf("%s: %s", id, result.Error))
			continue
		}
		return result
	}

	msg := fmt.Sprintf("Unsupported action type: %s", action.Type)
	if len(failures) > 0 {
		msg = fmt.Sprintf("%s (provider attempts: %s)", msg, strings.Join(failures, "; "))
	}
	return model.ActionResult{Success: false, Error: msg}
}

// RollbackAction undoes one executed action and removes it from
// history on success.
func (e *Executor) RollbackAction(actionID string) rollback.Result {
	res := e.rollback.Rollback(actionID)
	if res.Success {
		e.removeHistory(actionID)
		e.bus.Publish(events.Event{Type: events.ActionRolledBack, ActionID: actionID})
	}
	return res
}

// RollbackLastAction undoes the most recently executed action still in
// history.
func (e *Executor) RollbackLastAction() rollback.Result {
	e.mu.Lock()
	var last string
	if len(e.history) > 0 {
		last = e.history[len(e.history)-1].Action.ID
	}
	e.mu.Unlock()
	if last == "" {
		return rollback.Result{Success: false, Error: "no actions to roll back"}
	}
	return e.RollbackAction(last)
}

// RollbackMultipleActions undoes the last n history entries,
// most-recent-first, stopping at the first failure.
func (e *Executor) RollbackMultipleActions(n int) []rollback.Result {
	e.mu.Lock()
	ids := make([]string, 0, n)
	for i := len(e.history) - 1; i >= 0 && len(ids) < n; i-- {
		ids = append(ids, e.history[i].Action.ID)
	}
	e.mu.Unlock()

	results := make([]rollback.Result, 0, len(ids))
	for _, id := range ids {
		res := e.RollbackAction(id)
		results = append(results, res)
		if !res.Success {
			break
		}
	}
	return results
}

// RegisterCustomAction registers a caller-supplied definition.
func (e *Executor) RegisterCustomAction(def registry.Definition) error {
	return e.registry.Register(def)
}

// AvailableActions lists every registered definition.
func (e *Executor) AvailableActions() []registry.Definition {
	return e.registry.Definitions()
}

// History returns a copy of the action history, oldest first.
func (e *Executor) History() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]HistoryEntry, len(e.history))
	copy(out, e.history)
	return out
}

// ClearHistory discards the history and every snapshot.
func (e *Executor) ClearHistory() {
	e.mu.Lock()
	e.history = nil
	e.mu.Unlock()
	e.rollback.Clear()
	e.bus.Publish(events.Event{Type: events.ActionHistoryCleared})
}

func (e *Executor) appendHistory(entry HistoryEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, entry)
	if len(e.history) > e.maxHistorySize {
		dropped := len(e.history) - e.maxHistorySize
		e.history = append([]HistoryEntry(nil), e.history[dropped:]...)
	}
}

func (e *Executor) removeHistory(actionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, entry := range e.history {
		if entry.Action.ID == actionID {
			e.history = append(e.history[:i], e.history[i+1:]...)
			return
		}
	}
}

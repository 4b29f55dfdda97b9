// Package workflow composes single-action execution into batches,
// transactions, retries and parallel runs.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PixelDroid19/orbis-core/internal/executor"
	"github.com/PixelDroid19/orbis-core/internal/logging"
	"github.com/PixelDroid19/orbis-core/internal/model"
)

// Batch is an ordered group of actions with a shared failure policy.
type Batch struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Actions           []model.Action `json:"actions"`
	RollbackOnFailure bool           `json:"rollback_on_failure"`
	ContinueOnError   bool           `json:"continue_on_error"`
}

// BatchResult is the outcome of one batch run.
type BatchResult struct {
	BatchID           string               `json:"batch_id"`
	Success           bool                 `json:"success"`
	Results           []model.ActionResult `json:"results"`
	FailedActions     []string             `json:"failed_actions,omitempty"`
	RolledBackActions []string             `json:"rolled_back_actions,omitempty"`
}

// Transaction groups actions that must all succeed to commit.
type Transaction struct {
	ID         string               `json:"id"`
	Actions    []model.Action       `json:"actions"`
	Results    []model.ActionResult `json:"results"`
	Committed  bool                 `json:"committed"`
	RolledBack bool                 `json:"rolled_back"`
}

// Workflow owns transaction bookkeeping for its lifetime and drives
// the executor.
type Workflow struct {
	executor *executor.Executor

	mu           sync.Mutex
	transactions map[string]*Transaction

	log zerolog.Logger
}

// New creates a workflow over the given executor.
func New(exec *executor.Executor) *Workflow {
	return &Workflow{
		executor:     exec,
		transactions: make(map[string]*Transaction),
		log:          logging.Component("workflow"),
	}
}

// ExecuteBatch runs batch actions sequentially. Without
// ContinueOnError the run stops at the first failure; with it every
// action runs and failures are collected. With RollbackOnFailure any
// succeeded action is rolled back once a failure occurred.
func (w *Workflow) ExecuteBatch(ctx context.Context, batch Batch, snapshot model.ContextSnapshot, providers map[string]executor.ActionProvider) BatchResult {
	out := BatchResult{BatchID: batch.ID}
	var succeeded []string

	for _, action := range batch.Actions {
		result := w.executor.ExecuteAction(ctx, action, snapshot, providers)
		out.Results = append(out.Results, result)
		if result.Success {
			succeeded = append(succeeded, action.ID)
			continue
		}
		out.FailedActions = append(out.FailedActions, action.ID)
		if !batch.ContinueOnError {
			break
		}
	}

	if len(out.FailedActions) > 0 && batch.RollbackOnFailure {
		for i := len(succeeded) - 1; i >= 0; i-- {
			id := succeeded[i]
			if res := w.executor.RollbackAction(id); res.Success {
				out.RolledBackActions = append(out.RolledBackActions, id)
			} else {
				w.log.Warn().Str("action", id).Str("error", res.Error).Msg("batch rollback failed")
			}
		}
	}

	out.Success = len(out.FailedActions) == 0
	return out
}

// StartTransaction creates transaction bookkeeping for the actions.
func (w *Workflow) StartTransaction(id string, actions []model.Action) (*Transaction, error) {
	if id == "" {
		id = uuid.NewString()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.transactions[id]; exists {
		return nil, fmt.Errorf("transaction %s already exists", id)
	}
	tx := &Transaction{ID: id, Actions: actions}
	w.transactions[id] = tx
	return tx, nil
}

// ExecuteInTransaction runs every transaction action and stores the
// results.
func (w *Workflow) ExecuteInTransaction(ctx context.Context, id string, snapshot model.ContextSnapshot, providers map[string]executor.ActionProvider) ([]model.ActionResult, error) {
	w.mu.Lock()
	tx, ok := w.transactions[id]
	if !ok {
		w.mu.Unlock()
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	if tx.Committed || tx.RolledBack {
		w.mu.Unlock()
		return nil, fmt.Errorf("transaction %s is already finished", id)
	}
	actions := make([]model.Action, len(tx.Actions))
	copy(actions, tx.Actions)
	w.mu.Unlock()

	results := make([]model.ActionResult, 0, len(actions))
	for _, action := range actions {
		results = append(results, w.executor.ExecuteAction(ctx, action, snapshot, providers))
	}

	w.mu.Lock()
	tx.Results = results
	w.mu.Unlock()
	return results, nil
}

// CommitTransaction marks the transaction committed; it refuses when
// any stored result failed.
func (w *Workflow) CommitTransaction(id string) error {
	tx, err := w.transaction(id)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if tx.RolledBack {
		return fmt.Errorf("transaction %s is already rolled back", id)
	}
	for _, result := range tx.Results {
		if !result.Success {
			return fmt.Errorf("cannot commit transaction %s: contains failed actions", id)
		}
	}
	tx.Committed = true
	return nil
}

// RollbackTransaction rolls back every executed action in reverse
// order regardless of each action's individual outcome.
func (w *Workflow) RollbackTransaction(id string) error {
	tx, err := w.transaction(id)
	if err != nil {
		return err
	}
	w.mu.Lock()
	if tx.RolledBack {
		w.mu.Unlock()
		return nil
	}
	executed := len(tx.Results)
	actions := tx.Actions
	w.mu.Unlock()

	for i := executed - 1; i >= 0; i-- {
		if res := w.executor.RollbackAction(actions[i].ID); !res.Success {
			w.log.Warn().Str("action", actions[i].ID).Str("error", res.Error).Msg("transaction rollback failed")
		}
	}

	w.mu.Lock()
	tx.RolledBack = true
	w.mu.Unlock()
	return nil
}

// CleanupTransaction discards bookkeeping for a finished transaction.
func (w *Workflow) CleanupTransaction(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	tx, ok := w.transactions[id]
	if !ok {
		return fmt.Errorf("transaction %s not found", id)
	}
	if !tx.Committed && !tx.RolledBack {
		return fmt.Errorf("transaction %s is still open", id)
	}
	delete(w.transactions, id)
	return nil
}

// Transaction returns a copy of the transaction bookkeeping.
func (w *Workflow) Transaction(id string) (Transaction, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tx, ok := w.transactions[id]
	if !ok {
		return Transaction{}, false
	}
	return *tx, true
}

func (w *Workflow) transaction(id string) (*Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tx, ok := w.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	return tx, nil
}

// ExecuteWithRetry retries an action on non-validation failures with a
// fixed delay between attempts. Validation failures are terminal after
// the first attempt.
func (w *Workflow) ExecuteWithRetry(ctx context.Context, action model.Action, snapshot model.ContextSnapshot, providers map[string]executor.ActionProvider, maxRetries int, delay time.Duration) model.ActionResult {
	attempts := maxRetries + 1
	var last model.ActionResult
	for attempt := 1; attempt <= attempts; attempt++ {
		last = w.executor.ExecuteAction(ctx, action, snapshot, providers)
		if last.Success {
			return last
		}
		if strings.Contains(strings.ToLower(last.Error), "validation failed") {
			return last
		}
		if attempt < attempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				last.Error = fmt.Sprintf("%s (cancelled)", last.Error)
				return last
			}
		}
	}
	last.Error = fmt.Sprintf("Action %s failed after %d attempts: %s", action.ID, attempts, last.Error)
	return last
}

// ExecuteParallel runs all actions independently. A failure or panic
// in one action is isolated into that action's own result; result
// order matches input order.
func (w *Workflow) ExecuteParallel(ctx context.Context, actions []model.Action, snapshot model.ContextSnapshot, providers map[string]executor.ActionProvider) []model.ActionResult {
	results := make([]model.ActionResult, len(actions))
	var wg sync.WaitGroup
	for i, action := range actions {
		wg.Add(1)
		go func(i int, action model.Action) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					results[i] = model.ActionResult{
						Success: false,
						Error:   fmt.Sprintf("Action execution failed: %v", rec),
					}
				}
			}()
			results[i] = w.executor.ExecuteAction(ctx, action, snapshot, providers)
		}(i, action)
	}
	wg.Wait()
	return results
}

// conflictingTypes lists action types that must not run against the
// same target in one workflow.
var conflictingTypes = map[model.ActionType][]model.ActionType{
	model.ActionRename:   {model.ActionRefactor, model.ActionOptimize},
	model.ActionRefactor: {model.ActionRename, model.ActionFormat},
	model.ActionFormat:   {model.ActionRefactor},
	model.ActionOptimize: {model.ActionRename},
}

// ValidateActionDependencies flags pairs of actions that target the
// same location with semantically incompatible types.
func ValidateActionDependencies(actions []model.Action) []string {
	var conflicts []string
	for i := 0; i < len(actions); i++ {
		for j := i + 1; j < len(actions); j++ {
			left, right := actions[i], actions[j]
			if targetKey(left.Target) != targetKey(right.Target) {
				continue
			}
			if typesConflict(left.Type, right.Type) {
				conflicts = append(conflicts, fmt.Sprintf(
					"Actions %s (%s) and %s (%s) conflict on target %s",
					left.ID, left.Type, right.ID, right.Type, targetKey(left.Target)))
			}
		}
	}
	return conflicts
}

func typesConflict(a, b model.ActionType) bool {
	for _, other := range conflictingTypes[a] {
		if other == b {
			return true
		}
	}
	return false
}

func targetKey(target model.Target) string {
	identifier := target.Identifier
	if identifier == "" {
		identifier = target.Path
	}
	return fmt.Sprintf("%s:%s", target.Type, identifier)
}

// CreateCompositeAction packages actions into a batch that rolls back
// as a unit on failure.
func CreateCompositeAction(name string, actions []model.Action) Batch {
	return Batch{
		ID:                uuid.NewString(),
		Name:              name,
		Actions:           actions,
		RollbackOnFailure: true,
	}
}

// Close rolls back every transaction not yet committed or rolled back.
func (w *Workflow) Close() {
	w.mu.Lock()
	open := make([]string, 0, len(w.transactions))
	for id, tx := range w.transactions {
		if !tx.Committed && !tx.RolledBack {
			open = append(open, id)
		}
	}
	w.mu.Unlock()

	for _, id := range open {
		if err := w.RollbackTransaction(id); err != nil {
			w.log.Warn().Err(err).Str("transaction", id).Msg("shutdown rollback failed")
		}
	}
}

package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PixelDroid19/orbis-core/internal/events"
	"github.com/PixelDroid19/orbis-core/internal/executor"
	"github.com/PixelDroid19/orbis-core/internal/model"
	"github.com/PixelDroid19/orbis-core/internal/registry"
	"github.com/PixelDroid19/orbis-core/internal/rollback"
)

// harness wires a workflow over a real executor with two scripted
// action types: "succeed" and "fail".
type harness struct {
	workflow *Workflow
	executor *executor.Executor
	rollback *rollback.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := registry.New()
	rb := rollback.NewManager(0)
	exec := executor.New(reg, rb, events.NewBus(), 0)

	require.NoError(t, reg.Register(registry.Definition{
		Type:             "succeed",
		Name:             "Succeed",
		SupportedTargets: []model.TargetType{model.TargetProject},
		Handler: func(context.Context, model.Action, model.ContextSnapshot) model.ActionResult {
			return model.ActionResult{Success: true, Changes: []model.CodeChange{{Type: model.ChangeReplace, Path: "x"}}}
		},
	}))
	require.NoError(t, reg.Register(registry.Definition{
		Type:             "fail",
		Name:             "Fail",
		SupportedTargets: []model.TargetType{model.TargetProject},
		Handler: func(context.Context, model.Action, model.ContextSnapshot) model.ActionResult {
			return model.ActionResult{Success: false, Error: "handler failure"}
		},
	}))

	return &harness{workflow: New(exec), executor: exec, rollback: rb}
}

func (h *harness) registerCounting(t *testing.T, actionType model.ActionType, failures int) *int {
	t.Helper()
	calls := new(int)
	var mu sync.Mutex
	require.NoError(t, h.executor.RegisterCustomAction(registry.Definition{
		Type:             actionType,
		Name:             string(actionType),
		SupportedTargets: []model.TargetType{model.TargetProject},
		Handler: func(context.Context, model.Action, model.ContextSnapshot) model.ActionResult {
			mu.Lock()
			defer mu.Unlock()
			*calls++
			if *calls <= failures {
				return model.ActionResult{Success: false, Error: "transient handler failure"}
			}
			return model.ActionResult{Success: true}
		},
	}))
	return calls
}

func projectAction(id string, actionType model.ActionType) model.Action {
	return model.Action{ID: id, Type: actionType, Target: model.Target{Type: model.TargetProject}}
}

func TestExecuteBatch_RollbackOnFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	batch := Batch{
		ID: "b1",
		Actions: []model.Action{
			projectAction("action-1", "succeed"),
			projectAction("action-2", "fail"),
			projectAction("action-3", "succeed"),
		},
		RollbackOnFailure: true,
	}

	result := h.workflow.ExecuteBatch(context.Background(), batch, model.ContextSnapshot{}, nil)
	assert.False(t, result.Success)
	assert.Len(t, result.Results, 2, "run must stop at the first failure")
	assert.Equal(t, []string{"action-2"}, result.FailedActions)
	assert.Equal(t, []string{"action-1"}, result.RolledBackActions)
	assert.Len(t, h.executor.History(), 1, "only the failed action remains in history")
}

func TestExecuteBatch_ContinueOnError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	batch := Batch{
		ID: "b1",
		Actions: []model.Action{
			projectAction("action-1", "succeed"),
			projectAction("action-2", "fail"),
			projectAction("action-3", "succeed"),
		},
		ContinueOnError: true,
	}

	result := h.workflow.ExecuteBatch(context.Background(), batch, model.ContextSnapshot{}, nil)
	assert.False(t, result.Success)
	assert.Len(t, result.Results, 3)
	assert.Equal(t, []string{"action-2"}, result.FailedActions)
	assert.Empty(t, result.RolledBackActions)
}

func TestExecuteBatch_AllSucceed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	batch := Batch{
		ID:                "b1",
		Actions:           []model.Action{projectAction("a1", "succeed"), projectAction("a2", "succeed")},
		RollbackOnFailure: true,
	}
	result := h.workflow.ExecuteBatch(context.Background(), batch, model.ContextSnapshot{}, nil)
	assert.True(t, result.Success)
	assert.Empty(t, result.FailedActions)
	assert.Empty(t, result.RolledBackActions)
}

func TestTransaction_CommitRejectsFailedActions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.workflow.StartTransaction("tx1", []model.Action{
		projectAction("a1", "succeed"),
		projectAction("a2", "fail"),
	})
	require.NoError(t, err)

	results, err := h.workflow.ExecuteInTransaction(context.Background(), "tx1", model.ContextSnapshot{}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	err = h.workflow.CommitTransaction("tx1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contains failed actions")

	require.NoError(t, h.workflow.RollbackTransaction("tx1"))
	tx, ok := h.workflow.Transaction("tx1")
	require.True(t, ok)
	assert.True(t, tx.RolledBack)
	assert.False(t, tx.Committed)
}

func TestTransaction_CommitAndCleanup(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tx, err := h.workflow.StartTransaction("", []model.Action{projectAction("a1", "succeed")})
	require.NoError(t, err)
	require.NotEmpty(t, tx.ID)

	assert.Error(t, h.workflow.CleanupTransaction(tx.ID), "cleanup must reject an open transaction")

	_, err = h.workflow.ExecuteInTransaction(context.Background(), tx.ID, model.ContextSnapshot{}, nil)
	require.NoError(t, err)
	require.NoError(t, h.workflow.CommitTransaction(tx.ID))
	require.NoError(t, h.workflow.CleanupTransaction(tx.ID))

	_, ok := h.workflow.Transaction(tx.ID)
	assert.False(t, ok)
}

func TestExecuteInTransaction_ConcurrentWithCommit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.workflow.StartTransaction("tx1", []model.Action{projectAction("a1", "succeed")})
	require.NoError(t, err)

	// Execution races against commit/rollback/lookup; either side may
	// win but transaction state must stay consistent throughout.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.workflow.ExecuteInTransaction(context.Background(), "tx1", model.ContextSnapshot{}, nil)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.workflow.CommitTransaction("tx1")
			_, _ = h.workflow.Transaction("tx1")
		}()
	}
	wg.Wait()

	tx, ok := h.workflow.Transaction("tx1")
	require.True(t, ok)
	assert.False(t, tx.RolledBack)
	if tx.Committed {
		for _, result := range tx.Results {
			assert.True(t, result.Success)
		}
	}
}

func TestStartTransaction_DuplicateID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.workflow.StartTransaction("tx1", nil)
	require.NoError(t, err)
	_, err = h.workflow.StartTransaction("tx1", nil)
	assert.ErrorContains(t, err, "already exists")
}

func TestExecuteInTransaction_FinishedTransaction(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.workflow.StartTransaction("tx1", []model.Action{projectAction("a1", "succeed")})
	require.NoError(t, err)
	_, err = h.workflow.ExecuteInTransaction(context.Background(), "tx1", model.ContextSnapshot{}, nil)
	require.NoError(t, err)
	require.NoError(t, h.workflow.CommitTransaction("tx1"))

	_, err = h.workflow.ExecuteInTransaction(context.Background(), "tx1", model.ContextSnapshot{}, nil)
	assert.ErrorContains(t, err, "already finished")
}

func TestExecuteWithRetry_SucceedsAfterTransientFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	calls := h.registerCounting(t, "flaky", 1)

	result := h.workflow.ExecuteWithRetry(context.Background(), projectAction("a1", "flaky"), model.ContextSnapshot{}, nil, 2, time.Millisecond)
	assert.True(t, result.Success)
	assert.Equal(t, 2, *calls, "one failure plus one success, no extra attempts")
}

func TestExecuteWithRetry_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	calls := h.registerCounting(t, "hopeless", 100)

	result := h.workflow.ExecuteWithRetry(context.Background(), projectAction("a1", "hopeless"), model.ContextSnapshot{}, nil, 2, time.Millisecond)
	assert.False(t, result.Success)
	assert.Equal(t, 3, *calls)
	assert.Contains(t, result.Error, "Action a1 failed after 3 attempts")
}

func TestExecuteWithRetry_ValidationFailureIsTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	// Missing required newName parameter fails validation inside the
	// registry before any handler runs.
	action := model.Action{
		ID:     "a1",
		Type:   model.ActionRename,
		Target: model.Target{Type: model.TargetFunction, Identifier: "add"},
	}

	start := time.Now()
	result := h.workflow.ExecuteWithRetry(context.Background(), action, model.ContextSnapshot{}, nil, 5, 100*time.Millisecond)
	assert.False(t, result.Success)
	assert.Contains(t, strings.ToLower(result.Error), "validation failed")
	assert.Less(t, time.Since(start), 100*time.Millisecond, "validation failures must not wait out retries")
}

func TestExecuteParallel_OrderAndIsolation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.executor.RegisterCustomAction(registry.Definition{
		Type:             "explode",
		Name:             "Explode",
		SupportedTargets: []model.TargetType{model.TargetProject},
		Handler: func(context.Context, model.Action, model.ContextSnapshot) model.ActionResult {
			panic("boom")
		},
	}))

	actions := []model.Action{
		projectAction("a1", "succeed"),
		projectAction("a2", "explode"),
		projectAction("a3", "succeed"),
	}
	results := h.workflow.ExecuteParallel(context.Background(), actions, model.ContextSnapshot{}, nil)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "Action execution failed")
	assert.True(t, results[2].Success)
}

func TestValidateActionDependencies(t *testing.T) {
	t.Parallel()

	sameTarget := model.Target{Type: model.TargetFunction, Identifier: "add"}
	conflicts := ValidateActionDependencies([]model.Action{
		{ID: "a1", Type: model.ActionRename, Target: sameTarget},
		{ID: "a2", Type: model.ActionRefactor, Target: sameTarget},
	})
	require.Len(t, conflicts, 1)
	assert.Contains(t, conflicts[0], "a1 (rename) and a2 (refactor)")
	assert.Contains(t, conflicts[0], "function:add")

	// Compatible types on the same target are fine.
	conflicts = ValidateActionDependencies([]model.Action{
		{ID: "a1", Type: model.ActionRename, Target: sameTarget},
		{ID: "a2", Type: model.ActionDocument, Target: sameTarget},
	})
	assert.Empty(t, conflicts)

	// Conflicting types on different targets are fine.
	conflicts = ValidateActionDependencies([]model.Action{
		{ID: "a1", Type: model.ActionRename, Target: model.Target{Type: model.TargetFunction, Identifier: "add"}},
		{ID: "a2", Type: model.ActionRefactor, Target: model.Target{Type: model.TargetFunction, Identifier: "sub"}},
	})
	assert.Empty(t, conflicts)
}

func TestCreateCompositeAction(t *testing.T) {
	t.Parallel()

	actions := []model.Action{projectAction("a1", "succeed")}
	batch := CreateCompositeAction("refactor suite", actions)
	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, "refactor suite", batch.Name)
	assert.True(t, batch.RollbackOnFailure)
	assert.Len(t, batch.Actions, 1)
}

func TestClose_RollsBackOpenTransactions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.workflow.StartTransaction("tx1", []model.Action{projectAction("a1", "succeed")})
	require.NoError(t, err)
	_, err = h.workflow.ExecuteInTransaction(context.Background(), "tx1", model.ContextSnapshot{}, nil)
	require.NoError(t, err)

	h.workflow.Close()
	tx, ok := h.workflow.Transaction("tx1")
	require.True(t, ok)
	assert.True(t, tx.RolledBack)
	assert.Len(t, h.executor.History(), 0, "rolled-back action must leave history")
}

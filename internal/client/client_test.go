package client

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PixelDroid19/orbis-core/internal/config"
	"github.com/PixelDroid19/orbis-core/internal/db"
	"github.com/PixelDroid19/orbis-core/internal/journal"
	"github.com/PixelDroid19/orbis-core/internal/model"
	"github.com/PixelDroid19/orbis-core/internal/provider"
)

type stubCollector struct {
	mu       sync.Mutex
	snapshot model.ContextSnapshot
	err      error
}

func (s *stubCollector) Collect(_ context.Context) (model.ContextSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.err
}

func (s *stubCollector) set(snapshot model.ContextSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
}

type stubProvider struct {
	id   string
	fail bool
}

func (p *stubProvider) ID() string   { return p.id }
func (p *stubProvider) Name() string { return p.id }

func (p *stubProvider) Capabilities() []provider.Capability {
	return []provider.Capability{provider.CapActionExecution, provider.CapContextProcessing}
}

func (p *stubProvider) ProcessContext(_ context.Context, _ model.ContextSnapshot) (model.ProcessedContext, error) {
	return model.ProcessedContext{Summary: "ok"}, nil
}

func (p *stubProvider) ExecuteAction(_ context.Context, _ model.Action, _ model.ContextSnapshot) (model.ActionResult, error) {
	if p.fail {
		return model.ActionResult{Success: false, Error: "provider declined"}, nil
	}
	return model.ActionResult{
		Success: true,
		Changes: []model.CodeChange{{Type: model.ChangeReplace, Path: "src/app.js", Content: "done"}},
	}, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Client.EnableRealTimeUpdates = false
	cfg.Client.ContextUpdateInterval = 10
	return cfg
}

func testCollector() *stubCollector {
	return &stubCollector{snapshot: model.ContextSnapshot{
		Buffer: model.BufferContext{Content: "const x = 1;\n", Language: "javascript", Path: "src/app.js"},
	}}
}

func TestJournal_ExposesConfiguredStore(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), testCollector(), nil)
	assert.Nil(t, c.Journal())

	conn, err := db.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer conn.Close()
	store := journal.NewStore(conn)

	c = New(testConfig(), testCollector(), store)
	assert.Same(t, store, c.Journal())
}

func TestExecuteAction_PrefersProvider(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), testCollector(), nil)
	require.NoError(t, c.RegisterProvider(context.Background(), &stubProvider{id: "p1"}))

	result, err := c.ExecuteAction(context.Background(), model.Action{
		Type:   model.ActionFormat,
		Target: model.Target{Type: model.TargetFile, Path: "src/app.js"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "p1", result.Metadata["providerId"])
}

func TestExecuteAction_FallsBackToBuiltins(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), testCollector(), nil)

	result, err := c.ExecuteAction(context.Background(), model.Action{
		Type:       model.ActionRename,
		Target:     model.Target{Type: model.TargetFunction, Identifier: "x"},
		Parameters: map[string]any{"newName": "y"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	// The built-in handler served it, so no provider id is attached.
	assert.NotContains(t, result.Metadata, "providerId")
	assert.Len(t, c.Executor().History(), 1)
}

func TestExecuteAction_AssignsIDAndTimestamp(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), testCollector(), nil)
	_, err := c.ExecuteAction(context.Background(), model.Action{
		Type:   model.ActionFormat,
		Target: model.Target{Type: model.TargetFile, Path: "src/app.js"},
	})
	require.NoError(t, err)

	history := c.Executor().History()
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].Action.ID)
	assert.False(t, history[0].Action.Timestamp.IsZero())
}

func TestCurrentContext_CollectorFailure(t *testing.T) {
	t.Parallel()

	collector := testCollector()
	collector.err = fmt.Errorf("editor unavailable")
	c := New(testConfig(), collector, nil)

	_, err := c.CurrentContext(context.Background())
	require.Error(t, err)
	var engineErr *model.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, model.ErrContextCollection, engineErr.Code)
	assert.True(t, engineErr.Retryable)
}

func TestRollbackAction_ErrorTaxonomy(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), testCollector(), nil)

	_, err := c.RollbackAction(context.Background(), "missing")
	require.Error(t, err)
	var engineErr *model.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, model.ErrRollback, engineErr.Code)
	assert.False(t, engineErr.Retryable, "rollback failures are never retryable")
}

func TestRollbackLast_UndoesExecution(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), testCollector(), nil)
	_, err := c.ExecuteAction(context.Background(), model.Action{
		Type:   model.ActionFormat,
		Target: model.Target{Type: model.TargetFile, Path: "src/app.js"},
	})
	require.NoError(t, err)

	res, err := c.RollbackLast(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.RestoredState)
	assert.Equal(t, "const x = 1;\n", res.RestoredState.Content)
	assert.Empty(t, c.Executor().History())
}

func TestDryRunAndValidate(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), testCollector(), nil)

	result, err := c.DryRun(context.Background(), model.Action{Type: model.ActionRename})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Metadata["dryRun"])

	result, err = c.ValidateAction(context.Background(), model.Action{
		Type:   model.ActionFormat,
		Target: model.Target{Type: model.TargetFile},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Validation failed")
}

func TestContextPolling_NotifiesOnChange(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Client.EnableRealTimeUpdates = true
	collector := testCollector()
	c := New(cfg, collector, nil)

	changes := make(chan ContextDiff, 4)
	c.OnContextChange(func(_ model.ContextSnapshot, diff ContextDiff) {
		changes <- diff
	})

	c.Initialize(context.Background())
	defer c.Shutdown(context.Background())

	// Let the first poll establish a baseline, then mutate the buffer.
	time.Sleep(30 * time.Millisecond)
	collector.set(model.ContextSnapshot{
		Buffer: model.BufferContext{Content: "const x = 2;\n", Language: "javascript", Path: "src/app.js"},
	})

	select {
	case diff := <-changes:
		assert.True(t, diff.Buffer)
		assert.False(t, diff.Project)
	case <-time.After(2 * time.Second):
		t.Fatal("no context change notification")
	}
}

func TestShutdown_UnregistersProviders(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), testCollector(), nil)
	require.NoError(t, c.RegisterProvider(context.Background(), &stubProvider{id: "p1"}))
	c.Initialize(context.Background())
	c.Shutdown(context.Background())
	assert.Empty(t, c.Providers().Providers())
}

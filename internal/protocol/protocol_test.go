package protocol

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PixelDroid19/orbis-core/internal/model"
)

type scriptedProvider struct {
	mu        sync.Mutex
	id        string
	failures  int // fail this many calls before succeeding
	calls     int
	blockCtx  bool          // block until the call context is done
	sleep     time.Duration // sleep without watching the context
	processed model.ProcessedContext
}

func (s *scriptedProvider) ID() string { return s.id }

func (s *scriptedProvider) ProcessContext(ctx context.Context, _ model.ContextSnapshot) (model.ProcessedContext, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	block := s.blockCtx
	nap := s.sleep
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return model.ProcessedContext{}, ctx.Err()
	}
	if nap > 0 {
		time.Sleep(nap)
	}
	if fail {
		return model.ProcessedContext{}, fmt.Errorf("transient backend error")
	}
	return s.processed, nil
}

func (s *scriptedProvider) ExecuteAction(ctx context.Context, _ model.Action, _ model.ContextSnapshot) (model.ActionResult, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	block := s.blockCtx
	nap := s.sleep
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return model.ActionResult{}, ctx.Err()
	}
	if nap > 0 {
		time.Sleep(nap)
	}
	if fail {
		return model.ActionResult{}, fmt.Errorf("transient backend error")
	}
	return model.ActionResult{Success: true}, nil
}

func (s *scriptedProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastConfig() Config {
	return Config{
		Timeout:       200 * time.Millisecond,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}
}

func TestRequestContextProcessing_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	p := New(fastConfig())
	prov := &scriptedProvider{id: "p1", failures: 2, processed: model.ProcessedContext{Summary: "ok"}}

	processed, err := p.RequestContextProcessing(context.Background(), prov, model.ContextSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, "ok", processed.Summary)
	assert.Equal(t, 3, prov.callCount())
}

func TestRequestContextProcessing_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	p := New(fastConfig())
	prov := &scriptedProvider{id: "p1", failures: 10}

	_, err := p.RequestContextProcessing(context.Background(), prov, model.ContextSnapshot{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed after 3 attempts")
	assert.ErrorContains(t, err, "transient backend error")
	assert.Equal(t, 3, prov.callCount())
}

func TestRequestActionExecution_TimeoutIsTerminal(t *testing.T) {
	t.Parallel()

	p := New(Config{Timeout: 50 * time.Millisecond, RetryAttempts: 3, RetryDelay: time.Millisecond})
	prov := &scriptedProvider{id: "p1", blockCtx: true}

	_, err := p.RequestActionExecution(context.Background(), prov, model.Action{ID: "a1"}, model.ContextSnapshot{}, ExecutionOptions{})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, prov.callCount(), "timeouts must not be retried")
	assert.Equal(t, 0, p.InFlight())
}

func TestRequestActionExecution_DeadlineHoldsForStuckProvider(t *testing.T) {
	t.Parallel()

	p := New(Config{Timeout: 50 * time.Millisecond, RetryAttempts: 3, RetryDelay: time.Millisecond})
	prov := &scriptedProvider{id: "p1", sleep: 2 * time.Second}

	start := time.Now()
	_, err := p.RequestActionExecution(context.Background(), prov, model.Action{ID: "a1"}, model.ContextSnapshot{}, ExecutionOptions{})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, time.Second, "a provider that ignores its context must not hold the caller past the deadline")
	assert.Equal(t, 0, p.InFlight())
}

func TestCancelAllRequests(t *testing.T) {
	t.Parallel()

	p := New(Config{Timeout: 5 * time.Second, RetryAttempts: 3, RetryDelay: time.Millisecond})
	prov := &scriptedProvider{id: "p1", blockCtx: true}

	errCh := make(chan error, 1)
	go func() {
		_, err := p.RequestActionExecution(context.Background(), prov, model.Action{ID: "a1"}, model.ContextSnapshot{}, ExecutionOptions{})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return p.InFlight() == 1 }, time.Second, 5*time.Millisecond)
	p.CancelAllRequests()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request never returned")
	}
	assert.Equal(t, 0, p.InFlight())
}

func TestRequestActionExecution_ValidateOnly(t *testing.T) {
	t.Parallel()

	p := New(fastConfig())
	prov := &scriptedProvider{id: "p1"}

	result, err := p.RequestActionExecution(context.Background(), prov, model.Action{
		ID:     "a1",
		Type:   model.ActionFormat,
		Target: model.Target{Type: model.TargetFile, Path: "src/app.js"},
	}, model.ContextSnapshot{}, ExecutionOptions{ValidateOnly: true})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Metadata["validateOnly"])
	assert.Equal(t, 0, prov.callCount(), "validate-only must not reach the provider")

	result, err = p.RequestActionExecution(context.Background(), prov, model.Action{
		ID:     "a2",
		Type:   model.ActionFormat,
		Target: model.Target{Type: model.TargetFile},
	}, model.ContextSnapshot{}, ExecutionOptions{ValidateOnly: true})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Validation failed")
}

func TestRequestActionExecution_DryRun(t *testing.T) {
	t.Parallel()

	p := New(fastConfig())
	prov := &scriptedProvider{id: "p1"}

	result, err := p.RequestActionExecution(context.Background(), prov, model.Action{
		ID:   "a1",
		Type: model.ActionRename,
	}, model.ContextSnapshot{}, ExecutionOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Metadata["dryRun"])
	assert.Equal(t, 5, result.Metadata["estimatedChanges"])
	assert.Empty(t, result.Changes)
	assert.Equal(t, 0, prov.callCount(), "dry run must not reach the provider")
}

func TestPing(t *testing.T) {
	t.Parallel()

	p := New(fastConfig())
	assert.True(t, p.Ping(context.Background(), &scriptedProvider{id: "p1"}))
	assert.False(t, p.Ping(context.Background(), &scriptedProvider{id: "p2", failures: 1}))
}

func TestNew_AppliesDefaults(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	assert.Equal(t, Version, p.cfg.Version)
	assert.Equal(t, 30*time.Second, p.cfg.Timeout)
	assert.Equal(t, 3, p.cfg.RetryAttempts)
	assert.Equal(t, time.Second, p.cfg.RetryDelay)
}

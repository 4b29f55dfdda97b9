// Package client is the engine façade: it composes the registry,
// rollback, provider, protocol and workflow layers, polls for context
// changes and converts internal failures into the stable error
// taxonomy.
package client

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PixelDroid19/orbis-core/internal/config"
	"github.com/PixelDroid19/orbis-core/internal/events"
	"github.com/PixelDroid19/orbis-core/internal/executor"
	"github.com/PixelDroid19/orbis-core/internal/journal"
	"github.com/PixelDroid19/orbis-core/internal/logging"
	"github.com/PixelDroid19/orbis-core/internal/model"
	"github.com/PixelDroid19/orbis-core/internal/protocol"
	"github.com/PixelDroid19/orbis-core/internal/provider"
	"github.com/PixelDroid19/orbis-core/internal/registry"
	"github.com/PixelDroid19/orbis-core/internal/rollback"
	"github.com/PixelDroid19/orbis-core/internal/workflow"
)

// ContextCollector builds context snapshots. The engine never reads
// buffers or files itself; the editor collaborator implements this.
type ContextCollector interface {
	Collect(ctx context.Context) (model.ContextSnapshot, error)
}

// ContextDiff marks which snapshot sections changed between polls.
type ContextDiff struct {
	Buffer    bool `json:"buffer"`
	Project   bool `json:"project"`
	Execution bool `json:"execution"`
	User      bool `json:"user"`
}

// ChangeCallback receives the new snapshot and its section diff.
type ChangeCallback func(snapshot model.ContextSnapshot, diff ContextDiff)

// Client composes the engine. Construct one per consumer and pass it
// through call sites; there is no process-wide default instance.
type Client struct {
	cfg config.Config

	collector ContextCollector
	bus       *events.Bus
	registry  *registry.Registry
	rollback  *rollback.Manager
	executor  *executor.Executor
	providers *provider.Manager
	protocol  *protocol.Protocol
	workflow  *workflow.Workflow
	journal   *journal.Store

	mu          sync.Mutex
	lastContext *model.ContextSnapshot
	callbacks   []ChangeCallback
	stop        chan struct{}
	done        chan struct{}
	polling     bool

	log zerolog.Logger
}

// New builds a client from config. journalStore may be nil to disable
// the persistent audit log.
func New(cfg config.Config, collector ContextCollector, journalStore *journal.Store) *Client {
	bus := events.NewBus()
	reg := registry.New()
	rb := rollback.NewManager(rollback.DefaultMaxSnapshots)
	exec := executor.New(reg, rb, bus, cfg.Client.MaxHistorySize)
	return &Client{
		cfg:       cfg,
		collector: collector,
		bus:       bus,
		registry:  reg,
		rollback:  rb,
		executor:  exec,
		providers: provider.NewManager(bus, provider.Options{}),
		protocol: protocol.New(protocol.Config{
			Version:       cfg.Protocol.Version,
			Timeout:       cfg.Protocol.Timeout(),
			RetryAttempts: cfg.Protocol.RetryAttempts,
			RetryDelay:    cfg.Protocol.RetryDelay(),
		}),
		workflow: workflow.New(exec),
		journal:  journalStore,
		log:      logging.Component("client"),
	}
}

// Bus exposes the engine's event surface.
func (c *Client) Bus() *events.Bus { return c.bus }

// Providers exposes the provider manager.
func (c *Client) Providers() *provider.Manager { return c.providers }

// Workflow exposes the batch/transaction layer.
func (c *Client) Workflow() *workflow.Workflow { return c.workflow }

// Executor exposes the action executor.
func (c *Client) Executor() *executor.Executor { return c.executor }

// Protocol exposes the communication layer.
func (c *Client) Protocol() *protocol.Protocol { return c.protocol }

// Journal exposes the audit-log store; nil when history is disabled.
func (c *Client) Journal() *journal.Store { return c.journal }

// Initialize starts the provider health loop and, when real-time
// updates are enabled, the context poll loop.
func (c *Client) Initialize(ctx context.Context) {
	c.providers.Start(ctx)
	if c.cfg.Client.EnableRealTimeUpdates {
		c.startPolling(ctx)
	}
}

// RegisterProvider adds a backend to the engine.
func (c *Client) RegisterProvider(ctx context.Context, p provider.Provider) error {
	return c.providers.Register(ctx, p)
}

// OnContextChange registers a callback invoked when a poll detects a
// changed snapshot.
func (c *Client) OnContextChange(cb ChangeCallback) {
	if cb == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// CurrentContext collects a fresh snapshot from the collaborator.
func (c *Client) CurrentContext(ctx context.Context) (model.ContextSnapshot, error) {
	snapshot, err := c.collector.Collect(ctx)
	if err != nil {
		return model.ContextSnapshot{}, model.NewEngineError(model.ErrContextCollection, err, true)
	}
	return snapshot, nil
}

// ExecuteAction runs one action: the provider fallback path first,
// then the executor with the currently registered providers.
func (c *Client) ExecuteAction(ctx context.Context, action model.Action) (model.ActionResult, error) {
	action = normalizeAction(action)
	snapshot, err := c.CurrentContext(ctx)
	if err != nil {
		return model.ActionResult{}, err
	}

	result := c.providers.ExecuteWithFallback(ctx, action, snapshot)
	if !result.Success {
		result = c.executor.ExecuteAction(ctx, action, snapshot, c.actionProviders())
	}

	c.recordExecution(ctx, action, result)
	return result, nil
}

// DryRun estimates an action's change volume without mutating
// anything.
func (c *Client) DryRun(ctx context.Context, action model.Action) (model.ActionResult, error) {
	return c.protocol.RequestActionExecution(ctx, nil, normalizeAction(action), model.ContextSnapshot{}, protocol.ExecutionOptions{DryRun: true})
}

// ValidateAction re-runs structural target checks without executing.
func (c *Client) ValidateAction(ctx context.Context, action model.Action) (model.ActionResult, error) {
	return c.protocol.RequestActionExecution(ctx, nil, normalizeAction(action), model.ContextSnapshot{}, protocol.ExecutionOptions{ValidateOnly: true})
}

// RollbackAction undoes a previously executed action and returns the
// restored state for the editor collaborator to re-apply.
func (c *Client) RollbackAction(ctx context.Context, actionID string) (rollback.Result, error) {
	res := c.executor.RollbackAction(actionID)
	c.recordRollback(ctx, res)
	if !res.Success {
		return res, model.NewEngineError(model.ErrRollback, fmt.Errorf("%s", res.Error), false)
	}
	return res, nil
}

// RollbackLast undoes the most recent action.
func (c *Client) RollbackLast(ctx context.Context) (rollback.Result, error) {
	res := c.executor.RollbackLastAction()
	c.recordRollback(ctx, res)
	if !res.Success {
		return res, model.NewEngineError(model.ErrRollback, fmt.Errorf("%s", res.Error), false)
	}
	return res, nil
}

// Shutdown stops background loops, cancels in-flight calls, rolls back
// open transactions and unregisters every provider.
func (c *Client) Shutdown(ctx context.Context) {
	c.stopPolling()
	c.workflow.Close()
	c.protocol.CancelAllRequests()
	c.providers.Stop()
	for id := range c.providers.Providers() {
		if err := c.providers.Unregister(ctx, id); err != nil {
			c.log.Warn().Err(err).Str("provider", id).Msg("unregister on shutdown failed")
		}
	}
}

func (c *Client) actionProviders() map[string]executor.ActionProvider {
	registered := c.providers.Providers()
	out := make(map[string]executor.ActionProvider, len(registered))
	for id, p := range registered {
		out[id] = p
	}
	return out
}

func (c *Client) recordExecution(ctx context.Context, action model.Action, result model.ActionResult) {
	if c.journal == nil || !c.cfg.Client.EnableActionHistory {
		return
	}
	if err := c.journal.RecordExecution(ctx, action, result); err != nil {
		c.log.Warn().Err(err).Str("action", action.ID).Msg("journal write failed")
	}
}

func (c *Client) recordRollback(ctx context.Context, res rollback.Result) {
	if c.journal == nil || !c.cfg.Client.EnableActionHistory {
		return
	}
	if err := c.journal.RecordRollback(ctx, res); err != nil {
		c.log.Warn().Err(err).Str("action", res.ActionID).Msg("journal write failed")
	}
}

func (c *Client) startPolling(ctx context.Context) {
	c.mu.Lock()
	if c.polling {
		c.mu.Unlock()
		return
	}
	c.polling = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.pollLoop(ctx)
}

func (c *Client) stopPolling() {
	c.mu.Lock()
	if !c.polling {
		c.mu.Unlock()
		return
	}
	c.polling = false
	close(c.stop)
	done := c.done
	c.mu.Unlock()
	<-done
}

// pollLoop recomputes the context on a fixed interval and notifies
// subscribers when it structurally differs from the last known one.
// Poll-tick errors are logged, never propagated.
func (c *Client) pollLoop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.Client.UpdateInterval())
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) {
	snapshot, err := c.collector.Collect(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("context poll failed")
		return
	}

	c.mu.Lock()
	last := c.lastContext
	snap := snapshot
	c.lastContext = &snap
	callbacks := make([]ChangeCallback, len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.mu.Unlock()

	if last == nil || reflect.DeepEqual(*last, snapshot) {
		return
	}
	diff := diffContexts(*last, snapshot)
	for _, cb := range callbacks {
		cb(snapshot, diff)
	}
	c.bus.Publish(events.Event{Type: events.ContextChange, Data: map[string]any{
		"buffer":    diff.Buffer,
		"project":   diff.Project,
		"execution": diff.Execution,
		"user":      diff.User,
	}})
}

func diffContexts(prev, next model.ContextSnapshot) ContextDiff {
	return ContextDiff{
		Buffer:    !reflect.DeepEqual(prev.Buffer, next.Buffer),
		Project:   !reflect.DeepEqual(prev.Project, next.Project),
		Execution: !reflect.DeepEqual(prev.Execution, next.Execution),
		User:      !reflect.DeepEqual(prev.User, next.User),
	}
}

func normalizeAction(action model.Action) model.Action {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}
	return action
}

// Package protocol wraps provider calls with timeout, retry and
// cancellation handling, plus side-channel dry-run and validate-only
// modes that never reach the provider.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PixelDroid19/orbis-core/internal/logging"
	"github.com/PixelDroid19/orbis-core/internal/model"
	"github.com/PixelDroid19/orbis-core/internal/registry"
)

// Version is the envelope version stamped on every message.
const Version = "1.0"

// Sentinel failures. Timeouts and cancellations are terminal: they are
// never retried.
var (
	ErrTimeout   = errors.New("request timed out")
	ErrCancelled = errors.New("request cancelled")
)

// Config tunes the protocol layer.
type Config struct {
	Version       string        `json:"version" mapstructure:"version"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	RetryAttempts int           `json:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		Version:       Version,
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

// pingTimeout bounds passive health probes.
const pingTimeout = 5 * time.Second

// Protocol frames provider calls. Each outstanding call is registered
// under a cancellation handle keyed by its message id.
type Protocol struct {
	cfg Config

	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	log zerolog.Logger
}

// New creates a protocol with the given config; zero fields fall back
// to defaults.
func New(cfg Config) *Protocol {
	def := DefaultConfig()
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	return &Protocol{
		cfg:      cfg,
		inflight: make(map[string]context.CancelFunc),
		log:      logging.Component("protocol"),
	}
}

// ExecutionOptions selects the side-channel modes of an execution
// request.
type ExecutionOptions struct {
	DryRun       bool
	ValidateOnly bool
}

// RequestContextProcessing runs context processing on one provider
// under the retry/timeout policy.
func (p *Protocol) RequestContextProcessing(ctx context.Context, prov Provider, snapshot model.ContextSnapshot) (model.ProcessedContext, error) {
	return run(p, ctx, "context_processing", prov.ID(), func(callCtx context.Context) (model.ProcessedContext, error) {
		return prov.ProcessContext(callCtx, snapshot)
	})
}

// RequestActionExecution runs an action on one provider under the
// retry/timeout policy. DryRun and ValidateOnly bypass the provider
// entirely.
func (p *Protocol) RequestActionExecution(ctx context.Context, prov Provider, action model.Action, snapshot model.ContextSnapshot, opts ExecutionOptions) (model.ActionResult, error) {
	if opts.ValidateOnly {
		return validateOnlyResult(action), nil
	}
	if opts.DryRun {
		return dryRunResult(action), nil
	}
	return run(p, ctx, "action_execution", prov.ID(), func(callCtx context.Context) (model.ActionResult, error) {
		return prov.ExecuteAction(callCtx, action, snapshot)
	})
}

// Ping performs a lightweight failure-swallowing health probe used for
// passive monitoring outside the health-check loop.
func (p *Protocol) Ping(ctx context.Context, prov Provider) bool {
	probeCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	_, err := prov.ProcessContext(probeCtx, model.ContextSnapshot{
		Buffer: model.BufferContext{Content: "// ping", Language: "javascript"},
	})
	if err != nil {
		p.log.Debug().Err(err).Str("provider", prov.ID()).Msg("ping failed")
		return false
	}
	return true
}

// CancelAllRequests aborts every in-flight call.
func (p *Protocol) CancelAllRequests() {
	p.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(p.inflight))
	for id, cancel := range p.inflight {
		cancels = append(cancels, cancel)
		delete(p.inflight, id)
	}
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// InFlight returns the number of outstanding calls.
func (p *Protocol) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// Provider is the subset of the provider contract the protocol needs.
type Provider interface {
	ID() string
	ProcessContext(ctx context.Context, snapshot model.ContextSnapshot) (model.ProcessedContext, error)
	ExecuteAction(ctx context.Context, action model.Action, snapshot model.ContextSnapshot) (model.ActionResult, error)
}

// run executes op under the retry/timeout policy. A timeout or an
// explicit cancellation is terminal and returned immediately; other
// failures retry with linearly increasing backoff. The per-call
// context is cancelled on timeout, so a well-behaved provider stops
// doing work; results arriving after abandonment are discarded.
func run[T any](p *Protocol, ctx context.Context, msgType, providerID string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	msgID := uuid.NewString()
	callCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.inflight[msgID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.inflight, msgID)
		p.mu.Unlock()
		cancel()
	}()

	p.log.Debug().
		Str("message_id", msgID).
		Str("type", msgType).
		Str("provider", providerID).
		Str("version", p.cfg.Version).
		Time("timestamp", time.Now().UTC()).
		Msg("request")

	type outcome struct {
		result T
		err    error
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		attemptCtx, attemptCancel := context.WithTimeout(callCtx, p.cfg.Timeout)

		// The provider call runs in its own goroutine so a provider that
		// ignores its context cannot hold the caller past the deadline.
		// The channel is buffered: an abandoned call finishes into it and
		// gets garbage collected.
		done := make(chan outcome, 1)
		go func() {
			result, err := op(attemptCtx)
			done <- outcome{result: result, err: err}
		}()

		var out outcome
		select {
		case out = <-done:
		case <-attemptCtx.Done():
		}
		timedOut := attemptCtx.Err() == context.DeadlineExceeded
		attemptCancel()

		if out.err == nil && !timedOut && callCtx.Err() == nil {
			return out.result, nil
		}
		if callCtx.Err() != nil {
			return zero, fmt.Errorf("%s request %s: %w", msgType, msgID, ErrCancelled)
		}
		if timedOut || errors.Is(out.err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s request %s after %s: %w", msgType, msgID, p.cfg.Timeout, ErrTimeout)
		}

		lastErr = out.err
		p.log.Debug().
			Err(out.err).
			Str("message_id", msgID).
			Int("attempt", attempt).
			Msg("attempt failed")
		if attempt < p.cfg.RetryAttempts {
			backoff := p.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-time.After(backoff):
			case <-callCtx.Done():
				return zero, fmt.Errorf("%s request %s: %w", msgType, msgID, ErrCancelled)
			}
		}
	}
	return zero, fmt.Errorf("%s request %s failed after %d attempts: %w", msgType, msgID, p.cfg.RetryAttempts, lastErr)
}

// validateOnlyResult re-runs the structural target checks without
// executing anything.
func validateOnlyResult(action model.Action) model.ActionResult {
	problems := registry.ValidateTarget(action.Target)
	if len(problems) > 0 {
		return model.ActionResult{
			Success:  false,
			Error:    fmt.Sprintf("Validation failed: %s", strings.Join(problems, "; ")),
			Metadata: map[string]any{"validateOnly": true},
		}
	}
	return model.ActionResult{
		Success:  true,
		Metadata: map[string]any{"validateOnly": true},
	}
}

// dryRunResult estimates change volume per action type without
// mutating anything.
func dryRunResult(action model.Action) model.ActionResult {
	estimates := map[model.ActionType]int{
		model.ActionRefactor: 3,
		model.ActionRename:   5,
		model.ActionDocument: 1,
		model.ActionGenerate: 2,
		model.ActionExplain:  0,
		model.ActionFormat:   1,
		model.ActionOptimize: 2,
	}
	estimate, ok := estimates[action.Type]
	if !ok {
		estimate = 1
	}
	return model.ActionResult{
		Success: true,
		Metadata: map[string]any{
			"dryRun":           true,
			"estimatedChanges": estimate,
		},
	}
}

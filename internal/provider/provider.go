// Package provider manages pluggable action/context backends: a
// registry with health checks, a circuit breaker, capability-based
// selection and fallback execution.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/PixelDroid19/orbis-core/internal/model"
)

// Capability declares something a provider can do. The set is closed
// and validated at registration time.
type Capability string

// Provider capabilities.
const (
	CapContextProcessing Capability = "context_processing"
	CapActionExecution   Capability = "action_execution"
	CapRealTimeUpdates   Capability = "real_time_updates"
	CapRollbackSupport   Capability = "rollback_support"
)

// Valid reports whether the capability belongs to the closed set.
func (c Capability) Valid() bool {
	switch c {
	case CapContextProcessing, CapActionExecution, CapRealTimeUpdates, CapRollbackSupport:
		return true
	}
	return false
}

// Provider is the contract external backends implement. Lifecycle
// hooks are optional; see Initializer and Destroyer.
type Provider interface {
	ID() string
	Name() string
	Capabilities() []Capability
	ProcessContext(ctx context.Context, snapshot model.ContextSnapshot) (model.ProcessedContext, error)
	ExecuteAction(ctx context.Context, action model.Action, snapshot model.ContextSnapshot) (model.ActionResult, error)
}

// Initializer is implemented by providers that need setup before use.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Destroyer is implemented by providers that hold releasable resources.
type Destroyer interface {
	Destroy(ctx context.Context) error
}

// Status is the lifecycle state of a registered provider.
type Status string

// Provider statuses.
const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusInactive     Status = "inactive"
	StatusError        Status = "error"
)

// Info is a point-in-time copy of a provider's registration record.
type Info struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Status          Status        `json:"status"`
	Capabilities    []Capability  `json:"capabilities"`
	LastHealthCheck time.Time     `json:"last_health_check,omitzero"`
	ErrorCount      int           `json:"error_count"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	TotalRequests   int           `json:"total_requests"`
}

// SuccessRate is (requests-errors)/requests over observed samples, or
// 1 when nothing has been observed yet.
func (i Info) SuccessRate() float64 {
	if i.TotalRequests == 0 {
		return 1
	}
	return float64(i.TotalRequests-i.ErrorCount) / float64(i.TotalRequests)
}

func validateProvider(p Provider) error {
	if p == nil {
		return fmt.Errorf("provider is nil")
	}
	if p.ID() == "" {
		return fmt.Errorf("provider id is required")
	}
	caps := p.Capabilities()
	if len(caps) == 0 {
		return fmt.Errorf("provider %s declares no capabilities", p.ID())
	}
	for _, c := range caps {
		if !c.Valid() {
			return fmt.Errorf("provider %s declares unknown capability %q", p.ID(), c)
		}
	}
	return nil
}

func hasCapability(caps []Capability, want Capability) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

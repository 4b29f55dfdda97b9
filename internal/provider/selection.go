package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PixelDroid19/orbis-core/internal/model"
)

// Criteria narrows provider selection.
type Criteria struct {
	RequiredCapabilities []Capability
	Preferred            []string
	Excluded             []string
	MaxResponseTime      time.Duration
	MinSuccessRate       float64
}

// SelectProviders returns every eligible provider ranked best-first:
// fewer errors, then lower average latency, then more total requests.
// A non-empty preferred list that matches at least one eligible
// provider narrows the result to those providers.
func (m *Manager) SelectProviders(criteria Criteria) []Provider {
	m.mu.Lock()
	type candidate struct {
		provider Provider
		info     Info
	}
	candidates := make([]candidate, 0, len(m.records))
	for id, rec := range m.records {
		if rec.status != StatusActive {
			continue
		}
		if circuitOpen(rec.totalRequests, rec.errorCount) {
			continue
		}
		if containsID(criteria.Excluded, id) {
			continue
		}
		eligible := true
		for _, required := range criteria.RequiredCapabilities {
			if !hasCapability(rec.capabilities, required) {
				eligible = false
				break
			}
		}
		if !eligible {
			continue
		}
		info := rec.info()
		if criteria.MaxResponseTime > 0 && info.AvgResponseTime > criteria.MaxResponseTime {
			continue
		}
		if criteria.MinSuccessRate > 0 && info.TotalRequests > 0 && info.SuccessRate() < criteria.MinSuccessRate {
			continue
		}
		candidates = append(candidates, candidate{provider: rec.provider, info: info})
	}
	m.mu.Unlock()

	if len(criteria.Preferred) > 0 {
		preferred := make([]candidate, 0, len(candidates))
		for _, c := range candidates {
			if containsID(criteria.Preferred, c.info.ID) {
				preferred = append(preferred, c)
			}
		}
		if len(preferred) > 0 {
			candidates = preferred
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		left, right := candidates[i].info, candidates[j].info
		if left.ErrorCount != right.ErrorCount {
			return left.ErrorCount < right.ErrorCount
		}
		if left.AvgResponseTime != right.AvgResponseTime {
			return left.AvgResponseTime < right.AvgResponseTime
		}
		return left.TotalRequests > right.TotalRequests
	})

	out := make([]Provider, len(candidates))
	for i, c := range candidates {
		out[i] = c.provider
	}
	return out
}

// SelectProvider returns the best eligible provider.
func (m *Manager) SelectProvider(criteria Criteria) (Provider, bool) {
	ranked := m.SelectProviders(criteria)
	if len(ranked) == 0 {
		return nil, false
	}
	return ranked[0], true
}

// ExecuteWithFallback runs the action through the ranked provider list
// and returns the first success. Metrics are updated on every attempt.
func (m *Manager) ExecuteWithFallback(ctx context.Context, action model.Action, snapshot model.ContextSnapshot) model.ActionResult {
	ranked := m.SelectProviders(Criteria{RequiredCapabilities: []Capability{CapActionExecution}})
	attempted := make([]string, 0, len(ranked))

	for _, p := range ranked {
		id := p.ID()
		attempted = append(attempted, id)
		start := time.Now()
		result, err := p.ExecuteAction(ctx, action, snapshot)
		m.recordRequest(id, time.Since(start), err == nil && result.Success)
		if err != nil {
			m.log.Debug().Err(err).Str("provider", id).Str("action", action.ID).Msg("provider execution failed")
			continue
		}
		if !result.Success {
			continue
		}
		if result.Metadata == nil {
			result.Metadata = make(map[string]any)
		}
		result.Metadata["providerId"] = id
		return result
	}

	return model.ActionResult{
		Success: false,
		Error:   fmt.Sprintf("All providers failed. Attempted: %s", strings.Join(attempted, ", ")),
		Metadata: map[string]any{
			"attemptedProviders": attempted,
			"totalAttempts":      len(attempted),
		},
	}
}

// ProcessContextWithFallback runs context processing through the
// ranked provider list, returning nil when nothing succeeds.
func (m *Manager) ProcessContextWithFallback(ctx context.Context, snapshot model.ContextSnapshot) *model.ProcessedContext {
	ranked := m.SelectProviders(Criteria{RequiredCapabilities: []Capability{CapContextProcessing}})
	for _, p := range ranked {
		id := p.ID()
		start := time.Now()
		processed, err := p.ProcessContext(ctx, snapshot)
		m.recordRequest(id, time.Since(start), err == nil)
		if err != nil {
			m.log.Debug().Err(err).Str("provider", id).Msg("context processing failed")
			continue
		}
		return &processed
	}
	return nil
}

// recordRequest updates per-provider metrics with one observation.
func (m *Manager) recordRequest(id string, elapsed time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return
	}
	rec.totalRequests++
	n := time.Duration(rec.totalRequests)
	rec.avgResponseTime = (rec.avgResponseTime*(n-1) + elapsed) / n
	if !success {
		rec.errorCount++
	}
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

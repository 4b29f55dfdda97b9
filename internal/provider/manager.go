package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PixelDroid19/orbis-core/internal/events"
	"github.com/PixelDroid19/orbis-core/internal/logging"
	"github.com/PixelDroid19/orbis-core/internal/model"
)

// Default timings for the health and recovery machinery.
const (
	DefaultHealthInterval = 30 * time.Second
	DefaultHealthTimeout  = 5 * time.Second
	DefaultRecoveryDelay  = 5 * time.Second
)

// Circuit breaker thresholds: a provider is excluded once more than
// half of a meaningful sample fails, or after three straight errors
// before enough samples exist.
const (
	circuitMinRequests  = 10
	circuitMaxErrorRate = 0.5
	circuitEarlyErrors  = 3
)

// errorStatusThreshold flips a provider to error status from repeated
// reported errors alone.
const errorStatusThreshold = 5

type record struct {
	provider        Provider
	status          Status
	capabilities    []Capability
	lastHealthCheck time.Time
	errorCount      int
	avgResponseTime time.Duration
	totalRequests   int
}

func (r *record) info() Info {
	caps := make([]Capability, len(r.capabilities))
	copy(caps, r.capabilities)
	return Info{
		ID:              r.provider.ID(),
		Name:            r.provider.Name(),
		Status:          r.status,
		Capabilities:    caps,
		LastHealthCheck: r.lastHealthCheck,
		ErrorCount:      r.errorCount,
		AvgResponseTime: r.avgResponseTime,
		TotalRequests:   r.totalRequests,
	}
}

// Options tunes manager timings; zero values use the defaults.
type Options struct {
	HealthInterval time.Duration
	HealthTimeout  time.Duration
	RecoveryDelay  time.Duration
}

// Manager owns the provider registry and its metrics. All mutable
// state is guarded by the manager's mutex; provider calls happen
// outside the lock.
type Manager struct {
	mu      sync.Mutex
	records map[string]*record

	bus            *events.Bus
	healthInterval time.Duration
	healthTimeout  time.Duration
	recoveryDelay  time.Duration

	stop    chan struct{}
	done    chan struct{}
	running bool

	log zerolog.Logger
}

// NewManager creates a manager publishing events on bus.
func NewManager(bus *events.Bus, opts Options) *Manager {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = DefaultHealthTimeout
	}
	if opts.RecoveryDelay <= 0 {
		opts.RecoveryDelay = DefaultRecoveryDelay
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Manager{
		records:        make(map[string]*record),
		bus:            bus,
		healthInterval: opts.HealthInterval,
		healthTimeout:  opts.HealthTimeout,
		recoveryDelay:  opts.RecoveryDelay,
		log:            logging.Component("provider"),
	}
}

// Register validates the provider, runs its optional initializer,
// records it with initializing status and immediately health-checks
// it. Invalid or incomplete providers fail fast.
func (m *Manager) Register(ctx context.Context, p Provider) error {
	if err := validateProvider(p); err != nil {
		return fmt.Errorf("register provider: %w", err)
	}
	id := p.ID()

	m.mu.Lock()
	if _, exists := m.records[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("register provider: %s already registered", id)
	}
	m.records[id] = &record{
		provider:     p,
		status:       StatusInitializing,
		capabilities: p.Capabilities(),
	}
	m.mu.Unlock()

	if init, ok := p.(Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			m.mu.Lock()
			delete(m.records, id)
			m.mu.Unlock()
			return fmt.Errorf("initialize provider %s: %w", id, err)
		}
	}

	m.bus.Publish(events.Event{Type: events.ProviderRegistered, ProviderID: id})
	m.log.Info().Str("provider", id).Msg("provider registered")
	if err := m.CheckHealth(ctx, id); err != nil {
		m.log.Warn().Err(err).Str("provider", id).Msg("initial health check failed")
	}
	return nil
}

// Unregister removes a provider, invoking its optional destroyer.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unregister provider: %s not registered", id)
	}
	delete(m.records, id)
	m.mu.Unlock()

	if d, ok := rec.provider.(Destroyer); ok {
		if err := d.Destroy(ctx); err != nil {
			m.log.Warn().Err(err).Str("provider", id).Msg("provider destroy failed")
		}
	}
	m.bus.Publish(events.Event{Type: events.ProviderUnregistered, ProviderID: id})
	return nil
}

// Provider returns the registered provider for an id.
func (m *Manager) Provider(id string) (Provider, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, false
	}
	return rec.provider, true
}

// Providers returns the registered providers keyed by id.
func (m *Manager) Providers() map[string]Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Provider, len(m.records))
	for id, rec := range m.records {
		out[id] = rec.provider
	}
	return out
}

// Info returns a copy of the registration record for an id.
func (m *Manager) Info(id string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Info{}, false
	}
	return rec.info(), true
}

// Infos returns copies of every registration record.
func (m *Manager) Infos() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.info())
	}
	return out
}

// Start launches the background health-check loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.healthLoop(ctx)
}

// Stop terminates the health-check loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()
	<-done
}

func (m *Manager) healthLoop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *Manager) checkAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.CheckHealth(ctx, id); err != nil {
			m.log.Debug().Err(err).Str("provider", id).Msg("health check failed")
		}
	}
}

// CheckHealth probes one provider. Providers declaring context
// processing are exercised with a minimal synthetic snapshot under the
// health timeout; success activates the provider and decays its error
// count, failure marks it errored.
func (m *Manager) CheckHealth(ctx context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("check health: provider %s not registered", id)
	}
	p := rec.provider
	probeable := hasCapability(rec.capabilities, CapContextProcessing)
	m.mu.Unlock()

	now := time.Now().UTC()
	if !probeable {
		// Nothing to probe; the provider is presumed usable.
		m.mu.Lock()
		if rec, ok := m.records[id]; ok {
			rec.status = StatusActive
			rec.lastHealthCheck = now
		}
		m.mu.Unlock()
		m.bus.Publish(events.Event{Type: events.HealthCheckPassed, ProviderID: id})
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.healthTimeout)
	defer cancel()
	_, err := p.ProcessContext(probeCtx, syntheticSnapshot())

	m.mu.Lock()
	rec, ok = m.records[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	rec.lastHealthCheck = now
	if err != nil {
		rec.status = StatusError
		rec.errorCount++
		m.mu.Unlock()
		m.bus.Publish(events.Event{Type: events.HealthCheckFailed, ProviderID: id, Err: err})
		return fmt.Errorf("health check for %s: %w", id, err)
	}
	rec.status = StatusActive
	if rec.errorCount > 0 {
		rec.errorCount--
	}
	m.mu.Unlock()
	m.bus.Publish(events.Event{Type: events.HealthCheckPassed, ProviderID: id})
	return nil
}

// IsCircuitOpen reports whether the provider is excluded from
// selection by the circuit breaker. There is no automatic half-open
// probing; recovery is explicit.
func (m *Manager) IsCircuitOpen(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return false
	}
	return circuitOpen(rec.totalRequests, rec.errorCount)
}

func circuitOpen(requests, errors int) bool {
	if requests > circuitMinRequests {
		return float64(errors)/float64(requests) > circuitMaxErrorRate
	}
	return errors >= circuitEarlyErrors
}

// HandleProviderError records a reported provider failure and, for
// errors that look transient, schedules a recovery attempt.
func (m *Manager) HandleProviderError(id string, cause error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec.errorCount++
	if rec.errorCount >= errorStatusThreshold {
		rec.status = StatusError
	}
	delay := m.recoveryDelay
	m.mu.Unlock()

	m.bus.Publish(events.Event{Type: events.ProviderError, ProviderID: id, Err: cause})
	m.log.Warn().Err(cause).Str("provider", id).Msg("provider error")

	if isTransient(cause) {
		time.AfterFunc(delay, func() {
			m.AttemptRecovery(context.Background(), id)
		})
	}
}

// AttemptRecovery re-initializes and health-checks a provider in error
// status. Success reactivates it and decays its error count by two.
func (m *Manager) AttemptRecovery(ctx context.Context, id string) bool {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.status != StatusError {
		m.mu.Unlock()
		return false
	}
	p := rec.provider
	before := rec.errorCount
	m.mu.Unlock()

	if init, ok := p.(Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			m.bus.Publish(events.Event{Type: events.ProviderRecoveryFailed, ProviderID: id, Err: err})
			return false
		}
	}
	if err := m.CheckHealth(ctx, id); err != nil {
		m.bus.Publish(events.Event{Type: events.ProviderRecoveryFailed, ProviderID: id, Err: err})
		return false
	}

	// The successful health check already decayed the count by one, so
	// the total decay is pinned against the count observed on entry.
	m.mu.Lock()
	if rec, ok := m.records[id]; ok {
		rec.status = StatusActive
		rec.errorCount = before - 2
		if rec.errorCount < 0 {
			rec.errorCount = 0
		}
	}
	m.mu.Unlock()
	m.bus.Publish(events.Event{Type: events.ProviderRecovered, ProviderID: id})
	m.log.Info().Str("provider", id).Msg("provider recovered")
	return true
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "network") ||
		strings.Contains(msg, "connection")
}

// syntheticSnapshot is the minimal context used for health probes.
func syntheticSnapshot() model.ContextSnapshot {
	return model.ContextSnapshot{
		Buffer: model.BufferContext{
			Content:  "// health check",
			Language: "javascript",
		},
	}
}

// Package rollback stores bounded pre-execution snapshots and restores
// them to undo an action's effects.
package rollback

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/PixelDroid19/orbis-core/internal/logging"
	"github.com/PixelDroid19/orbis-core/internal/model"
)

// DefaultMaxSnapshots bounds the snapshot store when no limit is given.
const DefaultMaxSnapshots = 50

// Snapshot is the captured pre-execution state for one action.
type Snapshot struct {
	ActionID      string               `json:"action_id"`
	Timestamp     time.Time            `json:"timestamp"`
	OriginalState model.BufferState    `json:"original_state"`
	Changes       []model.CodeChange   `json:"changes,omitempty"`
	Buffer        model.BufferContext  `json:"buffer"`
	Project       model.ProjectContext `json:"project"`
}

// Result is the outcome of one rollback attempt. RestoredState is the
// state the editor collaborator must re-apply.
type Result struct {
	Success         bool               `json:"success"`
	ActionID        string             `json:"action_id"`
	RestoredState   *model.BufferState `json:"restored_state,omitempty"`
	Error           string             `json:"error,omitempty"`
	ChangesReverted int                `json:"changes_reverted"`
}

// Statistics summarizes the snapshot store.
type Statistics struct {
	Count            int       `json:"count"`
	Oldest           time.Time `json:"oldest,omitzero"`
	Newest           time.Time `json:"newest,omitzero"`
	AvgSnapshotBytes int       `json:"avg_snapshot_bytes"`
}

// Manager owns the snapshot store. A snapshot exists for an action id
// exactly while the action is undoable: created before execution,
// removed on rollback or FIFO eviction.
type Manager struct {
	mu           sync.Mutex
	maxSnapshots int
	snapshots    map[string]Snapshot
	order        []string // oldest first
}

// NewManager creates a manager; maxSnapshots <= 0 uses the default.
func NewManager(maxSnapshots int) *Manager {
	if maxSnapshots <= 0 {
		maxSnapshots = DefaultMaxSnapshots
	}
	return &Manager{
		maxSnapshots: maxSnapshots,
		snapshots:    make(map[string]Snapshot),
	}
}

// CreateSnapshot captures the buffer state plus a shallow copy of the
// buffer and project context before an action runs. The oldest
// snapshot is evicted once the store exceeds its bound.
func (m *Manager) CreateSnapshot(actionID string, ctx model.ContextSnapshot, planned []model.CodeChange) Snapshot {
	snap := Snapshot{
		ActionID:      actionID,
		Timestamp:     time.Now().UTC(),
		OriginalState: ctx.BufferState(),
		Changes:       cloneChanges(planned),
		Buffer:        ctx.Buffer,
		Project:       ctx.Project,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.snapshots[actionID]; !exists {
		m.order = append(m.order, actionID)
	}
	m.snapshots[actionID] = snap
	for len(m.order) > m.maxSnapshots {
		evicted := m.order[0]
		m.order = m.order[1:]
		delete(m.snapshots, evicted)
		l := logging.Component("rollback")
		l.Debug().Str("action", evicted).Msg("evicted oldest snapshot")
	}
	return snap
}

// UpdateSnapshot replaces the recorded changes once the real execution
// result is known. Returns false for unknown ids.
func (m *Manager) UpdateSnapshot(actionID string, actual []model.CodeChange) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[actionID]
	if !ok {
		return false
	}
	snap.Changes = cloneChanges(actual)
	m.snapshots[actionID] = snap
	return true
}

// Snapshot returns the stored snapshot for an action id.
func (m *Manager) Snapshot(actionID string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[actionID]
	return snap, ok
}

// Count returns the number of outstanding snapshots.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Rollback removes the snapshot for actionID and returns the captured
// original state. An action can be rolled back at most once.
func (m *Manager) Rollback(actionID string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[actionID]
	if !ok {
		return Result{
			Success:  false,
			ActionID: actionID,
			Error:    fmt.Sprintf("no snapshot found for action %s", actionID),
		}
	}
	delete(m.snapshots, actionID)
	for i, id := range m.order {
		if id == actionID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	restored := snap.OriginalState
	return Result{
		Success:         true,
		ActionID:        actionID,
		RestoredState:   &restored,
		ChangesReverted: len(snap.Changes),
	}
}

// RollbackLast rolls back the most recently snapshotted action.
func (m *Manager) RollbackLast() Result {
	m.mu.Lock()
	if len(m.order) == 0 {
		m.mu.Unlock()
		return Result{Success: false, Error: "no snapshots to roll back"}
	}
	last := m.order[len(m.order)-1]
	m.mu.Unlock()
	return m.Rollback(last)
}

// RollbackMultiple rolls back the last n actions in reverse
// chronological order, stopping at the first failure and returning the
// partial result list.
func (m *Manager) RollbackMultiple(n int) []Result {
	m.mu.Lock()
	ids := make([]string, 0, n)
	for i := len(m.order) - 1; i >= 0 && len(ids) < n; i-- {
		ids = append(ids, m.order[i])
	}
	m.mu.Unlock()

	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		res := m.Rollback(id)
		results = append(results, res)
		if !res.Success {
			break
		}
	}
	return results
}

// Clear discards every snapshot.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = make(map[string]Snapshot)
	m.order = nil
}

// GetStatistics reports store size and an average serialized-size
// proxy for memory footprint.
func (m *Manager) GetStatistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Statistics{Count: len(m.order)}
	if len(m.order) == 0 {
		return stats
	}
	totalBytes := 0
	for _, id := range m.order {
		snap := m.snapshots[id]
		if stats.Oldest.IsZero() || snap.Timestamp.Before(stats.Oldest) {
			stats.Oldest = snap.Timestamp
		}
		if snap.Timestamp.After(stats.Newest) {
			stats.Newest = snap.Timestamp
		}
		if raw, err := json.Marshal(snap); err == nil {
			totalBytes += len(raw)
		}
	}
	stats.AvgSnapshotBytes = totalBytes / len(m.order)
	return stats
}

func cloneChanges(changes []model.CodeChange) []model.CodeChange {
	if changes == nil {
		return nil
	}
	out := make([]model.CodeChange, len(changes))
	copy(out, changes)
	for i := range out {
		if out[i].Range != nil {
			cp := *out[i].Range
			out[i].Range = &cp
		}
	}
	return out
}

// Package journal persists a durable audit log of executed and
// rolled-back actions. The in-memory snapshot store stays
// authoritative for undo; the journal exists for inspection after the
// fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/PixelDroid19/orbis-core/internal/model"
	"github.com/PixelDroid19/orbis-core/internal/rollback"
)

// Outcome kinds recorded per entry.
const (
	OutcomeExecuted   = "executed"
	OutcomeRolledBack = "rolled_back"
)

// Store provides journal persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a journal store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Entry is one journal record.
type Entry struct {
	ID          int64
	ActionID    string
	ActionType  string
	TargetType  string
	TargetRef   string
	ProviderID  string
	Outcome     string
	Success     bool
	Error       string
	ChangeCount int
	CreatedAt   string
}

// RecordExecution appends an executed-action entry.
func (s *Store) RecordExecution(ctx context.Context, action model.Action, result model.ActionResult) error {
	providerID, _ := result.Metadata["providerId"].(string)
	return s.insert(ctx, Entry{
		ActionID:    action.ID,
		ActionType:  string(action.Type),
		TargetType:  string(action.Target.Type),
		TargetRef:   targetRef(action.Target),
		ProviderID:  providerID,
		Outcome:     OutcomeExecuted,
		Success:     result.Success,
		Error:       result.Error,
		ChangeCount: len(result.Changes),
	})
}

// RecordRollback appends a rollback entry.
func (s *Store) RecordRollback(ctx context.Context, res rollback.Result) error {
	return s.insert(ctx, Entry{
		ActionID:    res.ActionID,
		ActionType:  "",
		TargetType:  "",
		Outcome:     OutcomeRolledBack,
		Success:     res.Success,
		Error:       res.Error,
		ChangeCount: res.ChangesReverted,
	})
}

func (s *Store) insert(ctx context.Context, e Entry) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `INSERT INTO journal(action_id, action_type, target_type, target_ref, provider_id, outcome, success, error, change_count, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ActionID, e.ActionType, e.TargetType, e.TargetRef, e.ProviderID, e.Outcome, boolToInt(e.Success), e.Error, e.ChangeCount, now)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// List returns journal entries, newest first, optionally filtered by
// outcome and bounded by limit (0 means no limit).
func (s *Store) List(ctx context.Context, outcome string, limit int) ([]Entry, error) {
	query := `SELECT id, action_id, action_type, target_type, target_ref, provider_id, outcome, success, error, change_count, created_at FROM journal`
	args := []any{}
	if outcome != "" {
		query += " WHERE outcome=?"
		args = append(args, outcome)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

// ByAction returns every entry for one action id, oldest first.
func (s *Store) ByAction(ctx context.Context, actionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, action_id, action_type, target_type, target_ref, provider_id, outcome, success, error, change_count, created_at
		FROM journal WHERE action_id=? ORDER BY id`, actionID)
	if err != nil {
		return nil, fmt.Errorf("query journal by action: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

// Prune deletes all but the newest keepLast entries and reports how
// many were removed.
func (s *Store) Prune(ctx context.Context, keepLast int) (int64, error) {
	if keepLast < 0 {
		keepLast = 0
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM journal WHERE id NOT IN (SELECT id FROM journal ORDER BY id DESC LIMIT ?)`, keepLast)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return removed, nil
}

// Statistics summarizes the journal.
type Statistics struct {
	Total      int
	Executed   int
	RolledBack int
	Failed     int
}

// Statistics reports counts by outcome and success.
func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN outcome='executed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN outcome='rolled_back' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN success=0 THEN 1 ELSE 0 END), 0)
		FROM journal`)
	if err := row.Scan(&stats.Total, &stats.Executed, &stats.RolledBack, &stats.Failed); err != nil {
		return Statistics{}, fmt.Errorf("read journal statistics: %w", err)
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var success int
	if err := row.Scan(&e.ID, &e.ActionID, &e.ActionType, &e.TargetType, &e.TargetRef, &e.ProviderID, &e.Outcome, &success, &e.Error, &e.ChangeCount, &e.CreatedAt); err != nil {
		return Entry{}, fmt.Errorf("scan journal entry: %w", err)
	}
	e.Success = success != 0
	return e, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func targetRef(target model.Target) string {
	if target.Identifier != "" {
		return target.Identifier
	}
	return target.Path
}

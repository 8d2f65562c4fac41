package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crmpulse/crmpulse/internal/core"
)

// RetryStateEntry pairs a source with its persisted gate state.
type RetryStateEntry struct {
	Source string
	State  core.RetryState
}

// GetRetryState returns stored gate state for a source.
func (s *Store) GetRetryState(ctx context.Context, source string) (*core.RetryState, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errors.New("source is required")
	}

	var (
		attemptCount int
		lastAttempt  sql.NullInt64
		blocked      int
		lastKind     sql.NullString
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT attempt_count, last_attempt, blocked, last_kind
		FROM retry_state
		WHERE source = ?
	`, source)
	if err := row.Scan(&attemptCount, &lastAttempt, &blocked, &lastKind); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch retry state: %w", err)
	}

	return retryState(attemptCount, lastAttempt, blocked, lastKind), nil
}

// UpdateRetryState persists gate state for a source.
func (s *Store) UpdateRetryState(ctx context.Context, source string, state *core.RetryState) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	source = strings.TrimSpace(source)
	if source == "" {
		return errors.New("source is required")
	}
	if state == nil {
		return errors.New("retry state is required")
	}

	var lastAttempt sql.NullInt64
	if !state.LastAttempt.IsZero() {
		lastAttempt = sql.NullInt64{Int64: state.LastAttempt.UTC().UnixNano(), Valid: true}
	}
	blocked := 0
	if state.Blocked {
		blocked = 1
	}
	var lastKind sql.NullString
	if state.LastKind != "" {
		lastKind = sql.NullString{String: string(state.LastKind), Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO retry_state (source, attempt_count, last_attempt, blocked, last_kind, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			attempt_count = excluded.attempt_count,
			last_attempt = excluded.last_attempt,
			blocked = excluded.blocked,
			last_kind = excluded.last_kind,
			updated_at = excluded.updated_at
	`, source, state.AttemptCount, lastAttempt, blocked, lastKind, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("store retry state: %w", err)
	}
	return nil
}

// ListRetryStates returns all persisted gate states ordered by source.
func (s *Store) ListRetryStates(ctx context.Context) ([]RetryStateEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT source, attempt_count, last_attempt, blocked, last_kind
		FROM retry_state
		ORDER BY source
	`)
	if err != nil {
		return nil, fmt.Errorf("list retry states: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []RetryStateEntry{}
	for rows.Next() {
		var (
			source       string
			attemptCount int
			lastAttempt  sql.NullInt64
			blocked      int
			lastKind     sql.NullString
		)
		if err := rows.Scan(&source, &attemptCount, &lastAttempt, &blocked, &lastKind); err != nil {
			return nil, fmt.Errorf("scan retry states: %w", err)
		}
		entries = append(entries, RetryStateEntry{Source: source, State: *retryState(attemptCount, lastAttempt, blocked, lastKind)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list retry states: %w", err)
	}
	return entries, nil
}

func retryState(attemptCount int, lastAttempt sql.NullInt64, blocked int, lastKind sql.NullString) *core.RetryState {
	state := &core.RetryState{
		AttemptCount: attemptCount,
		Blocked:      blocked != 0,
	}
	if lastAttempt.Valid {
		state.LastAttempt = time.Unix(0, lastAttempt.Int64).UTC()
	}
	if lastKind.Valid {
		state.LastKind = core.ErrorKind(lastKind.String)
	}
	return state
}

// RetryStateQuery selects persisted gate states for admin operations.
type RetryStateQuery struct {
	All     bool
	Sources []string
}

// Validate ensures the query names at least one target.
func (q RetryStateQuery) Validate() error {
	if q.All {
		return nil
	}
	for _, source := range q.Sources {
		if strings.TrimSpace(source) != "" {
			return nil
		}
	}
	return errors.New("must specify --all or --source")
}

func (q RetryStateQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	placeholders := make([]string, 0, len(q.Sources))
	args := make([]any, 0, len(q.Sources))
	for _, source := range q.Sources {
		source = strings.TrimSpace(source)
		if source == "" {
			continue
		}
		placeholders = append(placeholders, "?")
		args = append(args, source)
	}
	return "WHERE source IN (" + strings.Join(placeholders, ", ") + ")", args, nil
}

// CountRetryStates returns how many persisted gate states match the query.
func (s *Store) CountRetryStates(ctx context.Context, q RetryStateQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	var count int
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM retry_state %s`, where), args...)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count retry states: %w", err)
	}
	return count, nil
}

// ResetRetryStates deletes persisted gate states matching the query so the
// affected sources start over with a full attempt budget.
func (s *Store) ResetRetryStates(ctx context.Context, q RetryStateQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM retry_state %s`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset retry states: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset retry states: %w", err)
	}
	return affected, nil
}

package audit

import (
	"database/sql"
	"fmt"
	"time"
)

// DeadLetterKind distinguishes what kind of failed unit of work a dead
// letter records, since audit backs more than one producer (failed engine
// rounds, failed OM promotion writes, failed plugin dispatches).
type DeadLetterKind string

const (
	DeadLetterEngineRound DeadLetterKind = "engine_round"
	DeadLetterPromotion   DeadLetterKind = "om_promotion"
	DeadLetterPluginHook  DeadLetterKind = "plugin_hook"
)

// DeadLetter is one failed unit of work recorded for inspection/retry.
type DeadLetter struct {
	ID            string
	TargetChannel string
	TargetThread  string
	Kind          DeadLetterKind
	Message       string
	Error         string
	CreatedAt     int64
	RetryCount    int
	NextRetryAt   int64 // 0 = give up
	ResolvedAt    int64 // 0 = unresolved
}

// SaveDeadLetter inserts or replaces dl.
func (s *Store) SaveDeadLetter(dl *DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dl.CreatedAt == 0 {
		dl.CreatedAt = time.Now().UnixMilli()
	}

	targetThread := sql.NullString{String: dl.TargetThread, Valid: dl.TargetThread != ""}
	nextRetry := sql.NullInt64{Int64: dl.NextRetryAt, Valid: dl.NextRetryAt != 0}
	resolved := sql.NullInt64{Int64: dl.ResolvedAt, Valid: dl.ResolvedAt != 0}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO dead_letters (
			id, target_channel, target_thread, kind, message, error,
			created_at, retry_count, next_retry_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dl.ID, dl.TargetChannel, targetThread, string(dl.Kind), dl.Message, dl.Error,
		dl.CreatedAt, dl.RetryCount, nextRetry, resolved,
	)
	if err != nil {
		return fmt.Errorf("saving dead letter: %w", err)
	}
	return nil
}

// ListRetryable returns unresolved dead letters whose next_retry_at has
// elapsed, oldest first.
func (s *Store) ListRetryable(limit int) ([]*DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, target_channel, target_thread, kind, message, error,
		       created_at, retry_count, next_retry_at, resolved_at
		FROM dead_letters
		WHERE next_retry_at <= ? AND resolved_at IS NULL
		ORDER BY next_retry_at ASC`
	args := []any{time.Now().UnixMilli()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing retryable dead letters: %w", err)
	}
	defer rows.Close()

	var out []*DeadLetter
	for rows.Next() {
		dl := &DeadLetter{}
		var kind string
		var targetThread sql.NullString
		var nextRetry, resolved sql.NullInt64

		if err := rows.Scan(&dl.ID, &dl.TargetChannel, &targetThread, &kind, &dl.Message, &dl.Error,
			&dl.CreatedAt, &dl.RetryCount, &nextRetry, &resolved); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		dl.Kind = DeadLetterKind(kind)
		if targetThread.Valid {
			dl.TargetThread = targetThread.String
		}
		if nextRetry.Valid {
			dl.NextRetryAt = nextRetry.Int64
		}
		if resolved.Valid {
			dl.ResolvedAt = resolved.Int64
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letters: %w", err)
	}
	return out, nil
}

// Get looks up a single dead letter by ID.
func (s *Store) Get(id string) (*DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dl := &DeadLetter{}
	var kind string
	var targetThread sql.NullString
	var nextRetry, resolved sql.NullInt64

	row := s.db.QueryRow(`
		SELECT id, target_channel, target_thread, kind, message, error,
		       created_at, retry_count, next_retry_at, resolved_at
		FROM dead_letters WHERE id = ?`, id)
	if err := row.Scan(&dl.ID, &dl.TargetChannel, &targetThread, &kind, &dl.Message, &dl.Error,
		&dl.CreatedAt, &dl.RetryCount, &nextRetry, &resolved); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("dead letter not found: %s", id)
		}
		return nil, fmt.Errorf("reading dead letter: %w", err)
	}
	dl.Kind = DeadLetterKind(kind)
	if targetThread.Valid {
		dl.TargetThread = targetThread.String
	}
	if nextRetry.Valid {
		dl.NextRetryAt = nextRetry.Int64
	}
	if resolved.Valid {
		dl.ResolvedAt = resolved.Int64
	}
	return dl, nil
}

// IncrementRetry bumps retry_count and schedules the next attempt.
func (s *Store) IncrementRetry(id string, nextRetryAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`UPDATE dead_letters SET retry_count = retry_count + 1, next_retry_at = ? WHERE id = ?`, nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("incrementing retry: %w", err)
	}
	return requireRowsAffected(result, "dead letter", id)
}

// ResolveDeadLetter marks id as resolved, removing it from future
// ListRetryable results.
func (s *Store) ResolveDeadLetter(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`UPDATE dead_letters SET resolved_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("resolving dead letter: %w", err)
	}
	return requireRowsAffected(result, "dead letter", id)
}

func requireRowsAffected(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

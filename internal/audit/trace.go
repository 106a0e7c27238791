package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// TraceEvent is one structured debug-trace row: collect/skip/judge/
// intervention-probability/promotion/compaction, per spec §4.4.4.
type TraceEvent struct {
	ID        int64
	Event     string
	ChannelID string
	ThreadTS  string
	Fields    map[string]any
	CreatedAt time.Time
}

// Trace persists one event, independent of whether the configured Slack
// debug channel post succeeds — satisfies channel.DebugSink so the
// channel pipeline can use a Store directly as its sink.
func (s *Store) Trace(event string, fields map[string]any) {
	channelID, _ := fields["channel_id"].(string)
	threadTS, _ := fields["thread_ts"].(string)

	if err := s.recordTrace(event, channelID, threadTS, fields); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("failed to persist trace event")
	}
}

func (s *Store) recordTrace(event, channelID, threadTS string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshaling trace fields: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO trace_events (event, channel_id, thread_ts, fields, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		event, sql.NullString{String: channelID, Valid: channelID != ""}, sql.NullString{String: threadTS, Valid: threadTS != ""},
		string(payload), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting trace event: %w", err)
	}
	return nil
}

// RecentTraces returns the most recent traces, newest first, optionally
// filtered to a single event name (empty string = all).
func (s *Store) RecentTraces(event string, limit int) ([]TraceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, event, channel_id, thread_ts, fields, created_at FROM trace_events`
	var args []any
	if event != "" {
		query += ` WHERE event = ?`
		args = append(args, event)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trace events: %w", err)
	}
	defer rows.Close()

	var out []TraceEvent
	for rows.Next() {
		var te TraceEvent
		var channelID, threadTS sql.NullString
		var fieldsJSON string
		var createdAtMs int64

		if err := rows.Scan(&te.ID, &te.Event, &channelID, &threadTS, &fieldsJSON, &createdAtMs); err != nil {
			return nil, fmt.Errorf("scanning trace event: %w", err)
		}
		te.ChannelID = channelID.String
		te.ThreadTS = threadTS.String
		te.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		if err := json.Unmarshal([]byte(fieldsJSON), &te.Fields); err != nil {
			te.Fields = map[string]any{"_unparsed": fieldsJSON}
		}
		out = append(out, te)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trace events: %w", err)
	}
	return out, nil
}

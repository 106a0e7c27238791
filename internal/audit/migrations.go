package audit

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dead_letters (
		id TEXT PRIMARY KEY,
		target_channel TEXT NOT NULL,
		target_thread TEXT,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		error TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_retry_at INTEGER,
		resolved_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_dead_letters_retry ON dead_letters(next_retry_at, resolved_at);

	CREATE TABLE IF NOT EXISTS trace_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event TEXT NOT NULL,
		channel_id TEXT,
		thread_ts TEXT,
		fields TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trace_events_created ON trace_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_trace_events_event ON trace_events(event);
	`
	_, err := s.db.Exec(schema)
	return err
}

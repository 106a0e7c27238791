// Package session implements SessionStore: the per-thread conversation
// record that the Executor reads and mutates on every engine round-trip.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/oksoyo/slackbroker/internal/fileutil"
)

// Role is the Slack-side authority level attached to a session.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// SourceType describes how a session came to exist.
type SourceType string

const (
	SourceThread  SourceType = "thread"
	SourceChannel SourceType = "channel"
	SourceHybrid  SourceType = "hybrid"
)

// Session is the persisted, content-addressed record for one thread_ts.
type Session struct {
	ThreadTS      string     `json:"thread_ts"`
	ChannelID     string     `json:"channel_id"`
	UserID        string     `json:"user_id"`
	Username      string     `json:"username"`
	Role          Role       `json:"role"`
	SessionID     string     `json:"session_id"`
	MessageCount  int        `json:"message_count"`
	SourceType    SourceType `json:"source_type"`
	LastSeenTS    string     `json:"last_seen_ts"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Store is the file-based SessionStore. One in-process lock guards both the
// cache map and the file writes backing it, matching the teacher's
// Store.mu convention in internal/store.Store — only the storage medium
// changed from SQLite rows to one JSON file per session.
type Store struct {
	mu     sync.Mutex
	cache  map[string]*Session
	baseDir string
	logger zerolog.Logger
}

// New constructs a Store rooted at baseDir/sessions.
func New(baseDir string, logger zerolog.Logger) *Store {
	return &Store{
		cache:  make(map[string]*Session),
		baseDir: filepath.Join(baseDir, "sessions"),
		logger: logger.With().Str("component", "session_store").Logger(),
	}
}

func (s *Store) pathFor(threadTS string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("session_%s.json", sanitize(threadTS)))
}

func sanitize(threadTS string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(threadTS)
}

// Get returns the session for threadTS, consulting the in-process cache
// first and falling back to disk. A corrupt file is logged and treated as
// absent — it never poisons the cache for other threads.
func (s *Store) Get(threadTS string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(threadTS)
}

func (s *Store) getLocked(threadTS string) *Session {
	if sess, ok := s.cache[threadTS]; ok {
		return sess
	}
	var sess Session
	path := s.pathFor(threadTS)
	if err := fileutil.ReadJSON(path, &sess); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("thread_ts", threadTS).
				Msg("corrupt session file, treating as absent")
		}
		return nil
	}
	s.cache[threadTS] = &sess
	return &sess
}

// Create creates and persists a new session. If threadTS already has a
// session, that session is returned unchanged with a nil error, so there is
// never more than one session per thread.
func (s *Store) Create(threadTS, channelID, userID, username string, role Role, sourceType SourceType) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.getLocked(threadTS); existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	sess := &Session{
		ThreadTS:     threadTS,
		ChannelID:    channelID,
		UserID:       userID,
		Username:     username,
		Role:         role,
		SourceType:   sourceType,
		MessageCount: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.persistLocked(sess)
	return sess, nil
}

// UpdateSessionID sets or rotates the engine-assigned session_id. Rotation
// only replaces the value; it never splits the session record.
func (s *Store) UpdateSessionID(threadTS, sessionID string) {
	s.mutate(threadTS, func(sess *Session) { sess.SessionID = sessionID })
}

// UpdateLastSeenTS records the transport timestamp of the most recent
// channel-side message already folded into this session.
func (s *Store) UpdateLastSeenTS(threadTS, ts string) {
	s.mutate(threadTS, func(sess *Session) { sess.LastSeenTS = ts })
}

// UpdateUser updates the user/username attribution on a session (the author
// of a thread may differ turn to turn in channel-promoted sessions).
func (s *Store) UpdateUser(threadTS, userID, username string) {
	s.mutate(threadTS, func(sess *Session) {
		sess.UserID = userID
		sess.Username = username
	})
}

// IncrementMessageCount bumps message_count by one. Only the Executor, under
// the per-thread execution lock, should call this.
func (s *Store) IncrementMessageCount(threadTS string) {
	s.mutate(threadTS, func(sess *Session) { sess.MessageCount++ })
}

func (s *Store) mutate(threadTS string, fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getLocked(threadTS)
	if sess == nil {
		s.logger.Warn().Str("thread_ts", threadTS).Msg("mutate on unknown session, ignoring")
		return
	}
	fn(sess)
	s.persistLocked(sess)
}

// persistLocked flushes sess to disk atomically and refreshes the cache.
// Write failures are logged but never returned — reads must still succeed
// from the in-process cache per the store's never-raise contract.
func (s *Store) persistLocked(sess *Session) {
	sess.UpdatedAt = time.Now().UTC()
	s.cache[sess.ThreadTS] = sess
	if err := fileutil.WriteJSONAtomic(s.pathFor(sess.ThreadTS), sess); err != nil {
		s.logger.Error().Err(err).Str("thread_ts", sess.ThreadTS).
			Msg("failed to persist session, in-memory cache still authoritative")
	}
}

// ListActive returns every session on disk, newest updated_at first.
// Corrupt files are logged and skipped rather than aborting the listing.
func (s *Store) ListActive() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error().Err(err).Msg("failed to list session directory")
		}
		return nil
	}

	var out []*Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var sess Session
		full := filepath.Join(s.baseDir, e.Name())
		if err := fileutil.ReadJSON(full, &sess); err != nil {
			s.logger.Warn().Err(err).Str("file", e.Name()).
				Msg("skipping corrupt session file during list")
			continue
		}
		s.cache[sess.ThreadTS] = &sess
		out = append(out, &sess)
	}
	return out
}

// Count returns the number of sessions currently on disk.
func (s *Store) Count() int {
	return len(s.ListActive())
}

// CleanupOld removes sessions whose UpdatedAt is older than thresholdHours.
// Returns the number removed. Deletion failures are logged, not returned,
// consistent with the store's never-raise write contract.
func (s *Store) CleanupOld(thresholdHours int) int {
	threshold := time.Now().Add(-time.Duration(thresholdHours) * time.Hour)
	removed := 0
	for _, sess := range s.ListActive() {
		if sess.UpdatedAt.Before(threshold) {
			s.mu.Lock()
			delete(s.cache, sess.ThreadTS)
			if err := os.Remove(s.pathFor(sess.ThreadTS)); err != nil && !os.IsNotExist(err) {
				s.logger.Warn().Err(err).Str("thread_ts", sess.ThreadTS).Msg("failed to remove stale session file")
			} else {
				removed++
			}
			s.mu.Unlock()
		}
	}
	return removed
}

// AnyRunning reports whether any session is mid-flight according to the
// caller-supplied predicate. Used by ResultProcessor to gate UPDATE/RESTART
// markers: they only forward automatically when no other sessions are
// currently running.
func AnyRunning(sessions []*Session, running func(threadTS string) bool) bool {
	for _, sess := range sessions {
		if running(sess.ThreadTS) {
			return true
		}
	}
	return false
}

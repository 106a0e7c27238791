package memory

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/oksoyo/slackbroker/internal/fileutil"
)

// Store is the file-based MemoryStore, per spec §6's persistence layout.
// Grounded on internal/channel.Store's per-file-lock pattern; candidates
// and persistent are independently locked (spec §5).
type Store struct {
	baseDir string
	locker  *fileutil.PathLocker
	logger  zerolog.Logger
}

// New constructs a Store rooted at baseDir/memory.
func New(baseDir string, logger zerolog.Logger) *Store {
	return &Store{
		baseDir: filepath.Join(baseDir, "memory"),
		locker:  fileutil.NewPathLocker(),
		logger:  logger.With().Str("component", "memory_store").Logger(),
	}
}

func (s *Store) obsPath(threadTS string) string {
	return filepath.Join(s.baseDir, "observations", sanitize(threadTS)+".json")
}
func (s *Store) obsMetaPath(threadTS string) string {
	return filepath.Join(s.baseDir, "observations", sanitize(threadTS)+".meta.json")
}
func (s *Store) obsInjectPath(threadTS string) string {
	return filepath.Join(s.baseDir, "observations", sanitize(threadTS)+".inject")
}
func (s *Store) obsNewPath(threadTS string) string {
	return filepath.Join(s.baseDir, "observations", sanitize(threadTS)+".new.json")
}
func (s *Store) obsLegacyPath(threadTS string) string {
	return filepath.Join(s.baseDir, "observations", sanitize(threadTS)+".md")
}
func (s *Store) conversationPath(threadTS string) string {
	return filepath.Join(s.baseDir, "conversations", sanitize(threadTS)+".jsonl")
}
func (s *Store) pendingPath(threadTS string) string {
	return filepath.Join(s.baseDir, "pending", sanitize(threadTS)+".jsonl")
}
func (s *Store) candidatesPath(threadTS string) string {
	return filepath.Join(s.baseDir, "candidates", sanitize(threadTS)+".jsonl")
}
func (s *Store) persistentPath() string {
	return filepath.Join(s.baseDir, "persistent", "recent.json")
}
func (s *Store) persistentMetaPath() string {
	return filepath.Join(s.baseDir, "persistent", "recent.meta.json")
}
func (s *Store) persistentLegacyPath() string {
	return filepath.Join(s.baseDir, "persistent", "recent.md")
}
func (s *Store) archivePath(at time.Time) string {
	return filepath.Join(s.baseDir, "persistent", "archive", "recent_"+at.UTC().Format("20060102T150405")+".json")
}
func (s *Store) candidatesDir() string {
	return filepath.Join(s.baseDir, "candidates")
}

func sanitize(threadTS string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(threadTS)
}

// GetSession returns threadTS's observation record, migrating a legacy
// .md file to .json on first read if one exists and no .json does yet.
func (s *Store) GetSession(threadTS string) (SessionRecord, error) {
	unlock := s.locker.Lock(s.obsPath(threadTS))
	defer unlock()

	var rec SessionRecord
	err := fileutil.ReadJSON(s.obsPath(threadTS), &rec)
	if err == nil {
		return rec, nil
	}
	if !os.IsNotExist(err) {
		return SessionRecord{}, err
	}

	if migrated, ok := s.migrateLegacySession(threadTS); ok {
		return migrated, nil
	}
	return SessionRecord{ThreadTS: threadTS}, nil
}

// migrateLegacySession converts a legacy .md observation file into a
// SessionRecord with a single migrated-source observation, writes the
// .json form, and deletes the .md, per spec §6's migration requirement.
func (s *Store) migrateLegacySession(threadTS string) (SessionRecord, bool) {
	legacyPath := s.obsLegacyPath(threadTS)
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		return SessionRecord{}, false
	}
	rec := SessionRecord{
		ThreadTS: threadTS,
		Observations: []ObservationItem{{
			ID:          "obs_" + time.Now().UTC().Format("20060102") + "_001",
			Priority:    PriorityMedium,
			Content:     string(data),
			SessionDate: time.Now().UTC().Format("20060102"),
			CreatedAt:   time.Now().UTC(),
			Source:      "migrated",
		}},
		LastObservedAt: time.Now().UTC(),
	}
	if err := fileutil.WriteJSONAtomic(s.obsPath(threadTS), rec); err != nil {
		s.logger.Warn().Err(err).Str("thread_ts", threadTS).Msg("failed to write migrated session record")
		return SessionRecord{}, false
	}
	if err := os.Remove(legacyPath); err != nil {
		s.logger.Warn().Err(err).Str("thread_ts", threadTS).Msg("failed to remove legacy observation file after migration")
	}
	return rec, true
}

// PutSession atomically replaces threadTS's observation record.
func (s *Store) PutSession(threadTS string, rec SessionRecord) error {
	unlock := s.locker.Lock(s.obsPath(threadTS))
	defer unlock()
	return fileutil.WriteJSONAtomic(s.obsPath(threadTS), rec)
}

// WriteNewObservations persists the most recent turn's freshly-produced
// observations for next-turn injection (spec §4.5.5's <new-observations>).
func (s *Store) WriteNewObservations(threadTS string, items []ObservationItem) error {
	unlock := s.locker.Lock(s.obsNewPath(threadTS))
	defer unlock()
	return fileutil.WriteJSONAtomic(s.obsNewPath(threadTS), items)
}

// ReadNewObservations returns the new-observations left by the previous
// turn, or nil if none are recorded.
func (s *Store) ReadNewObservations(threadTS string) ([]ObservationItem, error) {
	unlock := s.locker.Lock(s.obsNewPath(threadTS))
	defer unlock()
	var items []ObservationItem
	if err := fileutil.ReadJSON(s.obsNewPath(threadTS), &items); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

// AppendConversationTurn records one raw turn to threadTS's conversation log.
func (s *Store) AppendConversationTurn(threadTS string, turn ConversationTurn) error {
	path := s.conversationPath(threadTS)
	unlock := s.locker.Lock(path)
	defer unlock()
	return fileutil.AppendJSONLAtomic(path, turn)
}

// AppendCandidates appends candidates to threadTS's candidate buffer.
func (s *Store) AppendCandidates(threadTS string, candidates []Candidate) error {
	path := s.candidatesPath(threadTS)
	unlock := s.locker.Lock(path)
	defer unlock()
	for _, c := range candidates {
		if err := fileutil.AppendJSONLAtomic(path, c); err != nil {
			return err
		}
	}
	return nil
}

// AllCandidates returns every thread's pending candidates, keyed by
// thread_ts, for the cross-session promotion pass.
func (s *Store) AllCandidates() (map[string][]Candidate, error) {
	entries, err := os.ReadDir(s.candidatesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make(map[string][]Candidate)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		threadTS := strings.TrimSuffix(e.Name(), ".jsonl")
		path := filepath.Join(s.candidatesDir(), e.Name())
		unlock := s.locker.Lock(path)
		candidates, err := readCandidatesJSONL(path)
		unlock()
		if err != nil {
			s.logger.Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable candidates file")
			continue
		}
		if len(candidates) > 0 {
			out[threadTS] = candidates
		}
	}
	return out, nil
}

// ClearAllCandidates empties every thread's candidate buffer. Called only
// after a successful promotion commit, per spec §4.5.3.
func (s *Store) ClearAllCandidates() error {
	entries, err := os.ReadDir(s.candidatesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(s.candidatesDir(), e.Name())
		unlock := s.locker.Lock(path)
		err := fileutil.WriteAtomic(path, []byte{}, 0o644)
		unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func readCandidatesJSONL(path string) ([]Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Candidate
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var c Candidate
		if err := json.Unmarshal(line, &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, scanner.Err()
}

// ReadPersistent returns the long-term memory file, migrating a legacy .md
// form if present and no .json exists yet.
func (s *Store) ReadPersistent() (Persistent, error) {
	unlock := s.locker.Lock(s.persistentPath())
	defer unlock()

	var p Persistent
	err := fileutil.ReadJSON(s.persistentPath(), &p)
	if err == nil {
		return p, nil
	}
	if !os.IsNotExist(err) {
		return Persistent{}, err
	}

	if data, legacyErr := os.ReadFile(s.persistentLegacyPath()); legacyErr == nil {
		migrated := Persistent{
			Items: []PersistentItem{{
				ID:         "ltm_" + time.Now().UTC().Format("20060102") + "_001",
				Priority:   PriorityMedium,
				Content:    string(data),
				PromotedAt: time.Now().UTC(),
			}},
			UpdatedAt: time.Now().UTC(),
		}
		if writeErr := fileutil.WriteJSONAtomic(s.persistentPath(), migrated); writeErr == nil {
			_ = os.Remove(s.persistentLegacyPath())
			return migrated, nil
		}
	}
	return Persistent{}, nil
}

// WritePersistent snapshots the current persistent file to the archive
// directory before atomically replacing it, per spec §3.4's "a single
// archive/recent_<ts>.json snapshot is written before any overwrite".
func (s *Store) WritePersistent(p Persistent) error {
	unlock := s.locker.Lock(s.persistentPath())
	defer unlock()

	if existing, err := os.ReadFile(s.persistentPath()); err == nil {
		if err := fileutil.WriteAtomic(s.archivePath(time.Now().UTC()), existing, 0o644); err != nil {
			s.logger.Warn().Err(err).Msg("failed to snapshot persistent memory before overwrite")
		}
	}
	return fileutil.WriteJSONAtomic(s.persistentPath(), p)
}

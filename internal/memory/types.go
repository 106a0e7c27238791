// Package memory implements the OMPipeline (observational memory) and its
// file-based MemoryStore, per spec §3.4/§4.5: per-turn observation, per-
// session reflection, cross-session promotion to persistent memory, and
// compaction of the persistent store — plus the ContextBuilder injection
// read path.
package memory

import "time"

// Priority is an ObservationItem or PersistentItem's importance band.
type Priority string

const (
	PriorityHigh   Priority = "🔴"
	PriorityMedium Priority = "🟡"
	PriorityLow    Priority = "🟢"
)

// ObservationItem is one structured fact recorded about a session.
type ObservationItem struct {
	ID          string    `json:"id"` // obs_YYYYMMDD_NNN
	Priority    Priority  `json:"priority"`
	Content     string    `json:"content"`
	SessionDate string    `json:"session_date"` // YYYYMMDD, for relative-time annotation
	CreatedAt   time.Time `json:"created_at"`
	Source      string    `json:"source"` // observer | reflector | migrated
}

// PersistentItem is a long-term fact promoted from one or more sessions.
type PersistentItem struct {
	ID           string    `json:"id"` // ltm_YYYYMMDD_NNN
	Priority     Priority  `json:"priority"`
	Content      string    `json:"content"`
	PromotedAt   time.Time `json:"promoted_at"`
	SourceObsIDs []string  `json:"source_obs_ids"`
}

// Candidate is a free-form proposed long-term fact, not yet promoted.
type Candidate struct {
	TS       string   `json:"ts"`
	Priority Priority `json:"priority"`
	Content  string   `json:"content"`
}

// SessionRecord is the per-session observation record.
type SessionRecord struct {
	ThreadTS              string            `json:"thread_ts"`
	Observations          []ObservationItem `json:"observations"`
	ObservationTokens     int               `json:"observation_tokens"`
	LastObservedAt        time.Time         `json:"last_observed_at"`
	TotalSessionsObserved int               `json:"total_sessions_observed"`
	ReflectionCount       int               `json:"reflection_count"`
	AnchorTS              string            `json:"anchor_ts,omitempty"`
}

// ConversationTurn is one raw (user, assistant) pair appended to a
// session's conversation log, independent of the derived observations.
type ConversationTurn struct {
	TS            string    `json:"ts"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	At            time.Time `json:"at"`
}

// ObserverResult is the LLM observer operation's response.
type ObserverResult struct {
	Observations []ObservationItem `json:"observations"`
	Candidates   []Candidate       `json:"candidates"`
}

// PromoterResult is the LLM promoter operation's response.
type PromoterResult struct {
	Promoted []PersistentItem `json:"promoted"`
	Rejected []Candidate      `json:"rejected"`
}

// Persistent is the single cross-session long-term memory file.
type Persistent struct {
	Items      []PersistentItem `json:"items"`
	TokenCount int              `json:"token_count"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

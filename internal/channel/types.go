// Package channel implements the ChannelPipeline (the channel-observer
// core) and its ChannelStore, per spec §3.3/§4.4: a per-channel lurker that
// maintains a running digest, judges new messages for importance, and
// selectively reacts with emoji or writes messages.
package channel

import "time"

// Message is one transport message the observer has seen.
type Message struct {
	TS       string    `json:"ts"`
	User     string    `json:"user"`
	Text     string    `json:"text"`
	ThreadTS string    `json:"thread_ts,omitempty"`
	At       time.Time `json:"at"`
}

// Digest is the channel's running summary of everything folded out of
// judged so far.
type Digest struct {
	Content          string    `json:"content"`
	TokenCount       int       `json:"token_count"`
	LastDigestedAt   time.Time `json:"last_digested_at"`
	LastCompressedAt time.Time `json:"last_compressed_at,omitempty"`
}

// ReactionType is a judge verdict's requested transport action.
type ReactionType string

const (
	ReactionNone      ReactionType = "none"
	ReactionReact     ReactionType = "react"
	ReactionIntervene ReactionType = "intervene"
)

// JudgeItem is one per-message verdict from the judge LLM operation.
type JudgeItem struct {
	TS              string       `json:"ts"`
	Importance      float64      `json:"importance"` // 0..10
	ReactionType    ReactionType `json:"reaction_type"`
	ReactionTarget  string       `json:"reaction_target"` // ts | "channel" | "thread:<ts>"
	ReactionContent string       `json:"reaction_content"`
	AddressedToMe   bool         `json:"addressed_to_me"`
	RelatedToMe     bool         `json:"related_to_me"`
	IsInstruction   bool         `json:"is_instruction"`
	Emotion         string       `json:"emotion,omitempty"`
	ContextMeaning  string       `json:"context_meaning,omitempty"`
}

// JudgeResult is the judge LLM operation's response: either the modern
// per-message list, or a single legacy aggregated judgment translated
// defensively into a one-item list (Open Question (i)).
type JudgeResult struct {
	Items []JudgeItem `json:"items"`
}

// InterventionState is the per-channel cooldown/mode state machine (§4.4.3).
type InterventionState struct {
	Active             bool      `json:"active"`
	RemainingTurns     int       `json:"remaining_turns"`
	LastInterventionAt time.Time `json:"last_intervention_at"`
	// RecentTimestamps records recent intervention times for the
	// probability function's freq_factor; entries older than the
	// configured recent window are not counted, and are pruned when a new
	// intervention is recorded.
	RecentTimestamps []time.Time `json:"recent_timestamps"`
}

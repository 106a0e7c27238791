// Package engine implements the EngineAdapter: the streaming-JSON client
// that drives the external, code-executing LLM backend and parses its
// in-band markers into an application-level Result.
package engine

import "encoding/json"

// EventType is the `type` discriminator of one line of the engine's
// streaming JSON protocol.
type EventType string

const (
	EventSystem    EventType = "system"
	EventAssistant EventType = "assistant"
	EventResult    EventType = "result"
	EventCompact   EventType = "compact"
)

// CompactTrigger distinguishes an auto-triggered context compaction from a
// user-requested one.
type CompactTrigger string

const (
	CompactAuto   CompactTrigger = "auto"
	CompactManual CompactTrigger = "manual"
)

// Usage mirrors the engine's token accounting for a single round. Any
// subset of the fields may be zero — in particular a cache-only round may
// report only CacheCreationInputTokens.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// rawEvent is the wire shape of one line of the engine's streaming
// protocol. Fields are looked at selectively depending on Type; unknown
// types are ignored entirely by the caller.
type rawEvent struct {
	Type    EventType `json:"type"`
	Subtype string    `json:"subtype"`

	// system/init
	SessionID string `json:"session_id"`

	// assistant
	Message struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`

	// result
	Result      string `json:"result"`
	Usage       *Usage `json:"usage"`
	Interrupted bool   `json:"interrupted"`

	// compact
	Trigger        CompactTrigger `json:"trigger"`
	CompactMessage string         `json:"message"`
}

// Event is the decoded, typed form of one streaming line, handed to the
// Executor's stream consumer.
type Event struct {
	Type EventType

	// Populated for EventSystem with Subtype "init".
	SessionID string

	// Populated for EventAssistant: the incremental text chunk.
	Text string

	// Populated for EventResult.
	Result      string
	Usage       *Usage
	Interrupted bool

	// Populated for EventCompact.
	CompactTrigger CompactTrigger
	CompactMessage string
}

// ParseLine decodes one line of the streaming protocol. An unrecognized
// type returns (nil, nil) and is ignored by the caller. A non-JSON line
// returns the decode error; the caller skips it too, except that the raw
// line is appended to a debug trace upstream.
func ParseLine(line []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case EventSystem:
		if raw.Subtype != "init" {
			return nil, nil
		}
		return &Event{Type: EventSystem, SessionID: raw.SessionID}, nil
	case EventAssistant:
		var text string
		for _, c := range raw.Message.Content {
			text += c.Text
		}
		if text == "" {
			return nil, nil
		}
		return &Event{Type: EventAssistant, Text: text}, nil
	case EventResult:
		return &Event{
			Type:        EventResult,
			Result:      raw.Result,
			SessionID:   raw.SessionID,
			Usage:       raw.Usage,
			Interrupted: raw.Interrupted,
		}, nil
	case EventCompact:
		return &Event{
			Type:           EventCompact,
			CompactTrigger: raw.Trigger,
			CompactMessage: raw.CompactMessage,
		}, nil
	default:
		return nil, nil
	}
}

// ListRun is a named, forwarded list-run request extracted from a LIST_RUN
// marker.
type ListRun struct {
	Name string
}

// Result is the application-level outcome of one engine call, after
// streaming completes and markers have been extracted from the final
// output.
type Result struct {
	Success     bool
	Output      string
	Error       string
	SessionID   string
	Usage       *Usage
	Interrupted bool

	Files            []string
	Attachments      []string
	ImageGenPrompts  []string
	UpdateRequested  bool
	RestartRequested bool
	ListRun          *ListRun

	// Summary/Details split from <!-- SUMMARY --> / <!-- DETAILS --> hints.
	// Summary is empty when the output carried no such markers, in which
	// case the caller presents Output as-is.
	Summary string
	Details string
}

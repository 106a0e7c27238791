// Package presentation implements the ResultProcessor: the transport-
// agnostic contract that turns a (Context, engine.Result) pair into
// placeholder updates, paginated replies, and marker-triggered side
// effects, per spec §4.6.
package presentation

import (
	"context"
	"time"
)

// Context carries everything the ResultProcessor needs about where a
// result is headed and what placeholder it is replacing. Transport
// handles live on the Transport/SideEffects interfaces, not here — Context
// is pure addressing and timing state.
type Context struct {
	Channel   string
	ThreadTS  string
	MsgTS     string // the triggering user message
	LastMsgTS string // the "thinking" placeholder message, rebindable

	IsChannelRoot bool // true when the placeholder was posted to the channel, not a thread
	RequesterUser string

	PlaceholderSentAt time.Time

	// CompactPlaceholderTS tracks a separate, independently-transitioned
	// auto-compact notification message, when one is in flight.
	CompactPlaceholderTS string
}

// Transport is the messaging surface the ResultProcessor drives. One
// implementation wraps a Slack client; tests use a recording stub.
type Transport interface {
	UpdateMessage(channel, ts, text string) (string, error)
	PostMessage(channel, text, threadTS string) (string, error)
	// ThreadHasNewerMessage reports whether any message authored by
	// someone other than excludeUser has appeared in threadTS strictly
	// after afterTS — the stale-placeholder detector's only query.
	ThreadHasNewerMessage(channel, threadTS, afterTS, excludeUser string) (bool, error)
}

// SideEffects is the set of externally-implemented actions a marker can
// trigger. Each method is independent; a failure in one must not block
// the others from running.
type SideEffects interface {
	GenerateImage(ctx context.Context, channel, threadTS, prompt string) error
	UploadFile(ctx context.Context, channel, threadTS, path string, asAttachment bool) error
	ForwardListRun(ctx context.Context, name string) error
	RequestUpdate(ctx context.Context) error
	RequestRestart(ctx context.Context) error
	ConfirmRestart(ctx context.Context, channel, threadTS string) error
}

// ActiveSessionCounter reports how many sessions currently have a round
// in flight, gating UPDATE/RESTART markers per spec §4.6.
type ActiveSessionCounter interface {
	ActiveSessionCount() int
}

package engine

import (
	"context"
	"time"

	"github.com/oksoyo/slackbroker/internal/session"
)

// InvokeRequest is one engine call's input, built by the Executor.
type InvokeRequest struct {
	ThreadTS  string
	Prompt    string
	SessionID string // empty on a thread's first call
	Role      session.Role
	Policy    ToolPolicy
	Timeout   time.Duration
}

// OnProgress is invoked with the accumulated assistant text after each
// assistant event, throttled by the caller to at most once per interval.
type OnProgress func(text string)

// OnCompact is invoked when a compaction event is observed mid-stream.
type OnCompact func(trigger CompactTrigger, message string)

// Adapter is the EngineAdapter contract: drive one engine round-trip,
// streaming progress and compaction callbacks, and support a best-effort
// out-of-band interrupt addressed by ThreadTS.
type Adapter interface {
	// Invoke runs req to completion (or until ctx is cancelled) and
	// returns the application-level Result. It never returns an error for
	// engine-domain failures — those are represented as Result.Success
	// == false with Result.Error set — but may return an error for
	// programmer-level failures (e.g. a request that cannot be built).
	Invoke(ctx context.Context, req InvokeRequest, onProgress OnProgress, onCompact OnCompact) (*Result, error)

	// Interrupt best-effort-cancels the in-flight call bound to threadTS,
	// if any. It never blocks and never returns an error: the pending
	// prompt queued behind it is the durable record that there is more
	// work to do, whether or not the interrupt lands.
	Interrupt(threadTS string)
}

// buildResult assembles the final Result from a terminal `result` event,
// applying marker extraction to its output string.
func buildResult(output, sessionID string, usage *Usage, interrupted bool) *Result {
	r := &Result{
		Success:     true,
		SessionID:   sessionID,
		Usage:       usage,
		Interrupted: interrupted,
	}
	applyMarkers(r, output)
	return r
}

// errorResult builds a failure Result for engine-domain errors (not found,
// timeout, stream error) that must still flow through ResultProcessor
// rather than propagate as a Go error.
func errorResult(sessionID, reason string, interrupted bool) *Result {
	return &Result{
		Success:     false,
		Error:       reason,
		SessionID:   sessionID,
		Interrupted: interrupted,
	}
}

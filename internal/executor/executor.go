// Package executor drives one engine round-trip per thread, serializing
// concurrent arrivals on the same thread_ts behind a PendingPrompt slot
// instead of a blocking queue, per spec §4.2/§4.3.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oksoyo/slackbroker/internal/audit"
	"github.com/oksoyo/slackbroker/internal/engine"
	"github.com/oksoyo/slackbroker/internal/session"
)

// DeadLetterSink is the narrow audit surface a failed engine round needs:
// just enough to record it for inspection/retry, per spec §4.4.4.
type DeadLetterSink interface {
	SaveDeadLetter(dl *audit.DeadLetter) error
}

// PendingPrompt is the at-most-one-per-thread slot a new arrival overwrites
// while a round is already executing on that thread_ts.
type PendingPrompt struct {
	ChannelID   string
	Prompt      string
	MsgTS       string
	Role        session.Role
	UserMessage string
	SessionID   string
	OnProgress  engine.OnProgress
	OnCompact   engine.OnCompact
	OnResult    func(*engine.Result)
}

// runFlag tracks, per thread_ts, whether a round is currently executing.
// The pending prompt itself lives in the InterventionManager, not here —
// this is just the non-blocking "is the lock held" bit spec §4.2 describes
// as a per-thread acquire-without-blocking attempt.
type runFlag struct {
	mu      sync.Mutex
	running bool
}

// Executor is the per-thread non-blocking execution loop described in spec
// §4.2: a new prompt either starts a round immediately (no round running on
// that thread) or is handed to the InterventionManager to overwrite the
// pending slot, never blocking the caller and never queuing more than one
// prompt deep. Grounded on the teacher's Bridge — activeThreads + semaphore
// + fire-and-forget goroutine shape in internal/bridge/bridge.go —
// generalized from a fixed-size semaphore to one flag per thread_ts, since
// spec requires unlimited concurrent threads but serialized-per-thread
// execution.
type Executor struct {
	adapter      engine.Adapter
	store        *session.Store
	intervention *InterventionManager
	mcpPath      string
	signKey      string
	capTTL       time.Duration
	deadLetters  DeadLetterSink
	logger       zerolog.Logger

	mu    sync.Mutex
	flags map[string]*runFlag
}

// New constructs an Executor driving adapter and persisting round-trip
// effects to store. mcpPath/signKey/capTTL configure the admin capability
// token embedded in admin-role invocations; signKey empty disables it.
// deadLetters may be nil, in which case a failed round is only logged.
func New(adapter engine.Adapter, store *session.Store, mcpPath, signKey string, capTTL time.Duration, deadLetters DeadLetterSink, logger zerolog.Logger) *Executor {
	return &Executor{
		adapter:      adapter,
		store:        store,
		intervention: NewInterventionManager(adapter),
		mcpPath:      mcpPath,
		signKey:      signKey,
		capTTL:       capTTL,
		deadLetters:  deadLetters,
		logger:       logger.With().Str("component", "executor").Logger(),
		flags:        make(map[string]*runFlag),
	}
}

func (x *Executor) flagFor(threadTS string) *runFlag {
	x.mu.Lock()
	defer x.mu.Unlock()
	f, ok := x.flags[threadTS]
	if !ok {
		f = &runFlag{}
		x.flags[threadTS] = f
	}
	return f
}

// Submit hands a prompt to the executor for threadTS. If no round is
// currently running on that thread, it starts one in a new goroutine. If a
// round is already running, it saves p as the pending prompt (overwriting
// any prior one) and fires a best-effort interrupt at the in-flight call —
// spec §4.2 step 2's "build a PendingPrompt... overwriting any prior, then
// fire an asynchronous interrupt" — and the running round will pick it up
// when it finishes.
func (x *Executor) Submit(ctx context.Context, threadTS string, p *PendingPrompt) {
	f := x.flagFor(threadTS)

	f.mu.Lock()
	if f.running {
		x.intervention.SavePending(threadTS, p)
		f.mu.Unlock()
		x.intervention.FireInterrupt(threadTS)
		x.logger.Debug().Str("thread_ts", threadTS).Msg("round in flight, overwriting pending prompt")
		return
	}
	f.running = true
	f.mu.Unlock()

	go x.runLoop(ctx, threadTS, f, p)
}

// ActiveSessionCount returns the number of threads with a round currently
// executing, used by the ResultProcessor to gate UPDATE/RESTART markers.
func (x *Executor) ActiveSessionCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	count := 0
	for _, f := range x.flags {
		f.mu.Lock()
		if f.running {
			count++
		}
		f.mu.Unlock()
	}
	return count
}

// Interrupt best-effort-cancels the in-flight round on threadTS via the
// underlying engine.Adapter. It never blocks: the pending prompt, if any,
// is the durable record that more work remains regardless of whether the
// interrupt actually lands in time.
func (x *Executor) Interrupt(threadTS string) {
	x.intervention.FireInterrupt(threadTS)
}

// runLoop executes p, then pops and executes whatever InterventionManager
// accumulated in the pending slot while it ran, looping until the slot is
// empty — at which point it clears the running flag so the next Submit
// starts a fresh round instead of saving into a slot nobody will drain.
func (x *Executor) runLoop(ctx context.Context, threadTS string, f *runFlag, p *PendingPrompt) {
	current := p
	for current != nil {
		x.runOne(ctx, threadTS, current)

		f.mu.Lock()
		next := x.intervention.PopPending(threadTS)
		if next == nil {
			f.running = false
		}
		f.mu.Unlock()
		current = next
	}
}

func (x *Executor) runOne(ctx context.Context, threadTS string, p *PendingPrompt) {
	policy := engine.ResolveToolPolicy(p.Role, x.mcpConfigFor(threadTS, p.Role))

	req := engine.InvokeRequest{
		ThreadTS:  threadTS,
		Prompt:    p.Prompt,
		SessionID: p.SessionID,
		Role:      p.Role,
		Policy:    policy,
	}

	result, err := x.adapter.Invoke(ctx, req, p.OnProgress, p.OnCompact)
	if err != nil {
		x.logger.Error().Err(err).Str("thread_ts", threadTS).Msg("engine invocation returned an unexpected error")
		x.saveDeadLetter(threadTS, p, err)
		return
	}

	if result.SessionID != "" && result.SessionID != p.SessionID {
		x.store.UpdateSessionID(threadTS, result.SessionID)
	}
	x.store.IncrementMessageCount(threadTS)

	if p.OnResult != nil {
		p.OnResult(result)
	}
}

// saveDeadLetter records a failed engine round for later replay. A no-op
// when no sink was configured; failures to save are themselves just logged,
// since the round has already failed and there is nothing further to do.
func (x *Executor) saveDeadLetter(threadTS string, p *PendingPrompt, invokeErr error) {
	if x.deadLetters == nil {
		return
	}
	dl := &audit.DeadLetter{
		ID:            uuid.New().String(),
		TargetChannel: p.ChannelID,
		TargetThread:  threadTS,
		Kind:          audit.DeadLetterEngineRound,
		Message:       p.Prompt,
		Error:         invokeErr.Error(),
		NextRetryAt:   time.Now().Add(5 * time.Minute).UnixMilli(),
	}
	if err := x.deadLetters.SaveDeadLetter(dl); err != nil {
		x.logger.Warn().Err(err).Str("thread_ts", threadTS).Msg("failed to record dead letter for failed engine round")
	}
}

// mcpConfigFor returns the admin MCP configuration path for threadTS, with
// a freshly signed capability token appended as a query parameter, or ""
// for a non-admin role or when capability signing is disabled.
func (x *Executor) mcpConfigFor(threadTS string, role session.Role) string {
	if role != session.RoleAdmin || x.mcpPath == "" || x.signKey == "" {
		return ""
	}
	token, err := engine.SignCapability(x.signKey, threadTS, role, x.capTTL)
	if err != nil {
		x.logger.Warn().Err(err).Str("thread_ts", threadTS).Msg("failed to sign capability token, admin MCP disabled for this round")
		return ""
	}
	return x.mcpPath + "?token=" + token
}

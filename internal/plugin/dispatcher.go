package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oksoyo/slackbroker/internal/audit"
)

// DeadLetterSink is the narrow audit surface a failed hook dispatch needs.
type DeadLetterSink interface {
	SaveDeadLetter(dl *audit.DeadLetter) error
}

// DispatchContext carries the outcome of one hook's full dispatch: the
// accumulated Continue-result values, in handler order, and whether a
// handler requested Stop.
type DispatchContext struct {
	Values  []any
	Stopped bool
}

// HookDispatcher runs every handler registered for a hook name in
// descending-priority order, isolating each handler's panics/errors from
// the rest of the chain, per spec §4.7. Grounded on the teacher's
// Coordinator.Broadcast concurrent fan-out pattern, adapted to be ordered
// and short-circuiting rather than fully concurrent, since STOP/SKIP
// semantics require running handlers in a defined sequence.
type HookDispatcher struct {
	mu          sync.RWMutex
	hooks       map[string][]RegisteredHook
	deadLetters DeadLetterSink
	logger      zerolog.Logger
}

// NewHookDispatcher constructs a dispatcher. Until WithDeadLetters attaches
// a sink, a failed handler is only logged.
func NewHookDispatcher(logger zerolog.Logger) *HookDispatcher {
	return &HookDispatcher{
		hooks:  make(map[string][]RegisteredHook),
		logger: logger.With().Str("component", "hook_dispatcher").Logger(),
	}
}

// WithDeadLetters attaches an audit sink for failed handler invocations,
// returning d for chaining at construction time.
func (d *HookDispatcher) WithDeadLetters(sink DeadLetterSink) *HookDispatcher {
	d.deadLetters = sink
	return d
}

// Register adds hook to the dispatch chain for name, keeping handlers
// sorted by descending priority (stable across equal priorities, in
// registration order).
func (d *HookDispatcher) Register(name string, hook RegisteredHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks[name] = append(d.hooks[name], hook)
	sort.SliceStable(d.hooks[name], func(i, j int) bool {
		return d.hooks[name][i].Priority > d.hooks[name][j].Priority
	})
}

// Unregister removes every hook owned by owner across all hook names,
// used when a plugin is unloaded.
func (d *HookDispatcher) Unregister(owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, hooks := range d.hooks {
		kept := hooks[:0]
		for _, h := range hooks {
			if h.Owner != owner {
				kept = append(kept, h)
			}
		}
		d.hooks[name] = kept
	}
}

// Dispatch runs every handler registered for name until one returns Stop
// or the chain is exhausted. A handler that panics or returns an error is
// logged and treated as Skip — it never aborts the rest of the chain.
func (d *HookDispatcher) Dispatch(ctx context.Context, name string, payload any) DispatchContext {
	d.mu.RLock()
	hooks := append([]RegisteredHook(nil), d.hooks[name]...)
	d.mu.RUnlock()

	result := DispatchContext{}
	for _, h := range hooks {
		verdict, value, err := d.invoke(ctx, h, payload)
		if err != nil {
			d.logger.Warn().Err(err).Str("hook", name).Str("owner", h.Owner).Msg("hook handler failed, continuing chain")
			d.saveDeadLetter(name, h.Owner, err)
			continue
		}
		switch verdict {
		case Continue:
			result.Values = append(result.Values, value)
		case Skip:
			// value intentionally omitted
		case Stop:
			result.Values = append(result.Values, value)
			result.Stopped = true
			return result
		}
	}
	return result
}

// saveDeadLetter records a failed hook invocation for inspection. The
// original payload is opaque to the dispatcher, so unlike an engine round
// this cannot be automatically replayed — it exists for operator visibility
// and manual follow-up.
func (d *HookDispatcher) saveDeadLetter(hook, owner string, cause error) {
	if d.deadLetters == nil {
		return
	}
	dl := &audit.DeadLetter{
		ID:      uuid.New().String(),
		Kind:    audit.DeadLetterPluginHook,
		Message: fmt.Sprintf("hook=%s owner=%s", hook, owner),
		Error:   cause.Error(),
	}
	if err := d.deadLetters.SaveDeadLetter(dl); err != nil {
		d.logger.Warn().Err(err).Str("hook", hook).Str("owner", owner).Msg("failed to record dead letter for failed hook handler")
	}
}

// invoke isolates a single handler's panic so one broken plugin can never
// abort the rest of the dispatch chain.
func (d *HookDispatcher) invoke(ctx context.Context, h RegisteredHook, payload any) (verdict HookResult, value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook handler panicked: %v", r)
		}
	}()
	return h.Handler(ctx, payload)
}

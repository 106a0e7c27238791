package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksoyo/slackbroker/internal/audit"
)

type fakeDeadLetterSink struct {
	mu    sync.Mutex
	saved []*audit.DeadLetter
}

func (s *fakeDeadLetterSink) SaveDeadLetter(dl *audit.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, dl)
	return nil
}

func handler(result HookResult, value any, err error) Handler {
	return func(ctx context.Context, payload any) (HookResult, any, error) {
		return result, value, err
	}
}

func TestDispatch_RunsInDescendingPriorityOrder(t *testing.T) {
	d := NewHookDispatcher(zerolog.Nop())
	var order []string

	d.Register(HookOnMessage, RegisteredHook{Priority: 1, Owner: "low", Handler: func(ctx context.Context, payload any) (HookResult, any, error) {
		order = append(order, "low")
		return Continue, nil, nil
	}})
	d.Register(HookOnMessage, RegisteredHook{Priority: 10, Owner: "high", Handler: func(ctx context.Context, payload any) (HookResult, any, error) {
		order = append(order, "high")
		return Continue, nil, nil
	}})

	d.Dispatch(context.Background(), HookOnMessage, nil)
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestDispatch_StopShortCircuits(t *testing.T) {
	d := NewHookDispatcher(zerolog.Nop())
	var ran []string

	d.Register(HookOnMessage, RegisteredHook{Priority: 10, Owner: "first", Handler: func(ctx context.Context, payload any) (HookResult, any, error) {
		ran = append(ran, "first")
		return Stop, "stopped-here", nil
	}})
	d.Register(HookOnMessage, RegisteredHook{Priority: 5, Owner: "second", Handler: func(ctx context.Context, payload any) (HookResult, any, error) {
		ran = append(ran, "second")
		return Continue, nil, nil
	}})

	result := d.Dispatch(context.Background(), HookOnMessage, nil)
	assert.Equal(t, []string{"first"}, ran)
	assert.True(t, result.Stopped)
	assert.Equal(t, []any{"stopped-here"}, result.Values)
}

func TestDispatch_SkipOmitsValueButContinues(t *testing.T) {
	d := NewHookDispatcher(zerolog.Nop())
	d.Register(HookOnMessage, RegisteredHook{Priority: 10, Owner: "skipper", Handler: handler(Skip, "should not appear", nil)})
	d.Register(HookOnMessage, RegisteredHook{Priority: 5, Owner: "continuer", Handler: handler(Continue, "kept", nil)})

	result := d.Dispatch(context.Background(), HookOnMessage, nil)
	assert.Equal(t, []any{"kept"}, result.Values)
	assert.False(t, result.Stopped)
}

func TestDispatch_HandlerErrorIsolatedFromChain(t *testing.T) {
	d := NewHookDispatcher(zerolog.Nop())
	d.Register(HookOnMessage, RegisteredHook{Priority: 10, Owner: "broken", Handler: handler(Continue, nil, errors.New("boom"))})
	d.Register(HookOnMessage, RegisteredHook{Priority: 5, Owner: "fine", Handler: handler(Continue, "still ran", nil)})

	result := d.Dispatch(context.Background(), HookOnMessage, nil)
	assert.Equal(t, []any{"still ran"}, result.Values)
}

func TestDispatch_HandlerErrorSavesDeadLetter(t *testing.T) {
	sink := &fakeDeadLetterSink{}
	d := NewHookDispatcher(zerolog.Nop()).WithDeadLetters(sink)
	d.Register(HookOnMessage, RegisteredHook{Priority: 10, Owner: "broken", Handler: handler(Continue, nil, errors.New("boom"))})

	d.Dispatch(context.Background(), HookOnMessage, nil)

	require.Len(t, sink.saved, 1)
	assert.Equal(t, audit.DeadLetterPluginHook, sink.saved[0].Kind)
	assert.Equal(t, "boom", sink.saved[0].Error)
	assert.Contains(t, sink.saved[0].Message, "broken")
}

func TestDispatch_HandlerPanicIsolatedFromChain(t *testing.T) {
	d := NewHookDispatcher(zerolog.Nop())
	d.Register(HookOnMessage, RegisteredHook{Priority: 10, Owner: "panics", Handler: func(ctx context.Context, payload any) (HookResult, any, error) {
		panic("unexpected")
	}})
	d.Register(HookOnMessage, RegisteredHook{Priority: 5, Owner: "fine", Handler: handler(Continue, "survived", nil)})

	result := d.Dispatch(context.Background(), HookOnMessage, nil)
	assert.Equal(t, []any{"survived"}, result.Values)
}

func TestUnregister_RemovesOnlyOwnedHooks(t *testing.T) {
	d := NewHookDispatcher(zerolog.Nop())
	d.Register(HookOnMessage, RegisteredHook{Priority: 10, Owner: "mine", Handler: handler(Continue, "mine", nil)})
	d.Register(HookOnMessage, RegisteredHook{Priority: 5, Owner: "theirs", Handler: handler(Continue, "theirs", nil)})

	d.Unregister("mine")

	result := d.Dispatch(context.Background(), HookOnMessage, nil)
	assert.Equal(t, []any{"theirs"}, result.Values)
}

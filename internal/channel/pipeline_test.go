package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksoyo/slackbroker/internal/llm"
	"github.com/oksoyo/slackbroker/internal/mention"
)

type stubLLM struct {
	response llm.Response
	err      error
	release  chan struct{}

	mu    sync.Mutex
	calls int
}

func (s *stubLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	r := s.response
	return &r, nil
}

func (s *stubLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubLLM) DefaultModel() string { return "stub-model" }

type stubReactor struct {
	reactions []string
	posts     []string
}

func (r *stubReactor) AddReaction(channelID, ts, emoji string) error {
	r.reactions = append(r.reactions, ts+":"+emoji)
	return nil
}

func (r *stubReactor) PostMessage(channelID, text, threadTS string) (string, error) {
	r.posts = append(r.posts, text)
	return "posted-ts", nil
}

func newTestPipeline(t *testing.T, client llm.Client, reactor Reactor, cfg Config) (*Pipeline, *Store) {
	t.Helper()
	store := New(t.TempDir(), zerolog.Nop())
	ops := NewOps(client, "")
	return NewPipeline(store, ops, mention.New(time.Minute), reactor, nil, cfg, zerolog.Nop()), store
}

func baseConfig() Config {
	return Config{
		ThresholdA:            5,
		ThresholdB:            1000,
		DigestMaxTokens:       2000,
		CompressTarget:        500,
		InterventionThreshold: 0.3,
		InterventionCooldown:  time.Hour,
		RecentWindow:          time.Hour,
	}
}

func TestShouldTrigger_TriggerWord(t *testing.T) {
	p, _ := newTestPipeline(t, &stubLLM{}, &stubReactor{}, baseConfig())
	p.cfg.TriggerWords = []string{"help"}
	assert.True(t, p.shouldTrigger(nil, "can someone HELP me"))
	assert.False(t, p.shouldTrigger(nil, "nothing special"))
}

func TestShouldTrigger_TokenThreshold(t *testing.T) {
	p, _ := newTestPipeline(t, &stubLLM{}, &stubReactor{}, baseConfig())
	var pending []Message
	for i := 0; i < 50; i++ {
		pending = append(pending, Message{Text: "a reasonably long message to accumulate tokens quickly"})
	}
	assert.True(t, p.shouldTrigger(pending, ""))
}

// TestEvaluateIntervention_Scenario4 reproduces the literal numeric example:
// time_factor≈0.1175, freq_factor≈0.625, probability≈0.0734, final≈0.0587,
// passed=false (threshold 0.3).
func TestEvaluateIntervention_Scenario4(t *testing.T) {
	p, _ := newTestPipeline(t, &stubLLM{}, &stubReactor{}, baseConfig())
	now := time.Now().UTC()
	state := InterventionState{
		LastInterventionAt: now.Add(-5 * time.Minute),
		RecentTimestamps:   []time.Time{now.Add(-10 * time.Minute), now.Add(-20 * time.Minute)},
	}
	passed, finalScore := p.evaluateIntervention(state, 8.0)
	assert.False(t, passed)
	assert.InDelta(t, 0.0587, finalScore, 0.002)
}

func TestEvaluateIntervention_NeverIntervenedPassesEasily(t *testing.T) {
	p, _ := newTestPipeline(t, &stubLLM{}, &stubReactor{}, baseConfig())
	passed, finalScore := p.evaluateIntervention(InterventionState{}, 9.0)
	assert.True(t, passed)
	assert.InDelta(t, 0.9, finalScore, 0.001)
}

func TestRun_MentionFilteredMessagesStillProgress(t *testing.T) {
	judgeResp := `[]`
	client := &stubLLM{response: llm.Response{Text: judgeResp}}
	p, store := newTestPipeline(t, client, &stubReactor{}, baseConfig())

	tracker := mention.New(time.Minute)
	tracker.Mark("t1")
	p.mention = tracker

	msg := Message{TS: "1.1", ThreadTS: "t1", User: "u1", Text: "hello"}
	require.NoError(t, store.AppendPending("C1", msg))

	require.NoError(t, p.run(context.Background(), "C1"))

	pending, err := store.ReadPending("C1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	judged, err := store.ReadJudged("C1")
	require.NoError(t, err)
	assert.Len(t, judged, 1)

	assert.Equal(t, 0, client.callCount(), "judge must not be called when every message is mention-filtered")
}

func TestRun_ReactExecutesImmediately(t *testing.T) {
	judgeResp := `[{"ts":"1.1","importance":5,"reaction_type":"react","reaction_target":"1.1","reaction_content":"+1"}]`
	client := &stubLLM{response: llm.Response{Text: judgeResp}}
	reactor := &stubReactor{}
	p, store := newTestPipeline(t, client, reactor, baseConfig())

	msg := Message{TS: "1.1", User: "u1", Text: "nice work"}
	require.NoError(t, store.AppendPending("C1", msg))

	require.NoError(t, p.run(context.Background(), "C1"))
	require.Len(t, reactor.reactions, 1)
	assert.Equal(t, "1.1:+1", reactor.reactions[0])
	assert.Empty(t, reactor.posts)
}

func TestRun_JudgeFailureLeavesPendingUntouched(t *testing.T) {
	client := &stubLLM{err: assertErr{}}
	p, store := newTestPipeline(t, client, &stubReactor{}, baseConfig())

	msg := Message{TS: "1.1", User: "u1", Text: "hello"}
	require.NoError(t, store.AppendPending("C1", msg))

	err := p.run(context.Background(), "C1")
	assert.Error(t, err)

	pending, rerr := store.ReadPending("C1")
	require.NoError(t, rerr)
	assert.Len(t, pending, 1, "pending must remain uncommitted after a judge failure")
}

type assertErr struct{}

func (assertErr) Error() string { return "llm unavailable" }

func TestRun_ConcurrentCallsCoalesceToOnePass(t *testing.T) {
	client := &stubLLM{response: llm.Response{Text: "[]"}, release: make(chan struct{})}
	p, store := newTestPipeline(t, client, &stubReactor{}, baseConfig())
	require.NoError(t, store.AppendPending("C1", Message{TS: "1.1", Text: "hi"}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(context.Background(), "C1")
		}()
	}

	require.Eventually(t, func() bool { return client.callCount() >= 1 }, time.Second, time.Millisecond)
	close(client.release)
	wg.Wait()

	assert.Equal(t, 1, client.callCount(), "concurrent triggers must coalesce into exactly one judge call")

	pending, err := store.ReadPending("C1")
	require.NoError(t, err)
	assert.Empty(t, pending, "the single coalesced pass must have committed pending into judged")

	judged, err := store.ReadJudged("C1")
	require.NoError(t, err)
	assert.Len(t, judged, 1)
}

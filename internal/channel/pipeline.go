package channel

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/oksoyo/slackbroker/internal/mention"
	"github.com/oksoyo/slackbroker/internal/tokencount"
)

// Config holds the channel pipeline's tunable thresholds, all sourced from
// internal/config.Config.
type Config struct {
	ThresholdA            int // tokens(pending) trigger
	ThresholdB            int // tokens(judged)+tokens(pending) digest fold-in trigger
	DigestMaxTokens       int
	CompressTarget        int
	TriggerWords          []string
	InterventionThreshold float64
	InterventionCooldown  time.Duration
	RecentWindow          time.Duration
}

// Reactor is the transport surface the pipeline drives: one emoji reaction
// per react verdict, one posted message per successful intervention.
type Reactor interface {
	AddReaction(channelID, ts, emoji string) error
	PostMessage(channelID, text, threadTS string) (string, error)
}

// DebugSink receives structured trace records for observability. Send
// failures must never disrupt the pipeline, so Trace has no error return —
// implementations are expected to swallow and log their own failures.
type DebugSink interface {
	Trace(event string, fields map[string]any)
}

type noopDebugSink struct{}

func (noopDebugSink) Trace(string, map[string]any) {}

// Pipeline is the ChannelPipeline: a per-channel lurker judging new
// messages for importance and selectively reacting or intervening.
// Cooperatively single-flight per channel via a singleflight.Group keyed
// by channel_id — additional triggers while a run is in progress join that
// run instead of starting another, so they are dropped, not queued.
type Pipeline struct {
	store   *Store
	ops     *Ops
	mention *mention.Tracker
	reactor Reactor
	debug   DebugSink
	cfg     Config
	logger  zerolog.Logger

	sf singleflight.Group
}

// NewPipeline constructs a Pipeline. debug may be nil, in which case trace events
// are discarded.
func NewPipeline(store *Store, ops *Ops, mentionTracker *mention.Tracker, reactor Reactor, debug DebugSink, cfg Config, logger zerolog.Logger) *Pipeline {
	if debug == nil {
		debug = noopDebugSink{}
	}
	return &Pipeline{
		store:   store,
		ops:     ops,
		mention: mentionTracker,
		reactor: reactor,
		debug:   debug,
		cfg:     cfg,
		logger:  logger.With().Str("component", "channel_pipeline").Logger(),
	}
}

// OnMessage records an arriving channel message and, if it crosses
// threshold_a or contains a trigger word, runs the pipeline. Intended to be
// called from the message-ingress path for every non-mention, non-session,
// non-DM message in a monitored channel.
func (p *Pipeline) OnMessage(ctx context.Context, channelID string, msg Message) error {
	if err := p.store.AppendPending(channelID, msg); err != nil {
		return fmt.Errorf("recording pending message: %w", err)
	}
	if msg.ThreadTS != "" {
		if err := p.store.AppendThreadBuffer(channelID, msg.ThreadTS, msg); err != nil {
			p.logger.Warn().Err(err).Str("thread_ts", msg.ThreadTS).Msg("failed to append thread buffer")
		}
	}

	pending, err := p.store.ReadPending(channelID)
	if err != nil {
		return fmt.Errorf("reading pending for trigger check: %w", err)
	}
	if p.shouldTrigger(pending, msg.Text) {
		p.Run(ctx, channelID)
	}
	return nil
}

func (p *Pipeline) shouldTrigger(pending []Message, lastText string) bool {
	var texts []string
	for _, m := range pending {
		texts = append(texts, m.Text)
	}
	if tokencount.CountAll(texts...) >= p.cfg.ThresholdA {
		return true
	}
	lower := strings.ToLower(lastText)
	for _, w := range p.cfg.TriggerWords {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// Run executes one pipeline pass for channelID. Concurrent calls for the
// same channelID coalesce onto a single in-flight pass via singleflight —
// a caller that joins an already-running pass is the "dropped, not queued"
// trigger spec's cooperative single-flight design calls for, since it never
// causes a second pass to start.
func (p *Pipeline) Run(ctx context.Context, channelID string) {
	_, err, shared := p.sf.Do(channelID, func() (any, error) {
		return nil, p.run(ctx, channelID)
	})
	if shared {
		p.debug.Trace("channel_pipeline_skip", map[string]any{"channel_id": channelID, "reason": "coalesced with in-flight run"})
		return
	}
	if err != nil {
		p.logger.Error().Err(err).Str("channel_id", channelID).Msg("channel pipeline run failed, no state committed")
		p.debug.Trace("channel_pipeline_error", map[string]any{"channel_id": channelID, "error": err.Error()})
	}
}

func (p *Pipeline) run(ctx context.Context, channelID string) error {
	pending, err := p.store.ReadPending(channelID)
	if err != nil {
		return fmt.Errorf("reading pending: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	if err := p.foldDigest(ctx, channelID); err != nil {
		return err
	}

	judged, err := p.store.ReadJudged(channelID)
	if err != nil {
		return fmt.Errorf("reading judged: %w", err)
	}
	digest, err := p.store.ReadDigest(channelID)
	if err != nil {
		return fmt.Errorf("reading digest: %w", err)
	}

	threadBuffers, filteredPending, threadTSsIncluded := p.collectThreadContext(channelID, pending)

	// Mention-filter pre-step: messages handled by the direct-mention path
	// still progress through the pipeline but are never shown to the judge.
	var visible []Message
	for _, m := range filteredPending {
		key := m.ThreadTS
		if key == "" {
			key = m.TS
		}
		if p.mention != nil && p.mention.IsMarked(key) {
			continue
		}
		visible = append(visible, m)
	}

	var result *JudgeResult
	if len(visible) > 0 {
		result, err = p.ops.Judge(ctx, channelID, digest, judged, visible, threadBuffers, "")
		if err != nil {
			return fmt.Errorf("judge operation: %w", err)
		}
		p.debug.Trace("channel_pipeline_judge", map[string]any{"channel_id": channelID, "items": len(result.Items)})
	} else {
		result = &JudgeResult{}
	}

	p.executeReactions(ctx, channelID, result.Items, digest)

	// Post-run housekeeping: move pending into judged and clear the
	// thread-buffer entries that were included, regardless of whether any
	// messages were visible to the judge — every message still progresses.
	if err := p.store.MovePendingToJudged(channelID); err != nil {
		return fmt.Errorf("moving pending to judged: %w", err)
	}
	if err := p.store.ClearThreadBuffers(channelID, threadTSsIncluded); err != nil {
		p.logger.Warn().Err(err).Msg("failed to clear thread buffers, will retry next run")
	}
	return nil
}

// collectThreadContext gathers each pending message's thread buffer and
// returns the set of thread_ts values to clear afterward. filteredPending
// is returned unchanged — the filtering that matters (mention tracking) is
// applied by the caller, not here.
func (p *Pipeline) collectThreadContext(channelID string, pending []Message) (map[string][]Message, []Message, []string) {
	threadBuffers := make(map[string][]Message)
	seen := make(map[string]bool)
	var threadTSs []string
	for _, m := range pending {
		if m.ThreadTS == "" || seen[m.ThreadTS] {
			continue
		}
		seen[m.ThreadTS] = true
		buf, err := p.store.ReadThreadBuffer(channelID, m.ThreadTS)
		if err != nil {
			p.logger.Warn().Err(err).Str("thread_ts", m.ThreadTS).Msg("failed to read thread buffer")
			continue
		}
		threadBuffers[m.ThreadTS] = buf
		threadTSs = append(threadTSs, m.ThreadTS)
	}
	return threadBuffers, pending, threadTSs
}

// foldDigest implements §4.4.1's digest fold-in: refresh the digest from
// judged when the combined token count crosses threshold_b, then compress
// if the refreshed digest itself exceeds digest_max_tokens.
func (p *Pipeline) foldDigest(ctx context.Context, channelID string) error {
	judged, err := p.store.ReadJudged(channelID)
	if err != nil {
		return fmt.Errorf("reading judged: %w", err)
	}
	pending, err := p.store.ReadPending(channelID)
	if err != nil {
		return fmt.Errorf("reading pending: %w", err)
	}
	if len(judged) == 0 {
		return nil
	}

	var texts []string
	for _, m := range judged {
		texts = append(texts, m.Text)
	}
	for _, m := range pending {
		texts = append(texts, m.Text)
	}
	if tokencount.CountAll(texts...) <= p.cfg.ThresholdB {
		return nil
	}

	existing, err := p.store.ReadDigest(channelID)
	if err != nil {
		return fmt.Errorf("reading digest: %w", err)
	}

	refreshed, err := p.ops.Digest(ctx, channelID, existing, judged)
	if err != nil {
		return fmt.Errorf("digest operation: %w", err)
	}
	refreshed.TokenCount = tokencount.Count(refreshed.Content)
	refreshed.LastDigestedAt = time.Now().UTC()

	if refreshed.TokenCount > p.cfg.DigestMaxTokens {
		over := refreshed.TokenCount - p.cfg.CompressTarget
		feedback := fmt.Sprintf("Your previous digest exceeded the target by %d tokens. Compress harder.", over)
		compressed, err := p.ops.Compress(ctx, refreshed, p.cfg.CompressTarget, feedback)
		if err != nil {
			return fmt.Errorf("compress operation: %w", err)
		}
		compressed.TokenCount = tokencount.Count(compressed.Content)
		compressed.LastDigestedAt = refreshed.LastDigestedAt
		compressed.LastCompressedAt = time.Now().UTC()
		refreshed = compressed
	}

	if err := p.store.WriteDigest(channelID, refreshed); err != nil {
		return fmt.Errorf("writing digest: %w", err)
	}
	return p.store.ClearJudged(channelID)
}

// executeReactions splits judge items into react (immediate, unconditional)
// and intervene (probability-gated, at most one per run) per spec §4.4.2.
func (p *Pipeline) executeReactions(ctx context.Context, channelID string, items []JudgeItem, digest Digest) {
	var interveneCandidates []JudgeItem
	for _, item := range items {
		switch item.ReactionType {
		case ReactionReact:
			if p.reactor == nil {
				continue
			}
			if err := p.reactor.AddReaction(channelID, item.ReactionTarget, item.ReactionContent); err != nil {
				p.logger.Warn().Err(err).Str("target", item.ReactionTarget).Msg("failed to add reaction")
			}
		case ReactionIntervene:
			interveneCandidates = append(interveneCandidates, item)
		}
	}
	if len(interveneCandidates) == 0 {
		return
	}

	best := interveneCandidates[0]
	for _, c := range interveneCandidates[1:] {
		if c.Importance > best.Importance {
			best = c
		}
	}

	state, err := p.store.ReadInterventionState(channelID)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to read intervention state, skipping intervention")
		return
	}

	passed, finalScore := p.evaluateIntervention(state, best.Importance)
	p.debug.Trace("channel_pipeline_intervention_probability", map[string]any{
		"channel_id": channelID, "importance": best.Importance, "final_score": finalScore, "passed": passed,
	})
	if !passed {
		return
	}

	text := best.ReactionContent
	if p.ops != nil {
		trigger := Message{TS: best.TS, Text: best.ReactionContent}
		if resp, err := p.ops.InterventionResponse(ctx, digest, trigger, nil); err == nil && resp != "" {
			text = resp
		}
	}

	target := best.ReactionTarget
	threadTS := ""
	if strings.HasPrefix(target, "thread:") {
		threadTS = strings.TrimPrefix(target, "thread:")
	}

	if p.reactor == nil {
		return
	}
	if _, err := p.reactor.PostMessage(channelID, text, threadTS); err != nil {
		p.logger.Warn().Err(err).Msg("failed to post intervention, cooldown not advanced")
		return
	}

	// Cooldown is advanced only on successful send.
	now := time.Now().UTC()
	state.LastInterventionAt = now
	state.RecentTimestamps = pruneOld(append(state.RecentTimestamps, now), p.cfg.RecentWindow, now)
	if !state.Active {
		state.Active = true
		state.RemainingTurns = 3
	} else {
		state.RemainingTurns--
		if state.RemainingTurns <= 0 {
			state.Active = false
		}
	}
	if err := p.store.WriteInterventionState(channelID, state); err != nil {
		p.logger.Warn().Err(err).Msg("failed to persist intervention state after successful send")
	}
}

func pruneOld(ts []time.Time, window time.Duration, now time.Time) []time.Time {
	var out []time.Time
	for _, t := range ts {
		if now.Sub(t) <= window {
			out = append(out, t)
		}
	}
	return out
}

// evaluateIntervention applies spec §4.4.3's two-state cooldown machine on
// top of §4.4.2's probability formula. final_score is always computed from
// the formula (so debug traces stay meaningful), but whether it actually
// passes depends on state:
//
//   - active: message-type actions are always permitted — the bot is
//     already in a side-conversation, so the probability gate is bypassed
//     entirely.
//   - idle: can_intervene = (now − last_intervention_at > cooldown) first;
//     only once that coarse gate is open does final_score ≥ threshold decide.
//
// Formula: time_factor = 1 − exp(−mins_since/40), freq_factor =
// 1/(1+0.3·recent), probability = time_factor·freq_factor,
// final_score = (importance/10)·probability.
func (p *Pipeline) evaluateIntervention(state InterventionState, importance float64) (passed bool, finalScore float64) {
	now := time.Now().UTC()
	var minsSince float64 = math.Inf(1)
	if !state.LastInterventionAt.IsZero() {
		minsSince = now.Sub(state.LastInterventionAt).Minutes()
	}
	recent := len(pruneOld(state.RecentTimestamps, p.cfg.RecentWindow, now))

	timeFactor := 1.0
	if !math.IsInf(minsSince, 1) {
		timeFactor = 1 - math.Exp(-minsSince/40.0)
	}
	freqFactor := 1.0 / (1.0 + 0.3*float64(recent))
	probability := timeFactor * freqFactor
	finalScore = (importance / 10.0) * probability

	if state.Active {
		return true, finalScore
	}
	if !state.LastInterventionAt.IsZero() && now.Sub(state.LastInterventionAt) <= p.cfg.InterventionCooldown {
		return false, finalScore
	}
	threshold := p.cfg.InterventionThreshold
	if threshold == 0 {
		threshold = 0.3
	}
	return finalScore >= threshold, finalScore
}

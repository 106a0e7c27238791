package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oksoyo/slackbroker/internal/llm"
)

// Ops wraps an llm.Client with the channel pipeline's four named LLM
// operations (digest, compress, judge, intervention-responder), each a
// single-shot completion with a task-specific system prompt. Grounded on
// the judge/digest/compress split spec §4.4 names explicitly.
type Ops struct {
	client          llm.Client
	compressorModel string
}

// NewOps constructs an Ops. compressorModel, when non-empty, is used for
// the second-round digest compression instead of client's default model —
// Open Question (ii): the compressor deliberately runs a distinct, higher-
// quality model than the per-message judge.
func NewOps(client llm.Client, compressorModel string) *Ops {
	return &Ops{client: client, compressorModel: compressorModel}
}

func formatMessages(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.TS, m.User, m.Text)
	}
	return b.String()
}

// Digest folds judgedMessages into existing, returning a refreshed digest.
func (o *Ops) Digest(ctx context.Context, channelID string, existing Digest, judgedMessages []Message) (Digest, error) {
	prompt := fmt.Sprintf(
		"Existing channel digest:\n%s\n\nNew messages to fold in:\n%s\n\nProduce an updated digest that preserves the important context of the existing digest plus these new messages. Respond with the digest text only.",
		existing.Content, formatMessages(judgedMessages))

	resp, err := o.client.Complete(ctx, llm.Request{
		SystemPrompt: "You maintain a running summary of a Slack channel's conversation for an observing assistant.",
		Prompt:       prompt,
	})
	if err != nil {
		return Digest{}, fmt.Errorf("digest operation: %w", err)
	}
	return Digest{Content: resp.Text}, nil
}

// Compress shrinks d to roughly targetTokens, using the compressor model
// when configured. May be called a second time with explicit over-target
// feedback, per spec §4.4.1.
func (o *Ops) Compress(ctx context.Context, d Digest, targetTokens int, feedback string) (Digest, error) {
	prompt := fmt.Sprintf("Digest to compress (target ~%d tokens):\n%s", targetTokens, d.Content)
	if feedback != "" {
		prompt = feedback + "\n\n" + prompt
	}
	resp, err := o.client.Complete(ctx, llm.Request{
		SystemPrompt: "You compress a channel digest to fit a token budget without losing load-bearing context.",
		Prompt:       prompt,
		Model:        o.compressorModel,
	})
	if err != nil {
		return Digest{}, fmt.Errorf("compress operation: %w", err)
	}
	return Digest{Content: resp.Text}, nil
}

// legacyJudgment is the aggregated, pre-per-message judge response shape.
// Translated defensively into a single JudgeItem per Open Question (i).
type legacyJudgment struct {
	Importance      float64      `json:"importance"`
	ReactionType    ReactionType `json:"reaction_type"`
	ReactionTarget  string       `json:"reaction_target"`
	ReactionContent string       `json:"reaction_content"`
}

// Judge returns per-message verdicts for pendingMessages. judgedRecent
// gives the judge short-term context beyond the digest; threadBuffers
// supplies reply context scoped by thread_ts.
func (o *Ops) Judge(ctx context.Context, channelID string, digest Digest, judgedRecent, pendingMessages []Message, threadBuffers map[string][]Message, botUserID string) (*JudgeResult, error) {
	var threadCtx strings.Builder
	for ts, msgs := range threadBuffers {
		fmt.Fprintf(&threadCtx, "thread %s:\n%s\n", ts, formatMessages(msgs))
	}

	prompt := fmt.Sprintf(
		"Channel digest:\n%s\n\nRecent judged context:\n%s\n\nThread context:\n%s\n\nMessages to judge (bot user id %s):\n%s\n\n"+
			"Respond with a JSON array of objects, one per message, each with fields: "+
			"ts, importance (0-10), reaction_type (none|react|intervene), reaction_target, reaction_content, "+
			"addressed_to_me, related_to_me, is_instruction, emotion, context_meaning.",
		digest.Content, formatMessages(judgedRecent), threadCtx.String(), botUserID, formatMessages(pendingMessages))

	resp, err := o.client.Complete(ctx, llm.Request{
		SystemPrompt: "You judge Slack messages for an observing assistant deciding whether to react or intervene.",
		Prompt:       prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("judge operation: %w", err)
	}

	var items []JudgeItem
	if err := json.Unmarshal([]byte(resp.Text), &items); err == nil {
		return &JudgeResult{Items: items}, nil
	}

	// Modern per-message parse failed; try the legacy single-object shape
	// and translate it into a one-item list scoped to the last message —
	// the aggregated judgment has no per-message ts of its own.
	var legacy legacyJudgment
	if err := json.Unmarshal([]byte(resp.Text), &legacy); err != nil {
		return nil, fmt.Errorf("judge response was neither modern nor legacy shape: %w", err)
	}
	if len(pendingMessages) == 0 {
		return &JudgeResult{}, nil
	}
	last := pendingMessages[len(pendingMessages)-1]
	return &JudgeResult{Items: []JudgeItem{{
		TS:              last.TS,
		Importance:      legacy.Importance,
		ReactionType:    legacy.ReactionType,
		ReactionTarget:  legacy.ReactionTarget,
		ReactionContent: legacy.ReactionContent,
	}}}, nil
}

// InterventionResponse regenerates a response conditioned on digest,
// trigger message, and nearby context, used when a dedicated intervention
// LLM is wired rather than posting the judge's draft verbatim.
func (o *Ops) InterventionResponse(ctx context.Context, digest Digest, trigger Message, nearby []Message) (string, error) {
	prompt := fmt.Sprintf(
		"Channel digest:\n%s\n\nNearby context:\n%s\n\nTrigger message from %s: %q\n\nWrite a natural, brief reply as the assistant joining this conversation.",
		digest.Content, formatMessages(nearby), trigger.User, trigger.Text)

	resp, err := o.client.Complete(ctx, llm.Request{
		SystemPrompt: "You write a single natural-sounding intervention message for an assistant lurking in a Slack channel.",
		Prompt:       prompt,
	})
	if err != nil {
		return "", fmt.Errorf("intervention-response operation: %w", err)
	}
	return resp.Text, nil
}

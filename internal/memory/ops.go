package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oksoyo/slackbroker/internal/llm"
)

// Ops wraps an llm.Client with the OM pipeline's four named LLM operations
// (observer, reflector, promoter, compactor), each a single-shot completion
// with a task-specific system prompt, per spec §4.5.
type Ops struct {
	client llm.Client
}

func NewOps(client llm.Client) *Ops {
	return &Ops{client: client}
}

func formatObservations(items []ObservationItem) string {
	var b strings.Builder
	for _, o := range items {
		fmt.Fprintf(&b, "[%s] %s %s\n", o.ID, o.Priority, o.Content)
	}
	return b.String()
}

// Observe turns one (user, assistant) turn plus the session's existing
// observations into new ObservationItems and Candidates.
func (o *Ops) Observe(ctx context.Context, existing []ObservationItem, userText, assistantText string) (*ObserverResult, error) {
	prompt := fmt.Sprintf(
		"Existing observations for this session:\n%s\n\nNew turn:\nUser: %s\nAssistant: %s\n\n"+
			"Respond with JSON: {\"observations\":[{\"priority\":\"🔴|🟡|🟢\",\"content\":\"...\"}],"+
			"\"candidates\":[{\"priority\":\"🔴|🟡|🟢\",\"content\":\"...\"}]}. "+
			"Observations are session-scoped facts worth remembering for this thread; candidates are "+
			"facts that might be worth promoting to permanent, cross-session memory.",
		formatObservations(existing), userText, assistantText)

	resp, err := o.client.Complete(ctx, llm.Request{
		SystemPrompt: "You extract durable observations from a single conversation turn for an assistant's session memory.",
		Prompt:       prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("observer operation: %w", err)
	}
	var result ObserverResult
	if err := json.Unmarshal([]byte(resp.Text), &result); err != nil {
		return nil, fmt.Errorf("parsing observer response: %w", err)
	}
	return &result, nil
}

// Reflect compresses a session's observations in place, preserving IDs
// where possible.
func (o *Ops) Reflect(ctx context.Context, items []ObservationItem) ([]ObservationItem, error) {
	prompt := fmt.Sprintf(
		"Session observations to compress:\n%s\n\nMerge redundant items and drop anything no longer load-bearing. "+
			"Preserve the original id for any item you keep substantially unchanged. "+
			"Respond with a JSON array of {\"id\",\"priority\",\"content\"} objects.",
		formatObservations(items))

	resp, err := o.client.Complete(ctx, llm.Request{
		SystemPrompt: "You compress a session's accumulated observations without losing load-bearing context.",
		Prompt:       prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("reflector operation: %w", err)
	}
	var compressed []ObservationItem
	if err := json.Unmarshal([]byte(resp.Text), &compressed); err != nil {
		return nil, fmt.Errorf("parsing reflector response: %w", err)
	}
	return compressed, nil
}

func formatCandidates(all map[string][]Candidate) string {
	var b strings.Builder
	for threadTS, cs := range all {
		for _, c := range cs {
			fmt.Fprintf(&b, "[%s/%s] %s %s\n", threadTS, c.TS, c.Priority, c.Content)
		}
	}
	return b.String()
}

// Promote decides which candidates across all sessions are worth merging
// into persistent long-term memory.
func (o *Ops) Promote(ctx context.Context, allCandidates map[string][]Candidate, existing Persistent) (*PromoterResult, error) {
	prompt := fmt.Sprintf(
		"Existing persistent memory:\n%s\n\nCandidates proposed across all sessions:\n%s\n\n"+
			"Respond with JSON: {\"promoted\":[{\"id\",\"priority\",\"content\",\"source_obs_ids\"}],\"rejected\":[{\"ts\",\"priority\",\"content\"}]}. "+
			"Promote only facts durable beyond a single conversation.",
		formatPersistent(existing), formatCandidates(allCandidates))

	resp, err := o.client.Complete(ctx, llm.Request{
		SystemPrompt: "You decide which proposed facts deserve permanent, cross-session memory.",
		Prompt:       prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("promoter operation: %w", err)
	}
	var result PromoterResult
	if err := json.Unmarshal([]byte(resp.Text), &result); err != nil {
		return nil, fmt.Errorf("parsing promoter response: %w", err)
	}
	return &result, nil
}

func formatPersistent(p Persistent) string {
	var b strings.Builder
	for _, item := range p.Items {
		fmt.Fprintf(&b, "[%s] %s %s\n", item.ID, item.Priority, item.Content)
	}
	return b.String()
}

// Compact shrinks the persistent memory file to roughly targetTokens.
func (o *Ops) Compact(ctx context.Context, p Persistent, targetTokens int) ([]PersistentItem, error) {
	prompt := fmt.Sprintf("Persistent memory to compact (target ~%d tokens):\n%s", targetTokens, formatPersistent(p))

	resp, err := o.client.Complete(ctx, llm.Request{
		SystemPrompt: "You compact a long-term memory store to fit a token budget without losing load-bearing facts.",
		Prompt:       prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("compactor operation: %w", err)
	}
	var compacted []PersistentItem
	if err := json.Unmarshal([]byte(resp.Text), &compacted); err != nil {
		return nil, fmt.Errorf("parsing compactor response: %w", err)
	}
	return compacted, nil
}

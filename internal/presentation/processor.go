package presentation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/oksoyo/slackbroker/internal/engine"
)

const (
	interruptedText = "(중단됨)"
	thinkingText    = "🤔 생각 중..."
	compactDoneText = "✅ 압축 완료"
)

// Processor is the ResultProcessor: it owns no state of its own beyond its
// collaborators, taking a fresh *Context per call the way the teacher's
// handlers take a fresh Slack event per call.
type Processor struct {
	transport           Transport
	effects             SideEffects
	sessions            ActiveSessionCounter
	pageChars           int
	previewLines        int
	staleWindow         time.Duration
	contextWindowTokens int
	logger              zerolog.Logger
}

func New(transport Transport, effects SideEffects, sessions ActiveSessionCounter, pageChars, previewLines int, staleWindow time.Duration, contextWindowTokens int, logger zerolog.Logger) *Processor {
	if pageChars <= 0 {
		pageChars = 3900
	}
	if previewLines <= 0 {
		previewLines = 3
	}
	return &Processor{
		transport:           transport,
		effects:             effects,
		sessions:            sessions,
		pageChars:           pageChars,
		previewLines:        previewLines,
		staleWindow:         staleWindow,
		contextWindowTokens: contextWindowTokens,
		logger:              logger.With().Str("component", "result_processor").Logger(),
	}
}

// CheckStale rebinds pctx.LastMsgTS to a freshly posted placeholder when
// the existing one is stale: more than staleWindow has elapsed since it
// was last touched, and someone other than the requester has since posted
// in the thread — the old placeholder is presumed lost to scroll.
func (p *Processor) CheckStale(ctx context.Context, pctx *Context) (bool, error) {
	if pctx.PlaceholderSentAt.IsZero() || time.Since(pctx.PlaceholderSentAt) < p.staleWindow {
		return false, nil
	}
	newer, err := p.transport.ThreadHasNewerMessage(pctx.Channel, pctx.ThreadTS, pctx.LastMsgTS, pctx.RequesterUser)
	if err != nil {
		return false, fmt.Errorf("checking thread for newer messages: %w", err)
	}
	if !newer {
		return false, nil
	}
	ts, err := p.transport.PostMessage(pctx.Channel, thinkingText, pctx.ThreadTS)
	if err != nil {
		return false, fmt.Errorf("posting replacement placeholder: %w", err)
	}
	pctx.LastMsgTS = ts
	pctx.PlaceholderSentAt = time.Now().UTC()
	return true, nil
}

// NotifyCompactStart posts a dynamic placeholder distinct from the result
// placeholder, tracked separately so NotifyCompactDone can transition it
// independently of whatever the engine round eventually produces.
func (p *Processor) NotifyCompactStart(pctx *Context, trigger engine.CompactTrigger, message string) error {
	text := fmt.Sprintf("🗜️ 컨텍스트 압축 중 (%s)", trigger)
	if message != "" {
		text = text + ": " + message
	}
	ts, err := p.transport.PostMessage(pctx.Channel, text, pctx.ThreadTS)
	if err != nil {
		return fmt.Errorf("posting compaction notice: %w", err)
	}
	pctx.CompactPlaceholderTS = ts
	return nil
}

// NotifyCompactDone transitions the compaction placeholder set by
// NotifyCompactStart to its terminal text. A no-op if no notice is in
// flight.
func (p *Processor) NotifyCompactDone(pctx *Context) error {
	if pctx.CompactPlaceholderTS == "" {
		return nil
	}
	_, err := p.transport.UpdateMessage(pctx.Channel, pctx.CompactPlaceholderTS, compactDoneText)
	pctx.CompactPlaceholderTS = ""
	return err
}

// Process turns result into placeholder updates, paginated thread replies,
// and marker side effects. Side effects run even when dispatching the text
// itself partially fails, since the marker actions (file uploads, restart
// requests) are independent of presentation formatting.
func (p *Processor) Process(ctx context.Context, pctx *Context, result *engine.Result) error {
	if result.Interrupted {
		_, err := p.transport.UpdateMessage(pctx.Channel, pctx.LastMsgTS, interruptedText)
		return err
	}
	if !result.Success {
		_, err := p.transport.UpdateMessage(pctx.Channel, pctx.LastMsgTS, "❌ "+result.Error)
		return err
	}

	textErr := p.deliverText(pctx, result)
	if textErr == nil {
		p.postContextGauge(pctx, result)
	}
	p.runSideEffects(ctx, pctx, result)
	return textErr
}

// deliverText renders the result's presentation hints per spec §6: a
// `<!-- SUMMARY -->` marker, when present, is shown inline in place of the
// full output, with `<!-- DETAILS -->` (if any) posted as a follow-up
// thread reply instead of the usual paginated full output.
func (p *Processor) deliverText(pctx *Context, result *engine.Result) error {
	if result.Summary != "" {
		if _, err := p.transport.UpdateMessage(pctx.Channel, pctx.LastMsgTS, result.Summary); err != nil {
			return fmt.Errorf("updating placeholder with summary: %w", err)
		}
		if result.Details == "" {
			return nil
		}
		return p.postPaginated(pctx, result.Details)
	}

	output := result.Output
	lines := strings.Split(output, "\n")

	if pctx.IsChannelRoot && len(lines) > p.previewLines {
		preview := strings.Join(lines[:p.previewLines], "\n") + "\n…"
		if _, err := p.transport.UpdateMessage(pctx.Channel, pctx.LastMsgTS, preview); err != nil {
			return fmt.Errorf("updating placeholder with preview: %w", err)
		}
		return p.postPaginated(pctx, output)
	}

	pages := paginate(output, p.pageChars)
	if len(pages) == 0 {
		pages = []string{""}
	}
	if _, err := p.transport.UpdateMessage(pctx.Channel, pctx.LastMsgTS, pages[0]); err != nil {
		return fmt.Errorf("updating placeholder: %w", err)
	}
	return p.postPaginated(pctx, strings.Join(pages[1:], ""))
}

// postContextGauge posts a thread reply rendering result.Usage against the
// fixed context window (spec §6: "used only for UI gauge rendering"). A
// no-op when the round carried no usage or the window isn't configured.
func (p *Processor) postContextGauge(pctx *Context, result *engine.Result) {
	if p.contextWindowTokens <= 0 || result.Usage == nil {
		return
	}
	text := contextGaugeText(result.Usage, p.contextWindowTokens)
	if _, err := p.transport.PostMessage(pctx.Channel, text, pctx.ThreadTS); err != nil {
		p.logger.Warn().Err(err).Msg("context gauge reply failed")
	}
}

// contextGaugeText renders a 10-segment text bar from whatever usage fields
// the engine reported. Per spec §8, usage carrying only
// CacheCreationInputTokens (no InputTokens) must still render a sane bar, so
// the occupied-token count sums every field rather than assuming InputTokens
// is always populated.
func contextGaugeText(usage *engine.Usage, windowTokens int) string {
	used := usage.InputTokens + usage.CacheCreationInputTokens + usage.CacheReadInputTokens
	const segments = 10
	pct := float64(used) / float64(windowTokens)
	if pct > 1 {
		pct = 1
	}
	if pct < 0 {
		pct = 0
	}
	filled := int(pct*segments + 0.5)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", segments-filled)
	return fmt.Sprintf("`%s` %d%% context (%d/%d tokens)", bar, int(pct*100+0.5), used, windowTokens)
}

func (p *Processor) postPaginated(pctx *Context, rest string) error {
	for _, page := range paginate(rest, p.pageChars) {
		if page == "" {
			continue
		}
		if _, err := p.transport.PostMessage(pctx.Channel, page, pctx.ThreadTS); err != nil {
			return fmt.Errorf("posting paginated reply: %w", err)
		}
	}
	return nil
}

// paginate splits text into chunks of at most maxChars, preferring to
// break on a paragraph boundary so a page never opens mid-sentence when a
// nearby blank line is available.
func paginate(text string, maxChars int) []string {
	if text == "" {
		return nil
	}
	var pages []string
	for len(text) > maxChars {
		cut := maxChars
		if idx := strings.LastIndex(text[:maxChars], "\n\n"); idx > maxChars/2 {
			cut = idx
		}
		pages = append(pages, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n\n")
	}
	if text != "" {
		pages = append(pages, text)
	}
	return pages
}

func (p *Processor) runSideEffects(ctx context.Context, pctx *Context, result *engine.Result) {
	for _, prompt := range result.ImageGenPrompts {
		if err := p.effects.GenerateImage(ctx, pctx.Channel, pctx.ThreadTS, prompt); err != nil {
			p.logger.Warn().Err(err).Msg("image generation marker failed")
		}
	}
	for _, path := range result.Files {
		if err := p.effects.UploadFile(ctx, pctx.Channel, pctx.ThreadTS, path, false); err != nil {
			p.logger.Warn().Err(err).Str("path", path).Msg("file upload marker failed")
		}
	}
	for _, path := range result.Attachments {
		if err := p.effects.UploadFile(ctx, pctx.Channel, pctx.ThreadTS, path, true); err != nil {
			p.logger.Warn().Err(err).Str("path", path).Msg("attachment upload marker failed")
		}
	}
	if result.ListRun != nil {
		if err := p.effects.ForwardListRun(ctx, result.ListRun.Name); err != nil {
			p.logger.Warn().Err(err).Str("list_run", result.ListRun.Name).Msg("list-run marker failed")
		}
	}
	if result.UpdateRequested {
		p.gatedLifecycleAction(ctx, pctx, p.effects.RequestUpdate)
	}
	if result.RestartRequested {
		p.gatedLifecycleAction(ctx, pctx, p.effects.RequestRestart)
	}
}

// gatedLifecycleAction forwards an UPDATE/RESTART marker only when no
// other session currently has a round in flight; otherwise it shows a
// confirmation prompt instead of acting, per spec §4.6.
func (p *Processor) gatedLifecycleAction(ctx context.Context, pctx *Context, action func(context.Context) error) {
	if p.sessions != nil && p.sessions.ActiveSessionCount() > 1 {
		if err := p.effects.ConfirmRestart(ctx, pctx.Channel, pctx.ThreadTS); err != nil {
			p.logger.Warn().Err(err).Msg("restart confirmation prompt failed")
		}
		return
	}
	if err := action(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("lifecycle action marker failed")
	}
}

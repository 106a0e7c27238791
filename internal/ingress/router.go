package ingress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oksoyo/slackbroker/internal/channel"
	"github.com/oksoyo/slackbroker/internal/engine"
	"github.com/oksoyo/slackbroker/internal/executor"
	"github.com/oksoyo/slackbroker/internal/memory"
	"github.com/oksoyo/slackbroker/internal/metrics"
	"github.com/oksoyo/slackbroker/internal/plugin"
	"github.com/oksoyo/slackbroker/internal/presentation"
	"github.com/oksoyo/slackbroker/internal/session"
)

const thinkingText = "🤔 생각 중..."

// pendingRestart is what ConfirmRestart remembers between posting a
// confirmation prompt and the button press arriving at OnConfirmation.
type pendingRestart struct {
	channel  string
	threadTS string
}

// Router implements slack.DirectRouter, slack.ChannelObserver and
// slack.ConfirmationHandler: the glue between Slack's three inbound paths
// and the Executor/memory/channel-pipeline/presentation core. Grounded on
// the teacher's Bridge, which plays the same "translate one transport's
// events into Agent/TaskExecutor calls" role for Slack-initiated tasks.
type Router struct {
	sessions        *session.Store
	contextBuilder  *memory.ContextBuilder
	memoryPipeline  *memory.Pipeline
	channelStore    *channel.Store
	channelPipeline *channel.Pipeline
	executor        *executor.Executor
	processor       *presentation.Processor
	transport       presentation.Transport
	confirmations   ConfirmationSender
	dispatcher      *plugin.HookDispatcher
	lifecycle       LifecycleController
	collector       *metrics.Metrics

	adminUsers        map[string]bool
	monitoredChannels map[string]bool
	progressThrottle  time.Duration

	mu      sync.Mutex
	pending map[string]pendingRestart

	logger zerolog.Logger
}

// Config holds Router's static, deployment-level settings.
type Config struct {
	AdminUsers        []string
	MonitoredChannels []string
	ProgressThrottle  time.Duration
}

func New(
	sessions *session.Store,
	contextBuilder *memory.ContextBuilder,
	memoryPipeline *memory.Pipeline,
	channelStore *channel.Store,
	channelPipeline *channel.Pipeline,
	exec *executor.Executor,
	processor *presentation.Processor,
	transport presentation.Transport,
	confirmations ConfirmationSender,
	dispatcher *plugin.HookDispatcher,
	lifecycle LifecycleController,
	collector *metrics.Metrics,
	cfg Config,
	logger zerolog.Logger,
) *Router {
	admins := make(map[string]bool, len(cfg.AdminUsers))
	for _, id := range cfg.AdminUsers {
		admins[id] = true
	}
	monitored := make(map[string]bool, len(cfg.MonitoredChannels))
	for _, id := range cfg.MonitoredChannels {
		monitored[id] = true
	}
	throttle := cfg.ProgressThrottle
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	return &Router{
		sessions:          sessions,
		contextBuilder:    contextBuilder,
		memoryPipeline:    memoryPipeline,
		channelStore:      channelStore,
		channelPipeline:   channelPipeline,
		executor:          exec,
		processor:         processor,
		transport:         transport,
		confirmations:     confirmations,
		dispatcher:        dispatcher,
		lifecycle:         lifecycle,
		collector:         collector,
		adminUsers:        admins,
		monitoredChannels: monitored,
		progressThrottle:  throttle,
		pending:           make(map[string]pendingRestart),
		logger:            logger.With().Str("component", "ingress.router").Logger(),
	}
}

func (r *Router) roleFor(userID string) session.Role {
	if r.adminUsers[userID] {
		return session.RoleAdmin
	}
	return session.RoleViewer
}

// HandleMessage implements slack.DirectRouter. Mentions, DMs, and replies
// in an already-active thread all land here.
func (r *Router) HandleMessage(ctx context.Context, channelID, userID, text, threadTS, messageTS string) {
	effectiveThreadTS := threadTS
	if effectiveThreadTS == "" {
		effectiveThreadTS = messageTS
	}

	hookResult := r.dispatcher.Dispatch(ctx, plugin.HookOnMessage, MessagePayload{
		Channel: channelID, User: userID, Text: text, ThreadTS: effectiveThreadTS, MessageTS: messageTS,
	})
	if hookResult.Stopped {
		r.logger.Debug().Str("thread_ts", effectiveThreadTS).Msg("on_message hook stopped the chain, skipping default routing")
		return
	}

	sess := r.sessions.Get(effectiveThreadTS)
	if sess == nil {
		var err error
		sess, err = r.sessions.Create(effectiveThreadTS, channelID, userID, userID, r.roleFor(userID), session.SourceThread)
		if err != nil {
			r.logger.Error().Err(err).Str("thread_ts", effectiveThreadTS).Msg("failed to create session")
			return
		}
	} else {
		r.sessions.UpdateUser(effectiveThreadTS, userID, userID)
	}
	r.sessions.UpdateLastSeenTS(effectiveThreadTS, messageTS)

	placeholderTS, err := r.transport.PostMessage(channelID, thinkingText, effectiveThreadTS)
	if err != nil {
		r.logger.Error().Err(err).Str("channel", channelID).Msg("failed to post thinking placeholder")
		return
	}

	prompt, err := r.buildPrompt(effectiveThreadTS, sess, text)
	if err != nil {
		r.logger.Warn().Err(err).Str("thread_ts", effectiveThreadTS).Msg("failed to build memory context, proceeding with bare prompt")
		prompt = text
	}

	pctx := &presentation.Context{
		Channel:           channelID,
		ThreadTS:          effectiveThreadTS,
		MsgTS:             messageTS,
		LastMsgTS:         placeholderTS,
		RequesterUser:     userID,
		PlaceholderSentAt: time.Now().UTC(),
	}

	startedAt := time.Now()
	r.executor.Submit(ctx, effectiveThreadTS, &executor.PendingPrompt{
		ChannelID:   channelID,
		Prompt:      prompt,
		MsgTS:       messageTS,
		Role:        sess.Role,
		UserMessage: text,
		SessionID:   sess.SessionID,
		OnProgress:  r.throttledProgress(pctx),
		OnCompact:   r.onCompact(pctx),
		OnResult:    r.onResult(ctx, pctx, effectiveThreadTS, text, startedAt),
	})

	if r.collector != nil {
		r.collector.SetActiveSessions(float64(r.executor.ActiveSessionCount()))
	}
}

// buildPrompt prepends the per-turn memory injection block (long-term
// memory, session observations, channel context) to the raw user text.
func (r *Router) buildPrompt(threadTS string, sess *session.Session, text string) (string, error) {
	var channelCtx *memory.ChannelContext
	if sess.SourceType != session.SourceThread {
		channelCtx = r.buildChannelContext(sess.ChannelID, threadTS)
	}

	block, err := r.contextBuilder.Build(threadTS, channelCtx)
	if err != nil {
		return text, err
	}
	if block == "" {
		return text, nil
	}
	return block + "\n" + text, nil
}

// buildChannelContext scopes the channel observer's running digest and
// recent buffers to one thread, for a channel-promoted session. Read
// failures degrade to a nil block rather than blocking the round.
func (r *Router) buildChannelContext(channelID, threadTS string) *memory.ChannelContext {
	digest, err := r.channelStore.ReadDigest(channelID)
	if err != nil {
		r.logger.Warn().Err(err).Str("channel", channelID).Msg("failed to read channel digest for context injection")
		return nil
	}
	recentChannel, _ := r.channelStore.ReadJudged(channelID)
	recentThread, _ := r.channelStore.ReadThreadBuffer(channelID, threadTS)

	cc := &memory.ChannelContext{Digest: digest.Content}
	for _, m := range recentChannel {
		cc.RecentChannel = append(cc.RecentChannel, m.User+": "+m.Text)
	}
	for _, m := range recentThread {
		cc.RecentThread = append(cc.RecentThread, m.User+": "+m.Text)
	}
	return cc
}

// throttledProgress wraps the placeholder update so it fires at most once
// per progressThrottle, per spec §4.2.1. Only called from within a single
// round's goroutine, so the lastSent cursor needs no synchronization of
// its own.
func (r *Router) throttledProgress(pctx *presentation.Context) engine.OnProgress {
	var lastSent time.Time
	return func(text string) {
		if !lastSent.IsZero() && time.Since(lastSent) < r.progressThrottle {
			return
		}
		lastSent = time.Now()
		if _, err := r.transport.UpdateMessage(pctx.Channel, pctx.LastMsgTS, text); err != nil {
			r.logger.Warn().Err(err).Str("thread_ts", pctx.ThreadTS).Msg("progress update failed")
		}
	}
}

// onCompact posts the compaction notice and immediately transitions it to
// done: the engine's compaction event is a single mid-stream signal with
// no separate completion event to wait for.
func (r *Router) onCompact(pctx *presentation.Context) engine.OnCompact {
	return func(trigger engine.CompactTrigger, message string) {
		if err := r.processor.NotifyCompactStart(pctx, trigger, message); err != nil {
			r.logger.Warn().Err(err).Str("thread_ts", pctx.ThreadTS).Msg("compaction notice failed")
			return
		}
		if err := r.processor.NotifyCompactDone(pctx); err != nil {
			r.logger.Warn().Err(err).Str("thread_ts", pctx.ThreadTS).Msg("compaction done notice failed")
		}
	}
}

func (r *Router) onResult(ctx context.Context, pctx *presentation.Context, threadTS, userText string, startedAt time.Time) func(*engine.Result) {
	return func(result *engine.Result) {
		if r.collector != nil {
			r.collector.RecordEngineRound(outcomeOf(result), time.Since(startedAt).Seconds())
			r.collector.SetActiveSessions(float64(r.executor.ActiveSessionCount()))
		}

		if _, err := r.processor.CheckStale(ctx, pctx); err != nil {
			r.logger.Warn().Err(err).Str("thread_ts", threadTS).Msg("stale placeholder check failed")
		}
		if err := r.processor.Process(ctx, pctx, result); err != nil {
			r.logger.Warn().Err(err).Str("thread_ts", threadTS).Msg("failed to present engine result")
		}

		if result.Success && !result.Interrupted {
			if err := r.memoryPipeline.OnTurn(ctx, threadTS, userText, result.Output); err != nil {
				r.logger.Warn().Err(err).Str("thread_ts", threadTS).Msg("failed to record observational-memory turn")
			}
		}
	}
}

func outcomeOf(result *engine.Result) string {
	switch {
	case result.Interrupted:
		return "interrupted"
	case !result.Success:
		return "error"
	default:
		return "success"
	}
}

// IsActiveThread implements slack.DirectRouter: a thread is active once it
// has a session record, regardless of whether a round is currently running.
func (r *Router) IsActiveThread(_, threadTS string) bool {
	return r.sessions.Get(threadTS) != nil
}

// IsMonitored implements slack.ChannelObserver.
func (r *Router) IsMonitored(channelID string) bool {
	return r.monitoredChannels[channelID]
}

// OnMessage implements slack.ChannelObserver by delegating straight to the
// channel pipeline, which already matches this exact signature.
func (r *Router) OnMessage(ctx context.Context, channelID string, msg channel.Message) error {
	return r.channelPipeline.OnMessage(ctx, channelID, msg)
}

// requestRestartConfirmation posts an approve/deny prompt and remembers it
// by request ID until OnConfirmation fires.
func (r *Router) requestRestartConfirmation(ctx context.Context, channelID, threadTS string) error {
	id := uuid.New().String()
	r.mu.Lock()
	r.pending[id] = pendingRestart{channel: channelID, threadTS: threadTS}
	r.mu.Unlock()

	if err := r.confirmations.SendConfirmationRequest(ctx, channelID, id, "재시작 확인",
		"다른 세션이 실행 중입니다. 지금 재시작하시겠습니까?"); err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return fmt.Errorf("requesting restart confirmation: %w", err)
	}
	return nil
}

// OnConfirmation implements slack.ConfirmationHandler. Approval requests a
// process restart; denial simply discards the pending entry.
func (r *Router) OnConfirmation(requestID, approverID string, approved bool) {
	r.mu.Lock()
	p, ok := r.pending[requestID]
	if ok {
		delete(r.pending, requestID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Warn().Str("request_id", requestID).Msg("confirmation for unknown or already-resolved request")
		return
	}
	if !approved {
		r.logger.Info().Str("channel", p.channel).Str("thread_ts", p.threadTS).Str("approver", approverID).
			Msg("restart confirmation denied")
		return
	}
	r.logger.Info().Str("channel", p.channel).Str("thread_ts", p.threadTS).Str("approver", approverID).
		Msg("restart confirmation approved, requesting process exit")
	r.lifecycle.RequestExit(43)
}

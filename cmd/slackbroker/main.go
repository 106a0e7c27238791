package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oksoyo/slackbroker/internal/audit"
	"github.com/oksoyo/slackbroker/internal/channel"
	"github.com/oksoyo/slackbroker/internal/config"
	"github.com/oksoyo/slackbroker/internal/engine"
	"github.com/oksoyo/slackbroker/internal/executor"
	"github.com/oksoyo/slackbroker/internal/health"
	"github.com/oksoyo/slackbroker/internal/httpapi"
	"github.com/oksoyo/slackbroker/internal/ingress"
	"github.com/oksoyo/slackbroker/internal/llm"
	"github.com/oksoyo/slackbroker/internal/memory"
	"github.com/oksoyo/slackbroker/internal/mention"
	"github.com/oksoyo/slackbroker/internal/metrics"
	"github.com/oksoyo/slackbroker/internal/plugin"
	"github.com/oksoyo/slackbroker/internal/presentation"
	"github.com/oksoyo/slackbroker/internal/session"
	slackpkg "github.com/oksoyo/slackbroker/internal/slack"
)

// subtaskLLMMaxTokens bounds the single-shot completions the OM/channel
// sub-tasks make (observe, judge, promote, compact, digest) — these never
// need the engine's full context window.
const subtaskLLMMaxTokens = 1024

// lifecycle implements ingress.LifecycleController: it records the
// requested exit code and cancels the root context so main's shutdown
// sequence runs, then os.Exit's with that code once cleanup finishes.
type lifecycle struct {
	mu     sync.Mutex
	code   int
	cancel context.CancelFunc
}

func (l *lifecycle) RequestExit(code int) {
	l.mu.Lock()
	l.code = code
	l.mu.Unlock()
	l.cancel()
}

func (l *lifecycle) exitCode() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.code
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Logger = logger

	logger.Info().
		Str("environment", cfg.Environment).
		Str("http_listen_addr", cfg.HTTPListenAddr).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Str("engine_mode", cfg.EngineMode).
		Msg("starting slackbroker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lc := &lifecycle{cancel: cancel}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	checker := health.NewChecker(logger)

	auditStore, err := audit.New(cfg.AuditDBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open audit store")
	}
	defer auditStore.Close()
	checker.Register("audit_db", func(context.Context) health.Status {
		if err := auditStore.DB().Ping(); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	collector := metrics.New()

	llmClient := llm.NewAnthropicClient(cfg.LLMAPIKey, cfg.LLMModel, subtaskLLMMaxTokens, logger)

	sessions := session.New(cfg.DataDir, logger)
	memStore := memory.New(cfg.DataDir, logger)
	memOps := memory.NewOps(llmClient)
	memPipeline := memory.NewPipeline(memStore, memOps, memory.Config{
		MinTurnTokens:       cfg.MinTurnTokens,
		ReflectionThreshold: cfg.ReflectionThreshold,
		PromotionThreshold:  cfg.PromotionThreshold,
		CompactionThreshold: cfg.CompactionThreshold,
	}, auditStore, logger)
	contextBuilder := memory.NewContextBuilder(memStore, cfg.ContextTokenBudget)

	chanStore := channel.New(cfg.DataDir, logger)
	chanOps := channel.NewOps(llmClient, cfg.LLMCompressorModel)
	mentionTracker := mention.New(cfg.MentionTrackerTTL)

	dispatcher := plugin.NewHookDispatcher(logger).WithDeadLetters(auditStore)
	pluginHost := plugin.NewHost(dispatcher, logger)
	if cfg.PluginDir != "" {
		logger.Info().Str("plugin_dir", cfg.PluginDir).Msg("plugin host ready (no factories registered at startup)")
	}

	handler := slackpkg.NewHandler(logger, slackpkg.NewMiddleware(logger, 20, time.Minute), mentionTracker)

	slackApp, err := slackpkg.NewApp(cfg.SlackBotToken, cfg.SlackAppToken, cfg.SlackAllowedChannelList(), logger, handler)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init Slack app")
	}
	transport := slackpkg.NewTransport(slackApp)

	chanPipeline := channel.NewPipeline(chanStore, chanOps, mentionTracker, transport, auditTraceSink{auditStore}, channel.Config{
		ThresholdA:            cfg.ChannelThresholdA,
		ThresholdB:            cfg.ChannelThresholdB,
		DigestMaxTokens:       cfg.ChannelDigestMaxTokens,
		CompressTarget:        cfg.ChannelCompressTarget,
		TriggerWords:          cfg.ChannelTriggerWordList(),
		InterventionThreshold: cfg.InterventionThreshold,
		InterventionCooldown:  cfg.InterventionCooldown,
		RecentWindow:          cfg.InterventionRecentWindow,
	}, logger)

	var adapter engine.Adapter
	if cfg.EngineRemote() {
		adapter = engine.NewRemoteAdapter(cfg.EngineURL, cfg.EngineToken, logger)
	} else {
		adapter = engine.NewSubprocessAdapter(cfg.EngineBin, cfg.ProgressThrottle, logger, func(line string) {
			auditStore.Trace("engine_stderr", map[string]any{"line": line})
		})
	}
	checker.Register("engine", func(context.Context) health.Status {
		if cfg.EngineRemote() && cfg.EngineURL == "" {
			return health.StatusDown
		}
		return health.StatusOK
	})

	exec := executor.New(adapter, sessions, cfg.AdminMCPConfigPath, cfg.CapabilitySigningKey, cfg.CapabilityTTL, auditStore, logger)

	// effects and router are mutually dependent (Processor needs SideEffects,
	// Router needs Processor, ConfirmRestart needs Router): build effects
	// first, the router next, then close the loop with BindRouter.
	effects := ingress.NewSideEffects(transport, dispatcher, lc)
	processor := presentation.New(transport, effects, exec, cfg.PresentationPageChars, cfg.PresentationPreviewLines, cfg.StalePlaceholderWindow, cfg.ContextWindowTokens, logger)
	router := ingress.New(sessions, contextBuilder, memPipeline, chanStore, chanPipeline, exec, processor, transport,
		handler, dispatcher, lc, collector,
		ingress.Config{
			AdminUsers:        cfg.SlackAdminUserList(),
			MonitoredChannels: cfg.SlackObservedChannelList(),
			ProgressThrottle:  cfg.ProgressThrottle,
		}, logger)
	effects.BindRouter(router)

	adminCommands := slackpkg.NewAdminCommands(logger, slackApp, dispatcher, pluginHost, memStore)

	handler.SetDirectRouter(router)
	handler.SetChannelObserver(router)
	handler.SetConfirmationHandler(router)
	handler.SetCommandRouter(adminCommands)

	replay := func(ctx context.Context, letter *audit.DeadLetter) error {
		switch letter.Kind {
		case audit.DeadLetterEngineRound:
			router.HandleMessage(ctx, letter.TargetChannel, "system", letter.Message, letter.TargetThread, letter.TargetThread)
			return nil
		case audit.DeadLetterPromotion:
			if err := memPipeline.MaybePromote(ctx); err != nil {
				return fmt.Errorf("replaying promotion pass: %w", err)
			}
			return nil
		case audit.DeadLetterPluginHook:
			// The original hook payload is opaque and was never persisted, so
			// a plugin-hook dead letter can't be automatically re-dispatched.
			// Surface it for operator visibility instead of silently dropping it.
			logger.Warn().Str("dead_letter_id", letter.ID).Str("detail", letter.Message).Str("cause", letter.Error).
				Msg("plugin hook dead letter requires manual review, cannot auto-replay")
			return nil
		default:
			return fmt.Errorf("unknown dead letter kind: %s", letter.Kind)
		}
	}
	httpHandlers := httpapi.NewHandlers(pluginHost, auditStore, replay, logger)
	httpServer := httpapi.NewServer(httpapi.ServerConfig{
		ListenAddr: cfg.HTTPListenAddr,
		Auth:       httpapi.AuthConfig{Mode: cfg.HTTPAuthMode, Token: cfg.HTTPAPIKey},
	}, checker, collector, httpHandlers, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("control-plane HTTP server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		retrySweep(ctx, auditStore, replay, logger)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		promotionSweep(ctx, memPipeline, cfg.PromotionCheckInterval, logger)
	}()

	if cfg.SlackEnabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := slackApp.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Slack Socket Mode error")
			}
		}()
	} else {
		logger.Warn().Msg("Slack not configured — bot is idle")
	}

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
		cancel()
	case <-ctx.Done():
		logger.Info().Int("exit_code", lc.exitCode()).Msg("self-requested exit, shutting down gracefully")
	}

	if err := httpServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("control-plane HTTP server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("slackbroker stopped")
	os.Exit(lc.exitCode())
}

// auditTraceSink adapts *audit.Store to channel.DebugSink.
type auditTraceSink struct{ store *audit.Store }

func (s auditTraceSink) Trace(event string, fields map[string]any) {
	s.store.Trace(event, fields)
}

// promotionSweep periodically runs the OM pipeline's cross-session
// promotion pass, grounded on the same retention-goroutine polling pattern
// retrySweep uses. MaybePromote itself decides whether candidates have
// crossed the promotion threshold; a failed pass is recorded as a dead
// letter by the pipeline and picked up again by the next tick regardless.
func promotionSweep(ctx context.Context, pipeline *memory.Pipeline, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pipeline.MaybePromote(ctx); err != nil {
				logger.Warn().Err(err).Msg("observational-memory promotion pass failed")
			}
		}
	}
}

// retrySweep periodically re-submits eligible dead letters via replay,
// grounded on the teacher's retention-goroutine polling pattern in
// cmd/agent/main.go.
func retrySweep(ctx context.Context, store *audit.Store, replay httpapi.ReplayFunc, logger zerolog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			letters, err := store.ListRetryable(20)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to list retryable dead letters")
				continue
			}
			for _, letter := range letters {
				if err := replay(ctx, letter); err != nil {
					logger.Warn().Err(err).Str("dead_letter_id", letter.ID).Msg("scheduled replay failed")
					_ = store.IncrementRetry(letter.ID, time.Now().Add(5*time.Minute).UnixMilli())
					continue
				}
				_ = store.ResolveDeadLetter(letter.ID)
			}
		}
	}
}

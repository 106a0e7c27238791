// Package config loads the broker's flat environment-variable configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	DataDir     string `envconfig:"DATA_DIR" default:"./data"`

	// Slack (Socket Mode)
	SlackBotToken      string `envconfig:"SLACK_BOT_TOKEN"`
	SlackAppToken      string `envconfig:"SLACK_APP_TOKEN"`
	SlackSigningSecret string `envconfig:"SLACK_SIGNING_SECRET"`
	// Comma-separated channel IDs the bot may post to — fail-closed if empty.
	SlackAllowedChannels string `envconfig:"SLACK_ALLOWED_CHANNELS"`
	// Comma-separated channel IDs the channel-observer pipeline monitors.
	SlackObservedChannels string `envconfig:"SLACK_OBSERVED_CHANNELS"`
	// Channel ID that receives structured debug traces. Optional.
	SlackDebugChannel string `envconfig:"SLACK_DEBUG_CHANNEL"`
	// Comma-separated Slack user IDs granted the admin role (broader tool
	// allowlist, signed MCP capability). Everyone else is a viewer.
	SlackAdminUsers string `envconfig:"SLACK_ADMIN_USERS"`

	// Engine (the external, code-executing LLM backend)
	EngineMode    string        `envconfig:"ENGINE_MODE" default:"subprocess"` // "subprocess" or "remote"
	EngineBin     string        `envconfig:"ENGINE_BIN" default:"engine"`
	EngineURL     string        `envconfig:"ENGINE_URL"`
	EngineToken   string        `envconfig:"ENGINE_TOKEN"`
	EngineTimeout time.Duration `envconfig:"ENGINE_TIMEOUT" default:"10m"`
	// Admin-role MCP configuration path, embedded with a signed capability token.
	AdminMCPConfigPath string `envconfig:"ADMIN_MCP_CONFIG_PATH"`
	CapabilitySigningKey string `envconfig:"CAPABILITY_SIGNING_KEY"`
	CapabilityTTL      time.Duration `envconfig:"CAPABILITY_TTL" default:"10m"`

	// LLM provider for the OM/channel sub-tasks (observer, judge, promoter,
	// compactor, digest, intervention-responder).
	LLMProvider       string `envconfig:"LLM_PROVIDER" default:"anthropic"`
	LLMAPIKey         string `envconfig:"LLM_API_KEY"`
	LLMModel          string `envconfig:"LLM_MODEL" default:"claude-3-5-haiku-latest"`
	LLMCompressorModel string `envconfig:"LLM_COMPRESSOR_MODEL" default:"claude-3-5-sonnet-latest"`

	// Channel-observer pipeline thresholds
	ChannelThresholdA        int           `envconfig:"CHANNEL_THRESHOLD_A" default:"150"`
	ChannelThresholdB        int           `envconfig:"CHANNEL_THRESHOLD_B" default:"5000"`
	ChannelDigestMaxTokens   int           `envconfig:"CHANNEL_DIGEST_MAX_TOKENS" default:"10000"`
	ChannelCompressTarget    int           `envconfig:"CHANNEL_COMPRESS_TARGET" default:"5000"`
	ChannelTriggerWords      string        `envconfig:"CHANNEL_TRIGGER_WORDS"`
	InterventionThreshold    float64       `envconfig:"INTERVENTION_THRESHOLD" default:"0.3"`
	InterventionCooldown     time.Duration `envconfig:"INTERVENTION_COOLDOWN" default:"20m"`
	InterventionRecentWindow time.Duration `envconfig:"INTERVENTION_RECENT_WINDOW" default:"30m"`
	MentionTrackerTTL        time.Duration `envconfig:"MENTION_TRACKER_TTL" default:"30m"`

	// Observational-memory pipeline thresholds
	MinTurnTokens        int `envconfig:"OM_MIN_TURN_TOKENS" default:"40"`
	ReflectionThreshold  int `envconfig:"OM_REFLECTION_THRESHOLD" default:"2000"`
	PromotionThreshold   int `envconfig:"OM_PROMOTION_THRESHOLD" default:"1000"`
	CompactionThreshold  int `envconfig:"OM_COMPACTION_THRESHOLD" default:"4000"`
	ContextTokenBudget   int `envconfig:"OM_CONTEXT_TOKEN_BUDGET" default:"4000"`
	PromotionCheckInterval time.Duration `envconfig:"OM_PROMOTION_CHECK_INTERVAL" default:"5m"`

	// Presentation (ResultProcessor)
	PresentationPageChars   int           `envconfig:"PRESENTATION_PAGE_CHARS" default:"3900"`
	PresentationPreviewLines int          `envconfig:"PRESENTATION_PREVIEW_LINES" default:"3"`
	StalePlaceholderWindow  time.Duration `envconfig:"STALE_PLACEHOLDER_WINDOW" default:"10s"`
	ProgressThrottle        time.Duration `envconfig:"PROGRESS_THROTTLE" default:"2s"`
	ContextWindowTokens     int           `envconfig:"CONTEXT_WINDOW_TOKENS" default:"200000"`

	// Internal control-plane HTTP surface
	HTTPListenAddr string `envconfig:"HTTP_LISTEN_ADDR" default:":8090"`
	HTTPAuthMode   string `envconfig:"HTTP_AUTH_MODE" default:"api-key"`
	HTTPAPIKey     string `envconfig:"HTTP_API_KEY"`

	// Audit (SQLite-backed dead-letter and debug-trace log)
	AuditDBPath string `envconfig:"AUDIT_DB_PATH" default:"./data/audit.db"`

	// Plugin host
	PluginDir string `envconfig:"PLUGIN_DIR" default:"./plugins"`
}

// SlackEnabled returns true if Slack tokens are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// SlackAllowedChannelList returns the parsed list of allowed Slack channel
// IDs. Returns nil if not configured — fail-closed, no channels allowed.
func (c *Config) SlackAllowedChannelList() []string {
	return splitCSV(c.SlackAllowedChannels)
}

// SlackObservedChannelList returns the parsed list of channels the
// channel-observer pipeline runs against.
func (c *Config) SlackObservedChannelList() []string {
	return splitCSV(c.SlackObservedChannels)
}

// ChannelTriggerWordList returns the configured trigger words that force a
// channel-pipeline run even below threshold_a.
func (c *Config) ChannelTriggerWordList() []string {
	return splitCSV(c.ChannelTriggerWords)
}

// SlackAdminUserList returns the parsed list of Slack user IDs granted the
// admin role.
func (c *Config) SlackAdminUserList() []string {
	return splitCSV(c.SlackAdminUsers)
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EngineRemote returns true if the engine is reached over the network
// instead of spawned as a local subprocess.
func (c *Config) EngineRemote() bool {
	return strings.EqualFold(c.EngineMode, "remote")
}

// AdminCapabilityEnabled returns true if admin-role engine invocations should
// carry a signed MCP capability token.
func (c *Config) AdminCapabilityEnabled() bool {
	return c.AdminMCPConfigPath != "" && c.CapabilitySigningKey != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix, used by tests that need
// an isolated environment namespace.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}

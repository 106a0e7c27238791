package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/oksoyo/slackbroker/internal/memory"
	"github.com/oksoyo/slackbroker/internal/plugin"
)

// PluginManager is the subset of PluginHost AdminCommands needs: listing
// loaded plugins and reloading one by name.
type PluginManager interface {
	List() []string
	Reload(ctx context.Context, name string, config map[string]any) error
}

// MemoryStatusProvider is the subset of memory.Store AdminCommands needs
// to answer "!memory status".
type MemoryStatusProvider interface {
	ReadPersistent() (memory.Persistent, error)
	AllCandidates() (map[string][]memory.Candidate, error)
}

// AdminCommands implements CommandRouter: a narrow, closed set of in-band
// admin commands (!plugins, !reload <plugin>, !memory status) typed in a
// mention or DM. Anything else it doesn't recognize itself is offered to
// the plugin hook dispatcher's on_command hook before falling through to
// the Executor — this keeps the actual CLI command surface out of scope
// while still giving plugins a narrow command-extension point.
type AdminCommands struct {
	logger     zerolog.Logger
	api        BotAPI
	dispatcher *plugin.HookDispatcher
	plugins    PluginManager
	memory     MemoryStatusProvider
}

func NewAdminCommands(logger zerolog.Logger, api BotAPI, dispatcher *plugin.HookDispatcher, plugins PluginManager, mem MemoryStatusProvider) *AdminCommands {
	return &AdminCommands{
		logger:     logger.With().Str("component", "slack.commands").Logger(),
		api:        api,
		dispatcher: dispatcher,
		plugins:    plugins,
		memory:     mem,
	}
}

// CommandPayload is what AdminCommands hands to the on_command hook for
// any text it didn't itself recognize.
type CommandPayload struct {
	ChannelID string
	UserID    string
	Text      string
	ThreadTS  string
	MessageTS string
}

func (c *AdminCommands) TryHandle(ctx context.Context, channelID, userID, text, threadTS, messageTS string) bool {
	cmd := strings.TrimSpace(stripMention(text))

	switch {
	case cmd == "!help":
		c.reply(channelID, threadTS, HelpBlocks())
		return true

	case cmd == "!plugins":
		c.reply(channelID, threadTS, PluginStatusBlocks(c.plugins.List()))
		return true

	case cmd == "!reload" || strings.HasPrefix(cmd, "!reload "):
		name := strings.TrimSpace(strings.TrimPrefix(cmd, "!reload"))
		if name == "" {
			c.postText(channelID, threadTS, "usage: `!reload <plugin>`")
			return true
		}
		if err := c.plugins.Reload(ctx, name, nil); err != nil {
			c.postText(channelID, threadTS, fmt.Sprintf("❌ reload failed: %s", err))
		} else {
			c.postText(channelID, threadTS, fmt.Sprintf("✅ reloaded `%s`", name))
		}
		return true

	case cmd == "!memory status":
		persistent, err := c.memory.ReadPersistent()
		if err != nil {
			c.postText(channelID, threadTS, fmt.Sprintf("❌ reading memory: %s", err))
			return true
		}
		candidates, err := c.memory.AllCandidates()
		if err != nil {
			c.postText(channelID, threadTS, fmt.Sprintf("❌ reading memory: %s", err))
			return true
		}
		lastPromoted := ""
		if !persistent.UpdatedAt.IsZero() {
			lastPromoted = persistent.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		candidateCount := 0
		for _, items := range candidates {
			candidateCount += len(items)
		}
		c.reply(channelID, threadTS, MemoryStatusBlocks(len(persistent.Items), candidateCount, lastPromoted))
		return true
	}

	if c.dispatcher == nil {
		return false
	}
	result := c.dispatcher.Dispatch(ctx, plugin.HookOnCommand, CommandPayload{
		ChannelID: channelID,
		UserID:    userID,
		Text:      cmd,
		ThreadTS:  threadTS,
		MessageTS: messageTS,
	})
	return len(result.Values) > 0
}

func (c *AdminCommands) reply(channelID, threadTS string, blocks []slack.Block) {
	opts := []slack.MsgOption{slack.MsgOptionBlocks(blocks...)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := c.api.PostMessage(channelID, opts...); err != nil {
		c.logger.Warn().Err(err).Str("channel", channelID).Msg("failed to post command response")
	}
}

func (c *AdminCommands) postText(channelID, threadTS, text string) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := c.api.PostMessage(channelID, opts...); err != nil {
		c.logger.Warn().Err(err).Str("channel", channelID).Msg("failed to post command response")
	}
}

// stripMention removes a leading Slack user-mention token ("<@U123> ")
// from text typed as an @-mention, so command matching sees only the
// command itself.
func stripMention(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "<@") {
		return trimmed
	}
	end := strings.Index(trimmed, ">")
	if end == -1 {
		return trimmed
	}
	return strings.TrimSpace(trimmed[end+1:])
}

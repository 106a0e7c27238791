package slack

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

// truncate shortens s to max chars, appending "…" if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// ConfirmationBlocks builds an approve/deny message — used both for the
// UPDATE/RESTART lifecycle confirmation prompt (spec §4.6) and any future
// plugin-triggered confirmation that reuses the approve_/deny_ action-ID
// convention Handler.handleInteraction dispatches on.
func ConfirmationBlocks(requestID, title, detail string) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*%s*\n%s", title, truncate(detail, 500)), false, false),
			nil, nil,
		),
		slack.NewActionBlock(
			"confirmation_actions",
			slack.NewButtonBlockElement(fmt.Sprintf("approve_%s", requestID), "approve",
				slack.NewTextBlockObject("plain_text", "✅ 진행", false, false)),
			slack.NewButtonBlockElement(fmt.Sprintf("deny_%s", requestID), "deny",
				slack.NewTextBlockObject("plain_text", "❌ 취소", false, false)),
		),
	}
}

// PluginStatusBlocks renders the response to the "!plugins" admin command:
// one line per loaded plugin name.
func PluginStatusBlocks(loaded []string) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", "🔌 Loaded Plugins", false, false)),
	}
	if len(loaded) == 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", "_no plugins loaded_", false, false), nil, nil))
		return blocks
	}
	var sb strings.Builder
	for _, name := range loaded {
		sb.WriteString(fmt.Sprintf("• `%s`\n", name))
	}
	blocks = append(blocks, slack.NewSectionBlock(
		slack.NewTextBlockObject("mrkdwn", sb.String(), false, false), nil, nil))
	return blocks
}

// MemoryStatusBlocks renders the response to the "!memory status" admin
// command: current persistent item count and last promotion time.
func MemoryStatusBlocks(persistentItems, candidateCount int, lastPromotedAt string) []slack.Block {
	text := fmt.Sprintf("*Long-term items:* %d\n*Pending candidates:* %d", persistentItems, candidateCount)
	if lastPromotedAt != "" {
		text += fmt.Sprintf("\n*Last promotion:* %s", lastPromotedAt)
	}
	return []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", "🧠 Observational Memory", false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", text, false, false), nil, nil),
	}
}

// HelpBlocks renders the bot's in-band admin command surface.
func HelpBlocks() []slack.Block {
	return []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", "👋 도움말", false, false)),
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", strings.Join([]string{
				"• mention me to start or continue a conversation",
				"• `!plugins` — list loaded plugins",
				"• `!reload <plugin>` — reload a plugin",
				"• `!memory status` — observational memory summary",
			}, "\n"), false, false),
			nil, nil,
		),
	}
}

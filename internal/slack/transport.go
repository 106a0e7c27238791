package slack

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/slack-go/slack"
)

// Transport adapts App's slack.MsgOption-based surface to the narrow,
// string-in-string-out contracts internal/channel.Reactor and
// internal/presentation.Transport expect, so neither package needs to
// import slack-go directly.
type Transport struct {
	app *App
}

func NewTransport(app *App) *Transport {
	return &Transport{app: app}
}

// PostMessage satisfies both channel.Reactor and presentation.Transport.
// threadTS == "" posts to the channel root.
func (t *Transport) PostMessage(channelID, text, threadTS string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := t.app.PostMessage(channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("posting message: %w", err)
	}
	return ts, nil
}

// UpdateMessage satisfies presentation.Transport.
func (t *Transport) UpdateMessage(channelID, ts, text string) (string, error) {
	_, newTS, _, err := t.app.UpdateMessage(channelID, ts, slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("updating message: %w", err)
	}
	return newTS, nil
}

// AddReaction satisfies channel.Reactor.
func (t *Transport) AddReaction(channelID, ts, emoji string) error {
	return t.app.AddReaction(emoji, slack.ItemRef{Channel: channelID, Timestamp: ts})
}

// UploadFile uploads the file at path to channelID, threaded under threadTS.
// asAttachment only affects the title shown to distinguish an engine-
// produced attachment from a plain FILE marker upload.
func (t *Transport) UploadFile(channelID, threadTS, path string, asAttachment bool) error {
	title := filepath.Base(path)
	if asAttachment {
		title = "📎 " + title
	}
	_, err := t.app.UploadFileV2(slack.UploadFileV2Parameters{
		Channel:         channelID,
		File:            path,
		Filename:        filepath.Base(path),
		Title:           title,
		ThreadTimestamp: threadTS,
	})
	if err != nil {
		return fmt.Errorf("uploading file %s: %w", path, err)
	}
	return nil
}

// ThreadHasNewerMessage satisfies presentation.Transport's stale-
// placeholder check: it paginates the thread's replies looking for one
// authored by someone other than excludeUser with a timestamp after
// afterTS.
func (t *Transport) ThreadHasNewerMessage(channelID, threadTS, afterTS, excludeUser string) (bool, error) {
	if threadTS == "" {
		return false, nil
	}
	after, err := parseSlackTS(afterTS)
	if err != nil {
		return false, fmt.Errorf("parsing afterTS: %w", err)
	}

	cursor := ""
	for {
		messages, hasMore, next, err := t.app.GetConversationReplies(&slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadTS,
			Cursor:    cursor,
		})
		if err != nil {
			return false, fmt.Errorf("fetching thread replies: %w", err)
		}

		for _, m := range messages {
			if m.User == excludeUser {
				continue
			}
			ts, err := parseSlackTS(m.Timestamp)
			if err != nil {
				continue
			}
			if ts > after {
				return true, nil
			}
		}
		if !hasMore || next == "" {
			return false, nil
		}
		cursor = next
	}
}

// parseSlackTS converts a Slack timestamp ("1700000000.000100") to a
// sortable float64; Slack timestamps are decimal seconds with microsecond
// precision, never large enough to lose precision in a float64.
func parseSlackTS(ts string) (float64, error) {
	if ts == "" {
		return 0, nil
	}
	return strconv.ParseFloat(ts, 64)
}

package slack

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/oksoyo/slackbroker/internal/channel"
	"github.com/oksoyo/slackbroker/internal/mention"
)

// DirectRouter receives messages the ingress has decided belong to the
// direct-mention/DM/active-thread path and forwards them to the Executor.
type DirectRouter interface {
	HandleMessage(ctx context.Context, channelID, userID, text, threadTS, messageTS string)
	IsActiveThread(channelID, threadTS string) bool
}

// ChannelObserver receives messages that belong to the lurking
// channel-pipeline path instead: everything in a monitored channel that
// isn't a mention, DM, or active-thread reply.
type ChannelObserver interface {
	IsMonitored(channelID string) bool
	OnMessage(ctx context.Context, channelID string, msg channel.Message) error
}

// CommandRouter recognizes a narrow set of in-band admin commands typed in
// a mention (e.g. "!plugins", "!reload <plugin>", "!memory status") and
// handles them itself instead of passing them to the Executor.
// TryHandle reports whether text was recognized as a command.
type CommandRouter interface {
	TryHandle(ctx context.Context, channelID, userID, text, threadTS, messageTS string) bool
}

// ConfirmationHandler processes approve/deny interactive callbacks. It
// originates from the teacher's task-permission approval flow and here
// additionally backs ResultProcessor's RESTART/UPDATE confirmation
// prompts (spec §4.6) under the same approve_/deny_ action-ID convention.
type ConfirmationHandler interface {
	OnConfirmation(requestID, approverID string, approved bool)
}

// Handler processes Slack events and routes them to one of three
// destinations: the direct-mention/DM/thread path (DirectRouter), the
// lurking channel observer (ChannelObserver), or narrow admin commands
// (CommandRouter). Interactive callbacks are handled inline.
type Handler struct {
	api        BotAPI
	socket     *socketmode.Client
	logger     zerolog.Logger
	middleware *Middleware
	mentions   *mention.Tracker

	direct   DirectRouter
	observer ChannelObserver
	commands CommandRouter
	confirm  ConfirmationHandler
}

// NewHandler creates a new event handler. mentions may be nil if no
// channel observer is configured for this deployment.
func NewHandler(logger zerolog.Logger, middleware *Middleware, mentions *mention.Tracker) *Handler {
	return &Handler{
		logger:     logger.With().Str("component", "slack.handler").Logger(),
		middleware: middleware,
		mentions:   mentions,
	}
}

func (h *Handler) SetDirectRouter(d DirectRouter)               { h.direct = d }
func (h *Handler) SetChannelObserver(o ChannelObserver)         { h.observer = o }
func (h *Handler) SetCommandRouter(c CommandRouter)             { h.commands = c }
func (h *Handler) SetConfirmationHandler(c ConfirmationHandler) { h.confirm = c }
func (h *Handler) SetSocket(s *socketmode.Client)               { h.socket = s }
func (h *Handler) SetAPI(api BotAPI)                            { h.api = api }

// HandleEvent routes Socket Mode events to the appropriate handler.
func (h *Handler) HandleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		h.handleEventsAPI(ctx, evt)
	case socketmode.EventTypeInteractive:
		h.handleInteraction(ctx, evt)
	default:
		h.logger.Debug().Str("type", string(evt.Type)).Msg("unhandled event type")
	}
}

// handleEventsAPI processes Events API payloads (messages, app_mention, etc.).
func (h *Handler) handleEventsAPI(ctx context.Context, evt socketmode.Event) {
	if h.socket != nil && evt.Request != nil {
		h.socket.Ack(*evt.Request)
	}

	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		h.logger.Warn().Str("type", string(evt.Type)).Msg("failed to cast events_api data")
		return
	}

	switch eventsAPIEvent.Type {
	case slackevents.CallbackEvent:
		h.handleCallbackEvent(ctx, eventsAPIEvent.InnerEvent)
	}
}

func (h *Handler) handleCallbackEvent(ctx context.Context, innerEvent slackevents.EventsAPIInnerEvent) {
	switch ev := innerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		h.logger.Info().Str("user", ev.User).Str("channel", ev.Channel).Msg("app mention received")
		h.routeDirect(ctx, ev.Channel, ev.User, ev.Text, ev.ThreadTimeStamp, ev.TimeStamp)

	case *slackevents.MessageEvent:
		// Skip bot messages and message_changed/deleted subtypes — the
		// channel observer still sees genuine human messages below, but
		// never edits or its own echoes.
		if ev.User == "" || ev.SubType != "" {
			return
		}

		if ev.ChannelType == "im" {
			h.logger.Info().Str("user", ev.User).Str("channel", ev.Channel).Msg("DM received")
			h.routeDirect(ctx, ev.Channel, ev.User, ev.Text, ev.ThreadTimeStamp, ev.TimeStamp)
			return
		}

		if ev.ThreadTimeStamp != "" && h.direct != nil && h.direct.IsActiveThread(ev.Channel, ev.ThreadTimeStamp) {
			h.logger.Info().Str("user", ev.User).Str("channel", ev.Channel).Str("thread", ev.ThreadTimeStamp).Msg("thread reply in active thread")
			h.routeDirect(ctx, ev.Channel, ev.User, ev.Text, ev.ThreadTimeStamp, ev.TimeStamp)
			return
		}

		if h.observer != nil && h.observer.IsMonitored(ev.Channel) {
			msg := channel.Message{TS: ev.TimeStamp, User: ev.User, Text: ev.Text, ThreadTS: ev.ThreadTimeStamp, At: time.Now().UTC()}
			if err := h.observer.OnMessage(ctx, ev.Channel, msg); err != nil {
				h.logger.Warn().Err(err).Str("channel", ev.Channel).Msg("channel observer failed to record message")
			}
		}

	default:
		h.logger.Debug().Str("inner_type", innerEvent.Type).Msg("unhandled callback event type")
	}
}

// routeDirect sends text down the command path first (admin commands
// never reach the engine), then the mention tracker so the channel
// observer excludes this thread, then the Executor.
func (h *Handler) routeDirect(ctx context.Context, channelID, userID, text, threadTS, messageTS string) {
	if h.middleware != nil && !h.middleware.CheckRateLimit(userID) {
		return
	}
	if h.commands != nil && h.commands.TryHandle(ctx, channelID, userID, text, threadTS, messageTS) {
		return
	}
	if h.mentions != nil {
		key := threadTS
		if key == "" {
			key = messageTS
		}
		h.mentions.Mark(key)
	}
	if h.direct != nil {
		h.direct.HandleMessage(ctx, channelID, userID, text, threadTS, messageTS)
	}
}

func (h *Handler) handleInteraction(ctx context.Context, evt socketmode.Event) {
	if h.socket != nil && evt.Request != nil {
		h.socket.Ack(*evt.Request)
	}

	callback, ok := evt.Data.(slack.InteractionCallback)
	if !ok {
		return
	}

	for _, action := range callback.ActionCallback.BlockActions {
		h.logger.Info().Str("action", action.ActionID).Str("user", callback.User.ID).Msg("interaction received")

		switch {
		case strings.HasPrefix(action.ActionID, "approve_"):
			h.handleConfirmation(ctx, callback, action, true)
		case strings.HasPrefix(action.ActionID, "deny_"):
			h.handleConfirmation(ctx, callback, action, false)
		}
	}
}

func (h *Handler) handleConfirmation(_ context.Context, callback slack.InteractionCallback, action *slack.BlockAction, approved bool) {
	status := "✅ 승인됨"
	if !approved {
		status = "❌ 거부됨"
	}

	requestID := ""
	if parts := strings.SplitN(action.ActionID, "_", 2); len(parts) == 2 {
		requestID = parts[1]
	}

	if h.api != nil {
		originalText := ""
		if callback.Message.Msg.Blocks.BlockSet != nil {
			for _, block := range callback.Message.Msg.Blocks.BlockSet {
				if section, ok := block.(*slack.SectionBlock); ok && section.Text != nil {
					originalText = section.Text.Text
					break
				}
			}
		}
		updatedText := fmt.Sprintf("%s\n\n%s by <@%s>", originalText, status, callback.User.ID)
		_, _, _, _ = h.api.UpdateMessage(callback.Channel.ID, callback.Message.Timestamp, slack.MsgOptionText(updatedText, false))
	}

	if h.confirm != nil && requestID != "" {
		h.confirm.OnConfirmation(requestID, callback.User.ID, approved)
	}
}

// SendConfirmationRequest posts an interactive approve/deny message —
// used both for the teacher's original permission-approval flow and for
// ResultProcessor's restart/update confirmation prompts.
func (h *Handler) SendConfirmationRequest(ctx context.Context, channelID, requestID, title, detail string) error {
	_, _, err := h.api.PostMessage(channelID, slack.MsgOptionBlocks(ConfirmationBlocks(requestID, title, detail)...))
	if err != nil {
		return fmt.Errorf("sending confirmation request: %w", err)
	}
	return nil
}

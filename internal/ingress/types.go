// Package ingress wires the Slack-facing routing interfaces
// (slack.DirectRouter, slack.ChannelObserver, slack.ConfirmationHandler)
// to the engine-execution/memory/presentation core. It plays the role the
// teacher's internal/bridge plays between Slack and the Agent/TaskExecutor,
// generalized to this system's session/memory/channel-pipeline shape.
package ingress

import "context"

// MessagePayload is handed to the on_message plugin hook before a direct
// message is routed to the Executor, giving a plugin first refusal on it
// (a Stop verdict short-circuits the default engine round).
type MessagePayload struct {
	Channel   string
	User      string
	Text      string
	ThreadTS  string
	MessageTS string
}

// ImageGenPayload is handed to the on_image_gen plugin hook for each
// IMAGE_GEN marker in an engine result.
type ImageGenPayload struct {
	Channel  string
	ThreadTS string
	Prompt   string
}

// ListRunPayload is handed to the on_list_run plugin hook for a LIST_RUN
// marker in an engine result.
type ListRunPayload struct {
	Name string
}

// ConfirmationSender posts an interactive approve/deny prompt. Satisfied by
// *slack.Handler without ingress needing to import the slack package.
type ConfirmationSender interface {
	SendConfirmationRequest(ctx context.Context, channelID, requestID, title, detail string) error
}

// LifecycleController requests that the process exit with code, so an
// external supervisor can restart it. Self-requested update exits 42,
// self-requested restart exits 43, per spec §4.8.
type LifecycleController interface {
	RequestExit(code int)
}

// FileUploader uploads a FILE/ATTACH marker's referenced path to a thread.
type FileUploader interface {
	UploadFile(channelID, threadTS, path string, asAttachment bool) error
}

package ingress

import (
	"context"
	"fmt"

	"github.com/oksoyo/slackbroker/internal/plugin"
)

// sideEffects implements presentation.SideEffects, turning result markers
// into plugin hook dispatches, file uploads, and lifecycle-exit requests.
type sideEffects struct {
	uploader   FileUploader
	dispatcher *plugin.HookDispatcher
	lifecycle  LifecycleController
	router     *Router
}

// NewSideEffects builds the presentation.SideEffects implementation. The
// RESTART/UPDATE confirmation path needs a *Router, but Router's own
// constructor takes a *presentation.Processor that in turn needs a
// SideEffects — call BindRouter once the Router exists to close the loop.
func NewSideEffects(uploader FileUploader, dispatcher *plugin.HookDispatcher, lifecycle LifecycleController) *sideEffects {
	return &sideEffects{uploader: uploader, dispatcher: dispatcher, lifecycle: lifecycle}
}

// BindRouter supplies the Router that ConfirmRestart delegates to. Must be
// called before any RESTART/UPDATE confirmation can be served.
func (s *sideEffects) BindRouter(router *Router) {
	s.router = router
}

// GenerateImage dispatches to on_image_gen; image generation itself is
// always plugin-implemented, per spec §4.6.
func (s *sideEffects) GenerateImage(ctx context.Context, channelID, threadTS, prompt string) error {
	result := s.dispatcher.Dispatch(ctx, plugin.HookOnImageGen, ImageGenPayload{Channel: channelID, ThreadTS: threadTS, Prompt: prompt})
	if len(result.Values) == 0 {
		return fmt.Errorf("no plugin handled image generation request")
	}
	return nil
}

func (s *sideEffects) UploadFile(_ context.Context, channelID, threadTS, path string, asAttachment bool) error {
	return s.uploader.UploadFile(channelID, threadTS, path, asAttachment)
}

// ForwardListRun dispatches to on_list_run; the list-run plugin interprets
// name itself.
func (s *sideEffects) ForwardListRun(ctx context.Context, name string) error {
	result := s.dispatcher.Dispatch(ctx, plugin.HookOnListRun, ListRunPayload{Name: name})
	if len(result.Values) == 0 {
		return fmt.Errorf("no plugin registered for list run %q", name)
	}
	return nil
}

// RequestUpdate requests a self-update restart (exit code 42, per spec §4.8).
func (s *sideEffects) RequestUpdate(context.Context) error {
	s.lifecycle.RequestExit(42)
	return nil
}

// RequestRestart requests a plain restart (exit code 43, per spec §4.8).
func (s *sideEffects) RequestRestart(context.Context) error {
	s.lifecycle.RequestExit(43)
	return nil
}

// ConfirmRestart is invoked instead of RequestUpdate/RequestRestart when
// another session has a round in flight; it always proposes a restart
// (exit 43) on approval since ResultProcessor does not distinguish which
// marker triggered the gate once other sessions are active.
func (s *sideEffects) ConfirmRestart(ctx context.Context, channelID, threadTS string) error {
	if s.router == nil {
		return fmt.Errorf("side effects not bound to a router, cannot request restart confirmation")
	}
	return s.router.requestRestartConfirmation(ctx, channelID, threadTS)
}

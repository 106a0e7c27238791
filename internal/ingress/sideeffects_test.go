package ingress

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksoyo/slackbroker/internal/plugin"
)

type fakeUploader struct {
	channel, threadTS, path string
	asAttachment            bool
	called                  bool
}

func (f *fakeUploader) UploadFile(channelID, threadTS, path string, asAttachment bool) error {
	f.called = true
	f.channel, f.threadTS, f.path, f.asAttachment = channelID, threadTS, path, asAttachment
	return nil
}

func newTestSideEffects(t *testing.T) (*sideEffects, *fakeUploader, *plugin.HookDispatcher, *fakeLifecycle) {
	t.Helper()
	uploader := &fakeUploader{}
	dispatcher := plugin.NewHookDispatcher(zerolog.Nop())
	lifecycle := &fakeLifecycle{}
	return NewSideEffects(uploader, dispatcher, lifecycle), uploader, dispatcher, lifecycle
}

func TestSideEffects_GenerateImage_NoPluginErrors(t *testing.T) {
	effects, _, _, _ := newTestSideEffects(t)
	err := effects.GenerateImage(context.Background(), "C1", "T1", "a cat")
	assert.Error(t, err)
}

func TestSideEffects_GenerateImage_DispatchesToRegisteredPlugin(t *testing.T) {
	effects, _, dispatcher, _ := newTestSideEffects(t)
	var got ImageGenPayload
	dispatcher.Register(plugin.HookOnImageGen, plugin.RegisteredHook{
		Priority: 0,
		Handler: func(_ context.Context, payload any) (plugin.HookResult, any, error) {
			got = payload.(ImageGenPayload)
			return plugin.Continue, nil, nil
		},
	})

	err := effects.GenerateImage(context.Background(), "C1", "T1", "a cat")
	require.NoError(t, err)
	assert.Equal(t, "a cat", got.Prompt)
	assert.Equal(t, "C1", got.Channel)
	assert.Equal(t, "T1", got.ThreadTS)
}

func TestSideEffects_UploadFile_DelegatesToUploader(t *testing.T) {
	effects, uploader, _, _ := newTestSideEffects(t)
	err := effects.UploadFile(context.Background(), "C1", "T1", "/tmp/out.png", true)
	require.NoError(t, err)
	assert.True(t, uploader.called)
	assert.Equal(t, "/tmp/out.png", uploader.path)
	assert.True(t, uploader.asAttachment)
}

func TestSideEffects_ForwardListRun_NoPluginErrors(t *testing.T) {
	effects, _, _, _ := newTestSideEffects(t)
	err := effects.ForwardListRun(context.Background(), "nightly-report")
	assert.Error(t, err)
}

func TestSideEffects_ForwardListRun_DispatchesToRegisteredPlugin(t *testing.T) {
	effects, _, dispatcher, _ := newTestSideEffects(t)
	var got ListRunPayload
	dispatcher.Register(plugin.HookOnListRun, plugin.RegisteredHook{
		Priority: 0,
		Handler: func(_ context.Context, payload any) (plugin.HookResult, any, error) {
			got = payload.(ListRunPayload)
			return plugin.Continue, nil, nil
		},
	})

	err := effects.ForwardListRun(context.Background(), "nightly-report")
	require.NoError(t, err)
	assert.Equal(t, "nightly-report", got.Name)
}

func TestSideEffects_RequestUpdate_Exits42(t *testing.T) {
	effects, _, _, lifecycle := newTestSideEffects(t)
	require.NoError(t, effects.RequestUpdate(context.Background()))
	assert.True(t, lifecycle.called)
	assert.Equal(t, 42, lifecycle.exitCode)
}

func TestSideEffects_RequestRestart_Exits43(t *testing.T) {
	effects, _, _, lifecycle := newTestSideEffects(t)
	require.NoError(t, effects.RequestRestart(context.Background()))
	assert.True(t, lifecycle.called)
	assert.Equal(t, 43, lifecycle.exitCode)
}

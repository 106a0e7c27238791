package slack

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksoyo/slackbroker/internal/memory"
)

type fakePluginManager struct {
	names      []string
	reloadErr  error
	reloadedAs string
}

func (f *fakePluginManager) List() []string { return f.names }
func (f *fakePluginManager) Reload(_ context.Context, name string, _ map[string]any) error {
	f.reloadedAs = name
	return f.reloadErr
}

type fakeMemoryStatus struct {
	persistent memory.Persistent
	candidates map[string][]memory.Candidate
	err        error
}

func (f *fakeMemoryStatus) ReadPersistent() (memory.Persistent, error) {
	return f.persistent, f.err
}
func (f *fakeMemoryStatus) AllCandidates() (map[string][]memory.Candidate, error) {
	return f.candidates, f.err
}

func newTestCommands(mock *mockSlackAPI, plugins *fakePluginManager, mem *fakeMemoryStatus) *AdminCommands {
	return NewAdminCommands(zerolog.Nop(), mock, nil, plugins, mem)
}

func TestAdminCommands_Help(t *testing.T) {
	mock := &mockSlackAPI{}
	c := newTestCommands(mock, &fakePluginManager{}, &fakeMemoryStatus{})

	handled := c.TryHandle(context.Background(), "C1", "U1", "!help", "", "111.1")
	assert.True(t, handled)
	assert.Len(t, mock.postedMessages, 1)
}

func TestAdminCommands_Plugins(t *testing.T) {
	mock := &mockSlackAPI{}
	c := newTestCommands(mock, &fakePluginManager{names: []string{"demo"}}, &fakeMemoryStatus{})

	handled := c.TryHandle(context.Background(), "C1", "U1", "<@U123BOT> !plugins", "", "111.1")
	assert.True(t, handled)
	assert.Len(t, mock.postedMessages, 1)
}

func TestAdminCommands_ReloadSuccess(t *testing.T) {
	mock := &mockSlackAPI{}
	plugins := &fakePluginManager{}
	c := newTestCommands(mock, plugins, &fakeMemoryStatus{})

	handled := c.TryHandle(context.Background(), "C1", "U1", "!reload demo", "", "111.1")
	assert.True(t, handled)
	assert.Equal(t, "demo", plugins.reloadedAs)
	require.Len(t, mock.postedMessages, 1)
}

func TestAdminCommands_ReloadMissingName(t *testing.T) {
	mock := &mockSlackAPI{}
	c := newTestCommands(mock, &fakePluginManager{}, &fakeMemoryStatus{})

	handled := c.TryHandle(context.Background(), "C1", "U1", "!reload ", "", "111.1")
	assert.True(t, handled)
	require.Len(t, mock.postedMessages, 1)
}

func TestAdminCommands_MemoryStatus(t *testing.T) {
	mock := &mockSlackAPI{}
	mem := &fakeMemoryStatus{
		persistent: memory.Persistent{
			Items:     []memory.PersistentItem{{ID: "ltm_1"}},
			UpdatedAt: time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC),
		},
		candidates: map[string][]memory.Candidate{"thread1": {{Content: "x"}}},
	}
	c := newTestCommands(mock, &fakePluginManager{}, mem)

	handled := c.TryHandle(context.Background(), "C1", "U1", "!memory status", "", "111.1")
	assert.True(t, handled)
	require.Len(t, mock.postedMessages, 1)
}

func TestAdminCommands_UnrecognizedFallsThroughWithoutDispatcher(t *testing.T) {
	mock := &mockSlackAPI{}
	c := newTestCommands(mock, &fakePluginManager{}, &fakeMemoryStatus{})

	handled := c.TryHandle(context.Background(), "C1", "U1", "what's the weather", "", "111.1")
	assert.False(t, handled)
	assert.Empty(t, mock.postedMessages)
}

func TestStripMention_RemovesLeadingMentionToken(t *testing.T) {
	assert.Equal(t, "!plugins", stripMention("<@U123BOT> !plugins"))
	assert.Equal(t, "!plugins", stripMention("!plugins"))
}

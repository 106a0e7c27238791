package session

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), zerolog.New(os.Stderr))
}

func TestCreate_Get_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create("T1", "C1", "U1", "alice", RoleViewer, SourceThread)
	require.NoError(t, err)
	require.NotNil(t, created)

	got := s.Get("T1")
	require.NotNil(t, got)
	assert.Equal(t, "C1", got.ChannelID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, RoleViewer, got.Role)
}

func TestCreate_ExactlyOnePerThread(t *testing.T) {
	s := newTestStore(t)
	first, err := s.Create("T1", "C1", "U1", "alice", RoleViewer, SourceThread)
	require.NoError(t, err)

	second, err := s.Create("T1", "C2", "U2", "bob", RoleAdmin, SourceChannel)
	require.NoError(t, err)
	assert.Equal(t, first.ChannelID, second.ChannelID, "create is idempotent for an existing thread_ts")
}

func TestUpdateSessionID_RotationReplacesNotSplits(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("T1", "C1", "U1", "alice", RoleViewer, SourceThread)
	require.NoError(t, err)

	s.UpdateSessionID("T1", "sess-abc")
	assert.Equal(t, "sess-abc", s.Get("T1").SessionID)

	s.UpdateSessionID("T1", "sess-xyz")
	got := s.Get("T1")
	assert.Equal(t, "sess-xyz", got.SessionID)
	assert.Equal(t, "T1", got.ThreadTS, "rotation never changes the thread key")
}

func TestIncrementMessageCount(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("T1", "C1", "U1", "alice", RoleViewer, SourceThread)
	require.NoError(t, err)

	s.IncrementMessageCount("T1")
	s.IncrementMessageCount("T1")
	assert.Equal(t, 2, s.Get("T1").MessageCount)
}

func TestGet_CorruptFileReturnsNilNotError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.baseDir, 0o755))
	require.NoError(t, os.WriteFile(s.pathFor("T1"), []byte("{not json"), 0o644))

	assert.Nil(t, s.Get("T1"))
}

func TestListActive_SkipsCorruptFilesButReturnsRest(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("T1", "C1", "U1", "alice", RoleViewer, SourceThread)
	require.NoError(t, err)
	_, err = s.Create("T2", "C1", "U1", "alice", RoleViewer, SourceThread)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.pathFor("T3"), []byte("not json at all"), 0o644))

	active := s.ListActive()
	assert.Len(t, active, 2)
}

func TestGet_MissingThreadReturnsNil(t *testing.T) {
	s := newTestStore(t)
	assert.Nil(t, s.Get("does-not-exist"))
}

func TestCleanupOld_RemovesStaleSessions(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("T1", "C1", "U1", "alice", RoleViewer, SourceThread)
	require.NoError(t, err)

	removed := s.CleanupOld(0)
	assert.Equal(t, 1, removed)
	assert.Nil(t, s.Get("T1"))
}

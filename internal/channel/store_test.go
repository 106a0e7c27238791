package channel

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PendingJudgedRoundTrip(t *testing.T) {
	s := New(t.TempDir(), zerolog.Nop())

	m1 := Message{TS: "1.1", User: "u1", Text: "hello", At: time.Now().UTC()}
	m2 := Message{TS: "1.2", User: "u2", Text: "world", At: time.Now().UTC()}
	require.NoError(t, s.AppendPending("C1", m1))
	require.NoError(t, s.AppendPending("C1", m2))

	pending, err := s.ReadPending("C1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "hello", pending[0].Text)

	require.NoError(t, s.MovePendingToJudged("C1"))

	pending, err = s.ReadPending("C1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	judged, err := s.ReadJudged("C1")
	require.NoError(t, err)
	require.Len(t, judged, 2)
	assert.Equal(t, "world", judged[1].Text)
}

func TestStore_MovePendingToJudgedEmptyIsNoop(t *testing.T) {
	s := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, s.MovePendingToJudged("C1"))
	judged, err := s.ReadJudged("C1")
	require.NoError(t, err)
	assert.Empty(t, judged)
}

func TestStore_ThreadBufferLifecycle(t *testing.T) {
	s := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, s.AppendThreadBuffer("C1", "t1", Message{TS: "1.1", Text: "a"}))
	require.NoError(t, s.AppendThreadBuffer("C1", "t1", Message{TS: "1.2", Text: "b"}))

	buf, err := s.ReadThreadBuffer("C1", "t1")
	require.NoError(t, err)
	require.Len(t, buf, 2)

	require.NoError(t, s.ClearThreadBuffers("C1", []string{"t1"}))
	buf, err = s.ReadThreadBuffer("C1", "t1")
	require.NoError(t, err)
	assert.Empty(t, buf)
}

func TestStore_ClearThreadBuffersToleratesMissing(t *testing.T) {
	s := New(t.TempDir(), zerolog.Nop())
	assert.NoError(t, s.ClearThreadBuffers("C1", []string{"never-existed"}))
}

func TestStore_DigestRoundTrip(t *testing.T) {
	s := New(t.TempDir(), zerolog.Nop())

	d, err := s.ReadDigest("C1")
	require.NoError(t, err)
	assert.Equal(t, Digest{}, d, "absent digest reads as zero value")

	want := Digest{Content: "summary so far", TokenCount: 42, LastDigestedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, s.WriteDigest("C1", want))

	got, err := s.ReadDigest("C1")
	require.NoError(t, err)
	assert.Equal(t, want.Content, got.Content)
	assert.Equal(t, want.TokenCount, got.TokenCount)
}

func TestStore_InterventionStateRoundTrip(t *testing.T) {
	s := New(t.TempDir(), zerolog.Nop())

	st, err := s.ReadInterventionState("C1")
	require.NoError(t, err)
	assert.False(t, st.Active)

	now := time.Now().UTC().Truncate(time.Second)
	want := InterventionState{Active: true, RemainingTurns: 2, LastInterventionAt: now}
	require.NoError(t, s.WriteInterventionState("C1", want))

	got, err := s.ReadInterventionState("C1")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, 2, got.RemainingTurns)
}

func TestReadJSONL_SkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, zerolog.Nop())
	path := s.pendingPath("C1")

	require.NoError(t, s.AppendPending("C1", Message{TS: "1.1", Text: "ok"}))

	unlock := s.locker.Lock(path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	unlock()

	msgs, err := readJSONL(path)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ok", msgs[0].Text)
}

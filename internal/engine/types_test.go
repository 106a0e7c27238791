package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine_SystemInit(t *testing.T) {
	ev, err := ParseLine([]byte(`{"type":"system","subtype":"init","session_id":"sess-1"}`))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, EventSystem, ev.Type)
	assert.Equal(t, "sess-1", ev.SessionID)
}

func TestParseLine_SystemNonInitIgnored(t *testing.T) {
	ev, err := ParseLine([]byte(`{"type":"system","subtype":"other"}`))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestParseLine_Assistant(t *testing.T) {
	ev, err := ParseLine([]byte(`{"type":"assistant","message":{"content":[{"text":"hel"},{"text":"lo"}]}}`))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "hello", ev.Text)
}

func TestParseLine_Result(t *testing.T) {
	ev, err := ParseLine([]byte(`{"type":"result","result":"done","session_id":"sess-1","interrupted":false,"usage":{"input_tokens":10,"output_tokens":5}}`))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "done", ev.Result)
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.False(t, ev.Interrupted)
	require.NotNil(t, ev.Usage)
	assert.Equal(t, 10, ev.Usage.InputTokens)
}

func TestParseLine_ResultCacheOnlyUsage(t *testing.T) {
	ev, err := ParseLine([]byte(`{"type":"result","result":"done","usage":{"cache_creation_input_tokens":500}}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Usage)
	assert.Equal(t, 0, ev.Usage.InputTokens)
	assert.Equal(t, 500, ev.Usage.CacheCreationInputTokens)
}

func TestParseLine_Compact(t *testing.T) {
	ev, err := ParseLine([]byte(`{"type":"compact","trigger":"auto","message":"context window full"}`))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, CompactAuto, ev.CompactTrigger)
}

func TestParseLine_UnknownTypeIgnored(t *testing.T) {
	ev, err := ParseLine([]byte(`{"type":"heartbeat"}`))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestParseLine_NonJSONReturnsError(t *testing.T) {
	_, err := ParseLine([]byte(`not json at all`))
	assert.Error(t, err)
}

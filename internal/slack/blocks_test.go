package slack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfirmationBlocks(t *testing.T) {
	blocks := ConfirmationBlocks("req-1", "재시작 확인", "세션 2개가 실행 중입니다.")
	assert.Equal(t, 2, len(blocks))
}

func TestPluginStatusBlocks_Empty(t *testing.T) {
	blocks := PluginStatusBlocks(nil)
	assert.Equal(t, 2, len(blocks))
}

func TestPluginStatusBlocks_WithPlugins(t *testing.T) {
	blocks := PluginStatusBlocks([]string{"trello", "credentials"})
	assert.Equal(t, 2, len(blocks))
}

func TestMemoryStatusBlocks(t *testing.T) {
	blocks := MemoryStatusBlocks(12, 3, "2026-07-30T10:00:00Z")
	assert.Equal(t, 2, len(blocks))
}

func TestHelpBlocks(t *testing.T) {
	blocks := HelpBlocks()
	assert.Equal(t, 2, len(blocks))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel…", truncate("hello", 3))
	assert.Equal(t, "hello", truncate("hello", 5))
}

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnvs(t *testing.T) {
	t.Helper()
	envs := map[string]string{
		"SLACK_BOT_TOKEN": "xoxb-test",
		"SLACK_APP_TOKEN": "xapp-test",
		"ENGINE_BIN":      "/usr/local/bin/engine",
		"LLM_API_KEY":     "sk-test",
	}
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoad_Success(t *testing.T) {
	setRequiredEnvs(t)
	cfg, err := LoadWithPrefix("")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-test", cfg.SlackBotToken)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "/usr/local/bin/engine", cfg.EngineBin)
}

func TestLoad_MissingOptional(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8090", cfg.HTTPListenAddr)
	assert.False(t, cfg.SlackEnabled())
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnvs(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 150, cfg.ChannelThresholdA)
	assert.Equal(t, 0.3, cfg.InterventionThreshold)
	assert.Equal(t, "subprocess", cfg.EngineMode)
}

func TestConfig_EnabledFlags(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.SlackEnabled())
	assert.False(t, cfg.EngineRemote())
	assert.False(t, cfg.AdminCapabilityEnabled())

	cfg.SlackBotToken = "xoxb-test"
	cfg.SlackAppToken = "xapp-test"
	assert.True(t, cfg.SlackEnabled())

	cfg.EngineMode = "remote"
	assert.True(t, cfg.EngineRemote())

	cfg.AdminMCPConfigPath = "/etc/mcp.json"
	cfg.CapabilitySigningKey = "secret"
	assert.True(t, cfg.AdminCapabilityEnabled())
}

func TestSlackAllowedChannelList_FailClosed(t *testing.T) {
	cfg := &Config{}
	assert.Nil(t, cfg.SlackAllowedChannelList())

	cfg.SlackAllowedChannels = " C123 , C456 ,"
	assert.Equal(t, []string{"C123", "C456"}, cfg.SlackAllowedChannelList())
}

func TestChannelTriggerWordList(t *testing.T) {
	cfg := &Config{ChannelTriggerWords: "urgent, help"}
	assert.Equal(t, []string{"urgent", "help"}, cfg.ChannelTriggerWordList())
}

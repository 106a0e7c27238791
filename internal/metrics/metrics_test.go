package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_RegistersWithoutPanicking(t *testing.T) {
	m := New()
	assert.NotNil(t, m)
}

func TestRecorders_DoNotPanic(t *testing.T) {
	m := New()
	m.RecordEngineRound("success", 1.5)
	m.SetActiveSessions(3)
	m.RecordPendingPromptCollapse("active")
	m.RecordChannelPipelineRun("skip")
	m.RecordInterventionOutcome("fired")
	m.RecordMemoryPromotion("promoted")
	m.RecordMemoryCompaction()
	m.RecordPluginHook("on_message", "continue")
	m.RecordDeadLetter("engine_round")
	m.RecordError("executor", "timeout")
}

func TestHandler_ServesMetrics(t *testing.T) {
	m := New()
	m.RecordEngineRound("success", 0.5)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "bot_engine_rounds_total")
}

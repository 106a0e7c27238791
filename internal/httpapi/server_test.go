package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksoyo/slackbroker/internal/audit"
	"github.com/oksoyo/slackbroker/internal/health"
	"github.com/oksoyo/slackbroker/internal/metrics"
)

type fakePlugins struct {
	names      []string
	reloadErr  error
	reloadedAs string
}

func (f *fakePlugins) List() []string { return f.names }
func (f *fakePlugins) Reload(_ context.Context, name string, _ map[string]any) error {
	f.reloadedAs = name
	return f.reloadErr
}

func testApp(t *testing.T, authMode, token string, replay ReplayFunc) (*httpTestFixture, *fakePlugins) {
	t.Helper()
	logger := zerolog.Nop()
	checker := health.NewChecker(logger)
	metricsCollector := metrics.New()
	store, err := audit.New(t.TempDir()+"/audit.db", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	plugins := &fakePlugins{names: []string{"demo"}}
	handlers := NewHandlers(plugins, store, replay, logger)

	srv := NewServer(ServerConfig{
		ListenAddr: ":0",
		Auth:       AuthConfig{Mode: authMode, Token: token},
	}, checker, metricsCollector, handlers, logger)

	return &httpTestFixture{srv: srv, store: store}, plugins
}

type httpTestFixture struct {
	srv   *Server
	store *audit.Store
}

func TestServer_HealthzEndpoint(t *testing.T) {
	fx, _ := testApp(t, "none", "", nil)

	req, _ := http.NewRequest("GET", "/healthz", nil)
	resp, err := fx.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ReadyzEndpoint(t *testing.T) {
	fx, _ := testApp(t, "none", "", nil)

	req, _ := http.NewRequest("GET", "/readyz", nil)
	resp, err := fx.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	fx, _ := testApp(t, "none", "", nil)

	req, _ := http.NewRequest("GET", "/metrics", nil)
	resp, err := fx.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_AuthRequiredWhenBearerMode(t *testing.T) {
	fx, _ := testApp(t, "bearer", "secret-token", nil)

	req, _ := http.NewRequest("GET", "/plugins", nil)
	resp, err := fx.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest("GET", "/plugins", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = fx.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ListPlugins(t *testing.T) {
	fx, _ := testApp(t, "none", "", nil)

	req, _ := http.NewRequest("GET", "/plugins", nil)
	resp, err := fx.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string][]string
	json.NewDecoder(resp.Body).Decode(&body)
	assert.Equal(t, []string{"demo"}, body["loaded"])
}

func TestServer_ReloadPlugin(t *testing.T) {
	fx, plugins := testApp(t, "none", "", nil)

	req, _ := http.NewRequest("POST", "/plugins/demo/reload", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := fx.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "demo", plugins.reloadedAs)
}

func TestServer_Replay_NotFound(t *testing.T) {
	fx, _ := testApp(t, "none", "", func(_ context.Context, _ *audit.DeadLetter) error { return nil })

	req, _ := http.NewRequest("POST", "/debug/replay", strings.NewReader(`{"id":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := fx.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Replay_Success(t *testing.T) {
	var replayed *audit.DeadLetter
	fx, _ := testApp(t, "none", "", func(_ context.Context, letter *audit.DeadLetter) error {
		replayed = letter
		return nil
	})

	require.NoError(t, fx.store.SaveDeadLetter(&audit.DeadLetter{
		ID: "dl_1", TargetChannel: "C1", Kind: audit.DeadLetterEngineRound, Message: "hi",
	}))

	req, _ := http.NewRequest("POST", "/debug/replay", strings.NewReader(`{"id":"dl_1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := fx.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, replayed)
	assert.Equal(t, "dl_1", replayed.ID)
}

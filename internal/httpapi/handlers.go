package httpapi

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/oksoyo/slackbroker/internal/audit"
)

// PluginManager is the subset of plugin.PluginHost the control plane needs.
type PluginManager interface {
	Reload(ctx context.Context, name string, config map[string]any) error
	List() []string
}

// ReplayFunc re-submits one dead letter's unit of work. What it does
// depends on letter.Kind (re-run an engine round, re-dispatch a plugin
// hook, retry an OM promotion write); the caller supplies the dispatch
// logic at construction since httpapi has no domain knowledge of it.
type ReplayFunc func(ctx context.Context, letter *audit.DeadLetter) error

type reloadRequest struct {
	Config map[string]any `json:"config"`
}

type replayRequest struct {
	ID string `json:"id"`
}

// Handlers holds the dependencies the control-plane routes call into.
type Handlers struct {
	plugins PluginManager
	audit   *audit.Store
	replay  ReplayFunc
	logger  zerolog.Logger
}

func NewHandlers(plugins PluginManager, auditStore *audit.Store, replay ReplayFunc, logger zerolog.Logger) *Handlers {
	return &Handlers{
		plugins: plugins,
		audit:   auditStore,
		replay:  replay,
		logger:  logger.With().Str("component", "httpapi.handlers").Logger(),
	}
}

// ReloadPlugin handles POST /plugins/:name/reload.
func (h *Handlers) ReloadPlugin(c *fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return problemResponse(c, fiber.StatusBadRequest, "missing_plugin_name", "Bad Request", "plugin name is required")
	}

	var req reloadRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return problemResponse(c, fiber.StatusBadRequest, "invalid_body", "Bad Request", err.Error())
		}
	}

	if err := h.plugins.Reload(c.Context(), name, req.Config); err != nil {
		return problemResponse(c, fiber.StatusInternalServerError, "reload_failed", "Reload Failed", err.Error())
	}
	return c.JSON(fiber.Map{"reloaded": name})
}

// ListPlugins handles GET /plugins.
func (h *Handlers) ListPlugins(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"loaded": h.plugins.List()})
}

// Replay handles POST /debug/replay: looks up the named dead letter and
// re-submits it via the injected ReplayFunc. On success the dead letter is
// resolved; on failure its retry count is bumped so it remains eligible
// for the ordinary background retry sweep.
func (h *Handlers) Replay(c *fiber.Ctx) error {
	var req replayRequest
	if err := c.BodyParser(&req); err != nil || req.ID == "" {
		return problemResponse(c, fiber.StatusBadRequest, "invalid_body", "Bad Request", "a dead letter id is required")
	}

	letter, err := h.audit.Get(req.ID)
	if err != nil {
		return problemResponse(c, fiber.StatusNotFound, "not_found", "Not Found", err.Error())
	}

	if h.replay == nil {
		return problemResponse(c, fiber.StatusServiceUnavailable, "replay_unavailable", "Service Unavailable", "no replay handler configured")
	}

	if err := h.replay(c.Context(), letter); err != nil {
		h.logger.Warn().Err(err).Str("dead_letter_id", letter.ID).Msg("replay attempt failed")
		_ = h.audit.IncrementRetry(letter.ID, 0)
		return problemResponse(c, fiber.StatusInternalServerError, "replay_failed", "Replay Failed", err.Error())
	}

	_ = h.audit.ResolveDeadLetter(letter.ID)
	return c.JSON(fiber.Map{"replayed": letter.ID})
}

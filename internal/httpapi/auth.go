package httpapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// AuthConfig holds authentication configuration for the control-plane API.
type AuthConfig struct {
	// Mode is "bearer" or "none". "none" is for local development only.
	Mode  string
	Token string
}

// NewAuthMiddleware returns a Fiber middleware that validates the
// Authorization header against a single configured bearer token. Probe
// endpoints are always exempt.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Mode == "none" {
			return c.Next()
		}

		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized", "Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized", "Authorization header must use Bearer scheme")
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" || token != cfg.Token {
			logger.Warn().Str("path", path).Str("method", c.Method()).Msg("unauthorized control-plane request")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_token", "Unauthorized", "Invalid bearer token")
		}
		return c.Next()
	}
}

func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

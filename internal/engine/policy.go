package engine

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oksoyo/slackbroker/internal/session"
)

// ToolPolicy is the role-derived tool allowlist/denylist embedded in an
// engine invocation per spec §4.2.1 ("include role-derived tool allowlist/
// denylist; an MCP configuration path for admin").
type ToolPolicy struct {
	Allow []string
	Deny  []string
	// MCPConfigPath, when non-empty, is an additional MCP server
	// configuration file path granted only to the admin role.
	MCPConfigPath string
}

// viewerDenied is always excluded from a viewer's tool allowlist, mirroring
// the teacher's always-deny permission tier (destructive/escalating
// actions never get a knob).
var viewerDenied = []string{"shell_exec", "file_write", "process_restart"}

// ResolveToolPolicy returns the ToolPolicy for a role. Admin sessions get an
// unrestricted allowlist (nil Allow means "no restriction") plus the signed
// MCP capability path; viewer sessions get an explicit denylist of
// escalating tools.
func ResolveToolPolicy(role session.Role, mcpConfigPath string) ToolPolicy {
	if role == session.RoleAdmin {
		return ToolPolicy{MCPConfigPath: mcpConfigPath}
	}
	return ToolPolicy{Deny: viewerDenied}
}

// CapabilityClaims is the payload of the signed, short-lived token embedded
// in the admin-role MCP configuration path — a capability, not a long-lived
// secret, the same role the GitHub App JWT plays for the teacher.
type CapabilityClaims struct {
	jwt.RegisteredClaims
	ThreadTS string `json:"thread_ts"`
	Role     string `json:"role"`
}

// SignCapability issues a short-lived HS256 token scoped to one thread_ts,
// signed with signingKey, valid for ttl.
func SignCapability(signingKey string, threadTS string, role session.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CapabilityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "slackbroker",
		},
		ThreadTS: threadTS,
		Role:     string(role),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(signingKey))
	if err != nil {
		return "", fmt.Errorf("signing capability token: %w", err)
	}
	return signed, nil
}

// VerifyCapability parses and validates a capability token, returning its
// claims if signature and expiry both check out.
func VerifyCapability(signingKey, tokenString string) (*CapabilityClaims, error) {
	var claims CapabilityClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return []byte(signingKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("verifying capability token: %w", err)
	}
	return &claims, nil
}

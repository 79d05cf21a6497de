package httpapi

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig gates the /ws upgrade behind a JWT bearer token. A peer's
// connecting identity is authenticated, not a logged-in human's.
type AuthConfig struct {
	Enabled bool
	Secret  []byte
}

// authenticate validates a "Bearer <token>" Authorization header against
// cfg.Secret and returns the token's subject claim as the connecting peer's
// identity hint. Disabled configs always succeed with an empty subject.
func authenticate(cfg AuthConfig, authorizationHeader string) (subject string, err error) {
	if !cfg.Enabled {
		return "", nil
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authorizationHeader, prefix) {
		return "", fmt.Errorf("missing bearer token")
	}
	raw := strings.TrimPrefix(authorizationHeader, prefix)

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return cfg.Secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	if sub, ok := claims["sub"].(string); ok {
		return sub, nil
	}
	return "", nil
}

package identifier

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rules"
)

// jwtParser is shared across calls; ParseUnverified never checks a
// signature, so no key material is needed. This is the deliberate
// no-verification trust model documented in SPEC_FULL.md §9: upstream
// authentication is assumed to have already validated the token.
var jwtParser = jwt.NewParser()

// jwtClaims extracts and concatenates the configured claims from the
// bearer token on the Authorization header, per SPEC_FULL.md §4.3. A
// missing claim anywhere invalidates the whole source.
func (res *Resolver) jwtClaims(req Request, rule *rules.Rule) (string, bool) {
	auth := req.Headers.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	tokenString := strings.TrimSpace(auth[len(prefix):])
	if tokenString == "" {
		return "", false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwtParser.ParseUnverified(tokenString, claims); err != nil {
		return "", false
	}

	parts := make([]string, 0, len(rule.JWTClaims))
	for _, name := range rule.JWTClaims {
		v, ok := stringifyClaim(claims, name)
		if !ok {
			return "", false
		}
		parts = append(parts, v)
	}

	sep := rule.JWTClaimSeparator
	if sep == "" {
		sep = ":"
	}
	return strings.Join(parts, sep), true
}

func stringifyClaim(claims jwt.MapClaims, name string) (string, bool) {
	raw, ok := claims[name]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, v != ""
	case float64:
		return fmt.Sprintf("%v", v), true
	case bool:
		return fmt.Sprintf("%v", v), true
	case nil:
		return "", false
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// Package auth implements the bearer-token gateway: header extraction
// and constant-time secret comparison, so that timing never reveals
// how many leading bytes of a presented token were correct.
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/hr-knowledge-base/rag-core/internal/apierr"
)

const bearerPrefix = "Bearer "

// MinSecretLength is the minimum length the configured API secret
// must satisfy; shorter values are rejected at startup.
const MinSecretLength = 32

// Headers carries the two header values auth cares about. Handlers
// populate this from the transport (Fiber) layer so this package stays
// framework-agnostic and trivially testable.
type Headers struct {
	Authorization string
	AccessToken   string
}

// extractToken returns the token value per spec section 4.2, or an
// APIError describing why no token could be extracted.
func extractToken(h Headers) (string, *apierr.APIError) {
	if h.Authorization != "" {
		if strings.HasPrefix(h.Authorization, bearerPrefix) {
			token := strings.TrimPrefix(h.Authorization, bearerPrefix)
			if token == "" {
				return "", apierr.Unauthorized("token_missing")
			}
			return token, nil
		}
		if h.AccessToken == "" {
			return "", apierr.Unauthorized("token_malformed")
		}
	}
	if h.AccessToken != "" {
		return h.AccessToken, nil
	}
	return "", apierr.Unauthorized("token_missing")
}

// Authenticate extracts the bearer token from the request headers and
// compares it against secret in constant time. It returns the
// extracted token (used as the rate-limiter key) on success.
func Authenticate(h Headers, secret string) (string, *apierr.APIError) {
	token, err := extractToken(h)
	if err != nil {
		return "", err
	}
	if !constantTimeEqual(token, secret) {
		return "", apierr.Unauthorized("token_invalid")
	}
	return token, nil
}

// constantTimeEqual compares a and b over max(len(a), len(b)) bytes so
// that execution time does not depend on where the first mismatching
// byte occurs, nor leak the length relationship via an early return.
func constantTimeEqual(a, b string) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	bufA := make([]byte, n)
	bufB := make([]byte, n)
	copy(bufA, a)
	copy(bufB, b)

	eq := subtle.ConstantTimeCompare(bufA, bufB) == 1
	lenEq := subtle.ConstantTimeEq(int32(len(a)), int32(len(b))) == 1
	return eq && lenEq
}

package sessionsdk

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry decides when an access token must be treated as expired.
//
// The backend does not report a lifetime, so the default is now + lifetime.
// When the token happens to be a JWT whose exp claim is earlier than that,
// the earlier instant wins: refreshing early is harmless, refreshing late is
// not. The signature is not checked; the token is opaque to us and the exp
// claim is only a scheduling hint.
func tokenExpiry(token string, now time.Time, lifetime time.Duration) time.Time {
	def := now.Add(lifetime)

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return def
	}
	if claims.ExpiresAt == nil {
		return def
	}

	exp := claims.ExpiresAt.Time
	switch {
	case exp.Before(now):
		return now
	case exp.After(def):
		return def
	default:
		return exp
	}
}

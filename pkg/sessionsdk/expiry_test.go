package sessionsdk

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{Subject: "u-1"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	lifetime := time.Hour

	tests := []struct {
		name  string
		token string
		want  time.Time
	}{
		{
			name:  "opaque token",
			token: "T1",
			want:  now.Add(lifetime),
		},
		{
			name:  "jwt without exp",
			token: signedToken(t, time.Time{}),
			want:  now.Add(lifetime),
		},
		{
			name:  "jwt expiring sooner",
			token: signedToken(t, now.Add(20*time.Minute)),
			want:  now.Add(20 * time.Minute),
		},
		{
			name:  "jwt expiring later is capped",
			token: signedToken(t, now.Add(24*time.Hour)),
			want:  now.Add(lifetime),
		},
		{
			name:  "jwt already expired",
			token: signedToken(t, now.Add(-time.Minute)),
			want:  now,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenExpiry(tt.token, now, lifetime)
			require.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

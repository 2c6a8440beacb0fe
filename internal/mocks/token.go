package mocks

import (
	"testing"
	"time"

	"github.com/pascaldekloe/jwt"
)

// BearerToken signs a token the way the session service does, using
// MockConfig's secret and base URL.
func BearerToken(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()

	var claims jwt.Claims
	claims.Subject = subject
	claims.Issued = jwt.NewNumericTime(time.Now())
	claims.NotBefore = jwt.NewNumericTime(time.Now().Add(-time.Minute))
	claims.Expires = jwt.NewNumericTime(time.Now().Add(ttl))
	claims.Issuer = MockConfig.BaseURL
	claims.Audiences = []string{MockConfig.BaseURL}

	token, err := claims.HMACSign(jwt.HS256, []byte(MockConfig.Jwt.SecretKey))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + string(token)
}

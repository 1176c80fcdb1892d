package oauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// InferExpiry reads the exp claim of a JWT access token without verifying
// it. Opaque tokens report false.
func InferExpiry(accessToken string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

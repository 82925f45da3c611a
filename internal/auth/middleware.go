package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ClaimsKey is the gin context key holding the session Claims.
const ClaimsKey = "claims"

// SessionAuth rejects requests without a valid bearer session token.
func SessionAuth(i *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			deny(c, "missing bearer token")
			return
		}
		claims, err := i.Parse(token)
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			deny(c, "session expired, log in again")
			return
		case err != nil:
			deny(c, "invalid token")
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func deny(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="presence"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

package session

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxClaims = "greenledger_session"

// RequireActor rejects requests without a valid actor or admin token.
func RequireActor(tokens *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, tokens)
		if !ok {
			return
		}
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// RequireAdmin rejects requests without a valid admin token.
func RequireAdmin(tokens *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, tokens)
		if !ok {
			return
		}
		if !claims.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx returns the claims stored by RequireActor/RequireAdmin.
func ClaimsFromCtx(c *gin.Context) *Claims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(*Claims)
	return claims
}

func bearerClaims(c *gin.Context, tokens *Issuer) (*Claims, bool) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Bearer session token required"})
		return nil, false
	}
	claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token: " + err.Error()})
		return nil, false
	}
	return claims, true
}

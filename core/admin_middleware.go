package core

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxAccountKey = "account"
	ctxClaimsKey  = "claims"
)

// CurrentUser requires a valid token.
func (g *Gate) CurrentUser() gin.HandlerFunc { return g.Require(GuardCurrentUser) }

// ActiveUser requires a valid token for an account that is not disabled.
func (g *Gate) ActiveUser() gin.HandlerFunc { return g.Require(GuardActiveUser) }

// AdminUser requires a valid token for an active admin.
func (g *Gate) AdminUser() gin.HandlerFunc { return g.Require(GuardAdminUser) }

// Require returns a handler that enforces guard and stores the account in the context.
func (g *Gate) Require(guard Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		acct, claims, err := g.Authenticate(ctx, bearerToken(c))
		if err == nil {
			err = checkGuard(acct, guard)
		}
		if err != nil {
			g.recordDenial(err)
			respondServiceError(c, err)
			c.Abort()
			return
		}
		c.Set(ctxAccountKey, acct)
		c.Set(ctxClaimsKey, claims)
		c.Next()
	}
}

// CurrentAccount returns the account stored by a guard, or nil on unguarded routes.
func CurrentAccount(c *gin.Context) *Account {
	v, _ := c.Get(ctxAccountKey)
	a, _ := v.(*Account)
	return a
}

func currentClaims(c *gin.Context) *SessionClaims {
	v, _ := c.Get(ctxClaimsKey)
	cl, _ := v.(*SessionClaims)
	return cl
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

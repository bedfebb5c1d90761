package ginserver

import (
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"
)

const principalContextKey = "chatd.principal"

type principal struct {
	ID       int64
	WalletID string
	Employer bool
}

// IdentityMiddleware resolves the calling user from gateway-trusted headers.
// The edge gateway terminates auth; this service only needs the identity.
type IdentityMiddleware struct{}

func (IdentityMiddleware) Handle(c *gin.Context) {
	raw := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if raw == "" {
		c.Next()
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.Next()
		return
	}
	setPrincipal(c, principal{
		ID:       id,
		WalletID: strings.TrimSpace(c.GetHeader("X-Wallet-ID")),
		Employer: strings.EqualFold(strings.TrimSpace(c.GetHeader("X-User-Role")), "employer"),
	})
	c.Next()
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	v, ok := c.Get(principalContextKey)
	if !ok {
		return principal{}, false
	}
	p, ok := v.(principal)
	return p, ok
}

func requireUser(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return principal{}, false
	}
	return p, true
}

package api

import (
	"context"
	"strconv"
	"strings"
	"time"

	"savannah-commerce/internal/auth"
	"savannah-commerce/internal/util"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// PrincipalResolver maps a bearer token to the caller's principal.
type PrincipalResolver interface {
	ResolveToken(ctx context.Context, token string) (auth.Principal, error)
}

// authMiddleware resolves the request principal. Requests without a usable
// token proceed as anonymous; the services decide what anonymous may do.
func authMiddleware(resolver PrincipalResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := auth.Anonymous

		header := c.GetHeader("Authorization")
		if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
			if p, err := resolver.ResolveToken(c.Request.Context(), token); err == nil {
				principal = p
			}
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

func principalFrom(c *gin.Context) auth.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(auth.Principal); ok {
			return p
		}
	}
	return auth.Anonymous
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

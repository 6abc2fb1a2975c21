package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/stride-app/backend/internal/app/services/users"
	"github.com/stride-app/backend/pkg/logger"
)

// Context key for the authenticated caller, set by authRequired.
const ctxIdentity = "identity"

// currentIdentity returns the authenticated caller. Routes behind
// authRequired can rely on it being set.
func currentIdentity(c *gin.Context) users.Identity {
	id, _ := c.MustGet(ctxIdentity).(users.Identity)
	return id
}

// authRequired validates the bearer token and stores the caller identity.
// Websocket clients may pass the token as a query parameter instead.
func authRequired(svc *users.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		identity, err := svc.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxIdentity, identity)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// adminOnly guards the operational endpoints with a static token.
func adminOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-Admin-Token")
		if provided == "" {
			provided = bearerToken(c)
		}
		if provided != token {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin token required"})
			return
		}
		c.Next()
	}
}

// requestLogger logs one line per request. The ops probes stay quiet.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		entry := log.WithField("method", c.Request.Method).
			WithField("path", c.Request.URL.Path).
			WithField("status", c.Writer.Status()).
			WithField("elapsed", time.Since(start).String()).
			WithField("client", c.ClientIP())
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Info("request")
	}
}

// rateLimitMiddleware applies a token bucket per caller. The key is the
// authenticated user when known, the client IP otherwise. Buckets idle for an
// hour are dropped.
func rateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if burst <= 0 {
		burst = int(rps)
	}
	if burst <= 0 {
		burst = 1
	}

	type bucket struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu      sync.Mutex
		buckets = make(map[string]*bucket)
	)

	allow := func(key string) bool {
		mu.Lock()
		defer mu.Unlock()

		b, ok := buckets[key]
		if !ok {
			b = &bucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			buckets[key] = b
		}
		b.lastSeen = time.Now()

		if len(buckets) > 10000 {
			cutoff := time.Now().Add(-time.Hour)
			for k, v := range buckets {
				if v.lastSeen.Before(cutoff) {
					delete(buckets, k)
				}
			}
		}
		return b.limiter.Allow()
	}

	return func(c *gin.Context) {
		key := c.ClientIP()
		if id, ok := c.Get(ctxIdentity); ok {
			if identity, ok := id.(users.Identity); ok {
				key = identity.UserID
			}
		}
		if !allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// corsMiddleware answers preflight requests and stamps the allow-list headers.
// "*" in the list allows any origin.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			_, ok := allowed[origin]
			if allowAll || ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
				c.Header("Access-Control-Max-Age", "600")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

package http

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/warden-auth/warden/core"
	"github.com/warden-auth/warden/ratelimit"
	"github.com/warden-auth/warden/service"
)

// contextUserKey is where the session middleware stores the resolved user.
const contextUserKey = "warden.user"

// Request costs against the rate-limit bucket. Mutations are weighted
// heavier than reads.
const (
	readCost  = 1
	writeCost = 3
)

// RateLimitMiddleware rejects throttled clients with 429 before any auth
// work happens. The client key is the forwarded IP where present.
func RateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		cost := writeCost
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			cost = readCost
		}

		if !limiter.Allow(clientKey(c.Request), cost) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// SessionMiddleware resolves the caller's identity from the access-token
// cookie, transparently rotating via the refresh-token cookie when the
// access token is gone. Requests without a valid session continue as
// anonymous; downstream authorization decides what that means.
func SessionMiddleware(sessions *service.SessionManager, secureCookies bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if access, err := c.Cookie(CookieAccessToken); err == nil {
			user, err := sessions.ResolveIdentity(ctx, access)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
				return
			}
			if user != nil {
				c.Set(contextUserKey, user)
				c.Next()
				return
			}
		}

		refresh, err := c.Cookie(CookieRefreshToken)
		if err != nil || refresh == "" {
			c.Next()
			return
		}

		pair, err := sessions.Refresh(ctx, refresh)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session refresh failed"})
			return
		}
		if pair == nil {
			// Dead refresh token; clear both cookies so the client stops
			// presenting it.
			clearSessionCookies(c.Writer, secureCookies)
			c.Next()
			return
		}

		setSessionCookies(c.Writer, *pair, secureCookies)

		user, err := sessions.ResolveIdentity(ctx, pair.AccessToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
			return
		}
		if user != nil {
			c.Set(contextUserKey, user)
		}
		c.Next()
	}
}

// RequireUser aborts with 401 unless the session middleware resolved a
// user.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *core.User {
	val, ok := c.Get(contextUserKey)
	if !ok {
		return nil
	}
	user, ok := val.(*core.User)
	if !ok {
		return nil
	}
	return user
}

// clientKey picks the rate-limit key for a request: the first
// X-Forwarded-For hop, then X-Real-IP, then the remote address.
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

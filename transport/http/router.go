package http

import (
	"github.com/gin-gonic/gin"
	"github.com/warden-auth/warden/ratelimit"
	"github.com/warden-auth/warden/service"
)

// SetupRouter wires the middleware chain and routes. Rate limiting runs
// globally, before session resolution, so unauthenticated floods never
// touch the token store. Session resolution only wraps routes that need an
// identity; the ceremony and refresh endpoints read their cookies
// themselves.
func SetupRouter(h *AuthHandlers, limiter *ratelimit.Limiter, sessions *service.SessionManager, secureCookies bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RateLimitMiddleware(limiter))

	resolve := SessionMiddleware(sessions, secureCookies)

	auth := router.Group("/auth")
	{
		auth.POST("/passkey/challenge", h.Challenge)
		auth.POST("/passkey/sign-up", h.SignUp)
		auth.POST("/passkey/sign-in", h.SignIn)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/sign-out", h.SignOut)
		auth.POST("/sign-out-all", resolve, RequireUser(), h.SignOutAll)
	}

	api := router.Group("/api", resolve, RequireUser())
	{
		api.GET("/me", h.Me)
		api.GET("/credentials", h.ListCredentials)
		api.DELETE("/credentials/:id", h.DeleteCredential)
	}

	router.GET("/healthz", h.Healthz)

	return router
}

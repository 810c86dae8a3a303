package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"craftshop/storefront/middleware"
)

// RouterConfig carries the handlers and auth settings the API is built from.
type RouterConfig struct {
	Analytics   *AnalyticsHandlers
	Auth        *AuthHandlers
	Settings    *SettingsHandlers
	Tokens      middleware.TokenValidator
	APIKey      string
	CORSOrigin  string
	// RateLimiter throttles the public routes per client; nil disables it.
	RateLimiter *middleware.RateLimiter
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog(), middleware.CORSMiddleware(cfg.CORSOrigin))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		limited := middleware.RateLimit(cfg.RateLimiter)
		api.POST("/signup", limited, cfg.Auth.Signup)
		api.POST("/login", limited, cfg.Auth.Login)
		api.POST("/logout", cfg.Auth.Logout)
		api.GET("/settings", cfg.Settings.GetSettings)

		// The tracker posts anonymously; a customer token only attributes the data.
		collector := api.Group("/", limited, middleware.OptionalAuth(cfg.Tokens))
		{
			collector.POST("/track", cfg.Analytics.TrackEvent)
			collector.POST("/analytics/sessions", cfg.Analytics.UpsertSession)
			collector.POST("/analytics/sessions/:id/offline", cfg.Analytics.MarkOffline)
			collector.POST("/analytics/pageviews", cfg.Analytics.OpenPageView)
			collector.PATCH("/analytics/pageviews/:id", cfg.Analytics.ClosePageView)
			collector.POST("/analytics/events", cfg.Analytics.PostEvent)
			collector.POST("/analytics/funnel", cfg.Analytics.PostFunnel)
		}

		protected := api.Group("/", middleware.AuthRequired(cfg.Tokens, cfg.APIKey))
		{
			protected.GET("/me", cfg.Auth.Me)

			stats := protected.Group("/stats")
			{
				stats.GET("/event-counts", cfg.Analytics.GetEventCounts)
				stats.GET("/unique-sessions", cfg.Analytics.GetUniqueSessions)
				stats.GET("/top-paths", cfg.Analytics.GetTopPages)
				stats.GET("/average-dwell", cfg.Analytics.GetAverageDwell)
				stats.GET("/average-custom-param", cfg.Analytics.GetAverageParameter)
				stats.GET("/funnel", cfg.Analytics.GetFunnel)
			}
		}
	}

	return r
}

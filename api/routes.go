package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/oneinbox/mailsync/api/handlers"
	"github.com/oneinbox/mailsync/api/middleware"
	"github.com/oneinbox/mailsync/internal/repository"
	"github.com/oneinbox/mailsync/internal/tracing"
	"github.com/oneinbox/mailsync/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	apiHandlers := handlers.InitHandlers(repos, s.SyncService, s.IndexWriter)

	// Health check and status endpoints stay outside the key check
	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(s.SyncService))

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-MAILSYNC-API-KEY",
		ValidAPIKey: apikey,
	})

	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	{
		accounts := api.Group("/accounts")
		{
			accounts.GET("", apiHandlers.Accounts.List())
			accounts.POST("", apiHandlers.Accounts.Create())
			accounts.GET("/:id", apiHandlers.Accounts.Get())
			accounts.DELETE("/:id", apiHandlers.Accounts.Delete())
			accounts.POST("/:id/start", apiHandlers.Accounts.Start())
			accounts.POST("/:id/stop", apiHandlers.Accounts.Stop())
			accounts.POST("/:id/reset-sync", apiHandlers.Accounts.ResetSync())
		}

		emails := api.Group("/emails")
		{
			emails.GET("/search", apiHandlers.Emails.Search())
			emails.GET("/count", apiHandlers.Emails.Count())
			emails.POST("/refresh", apiHandlers.Emails.Refresh())
		}
	}
}

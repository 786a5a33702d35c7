package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/ZanzyTHEbar/deal-health-engine/docs"
	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/monitoring"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/security"
)

// router builds the HTTP API. Middleware order: monitoring first so every
// request is measured, then error rendering and recovery, then security.
func (a *app) router() *gin.Engine {
	r := gin.New()

	r.Use(monitoring.MonitoringMiddleware(a.metrics, a.logger))
	r.Use(monitoring.SecurityMonitoringMiddleware(a.logger))
	r.Use(apperrors.ErrorHandler())
	r.Use(apperrors.RecoveryHandler())
	r.Use(a.security.CORSConfig())
	r.Use(security.SecurityHeadersMiddleware())
	r.Use(a.security.RequestTimeout)
	r.Use(a.compression.Handler())

	r.GET("/health", a.handleHealth)
	r.GET("/metrics", a.handleMetrics)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")
	api.Use(a.rateLimiter.IPRateLimitMiddleware())
	api.Use(a.security.ValidateContentType)
	api.Use(a.security.LimitBody)
	api.Use(a.security.ValidateParams)
	{
		h := api.Group("/health")
		h.POST("/calculate", a.handleCalculate)
		h.POST("/calculate-all", a.handleCalculateAll)
		h.POST("/refresh", a.handleRefresh)
		h.GET("/triage", a.handleTriage)

		s := api.Group("/scores/:kind/:id")
		s.GET("", a.handleGetScore)
		s.GET("/history", a.handleHistory)
		s.POST("/alerts", a.handleEvaluate)

		al := api.Group("/alerts")
		al.GET("", a.handleListAlerts)
		al.POST("/:id/acknowledge", a.transition(a.engine.AcknowledgeAlert))
		al.POST("/:id/resolve", a.transition(a.engine.ResolveAlert))
		al.POST("/:id/dismiss", a.transition(a.engine.DismissAlert))

		api.GET("/rules", a.handleListRules)
		api.POST("/rules", a.handleSaveRule)

		admin := api.Group("/admin")
		admin.GET("/scoring-config", a.handleScoringConfig)
		admin.POST("/import", a.handleImport)
		admin.GET("/cache/stats", a.handleCacheStats)
		admin.GET("/compression/stats", a.compression.HandleStats())
		admin.GET("/ratelimit/stats", a.rateLimiter.HandleStats())
		admin.POST("/ratelimit/reset", a.rateLimiter.HandleResetAll())
		admin.POST("/ratelimit/reset/:owner_id", a.rateLimiter.HandleResetOwner())
	}

	return r
}

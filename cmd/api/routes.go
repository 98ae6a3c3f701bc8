package main

import (
	"matchline/internal/auth"
	"matchline/internal/directory"
	"matchline/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, production bool) {
	// public
	r.GET("/healthz", h.Health)

	// Unchecked token minting is for local development only; production
	// tokens come from the platform's identity service.
	if !production {
		r.POST("/v1/auth/token", h.IssueToken)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		calls := v1.Group("/calls")
		{
			calls.POST("", h.InitiateCall)
			calls.GET("/:id", h.GetCall)
			calls.PATCH("/:id/status", h.UpdateCallStatus)
		}

		v1.GET("/quota/:user_id", h.GetQuota)

		notifications := v1.Group("/notifications")
		{
			notifications.GET("", h.ListNotifications)
			notifications.DELETE("/:session_id", h.ClearNotifications)
		}

		v1.GET("/ws", h.AttachWS)

		admin := v1.Group("/admin")
		admin.Use(auth.RequireTier(directory.TierAdmin))
		{
			admin.POST("/quota/:pair/reset", h.AdminResetQuota)
		}
	}
}

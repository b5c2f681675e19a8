package main

import (
	"school-platform/internal/auth"
	"school-platform/internal/httpapi"
	"school-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			sid, _ := auth.SchoolID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "school_id": sid, "role": role})
		})

		// Any signed-in school member can use presence and calls; the
		// hidden support_agent role is intentionally NOT included.
		member := []string{rbac.RoleParent, rbac.RoleTeacher, rbac.RolePrincipal, rbac.RoleSuperAdmin}

		// PRESENCE routes
		pres := v1.Group("/presence")
		pres.Use(httpapi.RequireSchoolAndAnyRole(member...)...)
		{
			pres.POST("/heartbeat", h.Heartbeat)
			pres.POST("/background", h.Background)
			pres.GET("/:user_id", h.GetPresence)
		}

		// CALLS routes
		calls := v1.Group("/calls")
		calls.Use(httpapi.RequireSchoolAndAnyRole(member...)...)
		{
			calls.GET("/session", h.GetCallState)
			calls.POST("/start", h.StartCall)
			calls.POST("/answer", h.AnswerCall)
			calls.POST("/reject", h.RejectCall)
			calls.POST("/end", h.EndCall)
			calls.POST("/return", h.ReturnToCall)
		}

		// ADMIN routes
		// Only principal/super_admin can access admin endpoints by default.
		admin := v1.Group("/admin")
		admin.Use(httpapi.RequireSchoolAndAnyRole(rbac.RolePrincipal, rbac.RoleSuperAdmin)...)
		{
			admin.GET("/ping", func(c *gin.Context) {
				c.JSON(200, gin.H{"status": "ok"})
			})
		}
	}
}

package httpapi

import (
	"agent-console/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the console API on an authenticated group.
func (h Handlers) Register(v1 *gin.RouterGroup) {
	v1.Use(rbac.RequireUser())

	v1.GET("/branches", h.ListBranches)
	v1.GET("/calls/outcomes", h.ListOutcomes)
	v1.GET("/me/summary", h.MySummary)
	v1.GET("/events", h.Stream)

	console := v1.Group("")
	console.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleManager), h.Session())
	{
		console.GET("/connection", h.GetConnection)
		console.POST("/connection/connect", h.Connect)
		console.POST("/connection/disconnect", h.Disconnect)
		console.POST("/connection/refresh", h.Refresh)

		console.GET("/calls/active", h.ActiveCall)
		console.POST("/calls/start", h.StartCall)
		console.POST("/calls/end", h.EndCall)
		console.PUT("/calls/outcome", h.UpdateDraft)
		console.POST("/calls/outcome/submit", h.SubmitOutcome)
		console.POST("/calls/outcome/discard", h.DiscardOutcome)
	}
}

package routes

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"infra-rag-platform/middleware"
	"infra-rag-platform/models"
	"infra-rag-platform/services"
	"infra-rag-platform/utils"
)

type roleHandler struct {
	roles  *services.RoleService
	router *services.RoleRouter
}

// routeRequest is the body of POST /api/route.
type routeRequest struct {
	Summary   string   `json:"summary" binding:"required"`
	TopK      int      `json:"top_k"`
	Threshold *float64 `json:"threshold"`
}

// SetupRoleRoutes registers role management, routing and assignment endpoints.
func SetupRoleRoutes(router *gin.Engine, roles *services.RoleService, roleRouter *services.RoleRouter) {
	h := &roleHandler{roles: roles, router: roleRouter}

	api := router.Group("/api")
	{
		api.POST("/route", h.route)

		api.GET("/roles", h.listRoles)
		api.POST("/roles", h.createRole)
		api.GET("/roles/stats", h.roleStats)
		api.GET("/roles/:id", h.getRole)
		api.PUT("/roles/:id", h.updateRole)
		api.DELETE("/roles/:id", h.deactivateRole)
		api.GET("/roles/:id/documents", h.roleDocuments)

		api.GET("/assignments", h.listAssignments)
		api.GET("/assignments/stats", h.assignmentStats)
	}
}

func (h *roleHandler) route(c *gin.Context) {
	var req routeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
		return
	}
	if req.TopK < 0 || (req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1)) {
		utils.RespondWithBadRequest(c, "top_k must be positive and threshold within [0,1]", nil)
		return
	}

	result, err := h.router.Route(c.Request.Context(), services.RouteRequest{
		Summary:   req.Summary,
		TopK:      req.TopK,
		Threshold: req.Threshold,
		TenantID:  middleware.GetTenantID(c),
	})
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *roleHandler) listRoles(c *gin.Context) {
	roles, err := h.roles.ListRoles(c.Request.Context(), models.RoleFilter{
		ActiveOnly: c.Query("active_only") == "true",
		Department: c.Query("department"),
		TenantID:   middleware.GetTenantID(c),
	})
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles, "total": len(roles)})
}

func (h *roleHandler) createRole(c *gin.Context) {
	var in services.RoleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
		return
	}
	if in.TenantID == "" {
		in.TenantID = middleware.GetTenantID(c)
	}

	role, err := h.roles.CreateRole(c.Request.Context(), in)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

func (h *roleHandler) roleStats(c *gin.Context) {
	stats, err := h.roles.RoleStats(c.Request.Context())
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *roleHandler) getRole(c *gin.Context) {
	role, err := h.roles.GetRole(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

func (h *roleHandler) updateRole(c *gin.Context) {
	var patch services.RolePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
		return
	}

	role, err := h.roles.UpdateRole(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

func (h *roleHandler) deactivateRole(c *gin.Context) {
	if err := h.roles.DeactivateRole(c.Request.Context(), c.Param("id")); err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Role deactivated"})
}

func (h *roleHandler) roleDocuments(c *gin.Context) {
	limit := queryInt(c, "limit", 0)
	offset := queryInt(c, "offset", 0)

	assignments, err := h.roles.RoleDocuments(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments, "total": len(assignments)})
}

func (h *roleHandler) listAssignments(c *gin.Context) {
	ctx := c.Request.Context()
	limit := queryInt(c, "limit", 0)

	var (
		assignments []models.Assignment
		err         error
	)
	switch {
	case c.Query("document_id") != "":
		assignments, err = h.roles.DocumentAssignments(ctx, c.Query("document_id"))
	case c.Query("q") != "":
		assignments, err = h.roles.SearchAssignments(ctx, c.Query("q"), limit)
	default:
		assignments, err = h.roles.RecentAssignments(ctx, limit)
	}
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments, "total": len(assignments)})
}

func (h *roleHandler) assignmentStats(c *gin.Context) {
	stats, err := h.roles.AssignmentStats(c.Request.Context())
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": stats})
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

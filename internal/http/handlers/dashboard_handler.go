package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/brandsafe-backend/internal/domain"
	"github.com/tbourn/brandsafe-backend/internal/http/middleware"
	"github.com/tbourn/brandsafe-backend/internal/services"
)

// Dashboard godoc
// @ID          dashboard
// @Summary     Moderation dashboard
// @Description Aggregated moderation statistics. Influencers see their own records; admins see all users.
// @Tags        Analytics
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} services.DashboardStats
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /dashboard [get]
func (h *Handlers) Dashboard(c *gin.Context) {
	stats, err := h.statsSvc.Dashboard(c.Request.Context(), callerScope(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, stats)
}

// Usage godoc
// @ID          usage
// @Summary     API usage by endpoint
// @Description Call counts per endpoint over the last 7 days. Influencers see their own calls; admins see all users.
// @Tags        Analytics
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} services.UsageSummary
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /usage [get]
func (h *Handlers) Usage(c *gin.Context) {
	sum, err := h.usageSvc.TopEndpoints(c.Request.Context(), callerScope(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}

// callerScope widens to every user for admins.
func callerScope(c *gin.Context) services.Scope {
	if middleware.UserRole(c) == domain.RoleAdmin {
		return services.AllUsers()
	}
	return services.UserScope(currentUser(c))
}

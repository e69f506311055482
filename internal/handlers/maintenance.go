package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/services"
)

type MaintenanceHandler struct {
	log             *logger.Logger
	authService     services.AuthService
	deletionService services.DeletionService
}

func NewMaintenanceHandler(
	log *logger.Logger,
	authService services.AuthService,
	deletionService services.DeletionService,
) *MaintenanceHandler {
	return &MaintenanceHandler{
		log:             log.With("handler", "MaintenanceHandler"),
		authService:     authService,
		deletionService: deletionService,
	}
}

// POST /api/v1/maintenance/sweep
// Superuser-only: drops vector collections whose project row is gone.
func (h *MaintenanceHandler) Sweep(c *gin.Context) {
	user, err := h.authService.CurrentUser(c.Request.Context())
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	if !user.IsSuperuser {
		RespondError(c, http.StatusForbidden, "forbidden", fmt.Errorf("superuser required"))
		return
	}

	report, err := h.deletionService.Sweep(c.Request.Context())
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, report)
}

// internal/handlers/carbon.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/farmtrace-backend/internal/services"
	"github.com/javajoker/farmtrace-backend/internal/utils"
)

type CarbonHandler struct {
	carbonService *services.CarbonService
}

func NewCarbonHandler(carbonService *services.CarbonService) *CarbonHandler {
	return &CarbonHandler{carbonService: carbonService}
}

// POST /carbon-credits/:id/redeem
func (h *CarbonHandler) Redeem(c *gin.Context) {
	id, ok := pathID(c, "id", "carbon credit")
	if !ok {
		return
	}

	credit, err := h.carbonService.Redeem(c.Request.Context(), id)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"carbon_credit": credit,
	})
}

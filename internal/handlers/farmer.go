// internal/handlers/farmer.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/farmtrace-backend/internal/services"
	"github.com/javajoker/farmtrace-backend/internal/utils"
)

type FarmerHandler struct {
	farmerService *services.FarmerService
}

func NewFarmerHandler(farmerService *services.FarmerService) *FarmerHandler {
	return &FarmerHandler{farmerService: farmerService}
}

// POST /farmers
func (h *FarmerHandler) RegisterFarmer(c *gin.Context) {
	var req services.RegisterFarmerRequest
	if !bindJSON(c, &req) {
		return
	}

	farmer, err := h.farmerService.Register(c.Request.Context(), &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"farmer": farmer,
	})
}

// GET /farmers/:id
func (h *FarmerHandler) GetFarmer(c *gin.Context) {
	id, ok := pathID(c, "id", "farmer")
	if !ok {
		return
	}

	farmer, err := h.farmerService.Get(c.Request.Context(), id)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"farmer": farmer,
	})
}

// PUT /farmers/:id/certification
func (h *FarmerHandler) UpdateCertification(c *gin.Context) {
	id, ok := pathID(c, "id", "farmer")
	if !ok {
		return
	}

	var req services.UpdateCertificationRequest
	if !bindJSON(c, &req) {
		return
	}

	farmer, err := h.farmerService.UpdateCertification(c.Request.Context(), id, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"farmer": farmer,
	})
}

// GET /farmers/:id/carbon-credits
func (h *FarmerHandler) GetCarbonCredits(c *gin.Context) {
	id, ok := pathID(c, "id", "farmer")
	if !ok {
		return
	}

	balance, err := h.farmerService.CarbonCredits(c.Request.Context(), id)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, balance)
}

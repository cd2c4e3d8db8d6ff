// internal/handlers/produce.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/farmtrace-backend/internal/i18n"
	"github.com/javajoker/farmtrace-backend/internal/models"
	"github.com/javajoker/farmtrace-backend/internal/repository"
	"github.com/javajoker/farmtrace-backend/internal/services"
	"github.com/javajoker/farmtrace-backend/internal/utils"
)

type ProduceHandler struct {
	produceService *services.ProduceService
}

func NewProduceHandler(produceService *services.ProduceService) *ProduceHandler {
	return &ProduceHandler{produceService: produceService}
}

// GET /produce
func (h *ProduceHandler) ListProduce(c *gin.Context) {
	params, farmerID, err := utils.BindListQuery(c, repository.ProduceSortFields...)
	if err != nil {
		utils.InvalidIDResponse(c, "farmer")
		return
	}

	filter := repository.ProduceFilter{
		FarmerID: farmerID,
		Status:   models.ProduceStatus(params.Status),
		Category: params.Category,
		Search:   params.Search,
		Sort:     params.Sort,
		Order:    params.Order,
		Page:     params.Page,
		Limit:    params.Limit,
	}

	produce, total, err := h.produceService.List(c.Request.Context(), filter)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	result := utils.CreatePaginationResult(produce, total, params)
	utils.PaginatedResponse(c, result)
}

// POST /produce
func (h *ProduceHandler) RegisterProduce(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.RegisterProduceRequest
	if !bindJSON(c, &req) {
		return
	}

	produce, err := h.produceService.Register(c.Request.Context(), &req)
	if err != nil {
		if produce != nil {
			// Stored but not anchored yet.
			utils.PartialResponse(c, gin.H{"produce": produce}, err)
			return
		}
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyProduceRegistered),
		"produce": produce,
	})
}

// GET /produce/:id
func (h *ProduceHandler) GetProduce(c *gin.Context) {
	id, ok := pathID(c, "id", "produce")
	if !ok {
		return
	}

	produce, err := h.produceService.Get(c.Request.Context(), id)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"produce": produce,
	})
}

// PUT /produce/:id
func (h *ProduceHandler) UpdateProduce(c *gin.Context) {
	id, ok := pathID(c, "id", "produce")
	if !ok {
		return
	}

	var req services.UpdateProduceRequest
	if !bindJSON(c, &req) {
		return
	}

	produce, err := h.produceService.Update(c.Request.Context(), id, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"produce": produce,
	})
}

// POST /produce/:id/tracking
func (h *ProduceHandler) AddTrackingPoint(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := pathID(c, "id", "produce")
	if !ok {
		return
	}

	var req services.AddTrackingRequest
	if !bindJSON(c, &req) {
		return
	}

	point, err := h.produceService.AddTrackingPoint(c.Request.Context(), id, &req)
	if err != nil {
		if point != nil {
			utils.PartialResponse(c, gin.H{"tracking_point": point}, err)
			return
		}
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":        i18n.T(lang, i18n.KeyTrackingRecorded),
		"tracking_point": point,
	})
}

// GET /produce/:id/history
func (h *ProduceHandler) GetHistory(c *gin.Context) {
	id, ok := pathID(c, "id", "produce")
	if !ok {
		return
	}

	history, err := h.produceService.History(c.Request.Context(), id)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, history)
}

// POST /produce/:id/sales
func (h *ProduceHandler) RecordSale(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := pathID(c, "id", "produce")
	if !ok {
		return
	}

	var req services.RecordSaleRequest
	if !bindJSON(c, &req) {
		return
	}

	txn, err := h.produceService.RecordSale(c.Request.Context(), id, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeySaleRecorded),
		"transaction": txn,
	})
}

// POST /produce/:id/reanchor
func (h *ProduceHandler) Reanchor(c *gin.Context) {
	id, ok := pathID(c, "id", "produce")
	if !ok {
		return
	}

	result, err := h.produceService.Reanchor(c.Request.Context(), id)
	if err != nil {
		if result != nil {
			utils.PartialResponse(c, result, err)
			return
		}
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// POST /produce/expire
func (h *ProduceHandler) ExpireDue(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	expired, err := h.produceService.ExpireDue(c.Request.Context(), time.Now())
	if err != nil {
		utils.PartialResponse(c, gin.H{"expired": expired}, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyProduceExpired, len(expired)),
		"expired": expired,
	})
}

// internal/handlers/transaction.go
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/farmtrace-backend/internal/i18n"
	"github.com/javajoker/farmtrace-backend/internal/services"
	"github.com/javajoker/farmtrace-backend/internal/utils"
)

type TransactionHandler struct {
	settlementService *services.SettlementService
	collectionService *services.CollectionService
}

type BulkSettleRequest struct {
	TransactionIDs []uuid.UUID `json:"transaction_ids" validate:"required,min=1,max=500"`
}

func NewTransactionHandler(settlementService *services.SettlementService, collectionService *services.CollectionService) *TransactionHandler {
	return &TransactionHandler{
		settlementService: settlementService,
		collectionService: collectionService,
	}
}

// GET /transactions/:id
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	id, ok := pathID(c, "id", "transaction")
	if !ok {
		return
	}

	txn, err := h.settlementService.Get(c.Request.Context(), id)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"transaction": txn,
		"breakdown":   txn.Breakdown(),
	})
}

// POST /transactions/:id/settle
func (h *TransactionHandler) Settle(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := pathID(c, "id", "transaction")
	if !ok {
		return
	}

	result, err := h.settlementService.Settle(c.Request.Context(), id)
	if err != nil {
		if result != nil {
			utils.PartialResponse(c, result, err)
			return
		}
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":    i18n.T(lang, i18n.KeySettlementCompleted),
		"settlement": result,
	})
}

// POST /transactions/bulk-settle
func (h *TransactionHandler) BulkSettle(c *gin.Context) {
	var req BulkSettleRequest
	if !bindJSON(c, &req) {
		return
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	utils.SuccessResponse(c, h.settlementService.BulkSettle(c.Request.Context(), req.TransactionIDs))
}

// POST /transactions/settle-pending?limit=
func (h *TransactionHandler) SettlePending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	result, err := h.settlementService.SettlePending(c.Request.Context(), limit)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// POST /transactions/reconcile?limit=
func (h *TransactionHandler) Reconcile(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	result, err := h.settlementService.Reconcile(c.Request.Context(), limit)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// POST /transactions/release-stale?limit=
func (h *TransactionHandler) ReleaseStale(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	report, err := h.settlementService.ReleaseStale(c.Request.Context(), limit)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, report)
}

// POST /transactions/:id/collect
func (h *TransactionHandler) RequestCollection(c *gin.Context) {
	id, ok := pathID(c, "id", "transaction")
	if !ok {
		return
	}

	var req services.CollectRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.collectionService.RequestCollection(c.Request.Context(), id, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, resp)
}

// GET /transactions/:id/collection
func (h *TransactionHandler) GetCollection(c *gin.Context) {
	id, ok := pathID(c, "id", "transaction")
	if !ok {
		return
	}

	txn, err := h.collectionService.Refresh(c.Request.Context(), id)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"transaction_id":     txn.ID,
		"collection_method":  txn.CollectionMethod,
		"collection_ref":     txn.CollectionRef,
		"collection_status":  txn.CollectionStatus,
		"collection_receipt": txn.CollectionReceipt,
	})
}

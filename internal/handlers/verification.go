// internal/handlers/verification.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/farmtrace-backend/internal/i18n"
	"github.com/javajoker/farmtrace-backend/internal/models"
	"github.com/javajoker/farmtrace-backend/internal/services"
	"github.com/javajoker/farmtrace-backend/internal/utils"
)

type VerificationHandler struct {
	custodyService *services.CustodyService
}

func NewVerificationHandler(custodyService *services.CustodyService) *VerificationHandler {
	return &VerificationHandler{custodyService: custodyService}
}

var verdictKeys = map[models.VerificationStatus]string{
	models.VerificationAuthentic:   i18n.KeyVerificationAuthentic,
	models.VerificationSuspicious:  i18n.KeyVerificationSuspicious,
	models.VerificationCounterfeit: i18n.KeyVerificationCounterfeit,
}

// POST /verify
func (h *VerificationHandler) Verify(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.VerificationRequest
	if !bindJSON(c, &req) {
		return
	}

	outcome, err := h.custodyService.Verify(c.Request.Context(), &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":         i18n.T(lang, verdictKeys[outcome.Record.Status]),
		"authentic":       outcome.Authentic,
		"verification_id": outcome.VerificationID,
		"proof":           outcome.Proof,
		"produce":         outcome.Produce,
		"journey":         outcome.Journey,
		"warnings":        outcome.Warnings,
	})
}

// GET /verifications/:id/proof
func (h *VerificationHandler) GetProof(c *gin.Context) {
	id, ok := pathID(c, "id", "verification")
	if !ok {
		return
	}

	document, url, err := h.custodyService.Proof(c.Request.Context(), id)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	if url != "" {
		c.Header("Link", "<"+url+">; rel=\"alternate\"")
	}
	c.Data(200, "application/json", document)
}

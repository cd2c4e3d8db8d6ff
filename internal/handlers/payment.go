// internal/handlers/payment.go
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/services"
	"github.com/javajoker/farmtrace-backend/internal/utils"
)

type PaymentHandler struct {
	collectionService *services.CollectionService
}

func NewPaymentHandler(collectionService *services.CollectionService) *PaymentHandler {
	return &PaymentHandler{collectionService: collectionService}
}

// POST /payments/mpesa/callback
//
// Daraja retries until it gets a 200, so results for unknown requests are
// acknowledged and logged.
func (h *PaymentHandler) MPesaCallback(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		utils.BadRequestResponse(c, "", err.Error())
		return
	}

	result, err := h.collectionService.HandleCallback(c.Request.Context(), payload)
	switch {
	case err == nil:
	case errs.Is(err, errs.KindNotFound):
		logrus.WithField("request_ref", result.RequestRef).Warn("Callback for unknown collection request")
	default:
		utils.ServiceErrorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

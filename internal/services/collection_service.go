// internal/services/collection_service.go
package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/models"
	"github.com/javajoker/farmtrace-backend/internal/payment"
	"github.com/javajoker/farmtrace-backend/internal/repository"
)

// CollectionService asks buyers to pay for a sale, by STK push or by card.
type CollectionService struct {
	repo  repository.Repository
	mpesa payment.Collector
	card  payment.Collector
}

type CollectRequest struct {
	Method       string `json:"method" validate:"required,oneof=mpesa card"`
	PayerContact string `json:"payer_contact,omitempty" validate:"omitempty,max=20"`
}

type CollectionResponse struct {
	Transaction *models.Transaction        `json:"transaction"`
	Request     *payment.CollectionRequest `json:"request"`
}

// NewCollectionService takes an optional card collector; nil disables card
// collections.
func NewCollectionService(repo repository.Repository, mpesa payment.Collector, card payment.Collector) *CollectionService {
	return &CollectionService{repo: repo, mpesa: mpesa, card: card}
}

func (s *CollectionService) collector(op string, method models.PaymentMethod) (payment.Collector, error) {
	switch method {
	case models.PaymentMethodMPesa:
		return s.mpesa, nil
	case models.PaymentMethodCard:
		if s.card == nil {
			return nil, errs.New(errs.KindValidation, op, "card collections are not configured")
		}
		return s.card, nil
	}
	return nil, errs.Newf(errs.KindValidation, op, "%q payments cannot be collected", method)
}

// RequestCollection prompts the buyer for the sale total. The prompt
// resolves later through HandleCallback or Refresh.
func (s *CollectionService) RequestCollection(ctx context.Context, id uuid.UUID, req *CollectRequest) (*CollectionResponse, error) {
	const op = "collection.request"
	if err := validateRequest(op, req); err != nil {
		return nil, err
	}

	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	switch txn.CollectionStatus {
	case models.CollectionStatusPending, models.CollectionStatusCompleted:
		return nil, errs.Newf(errs.KindInvalidTransition, op, "collection for transaction %s is already %s", txn.ID, txn.CollectionStatus)
	}

	method := models.PaymentMethod(req.Method)
	collector, err := s.collector(op, method)
	if err != nil {
		return nil, err
	}
	payer := req.PayerContact
	if payer == "" {
		payer = txn.BuyerContact
	}
	if method == models.PaymentMethodMPesa && payer == "" {
		return nil, errs.New(errs.KindValidation, op, "payer contact is required for mpesa collections")
	}

	accountRef := "FT-" + strings.ToUpper(shortID(txn.ID))
	pending, err := collector.RequestCollection(ctx, payer, txn.TotalAmount, accountRef)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"method":         method,
		"reference":      pending.Reference,
	})

	bg := context.WithoutCancel(ctx)
	stored, err := s.repo.UpdateCollection(bg, txn.ID, repository.CollectionUpdate{
		FromRef: txn.CollectionRef,
		From:    []models.CollectionStatus{models.CollectionStatusNone, models.CollectionStatusFailed},
		Method:  method,
		Ref:     pending.Reference,
		Status:  models.CollectionStatusPending,
	})
	if err != nil {
		return nil, err
	}
	if !stored {
		log.Warn("Collection prompt sent but another request won the transaction")
		return nil, errs.Newf(errs.KindInvalidTransition, op, "collection for transaction %s was requested concurrently", txn.ID)
	}
	log.Info("Collection requested")

	current, err := s.repo.GetTransaction(bg, txn.ID)
	if err != nil {
		return nil, err
	}
	return &CollectionResponse{Transaction: current, Request: pending}, nil
}

// resolve moves a pending collection to its outcome. It reports false when
// the collection was already resolved or replaced.
func (s *CollectionService) resolve(ctx context.Context, txn *models.Transaction, status models.CollectionStatus, receipt string) (bool, error) {
	return s.repo.UpdateCollection(ctx, txn.ID, repository.CollectionUpdate{
		FromRef: txn.CollectionRef,
		From:    []models.CollectionStatus{models.CollectionStatusPending},
		Method:  txn.CollectionMethod,
		Ref:     txn.CollectionRef,
		Status:  status,
		Receipt: receipt,
	})
}

// HandleCallback applies an STK push result. Repeated deliveries of a
// result already applied are ignored.
func (s *CollectionService) HandleCallback(ctx context.Context, payload []byte) (*payment.CallbackResult, error) {
	result, err := payment.ParseCallback(payload)
	if err != nil {
		return nil, err
	}

	txn, err := s.repo.FindTransactionByCollectionRef(ctx, result.RequestRef)
	if err != nil {
		return result, err
	}
	if txn.CollectionStatus != models.CollectionStatusPending {
		return result, nil
	}

	status, receipt := models.CollectionStatusFailed, ""
	if result.Completed {
		status, receipt = models.CollectionStatusCompleted, result.ResultRef
	}
	applied, err := s.resolve(ctx, txn, status, receipt)
	if err != nil {
		return result, err
	}
	if !applied {
		return result, nil
	}
	txn.CollectionStatus = status

	fields := logrus.Fields{
		"transaction_id": txn.ID,
		"reference":      result.RequestRef,
		"result_code":    result.ResultCode,
		"status":         txn.CollectionStatus,
	}
	if result.Amount != nil && !result.Amount.Equal(txn.TotalAmount.Round(0)) {
		logrus.WithFields(fields).WithField("amount", result.Amount.String()).Warn("Collected amount differs from the sale total")
	}
	logrus.WithFields(fields).Info("Collection callback applied")

	return result, nil
}

// Refresh asks the rail for the state of a pending collection.
func (s *CollectionService) Refresh(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	const op = "collection.refresh"

	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.CollectionStatus != models.CollectionStatusPending {
		return txn, nil
	}

	collector, err := s.collector(op, txn.CollectionMethod)
	if err != nil {
		return nil, err
	}
	state, err := collector.QueryStatus(ctx, txn.CollectionRef)
	if err != nil {
		return nil, err
	}

	var status models.CollectionStatus
	switch state {
	case payment.CollectionCompleted:
		status = models.CollectionStatusCompleted
	case payment.CollectionFailed:
		status = models.CollectionStatusFailed
	default:
		return txn, nil
	}
	// a callback may have resolved it first; either way the stored row wins
	if _, err := s.resolve(ctx, txn, status, txn.CollectionReceipt); err != nil {
		return nil, err
	}
	return s.repo.GetTransaction(ctx, txn.ID)
}

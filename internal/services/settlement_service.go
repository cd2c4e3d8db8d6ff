// internal/services/settlement_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/javajoker/farmtrace-backend/internal/config"
	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/ledger"
	"github.com/javajoker/farmtrace-backend/internal/models"
	"github.com/javajoker/farmtrace-backend/internal/payment"
	"github.com/javajoker/farmtrace-backend/internal/repository"
)

// SettlementService pays farmers for recorded sales.
type SettlementService struct {
	repo            repository.Repository
	rail            payment.Disburser
	anchorer        *Anchorer
	carbon          *CarbonService
	concurrency     int
	batchLimit      int
	staleAfter      time.Duration
	finalizeTimeout time.Duration
	writeRetry      errs.RetryConfig
	now             func() time.Time
}

type SettlementResult struct {
	TransactionID uuid.UUID            `json:"transaction_id"`
	Status        models.PaymentStatus `json:"status"`
	PaymentRef    string               `json:"payment_ref,omitempty"`
	Breakdown     models.Breakdown     `json:"breakdown"`
	AmountPaid    decimal.Decimal      `json:"amount_paid"`
	LedgerHash    string               `json:"ledger_hash,omitempty"`
	CarbonCredit  *models.CarbonCredit `json:"carbon_credit,omitempty"`
	// Warning carries a carbon issuance failure. The payment itself stands.
	Warning string `json:"warning,omitempty"`
}

const (
	ItemSucceeded = "succeeded"
	ItemFailed    = "failed"
	// ItemSkipped marks a transaction another caller was already finishing.
	ItemSkipped = "skipped"
)

type BulkItem struct {
	TransactionID uuid.UUID            `json:"transaction_id"`
	Outcome       string               `json:"outcome"`
	PaymentStatus models.PaymentStatus `json:"payment_status,omitempty"`
	PaymentRef    string               `json:"payment_ref,omitempty"`
	Amount        decimal.Decimal      `json:"amount"`
	ErrorKind     errs.Kind            `json:"error_kind,omitempty"`
	Error         string               `json:"error,omitempty"`
	Warning       string               `json:"warning,omitempty"`
}

type BulkResult struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped,omitempty"`
	TotalPaid decimal.Decimal `json:"total_paid"`
	Items     []BulkItem      `json:"items"`
}

// StaleReport lists settlements found stuck in processing.
type StaleReport struct {
	// Released never reached the rail and can be settled again.
	Released []uuid.UUID `json:"released"`
	// NeedsReview submitted a payout whose outcome was never recorded.
	NeedsReview []uuid.UUID `json:"needs_review"`
}

func NewSettlementService(repo repository.Repository, rail payment.Disburser, anchorer *Anchorer, carbon *CarbonService, cfg config.SettlementConfig) *SettlementService {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 5
	}
	batchLimit := cfg.BatchLimit
	if batchLimit < 1 {
		batchLimit = 100
	}
	staleAfter := time.Duration(cfg.StaleAfter) * time.Minute
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	finalizeTimeout := time.Duration(cfg.FinalizeTimeout) * time.Minute
	if finalizeTimeout <= 0 {
		finalizeTimeout = 10 * time.Minute
	}
	return &SettlementService{
		repo:            repo,
		rail:            rail,
		anchorer:        anchorer,
		carbon:          carbon,
		concurrency:     concurrency,
		batchLimit:      batchLimit,
		staleAfter:      staleAfter,
		finalizeTimeout: finalizeTimeout,
		writeRetry:      errs.RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond},
		now:             time.Now,
	}
}

func (s *SettlementService) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// Settle pays the farmer the final amount of one transaction.
//
// Only a caller that wins the pending|failed to processing swap reaches the
// rail. Once the payout is accepted the transaction is completed even if
// anchoring fails afterwards; that error is returned with a completed result
// and Reconcile anchors it later.
func (s *SettlementService) Settle(ctx context.Context, id uuid.UUID) (*SettlementResult, error) {
	const op = "settlement.settle"

	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := settleable(op, txn); err != nil {
		return nil, err
	}
	if txn.PaymentMethod != models.PaymentMethodMPesa {
		return nil, errs.Newf(errs.KindValidation, op, "transaction %s is paid by %s, which is not settled through the mobile-money rail", txn.ID, txn.PaymentMethod)
	}

	farmer, err := s.repo.GetFarmer(ctx, txn.FarmerID)
	if err != nil {
		return nil, err
	}
	produce, err := s.repo.GetProduce(ctx, txn.ProduceID)
	if err != nil {
		return nil, err
	}

	swapped, err := s.repo.CompareAndSwapPaymentStatus(ctx, txn.ID,
		[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusFailed}, models.PaymentStatusProcessing)
	if err != nil {
		return nil, err
	}
	if !swapped {
		current, err := s.repo.GetTransaction(ctx, txn.ID)
		if err != nil {
			return nil, err
		}
		if err := settleable(op, current); err != nil {
			return nil, err
		}
		return nil, errs.Newf(errs.KindSettlementInProgress, op, "transaction %s changed while being claimed", txn.ID)
	}
	txn.PaymentStatus = models.PaymentStatusProcessing

	// From here on this caller owns the transaction; bookkeeping must land
	// even if the request is cancelled.
	bg := context.WithoutCancel(ctx)

	if err := txn.Reprice(farmer, produce); err != nil {
		s.abandon(bg, txn.ID, err)
		return nil, err
	}
	submitted, err := s.repo.BeginPayout(bg, txn.ID, txn.Breakdown(), s.now().UTC())
	if err == nil && !submitted {
		err = errs.Newf(errs.KindSettlementInProgress, op, "transaction %s was released while being claimed", txn.ID)
	}
	if err != nil {
		s.abandon(bg, txn.ID, err)
		return nil, err
	}
	txn.FailureReason = ""

	log := logrus.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"farmer_id":      farmer.ID,
		"final_amount":   txn.FinalAmount.StringFixed(2),
	})

	payout, payErr := s.rail.Payout(ctx, farmer.MPesaNumber, txn.FinalAmount, fmt.Sprintf("FarmTrace %s %s", produce.Name, shortID(txn.ID)))
	if payErr != nil {
		if err := txn.TransitionPayment(models.PaymentStatusFailed); err != nil {
			return nil, err
		}
		txn.FailureReason = payErr.Error()
		err := s.persist(bg, func(ctx context.Context) (bool, error) {
			return s.repo.FailPayout(ctx, txn.ID, txn.FailureReason)
		})
		if err != nil {
			log.WithError(err).Error("Failed to record failed payout, transaction needs review")
		}
		log.WithField("kind", errs.KindOf(payErr)).Warn("Payout failed")
		return s.result(txn), payErr
	}

	if err := txn.TransitionPayment(models.PaymentStatusCompleted); err != nil {
		return nil, err
	}
	paidAt := s.now().UTC()
	txn.PaymentRef = payout.Reference
	txn.AmountPaid = disbursed(payout, txn.FinalAmount)
	txn.PaidAt = &paidAt
	err = s.persist(bg, func(ctx context.Context) (bool, error) {
		return s.repo.CompletePayout(ctx, txn.ID, txn.PaymentRef, txn.AmountPaid, paidAt)
	})
	if err != nil {
		log.WithError(err).WithField("payment_ref", payout.Reference).Error("Payout completed but not recorded, transaction needs review")
		return s.result(txn), err
	}
	// CompletePayout handed this caller the finalizing claim.
	defer s.releaseFinalization(bg, txn.ID)
	log.WithFields(logrus.Fields{
		"payment_ref": payout.Reference,
		"amount_paid": txn.AmountPaid.String(),
	}).Info("Payout completed")

	result := s.result(txn)
	if err := s.anchorPayment(bg, txn, farmer); err != nil {
		log.WithError(err).Warn("Payment settled but not anchored")
		return result, err
	}
	result.LedgerHash = txn.LedgerHash

	if produce.EcoScore >= models.CarbonBonusThreshold && !txn.CarbonCredited {
		credit, err := s.creditCarbon(bg, txn, farmer, produce)
		if err != nil {
			result.Warning = "carbon credit not issued: " + err.Error()
		} else {
			result.CarbonCredit = credit
		}
	}
	return result, nil
}

// settleable rejects transactions another caller already owns or finished.
func settleable(op string, txn *models.Transaction) error {
	switch txn.PaymentStatus {
	case models.PaymentStatusCompleted:
		return errs.Newf(errs.KindDoubleSettlement, op, "transaction %s is already settled with %s", txn.ID, txn.PaymentRef)
	case models.PaymentStatusProcessing:
		return errs.Newf(errs.KindSettlementInProgress, op, "transaction %s is being settled", txn.ID)
	}
	return nil
}

// disbursed is what the rail reports having sent, or the requested amount
// when the rail does not say.
func disbursed(payout *payment.PayoutResult, requested decimal.Decimal) decimal.Decimal {
	if amount, err := decimal.NewFromString(payout.Amount); err == nil && amount.IsPositive() {
		return amount
	}
	return requested
}

// persist retries a status write whose loss would strand the transaction
// in processing. A write that matches no row is an error.
func (s *SettlementService) persist(ctx context.Context, write func(context.Context) (bool, error)) error {
	return errs.RetryWhen(ctx, s.writeRetry, func(err error) bool { return errs.Is(err, errs.KindInternal) }, func(ctx context.Context) error {
		matched, err := write(ctx)
		if err != nil {
			return err
		}
		if !matched {
			return errs.New(errs.KindInvalidTransition, "settlement.persist", "transaction left processing unexpectedly")
		}
		return nil
	})
}

// abandon returns a claimed transaction to failed before any payout was
// attempted.
func (s *SettlementService) abandon(ctx context.Context, id uuid.UUID, cause error) {
	err := s.persist(ctx, func(ctx context.Context) (bool, error) {
		return s.repo.FailPayout(ctx, id, "settlement aborted: "+cause.Error())
	})
	if err != nil {
		logrus.WithError(err).WithField("transaction_id", id).Error("Failed to release claimed transaction")
	}
}

func (s *SettlementService) releaseFinalization(ctx context.Context, id uuid.UUID) {
	if err := s.repo.ReleaseFinalization(ctx, id); err != nil {
		logrus.WithError(err).WithField("transaction_id", id).Warn("Failed to release finalizing claim")
	}
}

func (s *SettlementService) result(txn *models.Transaction) *SettlementResult {
	return &SettlementResult{
		TransactionID: txn.ID,
		Status:        txn.PaymentStatus,
		PaymentRef:    txn.PaymentRef,
		Breakdown:     txn.Breakdown(),
		AmountPaid:    txn.AmountPaid,
		LedgerHash:    txn.LedgerHash,
	}
}

func (s *SettlementService) anchorPayment(ctx context.Context, txn *models.Transaction, farmer *models.Farmer) error {
	metadata := map[string]any{
		"transaction_id": txn.ID.String(),
		"payment_ref":    txn.PaymentRef,
		"final_amount":   txn.FinalAmount.StringFixed(2),
	}
	if farmer.HasLedgerAccount() {
		metadata["farmer_account"] = *farmer.LedgerAccountID
	}

	event, err := s.anchorer.Anchor(ctx, ledger.TypePaymentSettled, txn.ProduceID.String(), txn.FarmerID.String(), txn.SettlementRecord(), metadata)
	if err != nil {
		return err
	}

	consensus := event.Receipt.ConsensusTimestamp
	attached, err := s.repo.AttachPaymentAnchor(ctx, txn.ID, event.Message.DataHash, consensus)
	if err != nil {
		return err
	}
	if !attached {
		return errs.Newf(errs.KindInvalidTransition, "settlement.anchor_payment", "transaction %s was anchored concurrently", txn.ID)
	}
	txn.LedgerHash = event.Message.DataHash
	txn.ConsensusTimestamp = &consensus
	return nil
}

// creditCarbon issues the transaction's credit once. A credit created by an
// earlier attempt is resumed instead of minted again. The caller holds the
// finalizing claim.
func (s *SettlementService) creditCarbon(ctx context.Context, txn *models.Transaction, farmer *models.Farmer, produce *models.Produce) (*models.CarbonCredit, error) {
	credit, err := s.repo.FindCarbonCreditByTransaction(ctx, txn.ID)
	switch {
	case err == nil && credit.VerificationStatus == models.CreditStatusVerified:
		credit, err = s.carbon.Finalize(ctx, credit, produce)
	case err == nil:
		// already issued
	case errs.Is(err, errs.KindNotFound):
		credit, err = s.carbon.Issue(ctx, farmer, produce, &txn.ID)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.MarkCarbonCredited(ctx, txn.ID, credit.ID); err != nil {
		return nil, err
	}
	txn.CarbonCredited = true
	txn.CarbonCreditID = &credit.ID
	return credit, nil
}

// BulkSettle settles every id on a bounded pool. Each item succeeds or fails
// on its own; items keep the order of ids.
func (s *SettlementService) BulkSettle(ctx context.Context, ids []uuid.UUID) *BulkResult {
	items := make([]BulkItem, len(ids))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			items[i] = s.settleItem(ctx, id)
			return nil
		})
	}
	g.Wait()

	result := &BulkResult{TotalPaid: decimal.Zero, Items: items}
	for _, item := range items {
		if item.Outcome == ItemSucceeded {
			result.Succeeded++
			result.TotalPaid = result.TotalPaid.Add(item.Amount)
		} else {
			result.Failed++
		}
	}

	logrus.WithFields(logrus.Fields{
		"succeeded":  result.Succeeded,
		"failed":     result.Failed,
		"total_paid": result.TotalPaid.StringFixed(2),
	}).Info("Bulk settlement finished")

	return result
}

func (s *SettlementService) settleItem(ctx context.Context, id uuid.UUID) (item BulkItem) {
	item = BulkItem{TransactionID: id, Outcome: ItemFailed, Amount: decimal.Zero}
	defer func() {
		if r := recover(); r != nil {
			item.Outcome = ItemFailed
			item.ErrorKind = errs.KindInternal
			item.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	res, err := s.Settle(ctx, id)
	if res != nil {
		item.PaymentStatus = res.Status
		item.PaymentRef = res.PaymentRef
		item.Warning = res.Warning
	}
	if res != nil && res.Status == models.PaymentStatusCompleted {
		// Money moved; a bookkeeping error is reported, not counted as a failure.
		item.Outcome = ItemSucceeded
		item.Amount = res.AmountPaid
		if err != nil {
			item.Warning = err.Error()
		}
		return item
	}
	if err != nil {
		item.ErrorKind = errs.KindOf(err)
		item.Error = errs.Detail(err)
	}
	return item
}

// SettlePending bulk-settles up to limit pending transactions.
func (s *SettlementService) SettlePending(ctx context.Context, limit int) (*BulkResult, error) {
	if limit < 1 || limit > s.batchLimit {
		limit = s.batchLimit
	}
	txns, err := s.repo.ListTransactionsByStatus(ctx, models.PaymentStatusPending, limit)
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for _, txn := range txns {
		if txn.PaymentMethod == models.PaymentMethodMPesa {
			ids = append(ids, txn.ID)
		}
	}
	return s.BulkSettle(ctx, ids), nil
}

// Reconcile finishes completed payouts whose anchor or carbon credit is
// missing.
func (s *SettlementService) Reconcile(ctx context.Context, limit int) (*BulkResult, error) {
	if limit < 1 || limit > s.batchLimit {
		limit = s.batchLimit
	}
	txns, err := s.repo.ListUnreconciledTransactions(ctx, limit)
	if err != nil {
		return nil, err
	}

	items := make([]BulkItem, len(txns))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range txns {
		i := i
		txn := &txns[i]
		g.Go(func() error {
			items[i] = s.reconcileItem(ctx, txn)
			return nil
		})
	}
	g.Wait()

	result := &BulkResult{TotalPaid: decimal.Zero, Items: items}
	for _, item := range items {
		switch item.Outcome {
		case ItemSucceeded:
			result.Succeeded++
		case ItemSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}
	return result, nil
}

func (s *SettlementService) reconcileItem(ctx context.Context, listed *models.Transaction) BulkItem {
	item := BulkItem{
		TransactionID: listed.ID,
		Outcome:       ItemFailed,
		PaymentStatus: listed.PaymentStatus,
		PaymentRef:    listed.PaymentRef,
		Amount:        listed.AmountPaid,
	}
	fail := func(err error) BulkItem {
		item.ErrorKind = errs.KindOf(err)
		item.Error = errs.Detail(err)
		return item
	}

	now := s.now().UTC()
	claimed, err := s.repo.ClaimFinalization(ctx, listed.ID, now, now.Add(-s.finalizeTimeout))
	if err != nil {
		return fail(err)
	}
	if !claimed {
		item.Outcome = ItemSkipped
		item.ErrorKind = errs.KindSettlementInProgress
		item.Error = "another caller is finishing this transaction"
		return item
	}
	defer s.releaseFinalization(context.WithoutCancel(ctx), listed.ID)

	// The listed copy may predate a run that finished in the meantime.
	txn, err := s.repo.GetTransaction(ctx, listed.ID)
	if err != nil {
		return fail(err)
	}
	farmer, err := s.repo.GetFarmer(ctx, txn.FarmerID)
	if err != nil {
		return fail(err)
	}
	if txn.LedgerHash == "" {
		if err := s.anchorPayment(ctx, txn, farmer); err != nil {
			return fail(err)
		}
	}
	if txn.CarbonCreditBonus.IsPositive() && !txn.CarbonCredited {
		produce, err := s.repo.GetProduce(ctx, txn.ProduceID)
		if err != nil {
			return fail(err)
		}
		if _, err := s.creditCarbon(ctx, txn, farmer, produce); err != nil {
			return fail(err)
		}
	}

	item.Outcome = ItemSucceeded
	return item
}

// ReleaseStale looks at up to limit settlements stuck in processing. Those
// that never reached the rail go back to failed so they can be settled
// again; those whose payout was submitted are only reported, since the money
// may have moved.
func (s *SettlementService) ReleaseStale(ctx context.Context, limit int) (*StaleReport, error) {
	if limit < 1 || limit > s.batchLimit {
		limit = s.batchLimit
	}
	txns, err := s.repo.ListTransactionsByStatus(ctx, models.PaymentStatusProcessing, limit)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().UTC().Add(-s.staleAfter)
	report := &StaleReport{Released: []uuid.UUID{}, NeedsReview: []uuid.UUID{}}
	for _, txn := range txns {
		if !txn.UpdatedAt.Before(cutoff) {
			continue
		}
		log := logrus.WithFields(logrus.Fields{
			"transaction_id": txn.ID,
			"updated_at":     txn.UpdatedAt,
		})
		if txn.PayoutSubmittedAt != nil {
			report.NeedsReview = append(report.NeedsReview, txn.ID)
			log.Error("Payout outcome was never recorded")
			continue
		}

		released, err := s.repo.ReleaseSettlement(ctx, txn.ID, cutoff, "settlement abandoned before payout")
		if err != nil {
			return report, err
		}
		if released {
			report.Released = append(report.Released, txn.ID)
			log.Warn("Released stale settlement")
		}
	}
	return report, nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

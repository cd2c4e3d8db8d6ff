// internal/repository/gorm.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/models"
)

// GormRepository persists to PostgreSQL through gorm.
type GormRepository struct {
	db   *gorm.DB
	inTx bool
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *GormRepository) WithinTransaction(ctx context.Context, fn func(Repository) error) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx, inTx: true})
	})
}

func notFound(op string, err error, what string, key any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.Newf(errs.KindNotFound, op, "%s %v not found", what, key)
	}
	return errs.Wrap(errs.KindInternal, op, err)
}

func dbError(op string, err error) error {
	return errs.Wrap(errs.KindInternal, op, err)
}

// Farmers

func (r *GormRepository) CreateFarmer(ctx context.Context, farmer *models.Farmer) error {
	return dbError("repository.create_farmer", r.conn(ctx).Create(farmer).Error)
}

func (r *GormRepository) GetFarmer(ctx context.Context, id uuid.UUID) (*models.Farmer, error) {
	var farmer models.Farmer
	if err := r.conn(ctx).First(&farmer, "id = ?", id).Error; err != nil {
		return nil, notFound("repository.get_farmer", err, "farmer", id)
	}
	return &farmer, nil
}

func (r *GormRepository) UpdateFarmer(ctx context.Context, farmer *models.Farmer) error {
	return dbError("repository.update_farmer", r.conn(ctx).Save(farmer).Error)
}

func (r *GormRepository) AddFarmerCredits(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	const op = "repository.add_farmer_credits"

	res := r.conn(ctx).Model(&models.Farmer{}).
		Where("id = ?", id).
		Update("carbon_credits_earned", gorm.Expr("carbon_credits_earned + ?", delta))
	if res.Error != nil {
		return decimal.Zero, dbError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, errs.Newf(errs.KindNotFound, op, "farmer %s not found", id)
	}

	var farmer models.Farmer
	if err := r.conn(ctx).Select("carbon_credits_earned").First(&farmer, "id = ?", id).Error; err != nil {
		return decimal.Zero, notFound(op, err, "farmer", id)
	}
	return farmer.CarbonCreditsEarned, nil
}

// Produce

func (r *GormRepository) CreateProduce(ctx context.Context, produce *models.Produce) error {
	return dbError("repository.create_produce", r.conn(ctx).Create(produce).Error)
}

// GetProduce locks the row when called inside WithinTransaction, so status
// changes to one batch are serialized.
func (r *GormRepository) GetProduce(ctx context.Context, id uuid.UUID) (*models.Produce, error) {
	query := r.conn(ctx)
	if r.inTx {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var produce models.Produce
	if err := query.First(&produce, "id = ?", id).Error; err != nil {
		return nil, notFound("repository.get_produce", err, "produce", id)
	}
	return &produce, nil
}

func (r *GormRepository) GetProduceByVerificationCode(ctx context.Context, code string) (*models.Produce, error) {
	var produce models.Produce
	if err := r.conn(ctx).First(&produce, "verification_code = ?", code).Error; err != nil {
		return nil, notFound("repository.get_produce_by_code", err, "verification code", code)
	}
	return &produce, nil
}

func (r *GormRepository) UpdateProduce(ctx context.Context, produce *models.Produce) error {
	return dbError("repository.update_produce", r.conn(ctx).Save(produce).Error)
}

func (r *GormRepository) ListProduce(ctx context.Context, filter ProduceFilter) ([]models.Produce, int64, error) {
	const op = "repository.list_produce"

	query := r.conn(ctx).Model(&models.Produce{})
	if filter.FarmerID != nil {
		query = query.Where("farmer_id = ?", *filter.FarmerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Search != "" {
		query = query.Where("name ILIKE ?", "%"+filter.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, dbError(op, err)
	}

	sort := filter.Sort
	if !produceSortFields[sort] {
		sort = "created_at"
	}
	desc := filter.Order != "asc"

	var produce []models.Produce
	err := query.
		Order(clause.OrderByColumn{Column: clause.Column{Name: sort}, Desc: desc}).
		Offset(filter.offset()).
		Limit(filter.limit()).
		Find(&produce).Error
	if err != nil {
		return nil, 0, dbError(op, err)
	}
	return produce, total, nil
}

func (r *GormRepository) ListProduceDueForExpiry(ctx context.Context, now time.Time, limit int) ([]models.Produce, error) {
	var produce []models.Produce
	err := r.conn(ctx).
		Where("expiry_date IS NOT NULL AND expiry_date <= ?", now).
		Where("status IN ?", []models.ProduceStatus{models.ProduceStatusRegistered, models.ProduceStatusInTransit, models.ProduceStatusAtMarket}).
		Order("expiry_date ASC").
		Limit(limit).
		Find(&produce).Error
	if err != nil {
		return nil, dbError("repository.list_due_produce", err)
	}
	return produce, nil
}

// Tracking

func (r *GormRepository) AppendTrackingPoint(ctx context.Context, point *models.TrackingPoint) error {
	const op = "repository.append_tracking_point"

	var maxSeq sql.NullInt64
	err := r.conn(ctx).Model(&models.TrackingPoint{}).
		Where("produce_id = ?", point.ProduceID).
		Select("MAX(sequence)").
		Row().Scan(&maxSeq)
	if err != nil {
		return dbError(op, err)
	}

	point.Sequence = int(maxSeq.Int64) + 1
	// the unique (produce_id, sequence) index rejects a concurrent writer
	return dbError(op, r.conn(ctx).Create(point).Error)
}

func (r *GormRepository) ListTrackingPoints(ctx context.Context, produceID uuid.UUID) ([]models.TrackingPoint, error) {
	var points []models.TrackingPoint
	err := r.conn(ctx).
		Where("produce_id = ?", produceID).
		Order("sequence ASC").
		Find(&points).Error
	if err != nil {
		return nil, dbError("repository.list_tracking_points", err)
	}
	return points, nil
}

func (r *GormRepository) AttachTrackingAnchor(ctx context.Context, pointID uuid.UUID, anchorHash, ledgerTxID string) error {
	const op = "repository.attach_tracking_anchor"

	res := r.conn(ctx).Model(&models.TrackingPoint{}).
		Where("id = ? AND (anchor_hash IS NULL OR anchor_hash = '')", pointID).
		Updates(map[string]any{
			"anchor_hash":           anchorHash,
			"ledger_transaction_id": ledgerTxID,
		})
	if res.Error != nil {
		return dbError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Newf(errs.KindInvalidTransition, op, "tracking point %s is missing or already anchored", pointID)
	}
	return nil
}

// Transactions

func (r *GormRepository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return dbError("repository.create_transaction", r.conn(ctx).Create(txn).Error)
}

func (r *GormRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.conn(ctx).First(&txn, "id = ?", id).Error; err != nil {
		return nil, notFound("repository.get_transaction", err, "transaction", id)
	}
	return &txn, nil
}

func (r *GormRepository) CompareAndSwapPaymentStatus(ctx context.Context, id uuid.UUID, from []models.PaymentStatus, to models.PaymentStatus) (bool, error) {
	res := r.conn(ctx).Model(&models.Transaction{}).
		Where("id = ? AND payment_status IN ?", id, from).
		Update("payment_status", to)
	if res.Error != nil {
		return false, dbError("repository.cas_payment_status", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// guardedUpdate applies values to one transaction row matching the extra
// conditions and reports whether it matched.
func (r *GormRepository) guardedUpdate(ctx context.Context, op string, id uuid.UUID, values map[string]any, where string, args ...any) (bool, error) {
	res := r.conn(ctx).Model(&models.Transaction{}).
		Where("id = ?", id).
		Where(where, args...).
		Updates(values)
	if res.Error != nil {
		return false, dbError(op, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *GormRepository) BeginPayout(ctx context.Context, id uuid.UUID, b models.Breakdown, at time.Time) (bool, error) {
	return r.guardedUpdate(ctx, "repository.begin_payout", id, map[string]any{
		"total_amount":        b.TotalAmount,
		"fair_trade_premium":  b.FairTradePremium,
		"carbon_credit_bonus": b.CarbonCreditBonus,
		"final_amount":        b.FinalAmount,
		"failure_reason":      "",
		"payout_submitted_at": at,
	}, "payment_status = ? AND payout_submitted_at IS NULL", models.PaymentStatusProcessing)
}

func (r *GormRepository) CompletePayout(ctx context.Context, id uuid.UUID, ref string, amount decimal.Decimal, paidAt time.Time) (bool, error) {
	return r.guardedUpdate(ctx, "repository.complete_payout", id, map[string]any{
		"payment_status":   models.PaymentStatusCompleted,
		"payment_ref":      ref,
		"amount_paid":      amount,
		"paid_at":          paidAt,
		"failure_reason":   "",
		"finalizing_since": paidAt,
	}, "payment_status = ?", models.PaymentStatusProcessing)
}

func (r *GormRepository) FailPayout(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return r.guardedUpdate(ctx, "repository.fail_payout", id, map[string]any{
		"payment_status":      models.PaymentStatusFailed,
		"failure_reason":      reason,
		"payout_submitted_at": nil,
	}, "payment_status = ?", models.PaymentStatusProcessing)
}

func (r *GormRepository) ReleaseSettlement(ctx context.Context, id uuid.UUID, cutoff time.Time, reason string) (bool, error) {
	return r.guardedUpdate(ctx, "repository.release_settlement", id, map[string]any{
		"payment_status": models.PaymentStatusFailed,
		"failure_reason": reason,
	}, "payment_status = ? AND payout_submitted_at IS NULL AND updated_at < ?", models.PaymentStatusProcessing, cutoff)
}

func (r *GormRepository) ClaimFinalization(ctx context.Context, id uuid.UUID, at, staleBefore time.Time) (bool, error) {
	return r.guardedUpdate(ctx, "repository.claim_finalization", id, map[string]any{
		"finalizing_since": at,
	}, "payment_status = ? AND (finalizing_since IS NULL OR finalizing_since < ?)", models.PaymentStatusCompleted, staleBefore)
}

func (r *GormRepository) ReleaseFinalization(ctx context.Context, id uuid.UUID) error {
	err := r.conn(ctx).Model(&models.Transaction{}).
		Where("id = ?", id).
		Update("finalizing_since", nil).Error
	return dbError("repository.release_finalization", err)
}

func (r *GormRepository) AttachPaymentAnchor(ctx context.Context, id uuid.UUID, ledgerHash string, consensus time.Time) (bool, error) {
	return r.guardedUpdate(ctx, "repository.attach_payment_anchor", id, map[string]any{
		"ledger_hash":         ledgerHash,
		"consensus_timestamp": consensus,
	}, "payment_status = ? AND (ledger_hash IS NULL OR ledger_hash = '')", models.PaymentStatusCompleted)
}

func (r *GormRepository) MarkCarbonCredited(ctx context.Context, id, creditID uuid.UUID) (bool, error) {
	return r.guardedUpdate(ctx, "repository.mark_carbon_credited", id, map[string]any{
		"carbon_credited":  true,
		"carbon_credit_id": creditID,
	}, "carbon_credited = ?", false)
}

func (r *GormRepository) UpdateCollection(ctx context.Context, id uuid.UUID, u CollectionUpdate) (bool, error) {
	return r.guardedUpdate(ctx, "repository.update_collection", id, map[string]any{
		"collection_method":  u.Method,
		"collection_ref":     u.Ref,
		"collection_status":  u.Status,
		"collection_receipt": u.Receipt,
	}, "collection_ref = ? AND collection_status IN ?", u.FromRef, u.From)
}

func (r *GormRepository) SumQuantitySold(ctx context.Context, produceID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := r.conn(ctx).Model(&models.Transaction{}).
		Where("produce_id = ?", produceID).
		Select("SUM(quantity_sold)").
		Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, dbError("repository.sum_quantity_sold", err)
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (r *GormRepository) ListTransactionsByProduce(ctx context.Context, produceID uuid.UUID) ([]models.Transaction, error) {
	var txns []models.Transaction
	if err := r.conn(ctx).Where("produce_id = ?", produceID).Order("created_at ASC").Find(&txns).Error; err != nil {
		return nil, dbError("repository.list_transactions_by_produce", err)
	}
	return txns, nil
}

func (r *GormRepository) ListTransactionsByStatus(ctx context.Context, status models.PaymentStatus, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.conn(ctx).
		Where("payment_status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, dbError("repository.list_transactions_by_status", err)
	}
	return txns, nil
}

func (r *GormRepository) ListUnreconciledTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.conn(ctx).
		Where("payment_status = ?", models.PaymentStatusCompleted).
		Where("(ledger_hash IS NULL OR ledger_hash = '') OR (carbon_credit_bonus > 0 AND carbon_credited = ?)", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, dbError("repository.list_unreconciled", err)
	}
	return txns, nil
}

func (r *GormRepository) FindTransactionByCollectionRef(ctx context.Context, ref string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.conn(ctx).First(&txn, "collection_ref = ?", ref).Error; err != nil {
		return nil, notFound("repository.find_by_collection_ref", err, "collection request", ref)
	}
	return &txn, nil
}

// Carbon credits

func (r *GormRepository) CreateCarbonCredit(ctx context.Context, credit *models.CarbonCredit) error {
	const op = "repository.create_carbon_credit"
	err := r.conn(ctx).Create(credit).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errs.Newf(errs.KindInvalidTransition, op, "transaction %v already has a carbon credit", credit.TransactionID)
	}
	return dbError(op, err)
}

func (r *GormRepository) GetCarbonCredit(ctx context.Context, id uuid.UUID) (*models.CarbonCredit, error) {
	var credit models.CarbonCredit
	if err := r.conn(ctx).First(&credit, "id = ?", id).Error; err != nil {
		return nil, notFound("repository.get_carbon_credit", err, "carbon credit", id)
	}
	return &credit, nil
}

func (r *GormRepository) AdvanceCarbonCredit(ctx context.Context, credit *models.CarbonCredit, from models.CreditStatus) (bool, error) {
	res := r.conn(ctx).Model(&models.CarbonCredit{}).
		Where("id = ? AND verification_status = ?", credit.ID, from).
		Updates(map[string]any{
			"verification_status":   credit.VerificationStatus,
			"certificate_hash":      credit.CertificateHash,
			"ledger_transaction_id": credit.LedgerTransactionID,
			"issued_at":             credit.IssuedAt,
			"redeemed_at":           credit.RedeemedAt,
		})
	if res.Error != nil {
		return false, dbError("repository.advance_carbon_credit", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *GormRepository) ListCarbonCreditsByFarmer(ctx context.Context, farmerID uuid.UUID) ([]models.CarbonCredit, error) {
	var credits []models.CarbonCredit
	if err := r.conn(ctx).Where("farmer_id = ?", farmerID).Order("created_at DESC").Find(&credits).Error; err != nil {
		return nil, dbError("repository.list_carbon_credits", err)
	}
	return credits, nil
}

func (r *GormRepository) FindCarbonCreditByTransaction(ctx context.Context, txnID uuid.UUID) (*models.CarbonCredit, error) {
	var credit models.CarbonCredit
	if err := r.conn(ctx).First(&credit, "transaction_id = ?", txnID).Error; err != nil {
		return nil, notFound("repository.find_credit_by_transaction", err, "carbon credit for transaction", txnID)
	}
	return &credit, nil
}

// Verifications

func (r *GormRepository) CreateVerification(ctx context.Context, record *models.VerificationRecord) error {
	return dbError("repository.create_verification", r.conn(ctx).Create(record).Error)
}

func (r *GormRepository) GetVerification(ctx context.Context, id uuid.UUID) (*models.VerificationRecord, error) {
	var record models.VerificationRecord
	if err := r.conn(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, notFound("repository.get_verification", err, "verification", id)
	}
	return &record, nil
}

func (r *GormRepository) ListVerificationsByProduce(ctx context.Context, produceID uuid.UUID) ([]models.VerificationRecord, error) {
	var records []models.VerificationRecord
	if err := r.conn(ctx).Where("produce_id = ?", produceID).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, dbError("repository.list_verifications", err)
	}
	return records, nil
}

// Ledger anchors and audit

func (r *GormRepository) RecordAnchor(ctx context.Context, anchor *models.LedgerAnchor) (bool, error) {
	res := r.conn(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "digest"}}, DoNothing: true}).
		Create(anchor)
	if res.Error != nil {
		return false, dbError("repository.record_anchor", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *GormRepository) ListAnchorsByProduce(ctx context.Context, produceID string) ([]models.LedgerAnchor, error) {
	var anchors []models.LedgerAnchor
	err := r.conn(ctx).
		Where("produce_id = ?", produceID).
		Order("sequence_number ASC").
		Find(&anchors).Error
	if err != nil {
		return nil, dbError("repository.list_anchors", err)
	}
	return anchors, nil
}

func (r *GormRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	if err := r.conn(ctx).Create(entry).Error; err != nil {
		return dbError("repository.create_audit_log", fmt.Errorf("audit %s: %w", entry.Action, err))
	}
	return nil
}

// internal/repository/repository.go
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/farmtrace-backend/internal/models"
)

// ProduceFilter narrows ListProduce. Zero values mean "any".
type ProduceFilter struct {
	FarmerID *uuid.UUID
	Status   models.ProduceStatus
	Category string
	Search   string
	Sort     string
	Order    string
	Page     int
	Limit    int
}

func (f ProduceFilter) offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.limit()
}

func (f ProduceFilter) limit() int {
	if f.Limit < 1 || f.Limit > 100 {
		return 20
	}
	return f.Limit
}

// CollectionUpdate replaces the collection fields of a transaction that still
// carries FromRef with a status in From.
type CollectionUpdate struct {
	FromRef string
	From    []models.CollectionStatus
	Method  models.PaymentMethod
	Ref     string
	Status  models.CollectionStatus
	Receipt string
}

func (u CollectionUpdate) matches(txn *models.Transaction) bool {
	if txn.CollectionRef != u.FromRef {
		return false
	}
	for _, status := range u.From {
		if txn.CollectionStatus == status {
			return true
		}
	}
	return false
}

// ProduceSortFields are the columns ListProduce can order by.
var ProduceSortFields = []string{"created_at", "harvest_date", "expiry_date", "eco_score", "total_value", "name"}

var produceSortFields = func() map[string]bool {
	set := make(map[string]bool, len(ProduceSortFields))
	for _, field := range ProduceSortFields {
		set[field] = true
	}
	return set
}()

// Repository is the persistence boundary. Every lookup by id returns an
// errs.KindNotFound error when the row does not exist.
type Repository interface {
	// WithinTransaction runs fn against a repository bound to one unit of
	// work. An error from fn rolls every write back.
	WithinTransaction(ctx context.Context, fn func(Repository) error) error

	CreateFarmer(ctx context.Context, farmer *models.Farmer) error
	GetFarmer(ctx context.Context, id uuid.UUID) (*models.Farmer, error)
	UpdateFarmer(ctx context.Context, farmer *models.Farmer) error
	// AddFarmerCredits adjusts the cumulative balance in place and returns it.
	AddFarmerCredits(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)

	CreateProduce(ctx context.Context, produce *models.Produce) error
	GetProduce(ctx context.Context, id uuid.UUID) (*models.Produce, error)
	GetProduceByVerificationCode(ctx context.Context, code string) (*models.Produce, error)
	UpdateProduce(ctx context.Context, produce *models.Produce) error
	ListProduce(ctx context.Context, filter ProduceFilter) ([]models.Produce, int64, error)
	ListProduceDueForExpiry(ctx context.Context, now time.Time, limit int) ([]models.Produce, error)

	// AppendTrackingPoint assigns the next sequence number for the produce.
	AppendTrackingPoint(ctx context.Context, point *models.TrackingPoint) error
	ListTrackingPoints(ctx context.Context, produceID uuid.UUID) ([]models.TrackingPoint, error)
	// AttachTrackingAnchor writes the anchor fields of a point that has none.
	AttachTrackingAnchor(ctx context.Context, pointID uuid.UUID, anchorHash, ledgerTxID string) error

	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	// CompareAndSwapPaymentStatus moves the transaction to `to` only if its
	// current status is one of `from`. It reports whether the swap happened.
	CompareAndSwapPaymentStatus(ctx context.Context, id uuid.UUID, from []models.PaymentStatus, to models.PaymentStatus) (bool, error)

	// The settlement writes below touch only their own columns and apply
	// only while the row is in the state they expect. Each reports whether
	// the row matched.

	// BeginPayout stores the repriced amounts of a processing transaction
	// and marks the payout as submitted.
	BeginPayout(ctx context.Context, id uuid.UUID, b models.Breakdown, at time.Time) (bool, error)
	// CompletePayout moves processing to completed and takes the finalizing
	// claim for the caller.
	CompletePayout(ctx context.Context, id uuid.UUID, ref string, amount decimal.Decimal, paidAt time.Time) (bool, error)
	// FailPayout moves processing to failed.
	FailPayout(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	// ReleaseSettlement fails a processing transaction that never submitted
	// a payout and has not changed since before cutoff.
	ReleaseSettlement(ctx context.Context, id uuid.UUID, cutoff time.Time, reason string) (bool, error)
	// ClaimFinalization takes the finalizing claim on a completed
	// transaction unless someone holds one newer than staleBefore.
	ClaimFinalization(ctx context.Context, id uuid.UUID, at, staleBefore time.Time) (bool, error)
	ReleaseFinalization(ctx context.Context, id uuid.UUID) error
	// AttachPaymentAnchor records the settlement anchor of a completed
	// transaction that has none.
	AttachPaymentAnchor(ctx context.Context, id uuid.UUID, ledgerHash string, consensus time.Time) (bool, error)
	// MarkCarbonCredited links the issued credit to a transaction not yet
	// credited.
	MarkCarbonCredited(ctx context.Context, id, creditID uuid.UUID) (bool, error)
	UpdateCollection(ctx context.Context, id uuid.UUID, u CollectionUpdate) (bool, error)

	SumQuantitySold(ctx context.Context, produceID uuid.UUID) (decimal.Decimal, error)
	ListTransactionsByProduce(ctx context.Context, produceID uuid.UUID) ([]models.Transaction, error)
	ListTransactionsByStatus(ctx context.Context, status models.PaymentStatus, limit int) ([]models.Transaction, error)
	ListUnreconciledTransactions(ctx context.Context, limit int) ([]models.Transaction, error)
	FindTransactionByCollectionRef(ctx context.Context, ref string) (*models.Transaction, error)

	CreateCarbonCredit(ctx context.Context, credit *models.CarbonCredit) error
	GetCarbonCredit(ctx context.Context, id uuid.UUID) (*models.CarbonCredit, error)
	// AdvanceCarbonCredit writes the status, hash and timestamps of credit
	// only if the stored status is still from.
	AdvanceCarbonCredit(ctx context.Context, credit *models.CarbonCredit, from models.CreditStatus) (bool, error)
	ListCarbonCreditsByFarmer(ctx context.Context, farmerID uuid.UUID) ([]models.CarbonCredit, error)
	FindCarbonCreditByTransaction(ctx context.Context, txnID uuid.UUID) (*models.CarbonCredit, error)

	CreateVerification(ctx context.Context, record *models.VerificationRecord) error
	GetVerification(ctx context.Context, id uuid.UUID) (*models.VerificationRecord, error)
	ListVerificationsByProduce(ctx context.Context, produceID uuid.UUID) ([]models.VerificationRecord, error)

	// RecordAnchor stores a receipt once per digest. It reports whether a new
	// row was written.
	RecordAnchor(ctx context.Context, anchor *models.LedgerAnchor) (bool, error)
	ListAnchorsByProduce(ctx context.Context, produceID string) ([]models.LedgerAnchor, error)

	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// internal/repository/memory.go
package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/models"
)

type memoryState struct {
	farmers       map[uuid.UUID]models.Farmer
	produce       map[uuid.UUID]models.Produce
	points        map[uuid.UUID]models.TrackingPoint
	transactions  map[uuid.UUID]models.Transaction
	credits       map[uuid.UUID]models.CarbonCredit
	verifications map[uuid.UUID]models.VerificationRecord
	anchors       map[string]models.LedgerAnchor
	audit         []models.AuditLog
}

func newMemoryState() memoryState {
	return memoryState{
		farmers:       make(map[uuid.UUID]models.Farmer),
		produce:       make(map[uuid.UUID]models.Produce),
		points:        make(map[uuid.UUID]models.TrackingPoint),
		transactions:  make(map[uuid.UUID]models.Transaction),
		credits:       make(map[uuid.UUID]models.CarbonCredit),
		verifications: make(map[uuid.UUID]models.VerificationRecord),
		anchors:       make(map[string]models.LedgerAnchor),
	}
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range s.farmers {
		out.farmers[k] = v
	}
	for k, v := range s.produce {
		out.produce[k] = v
	}
	for k, v := range s.points {
		out.points[k] = v
	}
	for k, v := range s.transactions {
		out.transactions[k] = v
	}
	for k, v := range s.credits {
		out.credits[k] = v
	}
	for k, v := range s.verifications {
		out.verifications[k] = v
	}
	for k, v := range s.anchors {
		out.anchors[k] = v
	}
	out.audit = append(out.audit, s.audit...)
	return out
}

// MemoryRepository keeps everything in process. Rows are stored by value so
// callers never share memory with the store. Transactions are serialized and
// roll back by restoring a snapshot.
type MemoryRepository struct {
	txMu  *sync.Mutex
	mu    *sync.RWMutex
	state *memoryState
	now   func() time.Time
	inTx  bool
}

func NewMemoryRepository() *MemoryRepository {
	state := newMemoryState()
	return &MemoryRepository{
		txMu:  &sync.Mutex{},
		mu:    &sync.RWMutex{},
		state: &state,
		now:   time.Now,
	}
}

func (r *MemoryRepository) WithinTransaction(ctx context.Context, fn func(Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	snapshot := r.state.clone()
	r.mu.RUnlock()

	tx := *r
	tx.inTx = true
	if err := fn(&tx); err != nil {
		r.mu.Lock()
		*r.state = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryRepository) touch(base *models.BaseModel, create bool) {
	now := r.now()
	if create {
		if base.ID == uuid.Nil {
			base.ID = uuid.New()
		}
		if base.CreatedAt.IsZero() {
			base.CreatedAt = now
		}
	}
	base.UpdatedAt = now
}

func missing(op, what string, key any) error {
	return errs.Newf(errs.KindNotFound, op, "%s %v not found", what, key)
}

// Farmers

func (r *MemoryRepository) CreateFarmer(ctx context.Context, farmer *models.Farmer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(&farmer.BaseModel, true)
	r.state.farmers[farmer.ID] = *farmer
	return nil
}

func (r *MemoryRepository) GetFarmer(ctx context.Context, id uuid.UUID) (*models.Farmer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	farmer, ok := r.state.farmers[id]
	if !ok {
		return nil, missing("repository.get_farmer", "farmer", id)
	}
	return &farmer, nil
}

func (r *MemoryRepository) UpdateFarmer(ctx context.Context, farmer *models.Farmer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.farmers[farmer.ID]; !ok {
		return missing("repository.update_farmer", "farmer", farmer.ID)
	}
	r.touch(&farmer.BaseModel, false)
	r.state.farmers[farmer.ID] = *farmer
	return nil
}

func (r *MemoryRepository) AddFarmerCredits(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	farmer, ok := r.state.farmers[id]
	if !ok {
		return decimal.Zero, missing("repository.add_farmer_credits", "farmer", id)
	}
	farmer.CarbonCreditsEarned = farmer.CarbonCreditsEarned.Add(delta)
	r.touch(&farmer.BaseModel, false)
	r.state.farmers[id] = farmer
	return farmer.CarbonCreditsEarned, nil
}

// Produce

func (r *MemoryRepository) CreateProduce(ctx context.Context, produce *models.Produce) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if produce.VerificationCode != "" {
		for _, existing := range r.state.produce {
			if existing.VerificationCode == produce.VerificationCode {
				return errs.Newf(errs.KindValidation, "repository.create_produce", "verification code %s already in use", produce.VerificationCode)
			}
		}
	}
	r.touch(&produce.BaseModel, true)
	r.state.produce[produce.ID] = *produce
	return nil
}

func (r *MemoryRepository) GetProduce(ctx context.Context, id uuid.UUID) (*models.Produce, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	produce, ok := r.state.produce[id]
	if !ok {
		return nil, missing("repository.get_produce", "produce", id)
	}
	return &produce, nil
}

func (r *MemoryRepository) GetProduceByVerificationCode(ctx context.Context, code string) (*models.Produce, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, produce := range r.state.produce {
		if produce.VerificationCode == code {
			p := produce
			return &p, nil
		}
	}
	return nil, missing("repository.get_produce_by_code", "verification code", code)
}

func (r *MemoryRepository) UpdateProduce(ctx context.Context, produce *models.Produce) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.produce[produce.ID]; !ok {
		return missing("repository.update_produce", "produce", produce.ID)
	}
	r.touch(&produce.BaseModel, false)
	r.state.produce[produce.ID] = *produce
	return nil
}

func (r *MemoryRepository) ListProduce(ctx context.Context, filter ProduceFilter) ([]models.Produce, int64, error) {
	r.mu.RLock()
	var matched []models.Produce
	for _, p := range r.state.produce {
		if filter.FarmerID != nil && p.FarmerID != *filter.FarmerID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		matched = append(matched, p)
	}
	r.mu.RUnlock()

	less := produceLess(filter.Sort)
	desc := filter.Order != "asc"
	sort.SliceStable(matched, func(i, j int) bool {
		if desc {
			return less(matched[j], matched[i])
		}
		return less(matched[i], matched[j])
	})

	total := int64(len(matched))
	start := filter.offset()
	if start >= len(matched) {
		return []models.Produce{}, total, nil
	}
	end := start + filter.limit()
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func produceLess(field string) func(a, b models.Produce) bool {
	switch field {
	case "harvest_date":
		return func(a, b models.Produce) bool { return a.HarvestDate.Before(b.HarvestDate) }
	case "eco_score":
		return func(a, b models.Produce) bool { return a.EcoScore < b.EcoScore }
	case "total_value":
		return func(a, b models.Produce) bool { return a.TotalValue.LessThan(b.TotalValue) }
	case "name":
		return func(a, b models.Produce) bool { return a.Name < b.Name }
	case "expiry_date":
		return func(a, b models.Produce) bool {
			if a.ExpiryDate == nil || b.ExpiryDate == nil {
				return a.ExpiryDate != nil
			}
			return a.ExpiryDate.Before(*b.ExpiryDate)
		}
	}
	return func(a, b models.Produce) bool { return a.CreatedAt.Before(b.CreatedAt) }
}

func (r *MemoryRepository) ListProduceDueForExpiry(ctx context.Context, now time.Time, limit int) ([]models.Produce, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []models.Produce
	for _, p := range r.state.produce {
		if p.IsDue(now) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiryDate.Before(*due[j].ExpiryDate) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Tracking

func (r *MemoryRepository) AppendTrackingPoint(ctx context.Context, point *models.TrackingPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := 1
	for _, existing := range r.state.points {
		if existing.ProduceID == point.ProduceID && existing.Sequence >= next {
			next = existing.Sequence + 1
		}
	}
	point.Sequence = next
	r.touch(&point.BaseModel, true)
	r.state.points[point.ID] = *point
	return nil
}

func (r *MemoryRepository) ListTrackingPoints(ctx context.Context, produceID uuid.UUID) ([]models.TrackingPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var points []models.TrackingPoint
	for _, p := range r.state.points {
		if p.ProduceID == produceID {
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Sequence < points[j].Sequence })
	return points, nil
}

func (r *MemoryRepository) AttachTrackingAnchor(ctx context.Context, pointID uuid.UUID, anchorHash, ledgerTxID string) error {
	const op = "repository.attach_tracking_anchor"
	r.mu.Lock()
	defer r.mu.Unlock()

	point, ok := r.state.points[pointID]
	if !ok || point.IsAnchored() {
		return errs.Newf(errs.KindInvalidTransition, op, "tracking point %s is missing or already anchored", pointID)
	}
	point.AnchorHash = anchorHash
	point.LedgerTransactionID = ledgerTxID
	r.touch(&point.BaseModel, false)
	r.state.points[pointID] = point
	return nil
}

// ReplaceTrackingPoint overwrites a stored point without any checks. It
// exists to simulate out-of-band edits to the local copy.
func (r *MemoryRepository) ReplaceTrackingPoint(point models.TrackingPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.points[point.ID] = point
}

// Transactions

func (r *MemoryRepository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(&txn.BaseModel, true)
	r.state.transactions[txn.ID] = *txn
	return nil
}

func (r *MemoryRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	txn, ok := r.state.transactions[id]
	if !ok {
		return nil, missing("repository.get_transaction", "transaction", id)
	}
	return &txn, nil
}

func (r *MemoryRepository) CompareAndSwapPaymentStatus(ctx context.Context, id uuid.UUID, from []models.PaymentStatus, to models.PaymentStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.state.transactions[id]
	if !ok {
		return false, missing("repository.cas_payment_status", "transaction", id)
	}
	for _, s := range from {
		if txn.PaymentStatus == s {
			txn.PaymentStatus = to
			r.touch(&txn.BaseModel, false)
			r.state.transactions[id] = txn
			return true, nil
		}
	}
	return false, nil
}

// guardedUpdate applies apply to one stored transaction when match accepts
// it, the way a conditional UPDATE would.
func (r *MemoryRepository) guardedUpdate(op string, id uuid.UUID, match func(*models.Transaction) bool, apply func(*models.Transaction)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.state.transactions[id]
	if !ok {
		return false, missing(op, "transaction", id)
	}
	if !match(&txn) {
		return false, nil
	}
	apply(&txn)
	r.touch(&txn.BaseModel, false)
	r.state.transactions[id] = txn
	return true, nil
}

func inStatus(status models.PaymentStatus) func(*models.Transaction) bool {
	return func(t *models.Transaction) bool { return t.PaymentStatus == status }
}

func (r *MemoryRepository) BeginPayout(ctx context.Context, id uuid.UUID, b models.Breakdown, at time.Time) (bool, error) {
	return r.guardedUpdate("repository.begin_payout", id,
		func(t *models.Transaction) bool {
			return t.PaymentStatus == models.PaymentStatusProcessing && t.PayoutSubmittedAt == nil
		},
		func(t *models.Transaction) {
			t.TotalAmount = b.TotalAmount
			t.FairTradePremium = b.FairTradePremium
			t.CarbonCreditBonus = b.CarbonCreditBonus
			t.FinalAmount = b.FinalAmount
			t.FailureReason = ""
			t.PayoutSubmittedAt = &at
		})
}

func (r *MemoryRepository) CompletePayout(ctx context.Context, id uuid.UUID, ref string, amount decimal.Decimal, paidAt time.Time) (bool, error) {
	return r.guardedUpdate("repository.complete_payout", id, inStatus(models.PaymentStatusProcessing),
		func(t *models.Transaction) {
			t.PaymentStatus = models.PaymentStatusCompleted
			t.PaymentRef = ref
			t.AmountPaid = amount
			t.PaidAt = &paidAt
			t.FailureReason = ""
			t.FinalizingSince = &paidAt
		})
}

func (r *MemoryRepository) FailPayout(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return r.guardedUpdate("repository.fail_payout", id, inStatus(models.PaymentStatusProcessing),
		func(t *models.Transaction) {
			t.PaymentStatus = models.PaymentStatusFailed
			t.FailureReason = reason
			t.PayoutSubmittedAt = nil
		})
}

func (r *MemoryRepository) ReleaseSettlement(ctx context.Context, id uuid.UUID, cutoff time.Time, reason string) (bool, error) {
	return r.guardedUpdate("repository.release_settlement", id,
		func(t *models.Transaction) bool {
			return t.PaymentStatus == models.PaymentStatusProcessing && t.PayoutSubmittedAt == nil && t.UpdatedAt.Before(cutoff)
		},
		func(t *models.Transaction) {
			t.PaymentStatus = models.PaymentStatusFailed
			t.FailureReason = reason
		})
}

func (r *MemoryRepository) ClaimFinalization(ctx context.Context, id uuid.UUID, at, staleBefore time.Time) (bool, error) {
	return r.guardedUpdate("repository.claim_finalization", id,
		func(t *models.Transaction) bool {
			return t.PaymentStatus == models.PaymentStatusCompleted && (t.FinalizingSince == nil || t.FinalizingSince.Before(staleBefore))
		},
		func(t *models.Transaction) { t.FinalizingSince = &at })
}

func (r *MemoryRepository) ReleaseFinalization(ctx context.Context, id uuid.UUID) error {
	_, err := r.guardedUpdate("repository.release_finalization", id,
		func(*models.Transaction) bool { return true },
		func(t *models.Transaction) { t.FinalizingSince = nil })
	return err
}

func (r *MemoryRepository) AttachPaymentAnchor(ctx context.Context, id uuid.UUID, ledgerHash string, consensus time.Time) (bool, error) {
	return r.guardedUpdate("repository.attach_payment_anchor", id,
		func(t *models.Transaction) bool {
			return t.PaymentStatus == models.PaymentStatusCompleted && t.LedgerHash == ""
		},
		func(t *models.Transaction) {
			t.LedgerHash = ledgerHash
			t.ConsensusTimestamp = &consensus
		})
}

func (r *MemoryRepository) MarkCarbonCredited(ctx context.Context, id, creditID uuid.UUID) (bool, error) {
	return r.guardedUpdate("repository.mark_carbon_credited", id,
		func(t *models.Transaction) bool { return !t.CarbonCredited },
		func(t *models.Transaction) {
			t.CarbonCredited = true
			t.CarbonCreditID = &creditID
		})
}

func (r *MemoryRepository) UpdateCollection(ctx context.Context, id uuid.UUID, u CollectionUpdate) (bool, error) {
	return r.guardedUpdate("repository.update_collection", id, u.matches,
		func(t *models.Transaction) {
			t.CollectionMethod = u.Method
			t.CollectionRef = u.Ref
			t.CollectionStatus = u.Status
			t.CollectionReceipt = u.Receipt
		})
}

func (r *MemoryRepository) SumQuantitySold(ctx context.Context, produceID uuid.UUID) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sum := decimal.Zero
	for _, t := range r.state.transactions {
		if t.ProduceID == produceID {
			sum = sum.Add(t.QuantitySold)
		}
	}
	return sum, nil
}

func (r *MemoryRepository) sortedTransactions(keep func(models.Transaction) bool, limit int) []models.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Transaction
	for _, t := range r.state.transactions {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryRepository) ListTransactionsByProduce(ctx context.Context, produceID uuid.UUID) ([]models.Transaction, error) {
	return r.sortedTransactions(func(t models.Transaction) bool { return t.ProduceID == produceID }, 0), nil
}

func (r *MemoryRepository) ListTransactionsByStatus(ctx context.Context, status models.PaymentStatus, limit int) ([]models.Transaction, error) {
	return r.sortedTransactions(func(t models.Transaction) bool { return t.PaymentStatus == status }, limit), nil
}

func (r *MemoryRepository) ListUnreconciledTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	return r.sortedTransactions(func(t models.Transaction) bool {
		if t.PaymentStatus != models.PaymentStatusCompleted {
			return false
		}
		return t.LedgerHash == "" || (t.CarbonCreditBonus.IsPositive() && !t.CarbonCredited)
	}, limit), nil
}

func (r *MemoryRepository) FindTransactionByCollectionRef(ctx context.Context, ref string) (*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.state.transactions {
		if ref != "" && t.CollectionRef == ref {
			txn := t
			return &txn, nil
		}
	}
	return nil, missing("repository.find_by_collection_ref", "collection request", ref)
}

// Carbon credits

func (r *MemoryRepository) CreateCarbonCredit(ctx context.Context, credit *models.CarbonCredit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if credit.TransactionID != nil {
		for _, c := range r.state.credits {
			if c.TransactionID != nil && *c.TransactionID == *credit.TransactionID {
				return errs.Newf(errs.KindInvalidTransition, "repository.create_carbon_credit", "transaction %s already has a carbon credit", *credit.TransactionID)
			}
		}
	}
	r.touch(&credit.BaseModel, true)
	r.state.credits[credit.ID] = *credit
	return nil
}

func (r *MemoryRepository) GetCarbonCredit(ctx context.Context, id uuid.UUID) (*models.CarbonCredit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	credit, ok := r.state.credits[id]
	if !ok {
		return nil, missing("repository.get_carbon_credit", "carbon credit", id)
	}
	return &credit, nil
}

func (r *MemoryRepository) AdvanceCarbonCredit(ctx context.Context, credit *models.CarbonCredit, from models.CreditStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.state.credits[credit.ID]
	if !ok {
		return false, missing("repository.advance_carbon_credit", "carbon credit", credit.ID)
	}
	if stored.VerificationStatus != from {
		return false, nil
	}
	stored.VerificationStatus = credit.VerificationStatus
	stored.CertificateHash = credit.CertificateHash
	stored.LedgerTransactionID = credit.LedgerTransactionID
	stored.IssuedAt = credit.IssuedAt
	stored.RedeemedAt = credit.RedeemedAt
	r.touch(&stored.BaseModel, false)
	r.state.credits[credit.ID] = stored
	credit.UpdatedAt = stored.UpdatedAt
	return true, nil
}

func (r *MemoryRepository) ListCarbonCreditsByFarmer(ctx context.Context, farmerID uuid.UUID) ([]models.CarbonCredit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.CarbonCredit
	for _, c := range r.state.credits {
		if c.FarmerID == farmerID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) FindCarbonCreditByTransaction(ctx context.Context, txnID uuid.UUID) (*models.CarbonCredit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.state.credits {
		if c.TransactionID != nil && *c.TransactionID == txnID {
			credit := c
			return &credit, nil
		}
	}
	return nil, missing("repository.find_credit_by_transaction", "carbon credit for transaction", txnID)
}

// Verifications

func (r *MemoryRepository) CreateVerification(ctx context.Context, record *models.VerificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(&record.BaseModel, true)
	r.state.verifications[record.ID] = *record
	return nil
}

func (r *MemoryRepository) GetVerification(ctx context.Context, id uuid.UUID) (*models.VerificationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.state.verifications[id]
	if !ok {
		return nil, missing("repository.get_verification", "verification", id)
	}
	return &record, nil
}

func (r *MemoryRepository) ListVerificationsByProduce(ctx context.Context, produceID uuid.UUID) ([]models.VerificationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.VerificationRecord
	for _, v := range r.state.verifications {
		if v.ProduceID == produceID {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Ledger anchors and audit

func (r *MemoryRepository) RecordAnchor(ctx context.Context, anchor *models.LedgerAnchor) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.state.anchors[anchor.Digest]; exists {
		return false, nil
	}
	r.touch(&anchor.BaseModel, true)
	r.state.anchors[anchor.Digest] = *anchor
	return true, nil
}

func (r *MemoryRepository) ListAnchorsByProduce(ctx context.Context, produceID string) ([]models.LedgerAnchor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.LedgerAnchor
	for _, a := range r.state.anchors {
		if a.ProduceID == produceID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (r *MemoryRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(&entry.BaseModel, true)
	r.state.audit = append(r.state.audit, *entry)
	return nil
}

// AuditLogs returns the recorded audit entries in insertion order.
func (r *MemoryRepository) AuditLogs() []models.AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.AuditLog, len(r.state.audit))
	copy(out, r.state.audit)
	return out
}

// internal/models/transaction.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

var (
	FairTradeRate        = decimal.RequireFromString("0.10")
	CarbonBonusRate      = decimal.RequireFromString("0.05")
	CarbonBonusThreshold = 75
)

type Transaction struct {
	BaseModel
	ProduceID          uuid.UUID        `json:"produce_id" gorm:"type:uuid;not null;index"`
	FarmerID           uuid.UUID        `json:"farmer_id" gorm:"type:uuid;not null;index"`
	BuyerName          string           `json:"buyer_name" gorm:"size:100;not null"`
	BuyerContact       string           `json:"buyer_contact" gorm:"size:15"`
	BuyerType          BuyerType        `json:"buyer_type" gorm:"type:varchar(20);not null"`
	QuantitySold       decimal.Decimal  `json:"quantity_sold" gorm:"type:decimal(10,2);not null"`
	UnitPrice          decimal.Decimal  `json:"unit_price" gorm:"type:decimal(10,2);not null"`
	TotalAmount        decimal.Decimal  `json:"total_amount" gorm:"type:decimal(12,2);not null"`
	FairTradePremium   decimal.Decimal  `json:"fair_trade_premium" gorm:"type:decimal(10,2);default:0"`
	CarbonCreditBonus  decimal.Decimal  `json:"carbon_credit_bonus" gorm:"type:decimal(10,2);default:0"`
	FinalAmount        decimal.Decimal  `json:"final_amount" gorm:"type:decimal(12,2);not null"`
	PaymentMethod      PaymentMethod    `json:"payment_method" gorm:"type:varchar(10);not null"`
	PaymentStatus      PaymentStatus    `json:"payment_status" gorm:"type:varchar(20);default:'pending';index"`
	PaymentRef         string           `json:"payment_ref,omitempty" gorm:"size:100"`
	AmountPaid         decimal.Decimal  `json:"amount_paid" gorm:"type:decimal(12,2);default:0"`
	FailureReason      string           `json:"failure_reason,omitempty" gorm:"type:text"`
	PayoutSubmittedAt  *time.Time       `json:"payout_submitted_at,omitempty"`
	PaidAt             *time.Time       `json:"paid_at,omitempty"`
	LedgerHash         string           `json:"ledger_hash,omitempty" gorm:"size:64"`
	ConsensusTimestamp *time.Time       `json:"consensus_timestamp,omitempty"`
	CarbonCredited     bool             `json:"carbon_credited" gorm:"default:false"`
	CarbonCreditID     *uuid.UUID       `json:"carbon_credit_id,omitempty" gorm:"type:uuid"`
	CollectionMethod   PaymentMethod    `json:"collection_method,omitempty" gorm:"type:varchar(10)"`
	CollectionRef      string           `json:"collection_ref,omitempty" gorm:"size:100;index"`
	CollectionStatus   CollectionStatus `json:"collection_status" gorm:"type:varchar(20);default:'none'"`
	CollectionReceipt  string           `json:"collection_receipt,omitempty" gorm:"size:100"`

	// FinalizingSince is set while one caller anchors the payment and issues
	// its carbon credit.
	FinalizingSince *time.Time `json:"-"`
}

// Breakdown is the three-part payment computed from a sale.
type Breakdown struct {
	TotalAmount       decimal.Decimal `json:"total_amount"`
	FairTradePremium  decimal.Decimal `json:"fair_trade_premium"`
	CarbonCreditBonus decimal.Decimal `json:"carbon_credit_bonus"`
	FinalAmount       decimal.Decimal `json:"final_amount"`
}

// ComputeBreakdown prices a sale for a farmer and batch.
func ComputeBreakdown(quantity, unitPrice decimal.Decimal, farmer *Farmer, ecoScore int) Breakdown {
	total := roundMoney(quantity.Mul(unitPrice))

	premium := decimal.Zero
	if farmer.QualifiesForFairTrade() {
		premium = roundMoney(total.Mul(FairTradeRate))
	}

	bonus := decimal.Zero
	if ecoScore >= CarbonBonusThreshold {
		bonus = roundMoney(total.Mul(CarbonBonusRate))
	}

	return Breakdown{
		TotalAmount:       total,
		FairTradePremium:  premium,
		CarbonCreditBonus: bonus,
		FinalAmount:       total.Add(premium).Add(bonus),
	}
}

type SaleParams struct {
	BuyerName     string
	BuyerContact  string
	BuyerType     BuyerType
	QuantitySold  decimal.Decimal
	UnitPrice     decimal.Decimal
	PaymentMethod PaymentMethod
}

func NewTransaction(farmer *Farmer, produce *Produce, p SaleParams) (*Transaction, error) {
	if !p.QuantitySold.IsPositive() {
		return nil, errs.New(errs.KindValidation, "transaction.new", "quantity sold must be positive")
	}
	price := p.UnitPrice
	if price.IsZero() {
		price = produce.UnitPrice
	}
	if !price.IsPositive() {
		return nil, errs.New(errs.KindValidation, "transaction.new", "unit price must be positive")
	}

	t := &Transaction{
		BaseModel:        newBase(),
		ProduceID:        produce.ID,
		FarmerID:         farmer.ID,
		BuyerName:        p.BuyerName,
		BuyerContact:     p.BuyerContact,
		BuyerType:        p.BuyerType,
		QuantitySold:     p.QuantitySold,
		UnitPrice:        roundMoney(price),
		PaymentMethod:    p.PaymentMethod,
		PaymentStatus:    PaymentStatusPending,
		CollectionStatus: CollectionStatusNone,
	}
	t.setBreakdown(ComputeBreakdown(t.QuantitySold, t.UnitPrice, farmer, produce.EcoScore))
	return t, nil
}

func (t *Transaction) Breakdown() Breakdown {
	return Breakdown{
		TotalAmount:       t.TotalAmount,
		FairTradePremium:  t.FairTradePremium,
		CarbonCreditBonus: t.CarbonCreditBonus,
		FinalAmount:       t.FinalAmount,
	}
}

// Reprice recomputes the breakdown from current inputs. Completed
// transactions keep the amounts they were paid with.
func (t *Transaction) Reprice(farmer *Farmer, produce *Produce) error {
	if t.PaymentStatus == PaymentStatusCompleted {
		return errs.Newf(errs.KindInvalidTransition, "transaction.reprice", "transaction %s is already paid", t.ID)
	}
	t.setBreakdown(ComputeBreakdown(t.QuantitySold, t.UnitPrice, farmer, produce.EcoScore))
	return nil
}

func (t *Transaction) setBreakdown(b Breakdown) {
	t.TotalAmount = b.TotalAmount
	t.FairTradePremium = b.FairTradePremium
	t.CarbonCreditBonus = b.CarbonCreditBonus
	t.FinalAmount = b.FinalAmount
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusFailed:     {PaymentStatusProcessing},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionPayment applies one step of the payment state machine.
// Nothing leaves completed.
func (t *Transaction) TransitionPayment(to PaymentStatus) error {
	if !CanTransitionPayment(t.PaymentStatus, to) {
		return errs.Newf(errs.KindInvalidTransition, "transaction.payment_status", "cannot move transaction %s from %s to %s", t.ID, t.PaymentStatus, to)
	}
	t.PaymentStatus = to
	return nil
}

// SettlementRecord is the content anchored when the farmer is paid.
func (t *Transaction) SettlementRecord() map[string]any {
	record := map[string]any{
		"transaction_id":      t.ID.String(),
		"produce_id":          t.ProduceID.String(),
		"farmer_id":           t.FarmerID.String(),
		"quantity_sold":       t.QuantitySold.String(),
		"unit_price":          t.UnitPrice.StringFixed(2),
		"total_amount":        t.TotalAmount.StringFixed(2),
		"fair_trade_premium":  t.FairTradePremium.StringFixed(2),
		"carbon_credit_bonus": t.CarbonCreditBonus.StringFixed(2),
		"final_amount":        t.FinalAmount.StringFixed(2),
		"payment_method":      string(t.PaymentMethod),
		"payment_ref":         t.PaymentRef,
	}
	if t.PaidAt != nil {
		record["paid_at"] = t.PaidAt.UTC().Format(time.RFC3339Nano)
	}
	return record
}

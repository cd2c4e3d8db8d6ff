// internal/models/carbon_credit.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

type CarbonCredit struct {
	BaseModel
	FarmerID            uuid.UUID       `json:"farmer_id" gorm:"type:uuid;not null;index"`
	ProduceID           uuid.UUID       `json:"produce_id" gorm:"type:uuid;not null;index"`
	TransactionID       *uuid.UUID      `json:"transaction_id,omitempty" gorm:"type:uuid;uniqueIndex"`
	CreditsEarned       decimal.Decimal `json:"credits_earned" gorm:"type:decimal(10,4);not null"`
	CreditType          CreditType      `json:"credit_type" gorm:"type:varchar(30);not null"`
	VerificationStatus  CreditStatus    `json:"verification_status" gorm:"type:varchar(20);default:'pending';index"`
	CreditValue         decimal.Decimal `json:"credit_value" gorm:"type:decimal(10,2);not null"`
	CertificateHash     string          `json:"certificate_hash,omitempty" gorm:"size:64"`
	LedgerTransactionID string          `json:"ledger_transaction_id,omitempty" gorm:"size:100"`
	IssuedAt            *time.Time      `json:"issued_at,omitempty"`
	RedeemedAt          *time.Time      `json:"redeemed_at,omitempty"`
}

// CreditTypeFor picks the credit type from the strongest practice on the batch.
func CreditTypeFor(e EcoPractices) CreditType {
	switch {
	case e.OrganicCertified:
		return CreditTypeOrganicFarming
	case e.WaterEfficient:
		return CreditTypeWaterConservation
	case e.CarbonNeutral:
		return CreditTypeRenewableEnergy
	case e.PesticideFree:
		return CreditTypeSoilManagement
	}
	return CreditTypeOrganicFarming
}

func NewCarbonCredit(farmerID, produceID uuid.UUID, transactionID *uuid.UUID, credits, value decimal.Decimal, creditType CreditType) *CarbonCredit {
	return &CarbonCredit{
		BaseModel:          newBase(),
		FarmerID:           farmerID,
		ProduceID:          produceID,
		TransactionID:      transactionID,
		CreditsEarned:      credits,
		CreditType:         creditType,
		VerificationStatus: CreditStatusPending,
		CreditValue:        roundMoney(value),
	}
}

var creditNext = map[CreditStatus]CreditStatus{
	CreditStatusPending:  CreditStatusVerified,
	CreditStatusVerified: CreditStatusIssued,
	CreditStatusIssued:   CreditStatusRedeemed,
}

// Advance moves the credit exactly one step along pending, verified, issued, redeemed.
func (c *CarbonCredit) Advance(to CreditStatus, at time.Time) error {
	if creditNext[c.VerificationStatus] != to {
		return errs.Newf(errs.KindInvalidTransition, "carbon_credit.advance", "cannot move credit %s from %s to %s", c.ID, c.VerificationStatus, to)
	}
	c.VerificationStatus = to
	switch to {
	case CreditStatusIssued:
		c.IssuedAt = &at
	case CreditStatusRedeemed:
		c.RedeemedAt = &at
	}
	return nil
}

// IssuanceRecord is the content anchored as the credit certificate.
func (c *CarbonCredit) IssuanceRecord(ecoScore int) map[string]any {
	record := map[string]any{
		"credit_id":      c.ID.String(),
		"farmer_id":      c.FarmerID.String(),
		"produce_id":     c.ProduceID.String(),
		"credits_earned": c.CreditsEarned.String(),
		"credit_type":    string(c.CreditType),
		"credit_value":   c.CreditValue.StringFixed(2),
		"eco_score":      ecoScore,
	}
	if c.TransactionID != nil {
		record["transaction_id"] = c.TransactionID.String()
	}
	return record
}

// internal/models/verification.go
package models

import (
	"github.com/google/uuid"
)

// VerificationRecord is an append-only audit entry of a consumer check.
type VerificationRecord struct {
	BaseModel
	ProduceID           uuid.UUID          `json:"produce_id" gorm:"type:uuid;not null;index"`
	Method              VerificationMethod `json:"verification_method" gorm:"type:varchar(20);not null"`
	Status              VerificationStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	CustodyOK           bool               `json:"custody_ok"`
	IntegrityOK         bool               `json:"integrity_ok"`
	ConsumerContact     string             `json:"consumer_contact,omitempty" gorm:"size:15"`
	Location            string             `json:"location,omitempty" gorm:"size:200"`
	GPSCoordinates      string             `json:"gps_coordinates,omitempty" gorm:"size:50"`
	QualityRating       *int               `json:"quality_rating,omitempty"`
	Feedback            string             `json:"feedback,omitempty" gorm:"type:text"`
	ProofHash           string             `json:"proof_hash" gorm:"size:64"`
	ProofLocation       string             `json:"proof_location,omitempty" gorm:"size:500"`
	LedgerTransactionID string             `json:"ledger_transaction_id,omitempty" gorm:"size:100"`
}

// NewVerificationRecord assigns the id up front so the proof can reference it.
func NewVerificationRecord(produceID uuid.UUID, method VerificationMethod) *VerificationRecord {
	return &VerificationRecord{
		BaseModel: newBase(),
		ProduceID: produceID,
		Method:    method,
	}
}

func (v *VerificationRecord) Authentic() bool {
	return v.Status == VerificationAuthentic
}

// VerdictFor maps the two checks to a status. Integrity failures outrank
// custody gaps.
func VerdictFor(custodyOK, integrityOK bool) VerificationStatus {
	switch {
	case !integrityOK:
		return VerificationCounterfeit
	case !custodyOK:
		return VerificationSuspicious
	}
	return VerificationAuthentic
}

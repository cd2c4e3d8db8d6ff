// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Base model with common fields. IDs are assigned by the constructors so that
// ledger records can reference an entity before it is persisted.
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func newBase() BaseModel {
	return BaseModel{ID: uuid.New()}
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Money is rounded to cents everywhere it is stored.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Enums
type CertificationStatus string

const (
	CertificationPending          CertificationStatus = "pending"
	CertificationVerified         CertificationStatus = "verified"
	CertificationCertifiedOrganic CertificationStatus = "certified_organic"
	CertificationEcoFriendly      CertificationStatus = "eco_friendly"
)

func (s CertificationStatus) Valid() bool {
	switch s {
	case CertificationPending, CertificationVerified, CertificationCertifiedOrganic, CertificationEcoFriendly:
		return true
	}
	return false
}

type ProduceStatus string

const (
	ProduceStatusRegistered ProduceStatus = "registered"
	ProduceStatusInTransit  ProduceStatus = "in_transit"
	ProduceStatusAtMarket   ProduceStatus = "at_market"
	ProduceStatusSold       ProduceStatus = "sold"
	ProduceStatusExpired    ProduceStatus = "expired"
)

type QualityGrade string

const (
	QualityGradeA QualityGrade = "A"
	QualityGradeB QualityGrade = "B"
	QualityGradeC QualityGrade = "C"
)

type LocationType string

const (
	LocationFarm             LocationType = "farm"
	LocationCollectionCenter LocationType = "collection_center"
	LocationWarehouse        LocationType = "warehouse"
	LocationTransport        LocationType = "transport"
	LocationMarket           LocationType = "market"
	LocationRetailer         LocationType = "retailer"
	LocationConsumer         LocationType = "consumer"
)

func (l LocationType) Valid() bool {
	switch l {
	case LocationFarm, LocationCollectionCenter, LocationWarehouse, LocationTransport,
		LocationMarket, LocationRetailer, LocationConsumer:
		return true
	}
	return false
}

type BuyerType string

const (
	BuyerConsumer   BuyerType = "consumer"
	BuyerRetailer   BuyerType = "retailer"
	BuyerWholesaler BuyerType = "wholesaler"
	BuyerProcessor  BuyerType = "processor"
)

type PaymentMethod string

const (
	PaymentMethodMPesa PaymentMethod = "mpesa"
	PaymentMethodBank  PaymentMethod = "bank"
	PaymentMethodCash  PaymentMethod = "cash"
	PaymentMethodCard  PaymentMethod = "card"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
)

type CollectionStatus string

const (
	CollectionStatusNone      CollectionStatus = "none"
	CollectionStatusPending   CollectionStatus = "pending"
	CollectionStatusCompleted CollectionStatus = "completed"
	CollectionStatusFailed    CollectionStatus = "failed"
)

type CreditType string

const (
	CreditTypeOrganicFarming    CreditType = "organic_farming"
	CreditTypeWaterConservation CreditType = "water_conservation"
	CreditTypeRenewableEnergy   CreditType = "renewable_energy"
	CreditTypeSoilManagement    CreditType = "soil_management"
)

type CreditStatus string

const (
	CreditStatusPending  CreditStatus = "pending"
	CreditStatusVerified CreditStatus = "verified"
	CreditStatusIssued   CreditStatus = "issued"
	CreditStatusRedeemed CreditStatus = "redeemed"
)

type VerificationMethod string

const (
	VerificationMethodCodeScan   VerificationMethod = "code_scan"
	VerificationMethodManualCode VerificationMethod = "manual_code"
	VerificationMethodTag        VerificationMethod = "tag"
	VerificationMethodLedger     VerificationMethod = "ledger"
)

type VerificationStatus string

const (
	VerificationAuthentic   VerificationStatus = "authentic"
	VerificationSuspicious  VerificationStatus = "suspicious"
	VerificationCounterfeit VerificationStatus = "counterfeit"
)

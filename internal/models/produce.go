// internal/models/produce.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

const ecoPointsPerPractice = 25

type Produce struct {
	BaseModel
	FarmerID         uuid.UUID       `json:"farmer_id" gorm:"type:uuid;not null;index"`
	Name             string          `json:"name" gorm:"size:100;not null"`
	Category         string          `json:"category" gorm:"size:20;not null;index"`
	Quantity         decimal.Decimal `json:"quantity" gorm:"type:decimal(10,2);not null"`
	Unit             string          `json:"unit" gorm:"size:10;not null"`
	UnitPrice        decimal.Decimal `json:"unit_price" gorm:"type:decimal(10,2);not null"`
	TotalValue       decimal.Decimal `json:"total_value" gorm:"type:decimal(12,2);not null"`
	QualityGrade     QualityGrade    `json:"quality_grade" gorm:"type:varchar(1);not null"`
	HarvestDate      time.Time       `json:"harvest_date" gorm:"not null"`
	ExpiryDate       *time.Time      `json:"expiry_date,omitempty" gorm:"index"`
	OrganicCertified bool            `json:"organic_certified" gorm:"default:false"`
	PesticideFree    bool            `json:"pesticide_free" gorm:"default:false"`
	WaterEfficient   bool            `json:"water_efficient" gorm:"default:false"`
	CarbonNeutral    bool            `json:"carbon_neutral" gorm:"default:false"`
	EcoScore         int             `json:"eco_score" gorm:"not null;default:0"`
	Status           ProduceStatus   `json:"status" gorm:"type:varchar(20);default:'registered';index"`
	LedgerHash       string          `json:"ledger_hash,omitempty" gorm:"size:64"`
	ContractID       string          `json:"contract_id,omitempty" gorm:"size:100"`
	VerificationCode string          `json:"verification_code" gorm:"size:32;uniqueIndex"`
}

// EcoPractices are the four independent sustainability flags of a batch.
type EcoPractices struct {
	OrganicCertified bool `json:"organic_certified"`
	PesticideFree    bool `json:"pesticide_free"`
	WaterEfficient   bool `json:"water_efficient"`
	CarbonNeutral    bool `json:"carbon_neutral"`
}

// Score is 25 points per practice, 0 to 100.
func (e EcoPractices) Score() int {
	score := 0
	for _, on := range []bool{e.OrganicCertified, e.PesticideFree, e.WaterEfficient, e.CarbonNeutral} {
		if on {
			score += ecoPointsPerPractice
		}
	}
	return score
}

type ProduceParams struct {
	FarmerID     uuid.UUID
	Name         string
	Category     string
	Quantity     decimal.Decimal
	Unit         string
	UnitPrice    decimal.Decimal
	QualityGrade QualityGrade
	HarvestDate  time.Time
	ExpiryDate   *time.Time
	Practices    EcoPractices
}

func NewProduce(p ProduceParams) (*Produce, error) {
	if !p.Quantity.IsPositive() {
		return nil, errs.New(errs.KindValidation, "produce.new", "quantity must be positive")
	}
	if !p.UnitPrice.IsPositive() {
		return nil, errs.New(errs.KindValidation, "produce.new", "unit price must be positive")
	}
	if p.ExpiryDate != nil && !p.ExpiryDate.After(p.HarvestDate) {
		return nil, errs.New(errs.KindValidation, "produce.new", "expiry date must be after harvest date")
	}

	produce := &Produce{
		BaseModel:    newBase(),
		FarmerID:     p.FarmerID,
		Name:         p.Name,
		Category:     p.Category,
		Quantity:     p.Quantity,
		Unit:         p.Unit,
		UnitPrice:    roundMoney(p.UnitPrice),
		QualityGrade: p.QualityGrade,
		HarvestDate:  p.HarvestDate,
		ExpiryDate:   p.ExpiryDate,
		Status:       ProduceStatusRegistered,
	}
	produce.applyPractices(p.Practices)
	produce.recompute()
	return produce, nil
}

func (p *Produce) Practices() EcoPractices {
	return EcoPractices{
		OrganicCertified: p.OrganicCertified,
		PesticideFree:    p.PesticideFree,
		WaterEfficient:   p.WaterEfficient,
		CarbonNeutral:    p.CarbonNeutral,
	}
}

func (p *Produce) SetEcoPractices(e EcoPractices) error {
	if p.IsTerminal() {
		return p.terminalError("produce.eco_practices")
	}
	p.applyPractices(e)
	p.recompute()
	return nil
}

func (p *Produce) UpdateQuantity(q decimal.Decimal) error {
	if p.IsTerminal() {
		return p.terminalError("produce.quantity")
	}
	if !q.IsPositive() {
		return errs.New(errs.KindValidation, "produce.quantity", "quantity must be positive")
	}
	p.Quantity = q
	p.recompute()
	return nil
}

func (p *Produce) UpdateUnitPrice(price decimal.Decimal) error {
	if p.IsTerminal() {
		return p.terminalError("produce.unit_price")
	}
	if !price.IsPositive() {
		return errs.New(errs.KindValidation, "produce.unit_price", "unit price must be positive")
	}
	p.UnitPrice = roundMoney(price)
	p.recompute()
	return nil
}

func (p *Produce) applyPractices(e EcoPractices) {
	p.OrganicCertified = e.OrganicCertified
	p.PesticideFree = e.PesticideFree
	p.WaterEfficient = e.WaterEfficient
	p.CarbonNeutral = e.CarbonNeutral
}

func (p *Produce) recompute() {
	p.EcoScore = p.Practices().Score()
	p.TotalValue = roundMoney(p.Quantity.Mul(p.UnitPrice))
}

func (p *Produce) IsTerminal() bool {
	return p.Status == ProduceStatusSold || p.Status == ProduceStatusExpired
}

// IsDue reports whether the batch has crossed its expiry date and can still expire.
func (p *Produce) IsDue(now time.Time) bool {
	return p.ExpiryDate != nil && !now.Before(*p.ExpiryDate) && !p.IsTerminal()
}

var produceStatusRank = map[ProduceStatus]int{
	ProduceStatusRegistered: 0,
	ProduceStatusInTransit:  1,
	ProduceStatusAtMarket:   2,
	ProduceStatusSold:       3,
}

// TransitionTo moves the batch forward. Re-entering the current status is a
// no-op; expired is reachable from every non-terminal status.
func (p *Produce) TransitionTo(target ProduceStatus) error {
	targetRank, known := produceStatusRank[target]
	if !known && target != ProduceStatusExpired {
		return errs.Newf(errs.KindValidation, "produce.transition", "unknown status %q", target)
	}
	if target == p.Status {
		return nil
	}
	if p.IsTerminal() {
		return p.terminalError("produce.transition")
	}
	if target != ProduceStatusExpired && targetRank < produceStatusRank[p.Status] {
		return errs.Newf(errs.KindInvalidTransition, "produce.transition", "cannot move produce %s from %s back to %s", p.ID, p.Status, target)
	}
	p.Status = target
	return nil
}

func (p *Produce) terminalError(op string) error {
	return errs.Newf(errs.KindInvalidTransition, op, "produce %s is %s", p.ID, p.Status)
}

// StatusForLocation returns the status a custody event at the given location
// type forces, if any.
func StatusForLocation(l LocationType) (ProduceStatus, bool) {
	switch l {
	case LocationTransport:
		return ProduceStatusInTransit, true
	case LocationMarket:
		return ProduceStatusAtMarket, true
	}
	return "", false
}

// RegistrationRecord is the content anchored when the batch is registered.
func (p *Produce) RegistrationRecord() map[string]any {
	record := map[string]any{
		"produce_id":        p.ID.String(),
		"farmer_id":         p.FarmerID.String(),
		"name":              p.Name,
		"category":          p.Category,
		"quantity":          p.Quantity.String(),
		"unit":              p.Unit,
		"unit_price":        p.UnitPrice.StringFixed(2),
		"quality_grade":     string(p.QualityGrade),
		"harvest_date":      p.HarvestDate.UTC().Format(time.RFC3339),
		"organic_certified": p.OrganicCertified,
		"pesticide_free":    p.PesticideFree,
		"water_efficient":   p.WaterEfficient,
		"carbon_neutral":    p.CarbonNeutral,
		"eco_score":         p.EcoScore,
	}
	if p.ExpiryDate != nil {
		record["expiry_date"] = p.ExpiryDate.UTC().Format(time.RFC3339)
	}
	return record
}

// internal/models/farmer.go
package models

import (
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

type Farmer struct {
	BaseModel
	FullName            string              `json:"full_name" gorm:"size:150;not null"`
	FarmName            string              `json:"farm_name" gorm:"size:200;not null"`
	Location            string              `json:"location" gorm:"size:200;not null"`
	GPSCoordinates      string              `json:"gps_coordinates,omitempty" gorm:"size:50"`
	FarmSizeAcres       decimal.Decimal     `json:"farm_size_acres" gorm:"type:decimal(8,2);default:0"`
	MPesaNumber         string              `json:"mpesa_number" gorm:"size:15;not null;index"`
	CertificationStatus CertificationStatus `json:"certification_status" gorm:"type:varchar(20);default:'pending';index"`
	CarbonCreditsEarned decimal.Decimal     `json:"carbon_credits_earned" gorm:"type:decimal(12,4);default:0"`
	EcoPractices        pq.StringArray      `json:"eco_practices" gorm:"type:text[]"`
	LedgerAccountID     *string             `json:"ledger_account_id" gorm:"size:50"`
}

type FarmerParams struct {
	FullName       string
	FarmName       string
	Location       string
	GPSCoordinates string
	FarmSizeAcres  decimal.Decimal
	MPesaNumber    string
	EcoPractices   []string
}

// NewFarmer expects an already normalized mobile-money number.
func NewFarmer(p FarmerParams) *Farmer {
	return &Farmer{
		BaseModel:           newBase(),
		FullName:            p.FullName,
		FarmName:            p.FarmName,
		Location:            p.Location,
		GPSCoordinates:      p.GPSCoordinates,
		FarmSizeAcres:       p.FarmSizeAcres,
		MPesaNumber:         p.MPesaNumber,
		CertificationStatus: CertificationPending,
		CarbonCreditsEarned: decimal.Zero,
		EcoPractices:        pq.StringArray(p.EcoPractices),
	}
}

// QualifiesForFairTrade reports whether sales earn the fair-trade premium.
func (f *Farmer) QualifiesForFairTrade() bool {
	switch f.CertificationStatus {
	case CertificationVerified, CertificationCertifiedOrganic, CertificationEcoFriendly:
		return true
	}
	return false
}

func (f *Farmer) SetCertification(status CertificationStatus) error {
	if !status.Valid() {
		return errs.Newf(errs.KindValidation, "farmer.certification", "unknown certification status %q", status)
	}
	f.CertificationStatus = status
	return nil
}

// AssignLedgerAccount sets the ledger account once.
func (f *Farmer) AssignLedgerAccount(accountID string) error {
	if accountID == "" {
		return errs.New(errs.KindValidation, "farmer.ledger_account", "account id is empty")
	}
	if f.LedgerAccountID != nil {
		if *f.LedgerAccountID == accountID {
			return nil
		}
		return errs.Newf(errs.KindInvalidTransition, "farmer.ledger_account", "farmer %s already has ledger account %s", f.ID, *f.LedgerAccountID)
	}
	f.LedgerAccountID = &accountID
	return nil
}

func (f *Farmer) HasLedgerAccount() bool {
	return f.LedgerAccountID != nil && *f.LedgerAccountID != ""
}

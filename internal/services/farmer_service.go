// internal/services/farmer_service.go
package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/models"
	"github.com/javajoker/farmtrace-backend/internal/payment"
	"github.com/javajoker/farmtrace-backend/internal/repository"
)

type FarmerService struct {
	repo     repository.Repository
	anchorer *Anchorer
	contact  payment.ContactFormat
}

type RegisterFarmerRequest struct {
	FullName       string          `json:"full_name" validate:"required,min=2,max=150"`
	FarmName       string          `json:"farm_name" validate:"required,max=200"`
	Location       string          `json:"location" validate:"required,max=200"`
	GPSCoordinates string          `json:"gps_coordinates,omitempty" validate:"omitempty,gps"`
	FarmSizeAcres  decimal.Decimal `json:"farm_size_acres" validate:"gte=0"`
	MPesaNumber    string          `json:"mpesa_number" validate:"required"`
	EcoPractices   []string        `json:"eco_practices,omitempty" validate:"omitempty,dive,max=50"`
}

type UpdateCertificationRequest struct {
	Status models.CertificationStatus `json:"certification_status" validate:"required,oneof=pending verified certified_organic eco_friendly"`
}

// CarbonBalance is a farmer's credit ledger.
type CarbonBalance struct {
	FarmerID      uuid.UUID             `json:"farmer_id"`
	CreditsEarned decimal.Decimal       `json:"credits_earned"`
	Credits       []models.CarbonCredit `json:"credits"`
}

func NewFarmerService(repo repository.Repository, anchorer *Anchorer, contact payment.ContactFormat) *FarmerService {
	return &FarmerService{repo: repo, anchorer: anchorer, contact: contact}
}

func (s *FarmerService) Register(ctx context.Context, req *RegisterFarmerRequest) (*models.Farmer, error) {
	const op = "farmer.register"
	if err := validateRequest(op, req); err != nil {
		return nil, err
	}

	phone, err := s.contact.Normalize(req.MPesaNumber)
	if err != nil {
		return nil, errs.Newf(errs.KindValidation, op, "mpesa number: %s", errs.Detail(err))
	}

	farmer := models.NewFarmer(models.FarmerParams{
		FullName:       req.FullName,
		FarmName:       req.FarmName,
		Location:       req.Location,
		GPSCoordinates: req.GPSCoordinates,
		FarmSizeAcres:  req.FarmSizeAcres,
		MPesaNumber:    phone,
		EcoPractices:   req.EcoPractices,
	})
	if err := s.repo.CreateFarmer(ctx, farmer); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"farmer_id": farmer.ID,
		"farm_name": farmer.FarmName,
	}).Info("Farmer registered")

	return farmer, nil
}

func (s *FarmerService) Get(ctx context.Context, id uuid.UUID) (*models.Farmer, error) {
	return s.repo.GetFarmer(ctx, id)
}

// UpdateCertification records the verdict of the external certifier. It
// affects the premium of transactions settled afterwards.
func (s *FarmerService) UpdateCertification(ctx context.Context, id uuid.UUID, req *UpdateCertificationRequest) (*models.Farmer, error) {
	const op = "farmer.certification"
	if err := validateRequest(op, req); err != nil {
		return nil, err
	}

	farmer, err := s.repo.GetFarmer(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := farmer.CertificationStatus
	if err := farmer.SetCertification(req.Status); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateFarmer(ctx, farmer); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"farmer_id": farmer.ID,
		"from":      previous,
		"to":        farmer.CertificationStatus,
	}).Info("Farmer certification updated")

	return farmer, nil
}

// EnsureLedgerAccount opens the farmer's ledger account on first use.
func (s *FarmerService) EnsureLedgerAccount(ctx context.Context, farmer *models.Farmer) (string, error) {
	if farmer.HasLedgerAccount() {
		return *farmer.LedgerAccountID, nil
	}

	accountID, err := s.anchorer.OpenAccount(ctx, farmer.ID.String())
	if err != nil {
		return "", err
	}
	if err := farmer.AssignLedgerAccount(accountID); err != nil {
		return "", err
	}
	if err := s.repo.UpdateFarmer(context.WithoutCancel(ctx), farmer); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"farmer_id":  farmer.ID,
		"account_id": accountID,
	}).Info("Farmer ledger account opened")

	return accountID, nil
}

func (s *FarmerService) CarbonCredits(ctx context.Context, id uuid.UUID) (*CarbonBalance, error) {
	farmer, err := s.repo.GetFarmer(ctx, id)
	if err != nil {
		return nil, err
	}
	credits, err := s.repo.ListCarbonCreditsByFarmer(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CarbonBalance{
		FarmerID:      farmer.ID,
		CreditsEarned: farmer.CarbonCreditsEarned,
		Credits:       credits,
	}, nil
}

// internal/services/carbon_service.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/farmtrace-backend/internal/config"
	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/ledger"
	"github.com/javajoker/farmtrace-backend/internal/models"
	"github.com/javajoker/farmtrace-backend/internal/repository"
)

var hundred = decimal.NewFromInt(100)

// CarbonService mints sustainability credits. Issue is not idempotent;
// callers gate it.
type CarbonService struct {
	repo      repository.Repository
	anchorer  *Anchorer
	baseRate  decimal.Decimal
	unitPrice decimal.Decimal
	now       func() time.Time
}

func NewCarbonService(repo repository.Repository, anchorer *Anchorer, cfg config.CarbonConfig) *CarbonService {
	return &CarbonService{
		repo:      repo,
		anchorer:  anchorer,
		baseRate:  decimal.NewFromFloat(cfg.BaseRate),
		unitPrice: decimal.NewFromFloat(cfg.UnitPrice),
		now:       time.Now,
	}
}

// CreditsFor is base rate times eco score over 100, to four places.
func (s *CarbonService) CreditsFor(ecoScore int) decimal.Decimal {
	return s.baseRate.Mul(decimal.NewFromInt(int64(ecoScore))).Div(hundred).Round(4)
}

// Issue creates a verified credit for the batch and finalizes it.
func (s *CarbonService) Issue(ctx context.Context, farmer *models.Farmer, produce *models.Produce, transactionID *uuid.UUID) (*models.CarbonCredit, error) {
	const op = "carbon.issue"

	credits := s.CreditsFor(produce.EcoScore)
	if !credits.IsPositive() {
		return nil, errs.Newf(errs.KindValidation, op, "produce %s has eco score %d and earns no credits", produce.ID, produce.EcoScore)
	}

	credit := models.NewCarbonCredit(farmer.ID, produce.ID, transactionID, credits, credits.Mul(s.unitPrice), models.CreditTypeFor(produce.Practices()))
	if err := credit.Advance(models.CreditStatusVerified, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.CreateCarbonCredit(ctx, credit); err != nil {
		return nil, err
	}

	return s.Finalize(ctx, credit, produce)
}

// Finalize anchors a verified credit, marks it issued and adds it to the
// farmer's balance. A credit left verified by a failed anchor is resumed here.
func (s *CarbonService) Finalize(ctx context.Context, credit *models.CarbonCredit, produce *models.Produce) (*models.CarbonCredit, error) {
	const op = "carbon.finalize"
	if credit.VerificationStatus != models.CreditStatusVerified {
		return nil, errs.Newf(errs.KindInvalidTransition, op, "credit %s is %s", credit.ID, credit.VerificationStatus)
	}

	event, err := s.anchorer.Anchor(ctx, ledger.TypeCarbonCreditIssued, credit.ProduceID.String(), credit.FarmerID.String(),
		credit.IssuanceRecord(produce.EcoScore), map[string]any{
			"credits_earned": credit.CreditsEarned.String(),
			"credit_type":    string(credit.CreditType),
			"credit_value":   credit.CreditValue.StringFixed(2),
		})
	if err != nil {
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	issued := *credit
	err = s.repo.WithinTransaction(bg, func(tx repository.Repository) error {
		if err := issued.Advance(models.CreditStatusIssued, s.now()); err != nil {
			return err
		}
		issued.CertificateHash = event.Message.DataHash
		issued.LedgerTransactionID = event.Receipt.TransactionID
		// the balance moves only for the caller whose swap lands
		swapped, err := tx.AdvanceCarbonCredit(bg, &issued, models.CreditStatusVerified)
		if err != nil {
			return err
		}
		if !swapped {
			return errs.Newf(errs.KindInvalidTransition, op, "credit %s was issued concurrently", credit.ID)
		}
		_, err = tx.AddFarmerCredits(bg, credit.FarmerID, credit.CreditsEarned)
		return err
	})
	if err != nil {
		return nil, err
	}
	credit = &issued

	logrus.WithFields(logrus.Fields{
		"credit_id":      credit.ID,
		"farmer_id":      credit.FarmerID,
		"credits_earned": credit.CreditsEarned.String(),
		"credit_type":    credit.CreditType,
	}).Info("Carbon credit issued")

	return credit, nil
}

// Redeem retires an issued credit and takes it off the farmer's balance.
func (s *CarbonService) Redeem(ctx context.Context, id uuid.UUID) (*models.CarbonCredit, error) {
	var redeemed *models.CarbonCredit
	err := s.repo.WithinTransaction(ctx, func(tx repository.Repository) error {
		credit, err := tx.GetCarbonCredit(ctx, id)
		if err != nil {
			return err
		}
		if err := credit.Advance(models.CreditStatusRedeemed, s.now()); err != nil {
			return err
		}
		swapped, err := tx.AdvanceCarbonCredit(ctx, credit, models.CreditStatusIssued)
		if err != nil {
			return err
		}
		if !swapped {
			return errs.Newf(errs.KindInvalidTransition, "carbon.redeem", "credit %s was redeemed concurrently", credit.ID)
		}
		if _, err := tx.AddFarmerCredits(ctx, credit.FarmerID, credit.CreditsEarned.Neg()); err != nil {
			return err
		}
		redeemed = credit
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"credit_id": redeemed.ID,
		"farmer_id": redeemed.FarmerID,
	}).Info("Carbon credit redeemed")

	return redeemed, nil
}

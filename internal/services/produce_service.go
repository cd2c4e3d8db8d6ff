// internal/services/produce_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/ledger"
	"github.com/javajoker/farmtrace-backend/internal/models"
	"github.com/javajoker/farmtrace-backend/internal/payment"
	"github.com/javajoker/farmtrace-backend/internal/repository"
	"github.com/javajoker/farmtrace-backend/internal/utils"
)

const expirySweepBatch = 200

type ProduceService struct {
	repo     repository.Repository
	farmers  *FarmerService
	anchorer *Anchorer
	contact  payment.ContactFormat
	now      func() time.Time
	newCode  func() (string, error)
}

type RegisterProduceRequest struct {
	FarmerID     uuid.UUID           `json:"farmer_id" validate:"required"`
	Name         string              `json:"name" validate:"required,max=100"`
	Category     string              `json:"category" validate:"required,max=20"`
	Quantity     decimal.Decimal     `json:"quantity" validate:"gt=0"`
	Unit         string              `json:"unit" validate:"omitempty,max=10"`
	UnitPrice    decimal.Decimal     `json:"unit_price" validate:"gt=0"`
	QualityGrade string              `json:"quality_grade" validate:"required,quality_grade"`
	HarvestDate  time.Time           `json:"harvest_date" validate:"required"`
	ExpiryDate   *time.Time          `json:"expiry_date,omitempty"`
	EcoPractices models.EcoPractices `json:"eco_practices"`
}

// UpdateProduceRequest carries the editable inputs of the derived fields.
// Nil fields are left unchanged.
type UpdateProduceRequest struct {
	Quantity     *decimal.Decimal     `json:"quantity,omitempty"`
	UnitPrice    *decimal.Decimal     `json:"unit_price,omitempty"`
	EcoPractices *models.EcoPractices `json:"eco_practices,omitempty"`
}

type AddTrackingRequest struct {
	LocationName   string           `json:"location_name" validate:"required,max=200"`
	LocationType   string           `json:"location_type" validate:"required,location_type"`
	GPSCoordinates string           `json:"gps_coordinates,omitempty" validate:"omitempty,gps"`
	HandlerName    string           `json:"handler_name" validate:"required,max=100"`
	HandlerContact string           `json:"handler_contact,omitempty" validate:"omitempty,max=15"`
	Temperature    *decimal.Decimal `json:"temperature,omitempty"`
	Humidity       *decimal.Decimal `json:"humidity,omitempty"`
	ConditionNotes string           `json:"condition_notes,omitempty" validate:"omitempty,max=2000"`
	Verified       bool             `json:"verified"`
}

type RecordSaleRequest struct {
	BuyerName     string          `json:"buyer_name" validate:"required,max=100"`
	BuyerContact  string          `json:"buyer_contact,omitempty"`
	BuyerType     string          `json:"buyer_type" validate:"required,oneof=consumer retailer wholesaler processor"`
	QuantitySold  decimal.Decimal `json:"quantity_sold" validate:"gt=0"`
	UnitPrice     decimal.Decimal `json:"unit_price,omitempty"`
	PaymentMethod string          `json:"payment_method" validate:"required,oneof=mpesa bank cash card"`
}

// ProduceHistory is the full provenance view of one batch.
type ProduceHistory struct {
	Produce        *models.Produce             `json:"produce"`
	Farmer         *models.Farmer              `json:"farmer"`
	TrackingPoints []models.TrackingPoint      `json:"tracking_points"`
	Transactions   []models.Transaction        `json:"transactions"`
	Verifications  []models.VerificationRecord `json:"verifications"`
	Anchors        []models.LedgerAnchor       `json:"anchors"`
}

// ReanchorResult counts the records submitted by Reanchor.
type ReanchorResult struct {
	Registration   bool `json:"registration"`
	TrackingPoints int  `json:"tracking_points"`
}

func NewProduceService(repo repository.Repository, farmers *FarmerService, anchorer *Anchorer, contact payment.ContactFormat) *ProduceService {
	return &ProduceService{
		repo:     repo,
		farmers:  farmers,
		anchorer: anchorer,
		contact:  contact,
		now:      time.Now,
		newCode:  utils.GenerateVerificationCode,
	}
}

// Register persists a new batch and anchors its registration. If the ledger
// cannot be reached the batch stays registered without a ledger hash and is
// returned together with the error; Reanchor finishes it later.
func (s *ProduceService) Register(ctx context.Context, req *RegisterProduceRequest) (*models.Produce, error) {
	const op = "produce.register"
	if err := validateRequest(op, req); err != nil {
		return nil, err
	}

	farmer, err := s.repo.GetFarmer(ctx, req.FarmerID)
	if err != nil {
		return nil, err
	}

	unit := req.Unit
	if unit == "" {
		unit = "kg"
	}
	produce, err := models.NewProduce(models.ProduceParams{
		FarmerID:     farmer.ID,
		Name:         req.Name,
		Category:     req.Category,
		Quantity:     req.Quantity,
		Unit:         unit,
		UnitPrice:    req.UnitPrice,
		QualityGrade: models.QualityGrade(req.QualityGrade),
		HarvestDate:  req.HarvestDate.UTC(),
		ExpiryDate:   utcPtr(req.ExpiryDate),
		Practices:    req.EcoPractices,
	})
	if err != nil {
		return nil, err
	}

	code, err := s.newCode()
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, op, fmt.Errorf("failed to generate verification code: %w", err))
	}
	produce.VerificationCode = code

	if err := s.repo.CreateProduce(ctx, produce); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"produce_id": produce.ID,
		"farmer_id":  farmer.ID,
		"eco_score":  produce.EcoScore,
	}).Info("Produce registered")

	if err := s.anchorRegistration(ctx, farmer, produce); err != nil {
		return produce, err
	}
	return produce, nil
}

func (s *ProduceService) anchorRegistration(ctx context.Context, farmer *models.Farmer, produce *models.Produce) error {
	account, err := s.farmers.EnsureLedgerAccount(ctx, farmer)
	if err != nil {
		return err
	}

	event, err := s.anchorer.Anchor(ctx, ledger.TypeProduceRegistration, produce.ID.String(), farmer.ID.String(),
		produce.RegistrationRecord(), map[string]any{
			"name":           produce.Name,
			"category":       produce.Category,
			"quantity":       produce.Quantity.String(),
			"unit":           produce.Unit,
			"eco_score":      produce.EcoScore,
			"farmer_account": account,
		})
	if err != nil {
		return err
	}

	produce.LedgerHash = event.Message.DataHash
	produce.ContractID = event.Receipt.ContractID()
	return s.repo.UpdateProduce(context.WithoutCancel(ctx), produce)
}

func (s *ProduceService) Get(ctx context.Context, id uuid.UUID) (*models.Produce, error) {
	return s.repo.GetProduce(ctx, id)
}

func (s *ProduceService) List(ctx context.Context, filter repository.ProduceFilter) ([]models.Produce, int64, error) {
	return s.repo.ListProduce(ctx, filter)
}

// Update edits quantity, price or eco practices. The derived fields are
// recomputed by the same call.
func (s *ProduceService) Update(ctx context.Context, id uuid.UUID, req *UpdateProduceRequest) (*models.Produce, error) {
	const op = "produce.update"

	var updated *models.Produce
	err := s.repo.WithinTransaction(ctx, func(tx repository.Repository) error {
		produce, err := tx.GetProduce(ctx, id)
		if err != nil {
			return err
		}

		if req.Quantity != nil {
			sold, err := tx.SumQuantitySold(ctx, id)
			if err != nil {
				return err
			}
			if req.Quantity.LessThan(sold) {
				return errs.Newf(errs.KindValidation, op, "quantity %s is below the %s already sold", req.Quantity, sold)
			}
			if err := produce.UpdateQuantity(*req.Quantity); err != nil {
				return err
			}
			if sold.IsPositive() && sold.Equal(produce.Quantity) {
				if err := produce.TransitionTo(models.ProduceStatusSold); err != nil {
					return err
				}
			}
		}
		if req.UnitPrice != nil {
			if err := produce.UpdateUnitPrice(*req.UnitPrice); err != nil {
				return err
			}
		}
		if req.EcoPractices != nil {
			if err := produce.SetEcoPractices(*req.EcoPractices); err != nil {
				return err
			}
		}

		if err := tx.UpdateProduce(ctx, produce); err != nil {
			return err
		}
		updated = produce
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AddTrackingPoint appends a custody event and anchors it. The status change
// the location forces is checked before anything is written.
func (s *ProduceService) AddTrackingPoint(ctx context.Context, id uuid.UUID, req *AddTrackingRequest) (*models.TrackingPoint, error) {
	const op = "produce.tracking"
	if err := validateRequest(op, req); err != nil {
		return nil, err
	}
	handlerContact, err := s.optionalContact(op, req.HandlerContact)
	if err != nil {
		return nil, err
	}

	produce, err := s.repo.GetProduce(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.expireIfDue(ctx, produce); err != nil {
		return nil, err
	}
	if produce.IsTerminal() {
		return nil, errs.Newf(errs.KindInvalidTransition, op, "produce %s is %s", produce.ID, produce.Status)
	}

	locationType := models.LocationType(req.LocationType)
	target, forces := models.StatusForLocation(locationType)
	if forces {
		candidate := *produce
		if err := candidate.TransitionTo(target); err != nil {
			return nil, err
		}
	}

	point := models.NewTrackingPoint(produce.ID, models.TrackingParams{
		LocationName:   req.LocationName,
		LocationType:   locationType,
		GPSCoordinates: req.GPSCoordinates,
		HandlerName:    req.HandlerName,
		HandlerContact: handlerContact,
		Temperature:    req.Temperature,
		Humidity:       req.Humidity,
		ConditionNotes: req.ConditionNotes,
		Verified:       req.Verified,
	}, s.now())

	err = s.repo.WithinTransaction(ctx, func(tx repository.Repository) error {
		// a sale or another stop may have moved the batch since it was read
		current, err := tx.GetProduce(ctx, id)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			return errs.Newf(errs.KindInvalidTransition, op, "produce %s is %s", current.ID, current.Status)
		}
		if err := tx.AppendTrackingPoint(ctx, point); err != nil {
			return err
		}
		produce = current
		if forces && current.Status != target {
			if err := current.TransitionTo(target); err != nil {
				return err
			}
			return tx.UpdateProduce(ctx, current)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"produce_id":    produce.ID,
		"sequence":      point.Sequence,
		"location_type": point.LocationType,
		"status":        produce.Status,
	}).Info("Tracking point recorded")

	if err := s.anchorTrackingPoint(ctx, produce, point); err != nil {
		return point, err
	}
	return point, nil
}

func (s *ProduceService) anchorTrackingPoint(ctx context.Context, produce *models.Produce, point *models.TrackingPoint) error {
	event, err := s.anchorer.Anchor(ctx, ledger.TypeTrackingUpdate, produce.ID.String(), produce.FarmerID.String(),
		point.AnchorRecord(), map[string]any{
			"sequence":      point.Sequence,
			"location_name": point.LocationName,
			"location_type": string(point.LocationType),
			"handler_name":  point.HandlerName,
			"conditions":    point.Conditions(),
			"status":        string(produce.Status),
		})
	if err != nil {
		return err
	}

	hash := event.Message.DataHash
	if err := s.repo.AttachTrackingAnchor(context.WithoutCancel(ctx), point.ID, hash, event.Receipt.TransactionID); err != nil {
		return err
	}
	point.AnchorHash = hash
	point.LedgerTransactionID = event.Receipt.TransactionID
	return nil
}

// Reanchor submits the registration and the tracking points that were
// persisted while the ledger was unreachable.
func (s *ProduceService) Reanchor(ctx context.Context, id uuid.UUID) (*ReanchorResult, error) {
	produce, err := s.repo.GetProduce(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &ReanchorResult{}
	if produce.LedgerHash == "" {
		farmer, err := s.repo.GetFarmer(ctx, produce.FarmerID)
		if err != nil {
			return nil, err
		}
		if err := s.anchorRegistration(ctx, farmer, produce); err != nil {
			return result, err
		}
		result.Registration = true
	}

	points, err := s.repo.ListTrackingPoints(ctx, id)
	if err != nil {
		return result, err
	}
	for i := range points {
		if points[i].IsAnchored() {
			continue
		}
		if err := s.anchorTrackingPoint(ctx, produce, &points[i]); err != nil {
			return result, err
		}
		result.TrackingPoints++
	}
	return result, nil
}

// RecordSale books a sale against the remaining stock. The batch becomes
// sold when the cumulative quantity reaches the registered quantity.
func (s *ProduceService) RecordSale(ctx context.Context, id uuid.UUID, req *RecordSaleRequest) (*models.Transaction, error) {
	const op = "produce.sale"
	if err := validateRequest(op, req); err != nil {
		return nil, err
	}
	if req.UnitPrice.IsNegative() {
		return nil, errs.New(errs.KindValidation, op, "unit price must not be negative")
	}
	buyerContact, err := s.optionalContact(op, req.BuyerContact)
	if err != nil {
		return nil, err
	}

	produce, err := s.repo.GetProduce(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.expireIfDue(ctx, produce); err != nil {
		return nil, err
	}

	farmer, err := s.repo.GetFarmer(ctx, produce.FarmerID)
	if err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err = s.repo.WithinTransaction(ctx, func(tx repository.Repository) error {
		current, err := tx.GetProduce(ctx, id)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			return errs.Newf(errs.KindInvalidTransition, op, "produce %s is %s", current.ID, current.Status)
		}

		sold, err := tx.SumQuantitySold(ctx, id)
		if err != nil {
			return err
		}
		remaining := current.Quantity.Sub(sold)
		if req.QuantitySold.GreaterThan(remaining) {
			return errs.Newf(errs.KindValidation, op, "only %s %s of %s remain", remaining, current.Unit, current.Name)
		}

		txn, err = models.NewTransaction(farmer, current, models.SaleParams{
			BuyerName:     req.BuyerName,
			BuyerContact:  buyerContact,
			BuyerType:     models.BuyerType(req.BuyerType),
			QuantitySold:  req.QuantitySold,
			UnitPrice:     req.UnitPrice,
			PaymentMethod: models.PaymentMethod(req.PaymentMethod),
		})
		if err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}

		if sold.Add(req.QuantitySold).Equal(current.Quantity) {
			if err := current.TransitionTo(models.ProduceStatusSold); err != nil {
				return err
			}
			if err := tx.UpdateProduce(ctx, current); err != nil {
				return err
			}
		}
		produce = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"produce_id":     produce.ID,
		"transaction_id": txn.ID,
		"final_amount":   txn.FinalAmount.StringFixed(2),
		"status":         produce.Status,
	}).Info("Sale recorded")

	return txn, nil
}

// ExpireDue moves every overdue, non-terminal batch to expired and returns
// the ids it touched.
func (s *ProduceService) ExpireDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var expired []uuid.UUID
	for {
		due, err := s.repo.ListProduceDueForExpiry(ctx, now, expirySweepBatch)
		if err != nil {
			return expired, err
		}
		for i := range due {
			if err := s.expire(ctx, &due[i]); err != nil {
				return expired, err
			}
			expired = append(expired, due[i].ID)
		}
		if len(due) < expirySweepBatch {
			return expired, nil
		}
	}
}

func (s *ProduceService) expireIfDue(ctx context.Context, produce *models.Produce) error {
	if !produce.IsDue(s.now()) {
		return nil
	}
	return s.expire(ctx, produce)
}

func (s *ProduceService) expire(ctx context.Context, produce *models.Produce) error {
	from := produce.Status
	if err := produce.TransitionTo(models.ProduceStatusExpired); err != nil {
		return err
	}
	if err := s.repo.UpdateProduce(ctx, produce); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"produce_id": produce.ID,
		"from":       from,
	}).Info("Produce expired")
	return nil
}

// History assembles the provenance view of a batch.
func (s *ProduceService) History(ctx context.Context, id uuid.UUID) (*ProduceHistory, error) {
	produce, err := s.repo.GetProduce(ctx, id)
	if err != nil {
		return nil, err
	}
	farmer, err := s.repo.GetFarmer(ctx, produce.FarmerID)
	if err != nil {
		return nil, err
	}
	points, err := s.repo.ListTrackingPoints(ctx, id)
	if err != nil {
		return nil, err
	}
	txns, err := s.repo.ListTransactionsByProduce(ctx, id)
	if err != nil {
		return nil, err
	}
	verifications, err := s.repo.ListVerificationsByProduce(ctx, id)
	if err != nil {
		return nil, err
	}
	anchors, err := s.repo.ListAnchorsByProduce(ctx, id.String())
	if err != nil {
		return nil, err
	}

	return &ProduceHistory{
		Produce:        produce,
		Farmer:         farmer,
		TrackingPoints: points,
		Transactions:   txns,
		Verifications:  verifications,
		Anchors:        anchors,
	}, nil
}

func (s *ProduceService) optionalContact(op, raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	phone, err := s.contact.Normalize(raw)
	if err != nil {
		return "", errs.Newf(errs.KindValidation, op, "contact: %s", errs.Detail(err))
	}
	return phone, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

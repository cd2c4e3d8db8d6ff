// internal/services/custody_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/farmtrace-backend/internal/canonhash"
	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/ledger"
	"github.com/javajoker/farmtrace-backend/internal/models"
	"github.com/javajoker/farmtrace-backend/internal/repository"
)

type CustodyService struct {
	repo     repository.Repository
	anchorer *Anchorer
	archive  *ProofArchive
	now      func() time.Time
}

type VerificationRequest struct {
	ProduceID        *uuid.UUID `json:"produce_id,omitempty" validate:"required_without=VerificationCode"`
	VerificationCode string     `json:"verification_code,omitempty" validate:"required_without=ProduceID,max=32"`
	Method           string     `json:"verification_method" validate:"required,oneof=code_scan manual_code tag ledger"`
	ConsumerContact  string     `json:"consumer_contact,omitempty" validate:"omitempty,max=15"`
	Location         string     `json:"location,omitempty" validate:"omitempty,max=200"`
	GPSCoordinates   string     `json:"gps,omitempty" validate:"omitempty,gps"`
	QualityRating    *int       `json:"quality_rating,omitempty" validate:"omitempty,min=1,max=5"`
	Feedback         string     `json:"feedback,omitempty" validate:"omitempty,max=2000"`
}

// VerificationProof is the document hashed and anchored for every check.
type VerificationProof struct {
	VerificationID string   `json:"verification_id"`
	ProduceID      string   `json:"produce_id"`
	Method         string   `json:"verification_method"`
	VerifiedAt     string   `json:"verified_at"`
	ChainOfCustody bool     `json:"chain_of_custody"`
	DataIntegrity  bool     `json:"data_integrity"`
	OriginVerified bool     `json:"origin_verified"`
	TrackingPoints int      `json:"tracking_points"`
	AnchoredPoints int      `json:"anchored_points"`
	Status         string   `json:"status"`
	Findings       []string `json:"findings"`
}

type VerificationOutcome struct {
	Authentic      bool                       `json:"authentic"`
	CustodyOK      bool                       `json:"custody_ok"`
	IntegrityOK    bool                       `json:"integrity_ok"`
	VerificationID uuid.UUID                  `json:"verification_id"`
	Record         *models.VerificationRecord `json:"record"`
	Proof          VerificationProof          `json:"proof"`
	Produce        *models.Produce            `json:"produce"`
	Journey        []models.TrackingPoint     `json:"journey"`
	Warnings       []string                   `json:"warnings,omitempty"`
}

func NewCustodyService(repo repository.Repository, anchorer *Anchorer, archive *ProofArchive) *CustodyService {
	return &CustodyService{repo: repo, anchorer: anchorer, archive: archive, now: time.Now}
}

// Verify checks the custody trail and the anchored hashes of a batch. Every
// call that reaches a verdict is recorded, whatever the verdict.
func (s *CustodyService) Verify(ctx context.Context, req *VerificationRequest) (*VerificationOutcome, error) {
	const op = "custody.verify"
	if err := validateRequest(op, req); err != nil {
		return nil, err
	}

	produce, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	points, err := s.repo.ListTrackingPoints(ctx, produce.ID)
	if err != nil {
		return nil, err
	}
	events, err := s.anchorer.History(ctx, produce.ID.String())
	if err != nil {
		return nil, err
	}

	var findings []string
	custodyOK, custodyFindings := checkCustody(points)
	findings = append(findings, custodyFindings...)
	integrity := checkIntegrity(produce, points, events)
	findings = append(findings, integrity.findings...)

	record := models.NewVerificationRecord(produce.ID, models.VerificationMethod(req.Method))
	record.Status = models.VerdictFor(custodyOK, integrity.ok)
	record.CustodyOK = custodyOK
	record.IntegrityOK = integrity.ok
	record.ConsumerContact = req.ConsumerContact
	record.Location = req.Location
	record.GPSCoordinates = req.GPSCoordinates
	record.QualityRating = req.QualityRating
	record.Feedback = req.Feedback

	if findings == nil {
		findings = []string{}
	}
	proof := VerificationProof{
		VerificationID: record.ID.String(),
		ProduceID:      produce.ID.String(),
		Method:         req.Method,
		VerifiedAt:     s.now().UTC().Format(time.RFC3339Nano),
		ChainOfCustody: custodyOK,
		DataIntegrity:  integrity.ok,
		OriginVerified: integrity.origin,
		TrackingPoints: len(points),
		AnchoredPoints: integrity.anchored,
		Status:         string(record.Status),
		Findings:       findings,
	}
	record.ProofHash, err = canonhash.Sum(proof)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, op, err)
	}

	outcome := &VerificationOutcome{
		Authentic:      record.Authentic(),
		CustodyOK:      custodyOK,
		IntegrityOK:    integrity.ok,
		VerificationID: record.ID,
		Record:         record,
		Proof:          proof,
		Produce:        produce,
		Journey:        points,
	}

	// A verdict is never dropped because the proof could not be anchored or
	// archived; those failures travel with the outcome.
	event, err := s.anchorer.Anchor(ctx, ledger.TypeVerificationRecorded, produce.ID.String(), produce.FarmerID.String(), proof,
		map[string]any{
			"verification_id": record.ID.String(),
			"method":          req.Method,
			"status":          string(record.Status),
		})
	if err != nil {
		outcome.Warnings = append(outcome.Warnings, "proof not anchored: "+err.Error())
	} else {
		record.LedgerTransactionID = event.Receipt.TransactionID
	}

	if s.archive != nil {
		document, err := json.Marshal(proof)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, op, err)
		}
		stored, err := s.archive.Store(ctx, produce.ID.String(), record.ID.String(), document)
		if err != nil {
			outcome.Warnings = append(outcome.Warnings, "proof not archived: "+err.Error())
		} else {
			record.ProofLocation = stored.Location
		}
	}

	if err := s.repo.CreateVerification(context.WithoutCancel(ctx), record); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"produce_id":      produce.ID,
		"verification_id": record.ID,
		"status":          record.Status,
		"findings":        len(findings),
	}).Info("Produce verified")

	return outcome, nil
}

func (s *CustodyService) resolve(ctx context.Context, req *VerificationRequest) (*models.Produce, error) {
	if req.ProduceID != nil {
		return s.repo.GetProduce(ctx, *req.ProduceID)
	}
	return s.repo.GetProduceByVerificationCode(ctx, req.VerificationCode)
}

// Proof returns the archived proof document of a verification.
func (s *CustodyService) Proof(ctx context.Context, verificationID uuid.UUID) ([]byte, string, error) {
	record, err := s.repo.GetVerification(ctx, verificationID)
	if err != nil {
		return nil, "", err
	}
	if s.archive == nil || record.ProofLocation == "" {
		return nil, "", errs.Newf(errs.KindNotFound, "custody.proof", "verification %s has no archived proof", verificationID)
	}

	document, err := s.archive.Load(ctx, record.ProduceID.String(), record.ID.String())
	if err != nil {
		return nil, "", err
	}
	url, err := s.archive.PresignedURL(record.ProduceID.String(), record.ID.String())
	if err != nil {
		logrus.WithError(err).WithField("verification_id", verificationID).Warn("Failed to presign proof URL")
	}
	return document, url, nil
}

// checkCustody requires a non-empty trail numbered 1..n whose recording
// times never go backwards.
func checkCustody(points []models.TrackingPoint) (bool, []string) {
	if len(points) == 0 {
		return false, []string{fmt.Sprintf("%s: produce has no tracking points", errs.KindNoHistory)}
	}

	var findings []string
	for i, point := range points {
		if point.Sequence != i+1 {
			findings = append(findings, fmt.Sprintf("tracking point %d found where %d was expected", point.Sequence, i+1))
		}
		if i > 0 && point.RecordedAt.Before(points[i-1].RecordedAt) {
			findings = append(findings, fmt.Sprintf("tracking point %d recorded before its predecessor", point.Sequence))
		}
	}
	return len(findings) == 0, findings
}

type integrityResult struct {
	ok       bool
	origin   bool
	anchored int
	findings []string
}

// checkIntegrity recomputes the hash of every anchored point and looks the
// stored hashes up on the ledger.
func checkIntegrity(produce *models.Produce, points []models.TrackingPoint, events []ledger.Event) integrityResult {
	onLedger := ledger.DataHashes(events)
	res := integrityResult{ok: true}

	if produce.LedgerHash != "" {
		res.origin = onLedger[ledger.TypeProduceRegistration][produce.LedgerHash]
		if !res.origin {
			res.ok = false
			res.findings = append(res.findings, "registration hash is not on the ledger")
		}
	} else {
		res.findings = append(res.findings, "registration is not anchored")
	}

	for i := range points {
		point := &points[i]
		if !point.IsAnchored() {
			res.findings = append(res.findings, fmt.Sprintf("tracking point %d is not anchored", point.Sequence))
			continue
		}
		res.anchored++

		hash, err := point.ContentHash()
		if err != nil || hash != point.AnchorHash {
			res.ok = false
			res.findings = append(res.findings, fmt.Sprintf("tracking point %d does not match its anchor hash", point.Sequence))
			continue
		}
		if !onLedger[ledger.TypeTrackingUpdate][point.AnchorHash] {
			res.ok = false
			res.findings = append(res.findings, fmt.Sprintf("tracking point %d hash is not on the ledger", point.Sequence))
		}
	}
	return res
}

// internal/services/anchor_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/ledger"
	"github.com/javajoker/farmtrace-backend/internal/models"
	"github.com/javajoker/farmtrace-backend/internal/repository"
)

// Anchorer submits records to the ledger and keeps a local copy of every
// receipt, keyed by envelope digest.
type Anchorer struct {
	ledger ledger.Client
	repo   repository.Repository
	now    func() time.Time
}

func NewAnchorer(client ledger.Client, repo repository.Repository) *Anchorer {
	return &Anchorer{ledger: client, repo: repo, now: time.Now}
}

// Anchor hashes record into an envelope of type t and submits it.
func (a *Anchorer) Anchor(ctx context.Context, t ledger.MessageType, produceID, farmerID string, record any, metadata map[string]any) (*ledger.Event, error) {
	msg, err := ledger.NewMessage(t, produceID, farmerID, a.now(), record, metadata)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "anchor.message", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	receipt, err := a.ledger.Submit(ctx, msg)
	if err != nil {
		return nil, err
	}
	event := &ledger.Event{Message: msg, Receipt: receipt}

	// The record is on the ledger now; the local copy is written even if
	// the caller has gone away.
	if err := a.record(context.WithoutCancel(ctx), event); err != nil {
		return event, err
	}

	logrus.WithFields(logrus.Fields{
		"type":       t,
		"produce_id": produceID,
		"sequence":   receipt.SequenceNumber,
		"data_hash":  msg.DataHash,
	}).Info("Ledger record anchored")

	return event, nil
}

func (a *Anchorer) record(ctx context.Context, event *ledger.Event) error {
	envelope, err := json.Marshal(event)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "anchor.record", fmt.Errorf("failed to encode envelope: %w", err))
	}

	row := models.NewLedgerAnchor()
	row.Digest = event.Receipt.Digest
	row.MessageType = string(event.Message.Type)
	row.ProduceID = event.Message.ProduceID
	row.FarmerID = event.Message.FarmerID
	row.DataHash = event.Message.DataHash
	row.SequenceNumber = event.Receipt.SequenceNumber
	row.TransactionID = event.Receipt.TransactionID
	row.ConsensusTimestamp = event.Receipt.ConsensusTimestamp
	row.Envelope = datatypes.JSON(envelope)

	if _, err := a.repo.RecordAnchor(ctx, row); err != nil {
		return err
	}
	return nil
}

// History returns the ledger's events for a produce.
func (a *Anchorer) History(ctx context.Context, produceID string) ([]ledger.Event, error) {
	return a.ledger.QueryHistory(ctx, produceID)
}

func (a *Anchorer) OpenAccount(ctx context.Context, farmerID string) (string, error) {
	return a.ledger.OpenAccount(ctx, farmerID)
}

// internal/ledger/ledger.go
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/javajoker/farmtrace-backend/internal/canonhash"
	"github.com/javajoker/farmtrace-backend/internal/errs"
)

type MessageType string

const (
	TypeProduceRegistration  MessageType = "PRODUCE_REGISTRATION"
	TypeTrackingUpdate       MessageType = "TRACKING_UPDATE"
	TypeCarbonCreditIssued   MessageType = "CARBON_CREDIT_ISSUED"
	TypePaymentSettled       MessageType = "PAYMENT_SETTLED"
	TypeVerificationRecorded MessageType = "VERIFICATION_RECORDED"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeProduceRegistration, TypeTrackingUpdate, TypeCarbonCreditIssued,
		TypePaymentSettled, TypeVerificationRecorded:
		return true
	}
	return false
}

// Message is the submission envelope.
type Message struct {
	Type      MessageType    `json:"type"`
	ProduceID string         `json:"produce_id"`
	FarmerID  string         `json:"farmer_id"`
	Timestamp string         `json:"timestamp"`
	DataHash  string         `json:"data_hash"`
	Metadata  map[string]any `json:"metadata"`
}

// NewMessage hashes record into the envelope's data_hash.
func NewMessage(t MessageType, produceID, farmerID string, at time.Time, record any, metadata map[string]any) (Message, error) {
	dataHash, err := canonhash.Sum(record)
	if err != nil {
		return Message{}, fmt.Errorf("hash %s record: %w", t, err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Message{
		Type:      t,
		ProduceID: produceID,
		FarmerID:  farmerID,
		Timestamp: at.UTC().Format(time.RFC3339),
		DataHash:  dataHash,
		Metadata:  metadata,
	}, nil
}

// Validate rejects envelopes the ledger would refuse.
func (m Message) Validate() error {
	const op = "ledger.validate"
	switch {
	case !m.Type.Valid():
		return errs.Newf(errs.KindLedgerRejected, op, "unknown message type %q", m.Type)
	case m.ProduceID == "" && m.FarmerID == "":
		return errs.New(errs.KindLedgerRejected, op, "message references neither produce nor farmer")
	case !canonhash.IsDigest(m.DataHash):
		return errs.Newf(errs.KindLedgerRejected, op, "data hash %q is not a sha-256 hex digest", m.DataHash)
	}
	if _, err := time.Parse(time.RFC3339, m.Timestamp); err != nil {
		return errs.Newf(errs.KindLedgerRejected, op, "timestamp %q is not RFC 3339", m.Timestamp)
	}
	return nil
}

// Digest is the canonical hash of the whole envelope.
func (m Message) Digest() (string, error) {
	return canonhash.Sum(m)
}

type Receipt struct {
	Digest             string    `json:"digest"`
	TopicID            string    `json:"topic_id"`
	SequenceNumber     uint64    `json:"sequence_number"`
	ConsensusTimestamp time.Time `json:"consensus_timestamp"`
	TransactionID      string    `json:"transaction_id"`
}

// ContractID is the logical id of an anchored record.
func (r Receipt) ContractID() string {
	return fmt.Sprintf("%s/%d", r.TopicID, r.SequenceNumber)
}

// Event is an anchored message with its receipt.
type Event struct {
	Message Message `json:"message"`
	Receipt Receipt `json:"receipt"`
}

// Client anchors envelopes on an append-only log. Submission is
// at-least-once: the same envelope may produce more than one receipt.
type Client interface {
	Submit(ctx context.Context, msg Message) (Receipt, error)
	// QueryHistory returns the events for a produce in sequence order.
	QueryHistory(ctx context.Context, produceID string) ([]Event, error)
	OpenAccount(ctx context.Context, farmerID string) (string, error)
}

// DataHashes indexes the data hashes of events by message type.
func DataHashes(events []Event) map[MessageType]map[string]bool {
	out := make(map[MessageType]map[string]bool)
	for _, e := range events {
		set, ok := out[e.Message.Type]
		if !ok {
			set = make(map[string]bool)
			out[e.Message.Type] = set
		}
		set[e.Message.DataHash] = true
	}
	return out
}

// internal/models/ledger_anchor.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

// LedgerAnchor is the local copy of a ledger receipt. Digest is unique so a
// duplicate receipt for the same envelope is absorbed.
type LedgerAnchor struct {
	BaseModel
	Digest             string         `json:"digest" gorm:"size:64;not null;uniqueIndex"`
	MessageType        string         `json:"message_type" gorm:"size:40;not null;index"`
	ProduceID          string         `json:"produce_id" gorm:"size:36;index"`
	FarmerID           string         `json:"farmer_id" gorm:"size:36;index"`
	DataHash           string         `json:"data_hash" gorm:"size:64;not null;index"`
	SequenceNumber     uint64         `json:"sequence_number"`
	TransactionID      string         `json:"transaction_id" gorm:"size:100"`
	ConsensusTimestamp time.Time      `json:"consensus_timestamp"`
	Envelope           datatypes.JSON `json:"envelope" gorm:"type:jsonb"`
}

func NewLedgerAnchor() *LedgerAnchor {
	return &LedgerAnchor{BaseModel: newBase()}
}

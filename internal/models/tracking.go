// internal/models/tracking.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/farmtrace-backend/internal/canonhash"
)

// TrackingPoint is one custody event. Points are append-only; the anchor
// fields are written once.
type TrackingPoint struct {
	BaseModel
	ProduceID           uuid.UUID           `json:"produce_id" gorm:"type:uuid;not null;uniqueIndex:idx_tracking_produce_sequence"`
	Sequence            int                 `json:"sequence" gorm:"not null;uniqueIndex:idx_tracking_produce_sequence"`
	LocationName        string              `json:"location_name" gorm:"size:200;not null"`
	LocationType        LocationType        `json:"location_type" gorm:"type:varchar(20);not null"`
	GPSCoordinates      string              `json:"gps_coordinates,omitempty" gorm:"size:50"`
	HandlerName         string              `json:"handler_name" gorm:"size:100;not null"`
	HandlerContact      string              `json:"handler_contact,omitempty" gorm:"size:15"`
	Temperature         decimal.NullDecimal `json:"temperature" gorm:"type:decimal(5,2)"`
	Humidity            decimal.NullDecimal `json:"humidity" gorm:"type:decimal(5,2)"`
	ConditionNotes      string              `json:"condition_notes,omitempty" gorm:"type:text"`
	RecordedAt          time.Time           `json:"recorded_at" gorm:"not null;index"`
	Verified            bool                `json:"verified" gorm:"default:false"`
	AnchorHash          string              `json:"anchor_hash,omitempty" gorm:"size:64"`
	LedgerTransactionID string              `json:"ledger_transaction_id,omitempty" gorm:"size:100"`
}

type TrackingParams struct {
	LocationName   string
	LocationType   LocationType
	GPSCoordinates string
	HandlerName    string
	HandlerContact string
	Temperature    *decimal.Decimal
	Humidity       *decimal.Decimal
	ConditionNotes string
	Verified       bool
}

// NewTrackingPoint stamps the point in UTC at microsecond precision so the
// hashed timestamp survives a database round trip. Sequence is assigned on append.
func NewTrackingPoint(produceID uuid.UUID, p TrackingParams, recordedAt time.Time) *TrackingPoint {
	return &TrackingPoint{
		BaseModel:      newBase(),
		ProduceID:      produceID,
		LocationName:   p.LocationName,
		LocationType:   p.LocationType,
		GPSCoordinates: p.GPSCoordinates,
		HandlerName:    p.HandlerName,
		HandlerContact: p.HandlerContact,
		Temperature:    reading(p.Temperature),
		Humidity:       reading(p.Humidity),
		ConditionNotes: p.ConditionNotes,
		RecordedAt:     recordedAt.UTC().Truncate(time.Microsecond),
		Verified:       p.Verified,
	}
}

func reading(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v.Round(2))
}

func readingValue(v decimal.NullDecimal) any {
	if !v.Valid {
		return nil
	}
	return v.Decimal.StringFixed(2)
}

// AnchorRecord holds the recorded fields covered by the anchor hash.
func (t *TrackingPoint) AnchorRecord() map[string]any {
	return map[string]any{
		"tracking_id":     t.ID.String(),
		"produce_id":      t.ProduceID.String(),
		"sequence":        t.Sequence,
		"location_name":   t.LocationName,
		"location_type":   string(t.LocationType),
		"gps_coordinates": t.GPSCoordinates,
		"handler_name":    t.HandlerName,
		"handler_contact": t.HandlerContact,
		"temperature":     readingValue(t.Temperature),
		"humidity":        readingValue(t.Humidity),
		"condition_notes": t.ConditionNotes,
		"recorded_at":     t.RecordedAt.UTC().Format(time.RFC3339Nano),
		"verified":        t.Verified,
	}
}

func (t *TrackingPoint) ContentHash() (string, error) {
	return canonhash.Sum(t.AnchorRecord())
}

func (t *TrackingPoint) IsAnchored() bool {
	return t.AnchorHash != ""
}

// Conditions is the environmental part of the ledger metadata.
func (t *TrackingPoint) Conditions() map[string]any {
	return map[string]any{
		"temperature": readingValue(t.Temperature),
		"humidity":    readingValue(t.Humidity),
	}
}

// internal/payment/gateway.go
package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PayoutResult is the rail's acknowledgement of a disbursement.
type PayoutResult struct {
	Reference   string    `json:"reference"`
	Contact     string    `json:"contact"`
	Amount      string    `json:"amount"`
	Description string    `json:"description"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// CollectionRequest is an outstanding buyer prompt.
type CollectionRequest struct {
	Reference       string `json:"reference"`
	MerchantRef     string `json:"merchant_ref,omitempty"`
	CustomerMessage string `json:"customer_message,omitempty"`
	ClientSecret    string `json:"client_secret,omitempty"`
}

type CollectionState string

const (
	CollectionPending   CollectionState = "pending"
	CollectionCompleted CollectionState = "completed"
	CollectionFailed    CollectionState = "failed"
)

// Disburser pushes money to a farmer. A returned error means no money moved
// as far as the rail has told us.
type Disburser interface {
	Payout(ctx context.Context, contact string, amount decimal.Decimal, memo string) (*PayoutResult, error)
}

// Collector pulls money from a buyer.
type Collector interface {
	RequestCollection(ctx context.Context, payer string, amount decimal.Decimal, accountRef string) (*CollectionRequest, error)
	QueryStatus(ctx context.Context, reference string) (CollectionState, error)
}

// Gateway is a mobile-money rail that can both pay out and collect.
type Gateway interface {
	Disburser
	Collector
}

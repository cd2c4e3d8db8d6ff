// internal/payment/simulated.go
package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

// PayoutCall records one disbursement seen by the SimulatedRail.
type PayoutCall struct {
	Contact string
	Amount  decimal.Decimal
	Memo    string
}

// SimulatedRail is an in-process money rail with deterministic references.
// Contacts can be configured to fail, and collection outcomes can be set.
type SimulatedRail struct {
	mu          sync.Mutex
	format      ContactFormat
	now         func() time.Time
	payouts     int
	collections int
	failures    map[string]error
	states      map[string]CollectionState
	calls       []PayoutCall
}

func NewSimulatedRail(format ContactFormat, now func() time.Time) *SimulatedRail {
	if format.CountryCode == "" {
		format = KenyaContact
	}
	if now == nil {
		now = time.Now
	}
	return &SimulatedRail{
		format:   format,
		now:      now,
		failures: make(map[string]error),
		states:   make(map[string]CollectionState),
	}
}

// FailContact makes every payout to contact return err.
func (s *SimulatedRail) FailContact(contact string, err error) {
	normalized, nerr := s.format.Normalize(contact)
	if nerr != nil {
		normalized = contact
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[normalized] = err
}

func (s *SimulatedRail) SetCollectionState(reference string, state CollectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[reference] = state
}

func (s *SimulatedRail) PayoutCalls() []PayoutCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PayoutCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *SimulatedRail) Payout(ctx context.Context, contact string, amount decimal.Decimal, memo string) (*PayoutResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindGatewayUnavailable, "simulated.payout", err)
	}
	phone, err := s.format.Normalize(contact)
	if err != nil {
		return nil, err
	}
	shillings, err := wholeUnits("simulated.payout", amount)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, PayoutCall{Contact: phone, Amount: amount, Memo: memo})
	if ferr, ok := s.failures[phone]; ok {
		return nil, ferr
	}

	s.payouts++
	return &PayoutResult{
		Reference:   fmt.Sprintf("SIM-B2C-%06d", s.payouts),
		Contact:     phone,
		Amount:      fmt.Sprintf("%d", shillings),
		Description: "Accept the service request successfully.",
		AcceptedAt:  s.now().UTC(),
	}, nil
}

func (s *SimulatedRail) RequestCollection(ctx context.Context, payer string, amount decimal.Decimal, accountRef string) (*CollectionRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindGatewayUnavailable, "simulated.request_collection", err)
	}
	if _, err := s.format.Normalize(payer); err != nil {
		return nil, err
	}
	if _, err := wholeUnits("simulated.request_collection", amount); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.collections++
	ref := fmt.Sprintf("ws_CO_SIM_%06d", s.collections)
	s.states[ref] = CollectionPending
	return &CollectionRequest{
		Reference:       ref,
		MerchantRef:     fmt.Sprintf("SIM-%06d-%s", s.collections, accountRef),
		CustomerMessage: "Success. Request accepted for processing",
	}, nil
}

func (s *SimulatedRail) QueryStatus(ctx context.Context, reference string) (CollectionState, error) {
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(errs.KindGatewayUnavailable, "simulated.query_status", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[reference]
	if !ok {
		return "", errs.Newf(errs.KindGatewayRejected, "simulated.query_status", "unknown request %q", reference)
	}
	return state, nil
}

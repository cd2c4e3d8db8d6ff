// internal/payment/stripe.go
package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

// CardCollector collects from buyers paying by card through Stripe
// PaymentIntents. It does not disburse.
type CardCollector struct {
	intents  paymentintent.Client
	currency string
}

func NewCardCollector(secretKey, currency string, backend stripe.Backend) *CardCollector {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	if currency == "" {
		currency = "kes"
	}
	return &CardCollector{
		intents:  paymentintent.Client{B: backend, Key: secretKey},
		currency: strings.ToLower(currency),
	}
}

func (c *CardCollector) RequestCollection(ctx context.Context, payer string, amount decimal.Decimal, accountRef string) (*CollectionRequest, error) {
	const op = "stripe.request_collection"

	minor := amount.Shift(2).Round(0)
	if !minor.IsPositive() {
		return nil, errs.Newf(errs.KindValidation, op, "amount %s is not positive", amount.String())
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(minor.IntPart()),
		Currency:    stripe.String(c.currency),
		Description: stripe.String("Produce purchase " + accountRef),
	}
	params.Context = ctx
	params.AddMetadata("account_reference", accountRef)
	if payer != "" {
		params.AddMetadata("payer", payer)
	}
	params.SetIdempotencyKey("collect-" + accountRef)

	pi, err := c.intents.New(params)
	if err != nil {
		return nil, classifyStripeError(op, err)
	}
	return &CollectionRequest{
		Reference:    pi.ID,
		ClientSecret: pi.ClientSecret,
	}, nil
}

func (c *CardCollector) QueryStatus(ctx context.Context, reference string) (CollectionState, error) {
	const op = "stripe.query_status"

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.intents.Get(reference, params)
	if err != nil {
		return "", classifyStripeError(op, err)
	}

	switch {
	case pi.Status == stripe.PaymentIntentStatusSucceeded:
		return CollectionCompleted, nil
	case pi.Status == stripe.PaymentIntentStatusCanceled, pi.LastPaymentError != nil:
		return CollectionFailed, nil
	default:
		return CollectionPending, nil
	}
}

func classifyStripeError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return errs.Wrap(errs.KindGatewayUnavailable, op, err)
	}
	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized:
		return errs.Wrap(errs.KindAuthFailure, op, err)
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500:
		return errs.Wrap(errs.KindGatewayUnavailable, op, err)
	default:
		return errs.Wrap(errs.KindGatewayRejected, op, err)
	}
}

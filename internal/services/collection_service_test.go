package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/models"
	"github.com/javajoker/farmtrace-backend/internal/payment"
)

func stkCallback(ref string, code int, receipt string) []byte {
	if code != 0 {
		return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":%q,"ResultCode":%d,"ResultDesc":"Request cancelled by user"}}}`, ref, code))
	}
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[{"Name":"Amount","Value":500},{"Name":"MpesaReceiptNumber","Value":%q},{"Name":"PhoneNumber","Value":254722000111}]}}}}`, ref, receipt))
}

func TestCollectionCallbackCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	resp, err := f.collections.RequestCollection(ctx, txn.ID, &CollectRequest{Method: "mpesa"})
	require.NoError(t, err)
	ref := resp.Request.Reference
	assert.Equal(t, models.CollectionStatusPending, resp.Transaction.CollectionStatus)

	_, err = f.collections.RequestCollection(ctx, txn.ID, &CollectRequest{Method: "mpesa"})
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))

	result, err := f.collections.HandleCallback(ctx, stkCallback(ref, 0, "NLJ7RT61SV"))
	require.NoError(t, err)
	assert.True(t, result.Completed)

	stored, err := f.repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CollectionStatusCompleted, stored.CollectionStatus)
	assert.Equal(t, "NLJ7RT61SV", stored.CollectionReceipt)

	// A late failure for the same request does not undo the payment.
	_, err = f.collections.HandleCallback(ctx, stkCallback(ref, 1032, ""))
	require.NoError(t, err)
	stored, err = f.repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CollectionStatusCompleted, stored.CollectionStatus)
}

func TestCollectionCallbackFailureAllowsRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	resp, err := f.collections.RequestCollection(ctx, txn.ID, &CollectRequest{Method: "mpesa", PayerContact: "0733444555"})
	require.NoError(t, err)

	_, err = f.collections.HandleCallback(ctx, stkCallback(resp.Request.Reference, 1032, ""))
	require.NoError(t, err)
	stored, err := f.repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CollectionStatusFailed, stored.CollectionStatus)

	again, err := f.collections.RequestCollection(ctx, txn.ID, &CollectRequest{Method: "mpesa"})
	require.NoError(t, err)
	assert.NotEqual(t, resp.Request.Reference, again.Request.Reference)
}

func TestCollectionCallbackUnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.collections.HandleCallback(context.Background(), stkCallback("ws_CO_unknown", 0, "X"))
	assert.True(t, errs.Is(err, errs.KindNotFound))

	_, err = f.collections.HandleCallback(context.Background(), []byte(`{"Body":{}}`))
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestCollectionRefresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	resp, err := f.collections.RequestCollection(ctx, txn.ID, &CollectRequest{Method: "mpesa"})
	require.NoError(t, err)

	refreshed, err := f.collections.Refresh(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CollectionStatusPending, refreshed.CollectionStatus)

	f.rail.SetCollectionState(resp.Request.Reference, payment.CollectionCompleted)
	refreshed, err = f.collections.Refresh(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CollectionStatusCompleted, refreshed.CollectionStatus)
}

func TestCardCollectionNeedsConfiguration(t *testing.T) {
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	txn := f.sale(t, p.ID, 10, models.PaymentMethodCard)

	_, err := f.collections.RequestCollection(context.Background(), txn.ID, &CollectRequest{Method: "card"})
	assert.True(t, errs.Is(err, errs.KindValidation))
}

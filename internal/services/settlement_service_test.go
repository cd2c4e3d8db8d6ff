package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/farmtrace-backend/internal/config"
	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/ledger"
	"github.com/javajoker/farmtrace-backend/internal/models"
	"github.com/javajoker/farmtrace-backend/internal/payment"
	"github.com/javajoker/farmtrace-backend/internal/repository"
)

func TestSettlePaysFinalAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationVerified)
	p := f.batch(t, farmer.ID, 100, allPractices())
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	res, err := f.settlement.Settle(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, res.Status)
	assert.Equal(t, "SIM-B2C-000001", res.PaymentRef)
	assert.Equal(t, "500.00", res.Breakdown.TotalAmount.StringFixed(2))
	assert.Equal(t, "50.00", res.Breakdown.FairTradePremium.StringFixed(2))
	assert.Equal(t, "25.00", res.Breakdown.CarbonCreditBonus.StringFixed(2))
	assert.Equal(t, "575.00", res.Breakdown.FinalAmount.StringFixed(2))
	assert.Len(t, res.LedgerHash, 64)
	require.NotNil(t, res.CarbonCredit)
	assert.Equal(t, "1", res.CarbonCredit.CreditsEarned.String())
	assert.Empty(t, res.Warning)

	calls := f.rail.PayoutCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "254712345678", calls[0].Contact)
	assert.True(t, calls[0].Amount.Equal(decimal.NewFromInt(575)))

	stored, err := f.repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.PaidAt)
	assert.True(t, stored.CarbonCredited)
	assert.NotNil(t, stored.ConsensusTimestamp)

	owner, err := f.repo.GetFarmer(ctx, farmer.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", owner.CarbonCreditsEarned.String())

	var types []ledger.MessageType
	for _, e := range f.network.Events() {
		types = append(types, e.Message.Type)
	}
	assert.Equal(t, []ledger.MessageType{
		ledger.TypeProduceRegistration,
		ledger.TypePaymentSettled,
		ledger.TypeCarbonCreditIssued,
	}, types)
}

func TestSettleUsesCurrentCertification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)
	assert.True(t, txn.FairTradePremium.IsZero())

	_, err := f.farmers.UpdateCertification(ctx, farmer.ID, &UpdateCertificationRequest{Status: models.CertificationCertifiedOrganic})
	require.NoError(t, err)

	res, err := f.settlement.Settle(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, "550.00", res.Breakdown.FinalAmount.StringFixed(2))
	assert.Nil(t, res.CarbonCredit)
}

func TestSettleTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	_, err := f.settlement.Settle(ctx, txn.ID)
	require.NoError(t, err)

	_, err = f.settlement.Settle(ctx, txn.ID)
	assert.True(t, errs.Is(err, errs.KindDoubleSettlement))
	assert.Len(t, f.rail.PayoutCalls(), 1)
}

func TestConcurrentSettlePaysOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, allPractices())
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	const callers = 8
	errList := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errList[i] = f.settlement.Settle(ctx, txn.ID)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errList {
		if err == nil {
			succeeded++
			continue
		}
		kind := errs.KindOf(err)
		assert.Contains(t, []errs.Kind{errs.KindDoubleSettlement, errs.KindSettlementInProgress}, kind)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.rail.PayoutCalls(), 1)

	credits, err := f.repo.ListCarbonCreditsByFarmer(ctx, farmer.ID)
	require.NoError(t, err)
	assert.Len(t, credits, 1)
}

func TestFailedPayoutCanBeRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	rejected := errs.New(errs.KindGatewayRejected, "test", "subscriber not registered")
	f.rail.FailContact("0712345678", rejected)

	res, err := f.settlement.Settle(ctx, txn.ID)
	assert.Equal(t, rejected, err)
	require.NotNil(t, res)
	assert.Equal(t, models.PaymentStatusFailed, res.Status)

	stored, err := f.repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)
	assert.Contains(t, stored.FailureReason, "subscriber not registered")
	assert.Empty(t, stored.PaymentRef)

	owner, err := f.repo.GetFarmer(ctx, farmer.ID)
	require.NoError(t, err)
	owner.MPesaNumber = "254799000111"
	require.NoError(t, f.repo.UpdateFarmer(ctx, owner))

	res, err = f.settlement.Settle(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, res.Status)

	stored, err = f.repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.FailureReason)
}

func TestSettleRejectsOfflinePaymentMethods(t *testing.T) {
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	txn := f.sale(t, p.ID, 10, models.PaymentMethodCash)

	_, err := f.settlement.Settle(context.Background(), txn.ID)
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Empty(t, f.rail.PayoutCalls())
}

func TestSettleUnknownTransaction(t *testing.T) {
	f := newFixture(t)
	_, err := f.settlement.Settle(context.Background(), uuid.New())
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestBulkSettleContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	phones := []string{"0711000001", "0711000002", "0711000003", "0711000004", "0711000005"}
	ids := make([]uuid.UUID, len(phones))
	for i, phone := range phones {
		farmer := f.farmer(t, phone, models.CertificationPending)
		p := f.batch(t, farmer.ID, 10, models.EcoPractices{})
		ids[i] = f.sale(t, p.ID, 2, models.PaymentMethodMPesa).ID
	}
	f.rail.FailContact(phones[2], errs.New(errs.KindInvalidRecipient, "test", "unknown subscriber"))

	res := f.settlement.BulkSettle(ctx, ids)
	assert.Equal(t, 4, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "400.00", res.TotalPaid.StringFixed(2))
	require.Len(t, res.Items, 5)

	for i, item := range res.Items {
		assert.Equal(t, ids[i], item.TransactionID)
		if i == 2 {
			assert.Equal(t, ItemFailed, item.Outcome)
			assert.Equal(t, errs.KindInvalidRecipient, item.ErrorKind)
			assert.Equal(t, models.PaymentStatusFailed, item.PaymentStatus)
			continue
		}
		assert.Equal(t, ItemSucceeded, item.Outcome, "item %d", i)
		assert.NotEmpty(t, item.PaymentRef)
	}
	assert.Len(t, f.rail.PayoutCalls(), 5)
}

func TestSettlePendingSkipsOtherMethods(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	f.sale(t, p.ID, 10, models.PaymentMethodMPesa)
	f.sale(t, p.ID, 10, models.PaymentMethodBank)
	f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	res, err := f.settlement.SettlePending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 0, res.Failed)

	res, err = f.settlement.SettlePending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestReconcileFinishesUnanchoredPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, allPractices())
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	f.network.FailNext(errs.New(errs.KindLedgerUnavailable, "test", "network down"))
	res, err := f.settlement.Settle(ctx, txn.ID)
	assert.True(t, errs.Is(err, errs.KindLedgerUnavailable))
	require.NotNil(t, res)
	assert.Equal(t, models.PaymentStatusCompleted, res.Status)

	stored, err := f.repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.LedgerHash)
	assert.False(t, stored.CarbonCredited)

	_, err = f.settlement.Settle(ctx, txn.ID)
	assert.True(t, errs.Is(err, errs.KindDoubleSettlement))

	rec, err := f.settlement.Reconcile(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Succeeded)

	stored, err = f.repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Len(t, stored.LedgerHash, 64)
	assert.True(t, stored.CarbonCredited)

	rec, err = f.settlement.Reconcile(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, rec.Items)

	owner, err := f.repo.GetFarmer(ctx, farmer.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", owner.CarbonCreditsEarned.String())
	assert.Len(t, f.rail.PayoutCalls(), 1)
}

func TestCarbonFailureIsAWarning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, allPractices())
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	// Payment anchor succeeds, carbon anchor fails.
	f.network.FailNext(nil, errs.New(errs.KindLedgerUnavailable, "test", "network down"))
	res, err := f.settlement.Settle(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, res.Status)
	assert.Contains(t, res.Warning, "carbon credit not issued")

	credit, err := f.repo.FindCarbonCreditByTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CreditStatusVerified, credit.VerificationStatus)

	rec, err := f.settlement.Reconcile(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Succeeded)

	credits, err := f.repo.ListCarbonCreditsByFarmer(ctx, farmer.ID)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, models.CreditStatusIssued, credits[0].VerificationStatus)

	owner, err := f.repo.GetFarmer(ctx, farmer.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", owner.CarbonCreditsEarned.String())
}

// settlingCollector calls during before sending the prompt, so a settlement
// lands while the collection request is in flight.
type settlingCollector struct {
	payment.Collector
	during func()
}

func (c *settlingCollector) RequestCollection(ctx context.Context, payer string, amount decimal.Decimal, accountRef string) (*payment.CollectionRequest, error) {
	c.during()
	return c.Collector.RequestCollection(ctx, payer, amount, accountRef)
}

// callbackDisburser runs during while the payout is with the rail.
type callbackDisburser struct {
	payment.Disburser
	during func()
}

func (d *callbackDisburser) Payout(ctx context.Context, contact string, amount decimal.Decimal, memo string) (*payment.PayoutResult, error) {
	d.during()
	return d.Disburser.Payout(ctx, contact, amount, memo)
}

func TestCollectionRequestDoesNotUndoSettlement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	collector := &settlingCollector{Collector: f.rail, during: func() {
		_, err := f.settlement.Settle(ctx, txn.ID)
		require.NoError(t, err)
	}}
	collections := NewCollectionService(f.repo, collector, nil)

	_, err := collections.RequestCollection(ctx, txn.ID, &CollectRequest{Method: "mpesa"})
	require.NoError(t, err)

	stored, err := f.repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, stored.PaymentStatus)
	assert.Equal(t, "SIM-B2C-000001", stored.PaymentRef)
	assert.Equal(t, models.CollectionStatusPending, stored.CollectionStatus)

	_, err = f.settlement.Settle(ctx, txn.ID)
	assert.True(t, errs.Is(err, errs.KindDoubleSettlement))
	assert.Len(t, f.rail.PayoutCalls(), 1)
}

func TestCollectionCallbackDuringPayoutIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	resp, err := f.collections.RequestCollection(ctx, txn.ID, &CollectRequest{Method: "mpesa"})
	require.NoError(t, err)
	ref := resp.Request.Reference

	rail := &callbackDisburser{Disburser: f.rail, during: func() {
		_, err := f.collections.HandleCallback(ctx, stkCallback(ref, 0, "NLJ7RT61SV"))
		require.NoError(t, err)
	}}
	settlement := NewSettlementService(f.repo, rail, f.anchorer, f.carbon, config.SettlementConfig{})
	settlement.now = f.clock.Now

	res, err := settlement.Settle(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, res.Status)

	stored, err := f.repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, stored.PaymentStatus)
	assert.Equal(t, models.CollectionStatusCompleted, stored.CollectionStatus)
	assert.Equal(t, "NLJ7RT61SV", stored.CollectionReceipt)
}

// slowLedger holds every submission long enough for concurrent callers to
// overlap.
type slowLedger struct {
	ledger.Client
	delay time.Duration
}

func (l slowLedger) Submit(ctx context.Context, msg ledger.Message) (ledger.Receipt, error) {
	time.Sleep(l.delay)
	return l.Client.Submit(ctx, msg)
}

func TestConcurrentReconcileIssuesCreditOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, allPractices())
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	f.network.FailNext(errs.New(errs.KindLedgerUnavailable, "test", "network down"))
	_, err := f.settlement.Settle(ctx, txn.ID)
	require.True(t, errs.Is(err, errs.KindLedgerUnavailable))

	f.anchorer.ledger = slowLedger{Client: f.network, delay: 50 * time.Millisecond}

	results := make([]*BulkResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.settlement.Reconcile(ctx, 0)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	finished := 0
	for _, res := range results {
		require.NotNil(t, res)
		assert.Zero(t, res.Failed)
		finished += res.Succeeded
	}
	assert.GreaterOrEqual(t, finished, 1)

	owner, err := f.repo.GetFarmer(ctx, farmer.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", owner.CarbonCreditsEarned.String())

	credits, err := f.repo.ListCarbonCreditsByFarmer(ctx, farmer.ID)
	require.NoError(t, err)
	assert.Len(t, credits, 1)

	counts := map[ledger.MessageType]int{}
	for _, e := range f.network.Events() {
		counts[e.Message.Type]++
	}
	assert.Equal(t, 1, counts[ledger.TypePaymentSettled])
	assert.Equal(t, 1, counts[ledger.TypeCarbonCreditIssued])
}

// flakyRepo fails the named settlement writes a set number of times.
type flakyRepo struct {
	repository.Repository
	mu           sync.Mutex
	beginFails   int
	failPayFails int
}

func (r *flakyRepo) take(counter *int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if *counter == 0 {
		return false
	}
	*counter--
	return true
}

func (r *flakyRepo) BeginPayout(ctx context.Context, id uuid.UUID, b models.Breakdown, at time.Time) (bool, error) {
	if r.take(&r.beginFails) {
		return false, errs.New(errs.KindInternal, "test.begin_payout", "connection reset")
	}
	return r.Repository.BeginPayout(ctx, id, b, at)
}

func (r *flakyRepo) FailPayout(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	if r.take(&r.failPayFails) {
		return false, errs.New(errs.KindInternal, "test.fail_payout", "connection reset")
	}
	return r.Repository.FailPayout(ctx, id, reason)
}

func TestLostPayoutWriteReleasesClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	txn := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	repo := &flakyRepo{Repository: f.repo, beginFails: 1, failPayFails: 1}
	settlement := NewSettlementService(repo, f.rail, f.anchorer, f.carbon, config.SettlementConfig{})
	settlement.now = f.clock.Now
	settlement.writeRetry = errs.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	_, err := settlement.Settle(ctx, txn.ID)
	assert.True(t, errs.Is(err, errs.KindInternal))
	assert.Empty(t, f.rail.PayoutCalls())

	stored, err := f.repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)
	assert.Contains(t, stored.FailureReason, "settlement aborted")

	res, err := settlement.Settle(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, res.Status)
	assert.Len(t, f.rail.PayoutCalls(), 1)
}

func TestReleaseStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	claimed := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)
	submitted := f.sale(t, p.ID, 10, models.PaymentMethodMPesa)

	toProcessing := func(id uuid.UUID) {
		swapped, err := f.repo.CompareAndSwapPaymentStatus(ctx, id,
			[]models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusProcessing)
		require.NoError(t, err)
		require.True(t, swapped)
	}
	toProcessing(claimed.ID)
	toProcessing(submitted.ID)
	begun, err := f.repo.BeginPayout(ctx, submitted.ID, submitted.Breakdown(), time.Now())
	require.NoError(t, err)
	require.True(t, begun)

	report, err := f.settlement.ReleaseStale(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, report.Released, "nothing is stale yet")
	assert.Empty(t, report.NeedsReview)

	// rows are stamped with the wall clock
	f.settlement.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err = f.settlement.ReleaseStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{claimed.ID}, report.Released)
	assert.Equal(t, []uuid.UUID{submitted.ID}, report.NeedsReview)

	stored, err := f.repo.GetTransaction(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusProcessing, stored.PaymentStatus)

	res, err := f.settlement.Settle(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, res.Status)
}

func TestSettlementReportsAmountDisbursed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})

	txn, err := f.produce.RecordSale(ctx, p.ID, &RecordSaleRequest{
		BuyerName:     "Mama Mboga",
		BuyerContact:  "0722000111",
		BuyerType:     "retailer",
		QuantitySold:  decimal.RequireFromString("1.01"),
		PaymentMethod: string(models.PaymentMethodMPesa),
	})
	require.NoError(t, err)
	assert.Equal(t, "50.50", txn.FinalAmount.StringFixed(2))

	bulk := f.settlement.BulkSettle(ctx, []uuid.UUID{txn.ID})
	require.Equal(t, 1, bulk.Succeeded)
	assert.Equal(t, "51", bulk.Items[0].Amount.String())
	assert.Equal(t, "51", bulk.TotalPaid.String())

	stored, err := f.repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, "51", stored.AmountPaid.String())
	assert.Equal(t, "50.50", stored.FinalAmount.StringFixed(2))
}

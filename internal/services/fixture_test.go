package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/farmtrace-backend/internal/config"
	"github.com/javajoker/farmtrace-backend/internal/ledger"
	"github.com/javajoker/farmtrace-backend/internal/models"
	"github.com/javajoker/farmtrace-backend/internal/payment"
	"github.com/javajoker/farmtrace-backend/internal/repository"
)

// testClock advances one minute on every read.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type fixture struct {
	repo        *repository.MemoryRepository
	network     *ledger.MemoryNetwork
	rail        *payment.SimulatedRail
	archive     *ProofArchive
	clock       *testClock
	anchorer    *Anchorer
	farmers     *FarmerService
	produce     *ProduceService
	custody     *CustodyService
	carbon      *CarbonService
	settlement  *SettlementService
	collections *CollectionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	repo := repository.NewMemoryRepository()
	network := ledger.NewMemoryNetwork("0.0.5005", ledger.WithClock(clock.Now))
	rail := payment.NewSimulatedRail(payment.KenyaContact, clock.Now)
	archive, err := NewProofArchive(config.AWSConfig{ProofPrefix: "proofs"})
	require.NoError(t, err)

	anchorer := NewAnchorer(network, repo)
	anchorer.now = clock.Now
	farmers := NewFarmerService(repo, anchorer, payment.KenyaContact)
	produce := NewProduceService(repo, farmers, anchorer, payment.KenyaContact)
	produce.now = clock.Now
	custody := NewCustodyService(repo, anchorer, archive)
	custody.now = clock.Now
	carbon := NewCarbonService(repo, anchorer, config.CarbonConfig{BaseRate: 1.0, UnitPrice: 10.0})
	carbon.now = clock.Now
	settlement := NewSettlementService(repo, rail, anchorer, carbon, config.SettlementConfig{Concurrency: 3, BatchLimit: 50})
	settlement.now = clock.Now

	return &fixture{
		repo:        repo,
		network:     network,
		rail:        rail,
		archive:     archive,
		clock:       clock,
		anchorer:    anchorer,
		farmers:     farmers,
		produce:     produce,
		custody:     custody,
		carbon:      carbon,
		settlement:  settlement,
		collections: NewCollectionService(repo, rail, nil),
	}
}

func (f *fixture) farmer(t *testing.T, phone string, cert models.CertificationStatus) *models.Farmer {
	t.Helper()
	ctx := context.Background()

	farmer, err := f.farmers.Register(ctx, &RegisterFarmerRequest{
		FullName:      "Wanjiku Kamau",
		FarmName:      "Kamau Greens",
		Location:      "Kiambu",
		FarmSizeAcres: decimal.NewFromInt(4),
		MPesaNumber:   phone,
	})
	require.NoError(t, err)

	if cert != models.CertificationPending {
		farmer, err = f.farmers.UpdateCertification(ctx, farmer.ID, &UpdateCertificationRequest{Status: cert})
		require.NoError(t, err)
	}
	return farmer
}

func allPractices() models.EcoPractices {
	return models.EcoPractices{OrganicCertified: true, PesticideFree: true, WaterEfficient: true, CarbonNeutral: true}
}

func (f *fixture) batch(t *testing.T, farmerID uuid.UUID, qty int64, eco models.EcoPractices) *models.Produce {
	t.Helper()
	p, err := f.produce.Register(context.Background(), &RegisterProduceRequest{
		FarmerID:     farmerID,
		Name:         "Sukuma Wiki",
		Category:     "vegetables",
		Quantity:     decimal.NewFromInt(qty),
		UnitPrice:    decimal.NewFromInt(50),
		QualityGrade: "A",
		HarvestDate:  time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC),
		EcoPractices: eco,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) track(t *testing.T, produceID uuid.UUID, location models.LocationType) *models.TrackingPoint {
	t.Helper()
	point, err := f.produce.AddTrackingPoint(context.Background(), produceID, &AddTrackingRequest{
		LocationName: string(location) + " stop",
		LocationType: string(location),
		HandlerName:  "Otieno Logistics",
	})
	require.NoError(t, err)
	return point
}

func (f *fixture) sale(t *testing.T, produceID uuid.UUID, qty int64, method models.PaymentMethod) *models.Transaction {
	t.Helper()
	txn, err := f.produce.RecordSale(context.Background(), produceID, &RecordSaleRequest{
		BuyerName:     "Naivas Westlands",
		BuyerContact:  "0722000111",
		BuyerType:     "retailer",
		QuantitySold:  decimal.NewFromInt(qty),
		PaymentMethod: string(method),
	})
	require.NoError(t, err)
	return txn
}

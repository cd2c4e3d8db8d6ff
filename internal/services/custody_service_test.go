package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/ledger"
	"github.com/javajoker/farmtrace-backend/internal/models"
)

func TestVerifyAuthenticJourney(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, allPractices())
	f.track(t, p.ID, models.LocationCollectionCenter)
	f.track(t, p.ID, models.LocationTransport)

	out, err := f.custody.Verify(ctx, &VerificationRequest{
		VerificationCode: p.VerificationCode,
		Method:           "code_scan",
	})
	require.NoError(t, err)
	assert.True(t, out.Authentic)
	assert.True(t, out.CustodyOK)
	assert.True(t, out.IntegrityOK)
	assert.True(t, out.Proof.OriginVerified)
	assert.Equal(t, 2, out.Proof.AnchoredPoints)
	assert.Empty(t, out.Proof.Findings)
	assert.Empty(t, out.Warnings)
	assert.Len(t, out.Journey, 2)

	record, err := f.repo.GetVerification(ctx, out.VerificationID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationAuthentic, record.Status)
	assert.Len(t, record.ProofHash, 64)
	assert.NotEmpty(t, record.LedgerTransactionID)
	assert.True(t, strings.HasPrefix(record.ProofLocation, "memory://proofs/"))

	events := f.network.Events()
	assert.Equal(t, ledger.TypeVerificationRecorded, events[len(events)-1].Message.Type)

	document, url, err := f.custody.Proof(ctx, out.VerificationID)
	require.NoError(t, err)
	assert.Empty(t, url)
	var proof VerificationProof
	require.NoError(t, json.Unmarshal(document, &proof))
	assert.Equal(t, out.Proof, proof)
}

func TestVerifyWithoutTrackingIsSuspicious(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})

	out, err := f.custody.Verify(ctx, &VerificationRequest{ProduceID: &p.ID, Method: "manual_code"})
	require.NoError(t, err)
	assert.False(t, out.Authentic)
	assert.False(t, out.CustodyOK)
	assert.True(t, out.IntegrityOK)
	assert.Equal(t, models.VerificationSuspicious, out.Record.Status)
	require.NotEmpty(t, out.Proof.Findings)
	assert.Contains(t, out.Proof.Findings[0], string(errs.KindNoHistory))

	records, err := f.repo.ListVerificationsByProduce(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestVerifyDetectsTamperedTrackingPoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	f.track(t, p.ID, models.LocationCollectionCenter)
	f.track(t, p.ID, models.LocationWarehouse)

	points, err := f.repo.ListTrackingPoints(ctx, p.ID)
	require.NoError(t, err)
	tampered := points[1]
	tampered.HandlerName = "Someone else"
	f.repo.ReplaceTrackingPoint(tampered)

	out, err := f.custody.Verify(ctx, &VerificationRequest{ProduceID: &p.ID, Method: "ledger"})
	require.NoError(t, err)
	assert.False(t, out.Authentic)
	assert.True(t, out.CustodyOK)
	assert.False(t, out.IntegrityOK)
	assert.Equal(t, models.VerificationCounterfeit, out.Record.Status)
	assert.Contains(t, out.Proof.Findings, "tracking point 2 does not match its anchor hash")
}

func TestVerifyUnanchoredPointIsReportedNotFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})

	f.network.FailNext(errs.New(errs.KindLedgerUnavailable, "test", "network down"))
	_, err := f.produce.AddTrackingPoint(ctx, p.ID, &AddTrackingRequest{
		LocationName: "Warehouse",
		LocationType: string(models.LocationWarehouse),
		HandlerName:  "Store keeper",
	})
	require.Error(t, err)

	out, err := f.custody.Verify(ctx, &VerificationRequest{ProduceID: &p.ID, Method: "tag"})
	require.NoError(t, err)
	assert.True(t, out.Authentic)
	assert.Equal(t, 0, out.Proof.AnchoredPoints)
	assert.Contains(t, out.Proof.Findings, "tracking point 1 is not anchored")
}

func TestVerifyFailsWhenLedgerHistoryUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	f.track(t, p.ID, models.LocationWarehouse)

	f.network.FailNext(errs.New(errs.KindLedgerUnavailable, "test", "mirror down"))
	_, err := f.custody.Verify(ctx, &VerificationRequest{ProduceID: &p.ID, Method: "code_scan"})
	assert.True(t, errs.Is(err, errs.KindLedgerUnavailable))

	records, err := f.repo.ListVerificationsByProduce(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestVerifyRecordsVerdictWhenProofAnchorFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})
	f.track(t, p.ID, models.LocationWarehouse)

	// The history query succeeds; the proof submission fails.
	f.network.FailNext(nil, errs.New(errs.KindLedgerRejected, "test", "topic closed"))
	out, err := f.custody.Verify(ctx, &VerificationRequest{ProduceID: &p.ID, Method: "code_scan"})
	require.NoError(t, err)
	assert.True(t, out.Authentic)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "proof not anchored")

	record, err := f.repo.GetVerification(ctx, out.VerificationID)
	require.NoError(t, err)
	assert.Empty(t, record.LedgerTransactionID)
}

func TestVerifyValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.custody.Verify(context.Background(), &VerificationRequest{Method: "code_scan"})
	assert.True(t, errs.Is(err, errs.KindValidation))

	_, err = f.custody.Verify(context.Background(), &VerificationRequest{VerificationCode: "FT-UNKNOWN", Method: "code_scan"})
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

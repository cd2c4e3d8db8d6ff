package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/models"
)

func TestCreditsFor(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "0.75", f.carbon.CreditsFor(75).String())
	assert.Equal(t, "1", f.carbon.CreditsFor(100).String())
	assert.True(t, f.carbon.CreditsFor(0).IsZero())
}

func TestIssueAndRedeem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{OrganicCertified: true, PesticideFree: true, WaterEfficient: true})

	credit, err := f.carbon.Issue(ctx, farmer, p, nil)
	require.NoError(t, err)
	assert.Equal(t, models.CreditStatusIssued, credit.VerificationStatus)
	assert.Equal(t, models.CreditTypeOrganicFarming, credit.CreditType)
	assert.Equal(t, "0.75", credit.CreditsEarned.String())
	assert.Equal(t, "7.50", credit.CreditValue.StringFixed(2))
	assert.Len(t, credit.CertificateHash, 64)
	assert.NotEmpty(t, credit.LedgerTransactionID)

	balance, err := f.farmers.CarbonCredits(ctx, farmer.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.75", balance.CreditsEarned.String())
	assert.Len(t, balance.Credits, 1)

	redeemed, err := f.carbon.Redeem(ctx, credit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CreditStatusRedeemed, redeemed.VerificationStatus)

	balance, err = f.farmers.CarbonCredits(ctx, farmer.ID)
	require.NoError(t, err)
	assert.True(t, balance.CreditsEarned.IsZero())

	_, err = f.carbon.Redeem(ctx, credit.ID)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))
}

func TestIssueWithoutPracticesIsRejected(t *testing.T) {
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, models.EcoPractices{})

	_, err := f.carbon.Issue(context.Background(), farmer, p, nil)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestFinalizeRequiresVerifiedCredit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, allPractices())

	credit, err := f.carbon.Issue(ctx, farmer, p, nil)
	require.NoError(t, err)

	_, err = f.carbon.Finalize(ctx, credit, p)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))

	balance, err := f.farmers.CarbonCredits(ctx, farmer.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", balance.CreditsEarned.String())
}

func TestFinalizeStaleCopyIssuesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	farmer := f.farmer(t, "0712345678", models.CertificationPending)
	p := f.batch(t, farmer.ID, 100, allPractices())

	f.network.FailNext(errs.New(errs.KindLedgerUnavailable, "test", "network down"))
	_, err := f.carbon.Issue(ctx, farmer, p, nil)
	require.True(t, errs.Is(err, errs.KindLedgerUnavailable))

	credits, err := f.repo.ListCarbonCreditsByFarmer(ctx, farmer.ID)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	verified := credits[0]
	require.Equal(t, models.CreditStatusVerified, verified.VerificationStatus)

	issued, err := f.carbon.Finalize(ctx, &verified, p)
	require.NoError(t, err)
	assert.Equal(t, models.CreditStatusIssued, issued.VerificationStatus)

	// a second caller still holding the verified copy
	_, err = f.carbon.Finalize(ctx, &verified, p)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))

	balance, err := f.farmers.CarbonCredits(ctx, farmer.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", balance.CreditsEarned.String())
}

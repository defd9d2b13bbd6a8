package donations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
	"github.com/pledgeworks/celebrate/internal/app/domain/donor"
	"github.com/pledgeworks/celebrate/internal/app/domain/pledge"
	"github.com/pledgeworks/celebrate/internal/app/services/elections"
	"github.com/pledgeworks/celebrate/internal/app/services/limits"
	"github.com/pledgeworks/celebrate/internal/app/services/tips"
	"github.com/pledgeworks/celebrate/internal/app/storage/memory"
)

var testNow = time.Date(2026, time.April, 20, 15, 0, 0, 0, compliance.Eastern())

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	calc := elections.NewCalculator(nil, nil)
	limitEngine := limits.New(store, store, calc, nil)
	pacTracker := tips.New(store, store, nil)
	return New(store, store, store, limitEngine, pacTracker, calc, nil, nil), store
}

func createDonor(t *testing.T, store *memory.Store, tier compliance.Tier) donor.Donor {
	t.Helper()
	d, err := store.CreateDonor(context.Background(), donor.Donor{
		Email:          "a@example.com",
		State:          "GA",
		ComplianceTier: tier,
	})
	if err != nil {
		t.Fatalf("create donor: %v", err)
	}
	return d
}

func seedActive(t *testing.T, store *memory.Store, donorID string, amount, tip int64, createdAt time.Time) {
	t.Helper()
	_, err := store.CreatePledge(context.Background(), pledge.Pledge{
		DonorID:        donorID,
		RecipientID:    "rec-1",
		DonationAmount: amount,
		TipAmount:      tip,
		CurrentStatus:  pledge.StatusActive,
		CreatedAt:      createdAt,
	}, nil)
	if err != nil {
		t.Fatalf("seed pledge: %v", err)
	}
}

func TestSubmitCreatesActivePledge(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	d := createDonor(t, store, compliance.TierVerified)

	created, err := svc.Submit(ctx, SubmitRequest{
		DonorID:        d.ID,
		RecipientID:    "rec-1",
		RecipientState: "GA",
		BillID:         "hr-1234",
		DonationAmount: 1000_00,
		TipAmount:      50_00,
		ActorID:        d.ID,
	}, testNow)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if created.CurrentStatus != pledge.StatusActive {
		t.Fatalf("new pledges start active: %s", created.CurrentStatus)
	}
	if created.TipAmount != 50_00 {
		t.Fatalf("tip under the cap passes through: %d", created.TipAmount)
	}
	if len(created.StatusLedger) != 1 {
		t.Fatalf("creation writes exactly one ledger entry: %d", len(created.StatusLedger))
	}
	entry := created.StatusLedger[0]
	if entry.PreviousStatus != pledge.StatusNone || entry.NewStatus != pledge.StatusActive {
		t.Fatalf("creation entry: %+v", entry)
	}
	if created.DonorSnapshot.ComplianceTier != compliance.TierVerified {
		t.Fatalf("snapshot tier: %s", created.DonorSnapshot.ComplianceTier)
	}
	if !created.DonorSnapshot.CapturedAt.Equal(testNow) {
		t.Fatalf("snapshot timestamp: %s", created.DonorSnapshot.CapturedAt)
	}
}

func TestSubmitRejectsOverLimit(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	d := createDonor(t, store, compliance.TierUnverified)
	seedActive(t, store, d.ID, 180_00, 0, testNow.AddDate(0, -1, 0))

	_, err := svc.Submit(ctx, SubmitRequest{
		DonorID:        d.ID,
		RecipientID:    "rec-2",
		RecipientState: "GA",
		DonationAmount: 30_00,
	}, testNow)

	var violation *limits.Violation
	if !errors.As(err, &violation) {
		t.Fatalf("expected a limit violation: %v", err)
	}
	if violation.LimitType != limits.LimitAnnualCap {
		t.Fatalf("violation type: %s", violation.LimitType)
	}

	// The rejected donation must not leave a pledge behind.
	history, err := store.ListPledgesByDonor(ctx, d.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("rejected submission persisted a pledge: %d", len(history))
	}
}

func TestSubmitIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	d := createDonor(t, store, compliance.TierUnverified)

	req := SubmitRequest{
		DonorID:        d.ID,
		RecipientID:    "rec-1",
		RecipientState: "GA",
		DonationAmount: 40_00,
		IdempotencyKey: "key-1",
	}

	first, err := svc.Submit(ctx, req, testNow)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := svc.Submit(ctx, req, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay must return the original pledge: %s vs %s", second.ID, first.ID)
	}

	// The replay did not count against any aggregate.
	history, err := store.ListPledgesByDonor(ctx, d.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("replay created a duplicate pledge: %d", len(history))
	}
	if got := limits.AnnualTotal(history, testNow); got != 40_00 {
		t.Fatalf("annual total double-counted: %d", got)
	}
}

func TestSubmitReleasesKeyOnRejection(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	d := createDonor(t, store, compliance.TierUnverified)

	req := SubmitRequest{
		DonorID:        d.ID,
		RecipientID:    "rec-1",
		RecipientState: "GA",
		DonationAmount: 60_00, // over the unverified per-donation limit
		IdempotencyKey: "key-retry",
	}
	if _, err := svc.Submit(ctx, req, testNow); err == nil {
		t.Fatalf("expected rejection")
	}

	// The key was released; a corrected retry under the same key succeeds.
	req.DonationAmount = 40_00
	if _, err := svc.Submit(ctx, req, testNow); err != nil {
		t.Fatalf("retry after rejection: %v", err)
	}
}

func TestSubmitTruncatesOverLimitTip(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	d := createDonor(t, store, compliance.TierVerified)
	seedActive(t, store, d.ID, 100_00, 4990_00, testNow.AddDate(0, -2, 0))

	created, err := svc.Submit(ctx, SubmitRequest{
		DonorID:        d.ID,
		RecipientID:    "rec-2",
		RecipientState: "GA",
		DonationAmount: 500_00,
		TipAmount:      20_00,
	}, testNow)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if created.TipAmount != 0 {
		t.Fatalf("over-limit tip must truncate to zero: %d", created.TipAmount)
	}
	if created.DonorSnapshot.ValidationFlags["tip_truncated"] != "true" {
		t.Fatalf("truncation flag missing: %+v", created.DonorSnapshot.ValidationFlags)
	}

	updated, err := store.GetDonor(ctx, d.ID)
	if err != nil {
		t.Fatalf("get donor: %v", err)
	}
	if !updated.TipLimitReached {
		t.Fatalf("sticky tip-limit flag must be set")
	}
}

func TestSubmitKeepsTipReachingLimitExactly(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	d := createDonor(t, store, compliance.TierVerified)
	seedActive(t, store, d.ID, 100_00, 4990_00, testNow.AddDate(0, -2, 0))

	created, err := svc.Submit(ctx, SubmitRequest{
		DonorID:        d.ID,
		RecipientID:    "rec-2",
		RecipientState: "GA",
		DonationAmount: 500_00,
		TipAmount:      10_00,
	}, testNow)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if created.TipAmount != 10_00 {
		t.Fatalf("a tip reaching the cap exactly is kept: %d", created.TipAmount)
	}

	updated, err := store.GetDonor(ctx, d.ID)
	if err != nil {
		t.Fatalf("get donor: %v", err)
	}
	if !updated.TipLimitReached {
		t.Fatalf("reaching the cap sets the sticky flag")
	}
}

func TestSnapshotFrozenAfterTierChange(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	d := createDonor(t, store, compliance.TierUnverified)

	created, err := svc.Submit(ctx, SubmitRequest{
		DonorID:        d.ID,
		RecipientID:    "rec-1",
		RecipientState: "GA",
		DonationAmount: 40_00,
	}, testNow)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	d.ComplianceTier = compliance.TierVerified
	if _, err := store.UpdateDonor(ctx, d); err != nil {
		t.Fatalf("promote donor: %v", err)
	}

	reloaded, err := store.GetPledge(ctx, created.ID)
	if err != nil {
		t.Fatalf("get pledge: %v", err)
	}
	if reloaded.DonorSnapshot.ComplianceTier != compliance.TierUnverified {
		t.Fatalf("snapshot must stay frozen at creation: %s", reloaded.DonorSnapshot.ComplianceTier)
	}
}

func TestSubmitInputValidation(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	d := createDonor(t, store, compliance.TierUnverified)

	cases := []SubmitRequest{
		{DonorID: d.ID, RecipientID: "rec-1", DonationAmount: 0},
		{DonorID: d.ID, RecipientID: "rec-1", DonationAmount: 10_00, TipAmount: -1},
		{DonorID: d.ID, DonationAmount: 10_00},
	}
	for i, req := range cases {
		if _, err := svc.Submit(ctx, req, testNow); err == nil {
			t.Fatalf("case %d should be rejected", i)
		}
	}
}

func TestValidateAdvisoryProjection(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	d := createDonor(t, store, compliance.TierUnverified)
	seedActive(t, store, d.ID, 180_00, 0, testNow.AddDate(0, -1, 0))

	result, err := svc.Validate(ctx, d.ID, "rec-1", "GA", compliance.TierUnverified, 30_00, testNow)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Violation == nil {
		t.Fatalf("expected advisory violation")
	}
	if result.Limits.RemainingLimit != 20_00 {
		t.Fatalf("remaining: %d", result.Limits.RemainingLimit)
	}
	if result.ClampedAmount != 20_00 {
		t.Fatalf("staged amount clamps to the remaining limit: %d", result.ClampedAmount)
	}
	if len(result.SuggestedAmounts) == 0 {
		t.Fatalf("suggestions missing")
	}
	for _, amount := range result.SuggestedAmounts {
		if amount > result.Limits.RemainingLimit {
			t.Fatalf("suggestion %d exceeds the remaining limit", amount)
		}
	}
}

package tips

import (
	"context"
	"testing"
	"time"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
	"github.com/pledgeworks/celebrate/internal/app/domain/donor"
	"github.com/pledgeworks/celebrate/internal/app/domain/pledge"
	"github.com/pledgeworks/celebrate/internal/app/storage/memory"
)

var testNow = time.Date(2026, time.March, 15, 10, 0, 0, 0, compliance.Eastern())

func tipPledge(status pledge.Status, tip int64, createdAt time.Time) pledge.Pledge {
	return pledge.Pledge{
		RecipientID:    "rec-1",
		DonationAmount: 10_00,
		TipAmount:      tip,
		CurrentStatus:  status,
		CreatedAt:      createdAt,
	}
}

func TestApplyTip(t *testing.T) {
	// Reaching the ceiling exactly keeps the tip and raises the flag.
	accepted, reached := ApplyTip(4990_00, 10_00)
	if accepted != 10_00 || !reached {
		t.Fatalf("exact reach: accepted=%d reached=%v", accepted, reached)
	}

	// Exceeding the ceiling truncates the tip to zero; the flag is still
	// raised. The base donation is never rejected for this.
	accepted, reached = ApplyTip(4990_00, 20_00)
	if accepted != 0 || !reached {
		t.Fatalf("overflow: accepted=%d reached=%v", accepted, reached)
	}

	// Under the ceiling the tip passes through.
	accepted, reached = ApplyTip(100_00, 20_00)
	if accepted != 20_00 || reached {
		t.Fatalf("under limit: accepted=%d reached=%v", accepted, reached)
	}

	// Zero and negative tips are a no-op.
	if accepted, reached := ApplyTip(4999_99, 0); accepted != 0 || reached {
		t.Fatalf("zero tip: accepted=%d reached=%v", accepted, reached)
	}
}

func TestAnnualTipTotalExclusions(t *testing.T) {
	lastYear := testNow.AddDate(-1, 0, 0)
	history := []pledge.Pledge{
		tipPledge(pledge.StatusActive, 30_00, testNow),
		tipPledge(pledge.StatusResolved, 40_00, testNow), // resolved excluded from the tip aggregate
		tipPledge(pledge.StatusPaused, 50_00, testNow),
		tipPledge(pledge.StatusDefunct, 60_00, testNow),
		tipPledge(pledge.StatusActive, 70_00, lastYear),
	}
	if got := AnnualTipTotal(history, testNow); got != 30_00 {
		t.Fatalf("tip total: got %d, want 3000", got)
	}
}

func TestSummaryFor(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	d, err := store.CreateDonor(ctx, donor.Donor{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("create donor: %v", err)
	}

	seed := tipPledge(pledge.StatusActive, 4900_00, testNow.AddDate(0, -1, 0))
	seed.DonorID = d.ID
	if _, err := store.CreatePledge(ctx, seed, nil); err != nil {
		t.Fatalf("seed pledge: %v", err)
	}

	svc := New(store, store, nil)
	summary, err := svc.SummaryFor(ctx, d.ID, testNow)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.PacLimit != PacAnnualLimit {
		t.Fatalf("pac limit: %d", summary.PacLimit)
	}
	if summary.CurrentPACTotal != 4900_00 || summary.RemainingPACLimit != 100_00 {
		t.Fatalf("totals: %+v", summary)
	}
	if summary.PacLimitExceeded || !summary.IsCompliant {
		t.Fatalf("under the cap: %+v", summary)
	}

	// The sticky donor flag marks the summary as exceeded even when the
	// live aggregate is under the cap.
	if err := store.SetTipLimitReached(ctx, d.ID, true); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	summary, err = svc.SummaryFor(ctx, d.ID, testNow)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !summary.PacLimitExceeded {
		t.Fatalf("sticky flag should mark the summary exceeded: %+v", summary)
	}
}

func TestResetSchedulerRun(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for i := 0; i < 3; i++ {
		d, err := store.CreateDonor(ctx, donor.Donor{Email: "x@example.com"})
		if err != nil {
			t.Fatalf("create donor: %v", err)
		}
		if i < 2 {
			if err := store.SetTipLimitReached(ctx, d.ID, true); err != nil {
				t.Fatalf("set flag: %v", err)
			}
		}
	}

	NewResetScheduler(store, nil).Run(ctx)

	donors, err := store.ListDonors(ctx)
	if err != nil {
		t.Fatalf("list donors: %v", err)
	}
	for _, d := range donors {
		if d.TipLimitReached {
			t.Fatalf("donor %s flag not cleared", d.ID)
		}
	}
}

package pledges

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
	"github.com/pledgeworks/celebrate/internal/app/domain/donor"
	"github.com/pledgeworks/celebrate/internal/app/domain/pledge"
	"github.com/pledgeworks/celebrate/internal/app/storage/memory"
)

var testNow = time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC)

func seedPledge(t *testing.T, store *memory.Store, donorID string) pledge.Pledge {
	t.Helper()
	p, err := store.CreatePledge(context.Background(), pledge.Pledge{
		DonorID:        donorID,
		RecipientID:    "rec-1",
		DonationAmount: 25_00,
		CurrentStatus:  pledge.StatusActive,
		CreatedAt:      testNow.AddDate(0, 0, -10),
		DonorSnapshot:  pledge.DonorSnapshot{DonorID: donorID, ComplianceTier: compliance.TierUnverified},
		StatusLedger: []pledge.StatusLedgerEntry{{
			PreviousStatus: pledge.StatusNone,
			NewStatus:      pledge.StatusActive,
			Timestamp:      testNow.AddDate(0, 0, -10),
			Reason:         "celebration created",
			TriggerSource:  pledge.TriggerUser,
		}},
	}, nil)
	if err != nil {
		t.Fatalf("seed pledge: %v", err)
	}
	return p
}

func newService(t *testing.T) (*Service, *memory.Store, donor.Donor) {
	t.Helper()
	store := memory.New()
	d, err := store.CreateDonor(context.Background(), donor.Donor{
		Email:          "a@example.com",
		ComplianceTier: compliance.TierVerified,
	})
	if err != nil {
		t.Fatalf("create donor: %v", err)
	}
	return New(store, store, nil, nil), store, d
}

func TestPauseResumeResolve(t *testing.T) {
	ctx := context.Background()
	svc, store, d := newService(t)
	p := seedPledge(t, store, d.ID)

	paused, err := svc.Pause(ctx, p.ID, TransitionInput{
		Reason:        "donor requested pause",
		TriggerSource: pledge.TriggerUser,
		ActorID:       d.ID,
	}, testNow)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.CurrentStatus != pledge.StatusPaused || !paused.Paused {
		t.Fatalf("status and flag must agree: %+v", paused)
	}
	if len(paused.StatusLedger) != 2 {
		t.Fatalf("one entry per transition: %d", len(paused.StatusLedger))
	}
	last := paused.StatusLedger[1]
	if last.PreviousStatus != pledge.StatusActive || last.NewStatus != pledge.StatusPaused {
		t.Fatalf("ledger pair: %+v", last)
	}
	if last.ComplianceTier != compliance.TierVerified {
		t.Fatalf("entry records the donor's live tier: %s", last.ComplianceTier)
	}

	resumed, err := svc.Activate(ctx, p.ID, TransitionInput{TriggerSource: pledge.TriggerUser}, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.CurrentStatus != pledge.StatusActive || resumed.Paused {
		t.Fatalf("resume state: %+v", resumed)
	}

	resolved, err := svc.Resolve(ctx, p.ID, TransitionInput{
		Reason:        "bill passed",
		TriggerSource: pledge.TriggerSystem,
		Metadata:      map[string]string{"bill": "hr-1234"},
	}, testNow.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.CurrentStatus != pledge.StatusResolved || !resolved.Resolved {
		t.Fatalf("resolve state: %+v", resolved)
	}
}

func TestInvalidTransitionLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	svc, store, d := newService(t)
	p := seedPledge(t, store, d.ID)

	if _, err := svc.Resolve(ctx, p.ID, TransitionInput{TriggerSource: pledge.TriggerSystem}, testNow); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	_, err := svc.Activate(ctx, p.ID, TransitionInput{TriggerSource: pledge.TriggerUser}, testNow)
	var invalid *pledge.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("resolved -> active must be rejected: %v", err)
	}
	if invalid.From != pledge.StatusResolved || invalid.To != pledge.StatusActive {
		t.Fatalf("error names the pair: %+v", invalid)
	}

	current, err := svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.CurrentStatus != pledge.StatusResolved {
		t.Fatalf("status changed on a rejected transition: %s", current.CurrentStatus)
	}
	if len(current.StatusLedger) != 2 {
		t.Fatalf("no ledger entry on a rejected transition: %d", len(current.StatusLedger))
	}
}

func TestMakeDefunctBulk(t *testing.T) {
	ctx := context.Background()
	svc, store, d := newService(t)

	active := seedPledge(t, store, d.ID)
	pausedSeed := seedPledge(t, store, d.ID)
	if _, err := svc.Pause(ctx, pausedSeed.ID, TransitionInput{TriggerSource: pledge.TriggerUser}, testNow); err != nil {
		t.Fatalf("pause: %v", err)
	}
	resolvedSeed := seedPledge(t, store, d.ID)
	if _, err := svc.Resolve(ctx, resolvedSeed.ID, TransitionInput{TriggerSource: pledge.TriggerSystem}, testNow); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	count, err := svc.MakeDefunctBulk(ctx, map[string]string{"session": "119th"}, testNow)
	if err != nil {
		t.Fatalf("bulk defunct: %v", err)
	}
	if count != 2 {
		t.Fatalf("active and paused age out, resolved does not: %d", count)
	}

	for _, id := range []string{active.ID, pausedSeed.ID} {
		p, err := svc.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if p.CurrentStatus != pledge.StatusDefunct || !p.Defunct {
			t.Fatalf("pledge %s: %+v", id, p)
		}
		last := p.StatusLedger[len(p.StatusLedger)-1]
		if last.TriggerSource != pledge.TriggerSession {
			t.Fatalf("session transitions carry the session trigger: %s", last.TriggerSource)
		}
		if last.Metadata["session"] != "119th" {
			t.Fatalf("session metadata missing: %+v", last.Metadata)
		}
	}

	untouched, err := svc.Get(ctx, resolvedSeed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if untouched.CurrentStatus != pledge.StatusResolved {
		t.Fatalf("resolved pledge must survive the sweep: %s", untouched.CurrentStatus)
	}
}

func TestHistoryOrderAndBound(t *testing.T) {
	ctx := context.Background()
	svc, store, d := newService(t)
	p := seedPledge(t, store, d.ID)

	if _, err := svc.Pause(ctx, p.ID, TransitionInput{TriggerSource: pledge.TriggerUser}, testNow); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := svc.Activate(ctx, p.ID, TransitionInput{TriggerSource: pledge.TriggerUser}, testNow.Add(time.Hour)); err != nil {
		t.Fatalf("resume: %v", err)
	}

	entries, err := svc.History(ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("full history: %d", len(entries))
	}
	if entries[0].NewStatus != pledge.StatusActive || entries[1].NewStatus != pledge.StatusPaused {
		t.Fatalf("history must be most-recent-first: %+v", entries)
	}

	bounded, err := svc.History(ctx, p.ID, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(bounded) != 2 {
		t.Fatalf("bounded history: %d", len(bounded))
	}
}

func TestDurations(t *testing.T) {
	ctx := context.Background()
	svc, store, d := newService(t)
	p := seedPledge(t, store, d.ID) // created 10 days before testNow

	pauseAt := testNow.AddDate(0, 0, -3)
	if _, err := svc.Pause(ctx, p.ID, TransitionInput{TriggerSource: pledge.TriggerUser}, pauseAt); err != nil {
		t.Fatalf("pause: %v", err)
	}

	info, err := svc.Durations(ctx, p.ID, testNow)
	if err != nil {
		t.Fatalf("durations: %v", err)
	}
	if info.CurrentStatus != pledge.StatusPaused {
		t.Fatalf("current status: %s", info.CurrentStatus)
	}
	if info.DaysInStatus != 3 {
		t.Fatalf("days in status: %d", info.DaysInStatus)
	}
	if info.LifetimeDays != 10 {
		t.Fatalf("lifetime days: %d", info.LifetimeDays)
	}
	if !info.StatusSince.Equal(pauseAt) {
		t.Fatalf("status since: %s", info.StatusSince)
	}
}

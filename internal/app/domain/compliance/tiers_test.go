package compliance

import (
	"testing"
	"time"
)

func TestLimitsFor(t *testing.T) {
	l, ok := LimitsFor(TierVerified)
	if !ok {
		t.Fatalf("verified tier should resolve")
	}
	if l.PerDonationLimit != 3500_00 || l.PerElectionLimit != 3500_00 {
		t.Fatalf("unexpected verified limits: %+v", l)
	}
	if l.ResetType != ResetElectionCycle {
		t.Fatalf("verified tier should reset per election cycle: %s", l.ResetType)
	}

	l, ok = LimitsFor(Tier("premium"))
	if ok {
		t.Fatalf("unknown tier should not resolve cleanly")
	}
	if l.PerDonationLimit != 50_00 || l.AnnualCap != 200_00 {
		t.Fatalf("unknown tier should degrade to unverified limits: %+v", l)
	}
}

func TestEffectiveTier(t *testing.T) {
	cases := []struct {
		user, form, want Tier
	}{
		{TierUnverified, TierUnverified, TierUnverified},
		{TierUnverified, TierVerified, TierVerified},
		{TierVerified, TierUnverified, TierVerified},
		{TierVerified, TierVerified, TierVerified},
		{Tier("legacy-gold"), TierUnverified, TierUnverified},
		{TierUnverified, Tier(""), TierUnverified},
		{Tier(""), Tier(""), TierUnverified},
	}
	for _, c := range cases {
		if got := EffectiveTier(c.user, c.form); got != c.want {
			t.Fatalf("EffectiveTier(%q, %q) = %q, want %q", c.user, c.form, got, c.want)
		}
	}
}

func TestTierHierarchy(t *testing.T) {
	if LowestTier() != TierUnverified {
		t.Fatalf("lowest tier: %s", LowestTier())
	}
	if HighestTier() != TierVerified {
		t.Fatalf("highest tier: %s", HighestTier())
	}
	if !IsKnown(TierVerified) || IsKnown(Tier("vip")) {
		t.Fatalf("IsKnown misclassified a tier")
	}
}

func TestCivilYearBoundary(t *testing.T) {
	// 03:00 UTC on Jan 1 is still Dec 31 in Eastern time.
	utcNewYear := time.Date(2025, time.January, 1, 3, 0, 0, 0, time.UTC)
	if CivilYear(utcNewYear) != 2024 {
		t.Fatalf("civil year should still be 2024: %d", CivilYear(utcNewYear))
	}

	easternNewYear := time.Date(2025, time.January, 1, 0, 0, 0, 0, Eastern())
	if CivilYear(easternNewYear) != 2025 {
		t.Fatalf("civil year at the exact boundary should be 2025: %d", CivilYear(easternNewYear))
	}

	if SameCivilYear(utcNewYear, easternNewYear) {
		t.Fatalf("instants straddling the Eastern boundary are different civil years")
	}
}

func TestAnnualResetDates(t *testing.T) {
	now := time.Date(2024, time.July, 4, 12, 0, 0, 0, Eastern())
	next := NextAnnualReset(now)
	want := time.Date(2025, time.January, 1, 0, 0, 0, 0, Eastern())
	if !next.Equal(want) {
		t.Fatalf("next reset: got %s, want %s", next, want)
	}
	following := FollowingAnnualReset(now)
	if following.Year() != 2026 {
		t.Fatalf("following reset year: %d", following.Year())
	}

	// A donation at the exact reset instant belongs to the new year.
	if SameCivilYear(now, next) {
		t.Fatalf("the reset instant starts the new civil year")
	}
}

// Package compliance defines the contribution-limit tiers and the rules for
// resolving a donor's effective tier.
package compliance

// Tier identifies a contribution-limit regime applied to a donor.
type Tier string

const (
	TierUnverified Tier = "unverified"
	TierVerified   Tier = "verified"
)

// ResetType names the boundary at which an aggregate limit resets.
type ResetType string

const (
	ResetCalendarYear  ResetType = "calendar-year"
	ResetElectionCycle ResetType = "election-cycle"
)

// hierarchy orders tiers from least to most privileged. Effective-tier
// resolution and the extremum queries index into this slice.
var hierarchy = []Tier{TierUnverified, TierVerified}

// Limits describes the contribution limits for one tier. Amounts are in
// cents. AnnualCap and PerElectionLimit are zero when the tier does not use
// them.
type Limits struct {
	PerDonationLimit int64
	AnnualCap        int64
	PerElectionLimit int64
	ResetType        ResetType
	Suggested        []int64
}

// LimitTable maps each tier to its limits. Adding a tier is a data change,
// not a new code path.
var LimitTable = map[Tier]Limits{
	TierUnverified: {
		PerDonationLimit: 50_00,
		AnnualCap:        200_00,
		ResetType:        ResetCalendarYear,
		Suggested:        []int64{5_00, 10_00, 25_00, 50_00},
	},
	TierVerified: {
		PerDonationLimit: 3500_00,
		PerElectionLimit: 3500_00,
		ResetType:        ResetElectionCycle,
		Suggested:        []int64{100_00, 250_00, 1000_00, 3500_00},
	},
}

// LimitsFor returns the limit row for a tier. Unknown tier names (legacy
// data) degrade to the unverified tier; the second return reports whether
// the tier resolved cleanly.
func LimitsFor(tier Tier) (Limits, bool) {
	if l, ok := LimitTable[tier]; ok {
		return l, true
	}
	return LimitTable[TierUnverified], false
}

// index returns the hierarchy position of a tier, or -1 when unknown.
func index(tier Tier) int {
	for i, t := range hierarchy {
		if t == tier {
			return i
		}
	}
	return -1
}

// EffectiveTier resolves the tier to enforce for a donation: the higher of
// the donor's stored tier and the tier claimed by the in-progress form.
// Unknown names count as unverified rather than erroring.
func EffectiveTier(userTier, formTier Tier) Tier {
	u := index(userTier)
	f := index(formTier)
	if u < 0 {
		u = 0
	}
	if f < 0 {
		f = 0
	}
	if f > u {
		return hierarchy[f]
	}
	return hierarchy[u]
}

// LowestTier returns the least privileged tier in the hierarchy.
func LowestTier() Tier { return hierarchy[0] }

// HighestTier returns the most privileged tier in the hierarchy.
func HighestTier() Tier { return hierarchy[len(hierarchy)-1] }

// IsKnown reports whether the tier name appears in the hierarchy.
func IsKnown(tier Tier) bool { return index(tier) >= 0 }

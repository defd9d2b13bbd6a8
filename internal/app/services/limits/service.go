// Package limits computes effective and remaining contribution limits and
// validates attempted donations against the tier rules. Server-side values
// are authoritative; any client-computed figure is advisory only.
package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
	"github.com/pledgeworks/celebrate/internal/app/domain/pledge"
	"github.com/pledgeworks/celebrate/internal/app/services/elections"
	"github.com/pledgeworks/celebrate/internal/app/storage"
	"github.com/pledgeworks/celebrate/pkg/logger"
)

// Summary is the client-facing limit projection. It is read-only; nothing
// in it is trusted for enforcement.
type Summary struct {
	ComplianceTier compliance.Tier      `json:"compliance_tier"`
	ResetType      compliance.ResetType `json:"reset_type"`
	ResetDate      time.Time            `json:"reset_date"`
	EffectiveLimit int64                `json:"effective_limit"`
	RemainingLimit int64                `json:"remaining_limit"`
	NextResetDate  time.Time            `json:"next_reset_date"`
}

// Service is the limit engine.
type Service struct {
	donors  storage.DonorStore
	pledges storage.PledgeStore
	cycles  *elections.Calculator
	log     *logger.Logger
}

// New constructs a limit engine.
func New(donors storage.DonorStore, pledges storage.PledgeStore, cycles *elections.Calculator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("limits")
	}
	return &Service{donors: donors, pledges: pledges, cycles: cycles, log: log}
}

// resolveTier maps a tier name to its limit row, falling back to the
// unverified tier for corrupt or legacy names rather than failing the
// request. The degradation is logged so discrepancies can be audited.
func (s *Service) resolveTier(tier compliance.Tier) (compliance.Tier, compliance.Limits) {
	l, ok := compliance.LimitsFor(tier)
	if !ok {
		s.log.WithField("tier", string(tier)).Warn("unrecognized compliance tier; falling back to unverified limits")
		return compliance.TierUnverified, l
	}
	return tier, l
}

// WouldExceedLimits reports whether the attempted amount would cross any
// limit for the tier, given the current aggregate totals.
func WouldExceedLimits(tier compliance.Tier, amount, annualTotal, electionTotal int64) bool {
	return LimitInfoFor(tier, amount, annualTotal, electionTotal) != nil
}

// LimitInfoFor returns the violated limit for the attempted amount, or nil
// when the donation is compliant. The per-donation check runs first; the
// tier-appropriate aggregate check follows.
func LimitInfoFor(tier compliance.Tier, amount, annualTotal, electionTotal int64) *Violation {
	limits, _ := compliance.LimitsFor(tier)

	if amount > limits.PerDonationLimit {
		return &Violation{
			LimitType: LimitPerDonation,
			Amount:    limits.PerDonationLimit,
			Scope:     ScopePerDonation,
			Message: fmt.Sprintf("donation of %s exceeds the %s per-donation limit",
				Dollars(amount), Dollars(limits.PerDonationLimit)),
		}
	}
	if limits.AnnualCap > 0 && annualTotal+amount > limits.AnnualCap {
		return &Violation{
			LimitType: LimitAnnualCap,
			Amount:    limits.AnnualCap,
			Scope:     ScopeAnnualAggregate,
			Message: fmt.Sprintf("donation of %s would exceed the %s annual contribution cap (%s already donated this year)",
				Dollars(amount), Dollars(limits.AnnualCap), Dollars(annualTotal)),
		}
	}
	if limits.PerElectionLimit > 0 && electionTotal+amount > limits.PerElectionLimit {
		return &Violation{
			LimitType: LimitPerElection,
			Amount:    limits.PerElectionLimit,
			Scope:     ScopePerCandidate,
			Message: fmt.Sprintf("donation of %s would exceed the %s per-candidate limit for this election cycle (%s already donated)",
				Dollars(amount), Dollars(limits.PerElectionLimit), Dollars(electionTotal)),
		}
	}
	return nil
}

// AnnualTotal sums donation amounts across the donor's pledges created in
// the current Eastern calendar year, excluding defunct and paused pledges.
func AnnualTotal(history []pledge.Pledge, now time.Time) int64 {
	var total int64
	for _, p := range history {
		if !p.CountsTowardDonationLimits() {
			continue
		}
		if !compliance.SameCivilYear(p.CreatedAt, now) {
			continue
		}
		total += p.DonationAmount
	}
	return total
}

// electionTotal sums donation amounts to one recipient inside the cycle
// window. When the cycle came from fallback dates the window is not
// trustworthy, so the legacy calendar-year scoping applies instead; the
// caller logs that degradation.
func electionTotal(history []pledge.Pledge, recipientID string, cycle elections.Cycle, now time.Time) (int64, bool) {
	legacy := cycle.Source == elections.SourceFallback
	var total int64
	for _, p := range history {
		if !p.CountsTowardDonationLimits() || p.RecipientID != recipientID {
			continue
		}
		if legacy {
			if compliance.SameCivilYear(p.CreatedAt, now) {
				total += p.DonationAmount
			}
			continue
		}
		if cycle.Contains(p.CreatedAt) {
			total += p.DonationAmount
		}
	}
	return total, legacy
}

// ElectionTotal is the exported cycle-scoped aggregate for one recipient.
func (s *Service) ElectionTotal(history []pledge.Pledge, recipientID string, cycle elections.Cycle, now time.Time) int64 {
	total, legacy := electionTotal(history, recipientID, cycle, now)
	if legacy {
		s.log.WithField("recipient", recipientID).
			Warn("election cycle data degraded; using legacy calendar-year scoping for per-candidate limit")
	}
	return total
}

// CheckAgainst validates an attempted amount against a pledge history. It
// is the single rule path used both for advisory validation and for the
// serialized re-check inside the store at creation time.
func (s *Service) CheckAgainst(history []pledge.Pledge, tier compliance.Tier, recipientID string, cycle elections.Cycle, amount int64, now time.Time) *Violation {
	tier, _ = s.resolveTier(tier)
	annual := AnnualTotal(history, now)
	election := s.ElectionTotal(history, recipientID, cycle, now)
	return LimitInfoFor(tier, amount, annual, election)
}

// remaining computes the suggested remaining limit for a tier given the
// aggregate totals. It never exceeds the per-donation limit and never goes
// negative.
func remaining(limits compliance.Limits, annualTotal, electionTotal int64) int64 {
	rem := limits.PerDonationLimit
	if limits.AnnualCap > 0 {
		if left := limits.AnnualCap - annualTotal; left < rem {
			rem = left
		}
	}
	if limits.PerElectionLimit > 0 {
		if left := limits.PerElectionLimit - electionTotal; left < rem {
			rem = left
		}
	}
	if rem < 0 {
		rem = 0
	}
	return rem
}

// ClampStaged caps a staged donation amount to the remaining limit. The
// staged amount is a dependent value: switching recipients recomputes the
// remaining limit and the staged amount follows it down.
func ClampStaged(staged, remainingLimit int64) int64 {
	if staged > remainingLimit {
		return remainingLimit
	}
	return staged
}

// SuggestedAmounts returns the tier's fixed suggestion list, each entry
// capped to the live remaining limit, with non-positive and duplicate
// entries dropped.
func SuggestedAmounts(tier compliance.Tier, remainingLimit int64) []int64 {
	limits, _ := compliance.LimitsFor(tier)
	out := make([]int64, 0, len(limits.Suggested))
	seen := make(map[int64]bool, len(limits.Suggested))
	for _, amount := range limits.Suggested {
		if amount > remainingLimit {
			amount = remainingLimit
		}
		if amount <= 0 || seen[amount] {
			continue
		}
		seen[amount] = true
		out = append(out, amount)
	}
	return out
}

// SummaryFor computes the client-facing limit projection for a donor,
// scoped to the selected recipient for cycle-reset tiers.
func (s *Service) SummaryFor(ctx context.Context, donorID, recipientID, state string, formTier compliance.Tier, now time.Time) (Summary, elections.Cycle, error) {
	d, err := s.donors.GetDonor(ctx, donorID)
	if err != nil {
		return Summary{}, elections.Cycle{}, err
	}

	tier := compliance.EffectiveTier(d.ComplianceTier, formTier)
	tier, limits := s.resolveTier(tier)

	history, err := s.pledges.ListPledgesByDonor(ctx, donorID)
	if err != nil {
		return Summary{}, elections.Cycle{}, err
	}

	cycle := s.cycles.CycleFor(state, now)
	annual := AnnualTotal(history, now)
	election := s.ElectionTotal(history, recipientID, cycle, now)

	summary := Summary{
		ComplianceTier: tier,
		ResetType:      limits.ResetType,
		EffectiveLimit: limits.PerDonationLimit,
		RemainingLimit: remaining(limits, annual, election),
	}
	switch limits.ResetType {
	case compliance.ResetElectionCycle:
		summary.ResetDate = cycle.CycleEnd
		summary.NextResetDate = cycle.NextElectionDate
	default:
		summary.ResetDate = compliance.NextAnnualReset(now)
		summary.NextResetDate = compliance.FollowingAnnualReset(now)
	}
	return summary, cycle, nil
}

// Validate runs the full server-side limit check for an attempted donation.
// It returns the violation (nil when compliant) alongside the summary used,
// so callers can surface both.
func (s *Service) Validate(ctx context.Context, donorID, recipientID, state string, formTier compliance.Tier, amount int64, now time.Time) (*Violation, Summary, error) {
	if amount <= 0 {
		return &Violation{
			LimitType: LimitPerDonation,
			Amount:    0,
			Scope:     ScopePerDonation,
			Message:   "donation amount must be positive",
		}, Summary{}, nil
	}

	summary, cycle, err := s.SummaryFor(ctx, donorID, recipientID, state, formTier, now)
	if err != nil {
		return nil, Summary{}, err
	}

	history, err := s.pledges.ListPledgesByDonor(ctx, donorID)
	if err != nil {
		return nil, Summary{}, err
	}

	violation := s.CheckAgainst(history, summary.ComplianceTier, recipientID, cycle, amount, now)
	return violation, summary, nil
}

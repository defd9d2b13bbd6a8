// Package tips tracks the aggregate annual cap on optional tip
// contributions (the PAC limit). The cap is independent of compliance tier
// and shared across all recipients.
package tips

import (
	"context"
	"time"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
	"github.com/pledgeworks/celebrate/internal/app/domain/pledge"
	"github.com/pledgeworks/celebrate/internal/app/storage"
	"github.com/pledgeworks/celebrate/pkg/logger"
)

// PacAnnualLimit is the fixed yearly ceiling on cumulative tips, in cents.
const PacAnnualLimit int64 = 5000_00

// Summary is the client-facing PAC projection.
type Summary struct {
	PacLimit          int64 `json:"pac_limit"`
	CurrentPACTotal   int64 `json:"current_pac_total"`
	PacLimitExceeded  bool  `json:"pac_limit_exceeded"`
	RemainingPACLimit int64 `json:"remaining_pac_limit"`
	IsCompliant       bool  `json:"is_compliant"`
}

// Service is the PAC limit tracker.
type Service struct {
	donors  storage.DonorStore
	pledges storage.PledgeStore
	log     *logger.Logger
}

// New constructs a PAC limit tracker.
func New(donors storage.DonorStore, pledges storage.PledgeStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tips")
	}
	return &Service{donors: donors, pledges: pledges, log: log}
}

// AnnualTipTotal sums tip amounts across pledges created in the current
// Eastern calendar year, excluding resolved, defunct and paused pledges.
func AnnualTipTotal(history []pledge.Pledge, now time.Time) int64 {
	var total int64
	for _, p := range history {
		if !p.CountsTowardTipLimit() {
			continue
		}
		if !compliance.SameCivilYear(p.CreatedAt, now) {
			continue
		}
		total += p.TipAmount
	}
	return total
}

// ApplyTip decides what happens to a new tip given the cumulative total:
//
//   - The tip reaches the ceiling exactly: it is kept and the sticky
//     tip-limit flag must be set.
//   - The tip would strictly exceed the ceiling: it is truncated to zero
//     (the base donation still proceeds) and the flag is set. A donation is
//     never rejected solely because its optional tip is over-limit.
//   - Otherwise the tip is kept unchanged.
func ApplyTip(currentTotal, tip int64) (accepted int64, reachesLimit bool) {
	if tip <= 0 {
		return 0, false
	}
	switch {
	case currentTotal+tip > PacAnnualLimit:
		return 0, true
	case currentTotal+tip == PacAnnualLimit:
		return tip, true
	default:
		return tip, false
	}
}

// SummaryFor computes the PAC projection for a donor.
func (s *Service) SummaryFor(ctx context.Context, donorID string, now time.Time) (Summary, error) {
	d, err := s.donors.GetDonor(ctx, donorID)
	if err != nil {
		return Summary{}, err
	}

	history, err := s.pledges.ListPledgesByDonor(ctx, donorID)
	if err != nil {
		return Summary{}, err
	}

	total := AnnualTipTotal(history, now)
	rem := PacAnnualLimit - total
	if rem < 0 {
		rem = 0
	}
	return Summary{
		PacLimit:          PacAnnualLimit,
		CurrentPACTotal:   total,
		PacLimitExceeded:  d.TipLimitReached || total >= PacAnnualLimit,
		RemainingPACLimit: rem,
		IsCompliant:       total <= PacAnnualLimit,
	}, nil
}

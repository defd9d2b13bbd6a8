// Package donations orchestrates donation submission: server-side limit
// re-validation, PAC tip handling, donor snapshotting and atomic pledge
// creation. Client-side validation results are advisory only; every
// approval is re-checked here inside the store's critical section.
package donations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
	"github.com/pledgeworks/celebrate/internal/app/domain/pledge"
	"github.com/pledgeworks/celebrate/internal/app/metrics"
	"github.com/pledgeworks/celebrate/internal/app/services/elections"
	"github.com/pledgeworks/celebrate/internal/app/services/limits"
	"github.com/pledgeworks/celebrate/internal/app/services/notify"
	"github.com/pledgeworks/celebrate/internal/app/services/tips"
	"github.com/pledgeworks/celebrate/internal/app/storage"
	"github.com/pledgeworks/celebrate/pkg/logger"
)

// SubmitRequest is a donation submission. Amounts are in cents. The audit
// trail fields are supplied by the I/O shell, never computed here.
type SubmitRequest struct {
	DonorID        string
	RecipientID    string
	RecipientState string
	BillID         string
	DonationAmount int64
	TipAmount      int64
	Fee            int64
	FormTier       compliance.Tier
	IdempotencyKey string
	ActorID        string
	ActorName      string
	Audit          pledge.AuditTrail
}

// ValidationResult is the advisory projection returned to clients staging
// a donation. Nothing in it is trusted at submission time.
type ValidationResult struct {
	Violation        *limits.Violation `json:"violation,omitempty"`
	Limits           limits.Summary    `json:"limits"`
	Pac              tips.Summary      `json:"pac"`
	ClampedAmount    int64             `json:"clamped_amount"`
	SuggestedAmounts []int64           `json:"suggested_amounts"`
}

// Service coordinates the limit engine, PAC tracker and pledge store.
type Service struct {
	donors      storage.DonorStore
	pledges     storage.PledgeStore
	idempotency storage.IdempotencyStore
	limits      *limits.Service
	tips        *tips.Service
	cycles      *elections.Calculator
	notifier    notify.Sink
	log         *logger.Logger
}

// New constructs the donation service.
func New(donors storage.DonorStore, pledges storage.PledgeStore, idempotency storage.IdempotencyStore,
	limitEngine *limits.Service, pacTracker *tips.Service, cycles *elections.Calculator,
	notifier notify.Sink, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("donations")
	}
	if notifier == nil {
		notifier = notify.NewLogSink(log)
	}
	return &Service{
		donors:      donors,
		pledges:     pledges,
		idempotency: idempotency,
		limits:      limitEngine,
		tips:        pacTracker,
		cycles:      cycles,
		notifier:    notifier,
		log:         log,
	}
}

// Validate stages a donation: it runs the full limit check and returns the
// advisory projection, including the amount clamped to the selected
// recipient's remaining limit.
func (s *Service) Validate(ctx context.Context, donorID, recipientID, state string, formTier compliance.Tier, amount int64, now time.Time) (ValidationResult, error) {
	violation, summary, err := s.limits.Validate(ctx, donorID, recipientID, state, formTier, amount, now)
	if err != nil {
		return ValidationResult{}, err
	}
	pac, err := s.tips.SummaryFor(ctx, donorID, now)
	if err != nil {
		return ValidationResult{}, err
	}
	return ValidationResult{
		Violation:        violation,
		Limits:           summary,
		Pac:              pac,
		ClampedAmount:    limits.ClampStaged(amount, summary.RemainingLimit),
		SuggestedAmounts: limits.SuggestedAmounts(summary.ComplianceTier, summary.RemainingLimit),
	}, nil
}

// Submit creates a pledge after re-validating every limit server-side.
// Replaying a request with the same idempotency key returns the original
// pledge without re-counting against any aggregate.
func (s *Service) Submit(ctx context.Context, req SubmitRequest, now time.Time) (pledge.Pledge, error) {
	if req.DonationAmount <= 0 {
		return pledge.Pledge{}, fmt.Errorf("donation amount must be positive")
	}
	if req.TipAmount < 0 {
		return pledge.Pledge{}, fmt.Errorf("tip amount must not be negative")
	}
	if req.RecipientID == "" {
		return pledge.Pledge{}, fmt.Errorf("recipient is required")
	}

	if req.IdempotencyKey != "" {
		existingID, fresh, err := s.idempotency.ReserveKey(ctx, req.IdempotencyKey)
		if err != nil {
			return pledge.Pledge{}, err
		}
		if !fresh {
			s.log.WithField("key", req.IdempotencyKey).Info("idempotent replay; returning original pledge")
			metrics.DonationReplayed()
			return s.pledges.GetPledge(ctx, existingID)
		}
	}

	created, err := s.submit(ctx, req, now)
	if req.IdempotencyKey != "" {
		if err != nil {
			if releaseErr := s.idempotency.ReleaseKey(ctx, req.IdempotencyKey); releaseErr != nil {
				s.log.WithError(releaseErr).Warn("release idempotency key failed")
			}
		} else if bindErr := s.idempotency.BindKey(ctx, req.IdempotencyKey, created.ID); bindErr != nil {
			s.log.WithError(bindErr).Warn("bind idempotency key failed")
		}
	}
	return created, err
}

func (s *Service) submit(ctx context.Context, req SubmitRequest, now time.Time) (pledge.Pledge, error) {
	d, err := s.donors.GetDonor(ctx, req.DonorID)
	if err != nil {
		return pledge.Pledge{}, err
	}

	tier := compliance.EffectiveTier(d.ComplianceTier, req.FormTier)
	cycle := s.cycles.CycleFor(req.RecipientState, now)

	snapshot := pledge.DonorSnapshot{
		DonorID:         d.ID,
		ComplianceTier:  tier,
		State:           d.State,
		TipLimitReached: d.TipLimitReached,
		FECCompliant:    true,
		CapturedAt:      now,
	}

	candidate := pledge.Pledge{
		ID:             uuid.NewString(),
		DonorID:        req.DonorID,
		RecipientID:    req.RecipientID,
		BillID:         req.BillID,
		DonationAmount: req.DonationAmount,
		TipAmount:      req.TipAmount,
		Fee:            req.Fee,
		DonorSnapshot:  snapshot,
		CurrentStatus:  pledge.StatusActive,
		CreatedAt:      now,
		StatusLedger: []pledge.StatusLedgerEntry{{
			PreviousStatus: pledge.StatusNone,
			NewStatus:      pledge.StatusActive,
			Timestamp:      now,
			Reason:         "celebration created",
			TriggerSource:  pledge.TriggerUser,
			ActorID:        req.ActorID,
			ActorName:      req.ActorName,
			ComplianceTier: tier,
			FECCompliant:   true,
			Audit:          req.Audit,
		}},
	}

	// Both the limit re-check and the tip decision run inside the store's
	// critical section against the persisted history, so racing donations
	// for the same donor serialize and cannot jointly cross a cap.
	tipLimitHit := false
	tipTruncated := false
	prepare := func(existing []pledge.Pledge, p pledge.Pledge) (pledge.Pledge, error) {
		if violation := s.limits.CheckAgainst(existing, tier, req.RecipientID, cycle, req.DonationAmount, now); violation != nil {
			return pledge.Pledge{}, violation
		}
		tipTotal := tips.AnnualTipTotal(existing, now)
		accepted, reached := tips.ApplyTip(tipTotal, p.TipAmount)
		tipLimitHit = reached
		if accepted != p.TipAmount {
			tipTruncated = true
			p.TipAmount = accepted
			if p.DonorSnapshot.ValidationFlags == nil {
				p.DonorSnapshot.ValidationFlags = map[string]string{}
			}
			p.DonorSnapshot.ValidationFlags["tip_truncated"] = "true"
		}
		return p, nil
	}

	created, err := s.pledges.CreatePledge(ctx, candidate, prepare)
	if err != nil {
		var violation *limits.Violation
		if errors.As(err, &violation) {
			metrics.DonationRejected(violation.LimitType)
			if notifyErr := s.notifier.LimitReached(ctx, req.DonorID, violation.LimitType); notifyErr != nil {
				s.log.WithError(notifyErr).Warn("limit-reached notification failed")
			}
		}
		return pledge.Pledge{}, err
	}

	metrics.DonationApproved()
	metrics.TransitionApplied(string(pledge.StatusNone), string(pledge.StatusActive))
	if tipTruncated {
		metrics.TipTruncated()
		s.log.WithField("pledge", created.ID).Info("tip truncated to zero by PAC limit; donation proceeds")
	}

	if tipLimitHit && !d.TipLimitReached {
		if err := s.donors.SetTipLimitReached(ctx, d.ID, true); err != nil {
			s.log.WithError(err).WithField("donor", d.ID).Error("persist tip-limit flag failed")
		}
		if notifyErr := s.notifier.TipLimitReached(ctx, d.ID); notifyErr != nil {
			s.log.WithError(notifyErr).Warn("tip-limit notification failed")
		}
	}

	s.log.WithField("pledge", created.ID).Infof("celebration created for %s (%s to %s)",
		req.DonorID, limits.Dollars(created.DonationAmount), req.RecipientID)
	return created, nil
}

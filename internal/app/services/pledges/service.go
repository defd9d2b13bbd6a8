// Package pledges applies lifecycle transitions to celebrations and serves
// the read-side ledger queries. Every transition is a single atomic store
// operation: validate, write the new status, append exactly one ledger
// entry and sync the legacy flags together, so no reader ever observes a
// pledge whose flags disagree with its status.
package pledges

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
	"github.com/pledgeworks/celebrate/internal/app/domain/pledge"
	"github.com/pledgeworks/celebrate/internal/app/services/notify"
	"github.com/pledgeworks/celebrate/internal/app/storage"
	"github.com/pledgeworks/celebrate/pkg/logger"
)

// Service is the celebration status machine.
type Service struct {
	donors   storage.DonorStore
	store    storage.PledgeStore
	notifier notify.Sink
	log      *logger.Logger
}

// New constructs the status machine service.
func New(donors storage.DonorStore, store storage.PledgeStore, notifier notify.Sink, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("pledges")
	}
	if notifier == nil {
		notifier = notify.NewLogSink(log)
	}
	return &Service{donors: donors, store: store, notifier: notifier, log: log}
}

// TransitionInput carries the caller-supplied context for one transition.
type TransitionInput struct {
	Reason        string
	TriggerSource pledge.TriggerSource
	ActorID       string
	ActorName     string
	Metadata      map[string]string
	Audit         pledge.AuditTrail
}

// Get returns a pledge by id.
func (s *Service) Get(ctx context.Context, id string) (pledge.Pledge, error) {
	return s.store.GetPledge(ctx, id)
}

// Transition moves a pledge to the target status. Disallowed moves are
// rejected with an error naming the pair and leave both the status and the
// ledger untouched.
func (s *Service) Transition(ctx context.Context, id string, to pledge.Status, in TransitionInput, now time.Time) (pledge.Pledge, error) {
	p, err := s.store.GetPledge(ctx, id)
	if err != nil {
		return pledge.Pledge{}, err
	}
	if !pledge.CanTransition(p.CurrentStatus, to) {
		return pledge.Pledge{}, &pledge.InvalidTransitionError{From: p.CurrentStatus, To: to}
	}

	entry := pledge.StatusLedgerEntry{
		PreviousStatus: p.CurrentStatus,
		NewStatus:      to,
		Timestamp:      now,
		Reason:         in.Reason,
		TriggerSource:  in.TriggerSource,
		ActorID:        in.ActorID,
		ActorName:      in.ActorName,
		Metadata:       in.Metadata,
		ComplianceTier: s.tierAtChange(ctx, p),
		FECCompliant:   true,
		Audit:          in.Audit,
	}

	updated, err := s.store.AppendStatusTransition(ctx, id, entry)
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			// A concurrent transition won; report the move as invalid
			// from whatever the status is now.
			if current, getErr := s.store.GetPledge(ctx, id); getErr == nil {
				return pledge.Pledge{}, &pledge.InvalidTransitionError{From: current.CurrentStatus, To: to}
			}
		}
		return pledge.Pledge{}, err
	}
	s.log.WithField("pledge", id).Infof("status %s -> %s (%s)", entry.PreviousStatus, to, in.TriggerSource)
	return updated, nil
}

// tierAtChange records the donor's live tier at the time of the change,
// falling back to the creation snapshot if the donor cannot be loaded.
func (s *Service) tierAtChange(ctx context.Context, p pledge.Pledge) compliance.Tier {
	if s.donors != nil {
		if d, err := s.donors.GetDonor(ctx, p.DonorID); err == nil {
			return d.ComplianceTier
		}
	}
	return p.DonorSnapshot.ComplianceTier
}

// Activate resumes a paused pledge.
func (s *Service) Activate(ctx context.Context, id string, in TransitionInput, now time.Time) (pledge.Pledge, error) {
	return s.Transition(ctx, id, pledge.StatusActive, in, now)
}

// Pause suspends an active pledge. Metadata carries the pause details,
// e.g. the expected resume date.
func (s *Service) Pause(ctx context.Context, id string, in TransitionInput, now time.Time) (pledge.Pledge, error) {
	return s.Transition(ctx, id, pledge.StatusPaused, in, now)
}

// Resolve releases a pledge after its triggering legislative action.
// Metadata carries the resolution details. Resolved is terminal.
func (s *Service) Resolve(ctx context.Context, id string, in TransitionInput, now time.Time) (pledge.Pledge, error) {
	return s.Transition(ctx, id, pledge.StatusResolved, in, now)
}

// MakeDefunct ages out a single pledge when the tracked legislative
// session ends. Driven by the session signal, not user action.
func (s *Service) MakeDefunct(ctx context.Context, id string, sessionMeta map[string]string, now time.Time) (pledge.Pledge, error) {
	in := TransitionInput{
		Reason:        "legislative session ended",
		TriggerSource: pledge.TriggerSession,
		ActorID:       "session-watcher",
		ActorName:     "congressional session watcher",
		Metadata:      sessionMeta,
	}
	return s.Transition(ctx, id, pledge.StatusDefunct, in, now)
}

// MakeDefunctBulk ages out all currently active and paused pledges. It is
// only ever applied to eligible pledges, never resolved ones; pledges that
// transition concurrently are skipped. Donors are notified best-effort.
func (s *Service) MakeDefunctBulk(ctx context.Context, sessionMeta map[string]string, now time.Time) (int, error) {
	sessionName := sessionMeta["session"]
	count := 0
	for _, status := range []pledge.Status{pledge.StatusActive, pledge.StatusPaused} {
		eligible, err := s.store.ListPledgesByStatus(ctx, status)
		if err != nil {
			return count, fmt.Errorf("list %s pledges: %w", status, err)
		}
		for _, p := range eligible {
			if _, err := s.MakeDefunct(ctx, p.ID, sessionMeta, now); err != nil {
				var invalid *pledge.InvalidTransitionError
				if errors.As(err, &invalid) {
					continue
				}
				return count, err
			}
			count++
			if err := s.notifier.PledgeDefunct(ctx, p.DonorID, p.ID, sessionName); err != nil {
				s.log.WithError(err).WithField("pledge", p.ID).Warn("defunct notification failed")
			}
		}
	}
	return count, nil
}

// History returns the pledge's ledger entries most-recent-first, bounded
// by limit (0 means all).
func (s *Service) History(ctx context.Context, id string, limit int) ([]pledge.StatusLedgerEntry, error) {
	p, err := s.store.GetPledge(ctx, id)
	if err != nil {
		return nil, err
	}
	entries := make([]pledge.StatusLedgerEntry, 0, len(p.StatusLedger))
	for i := len(p.StatusLedger) - 1; i >= 0; i-- {
		entries = append(entries, p.StatusLedger[i])
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}

// DurationInfo is the read-side aging projection for a pledge.
type DurationInfo struct {
	CurrentStatus pledge.Status `json:"current_status"`
	StatusSince   time.Time     `json:"status_since"`
	DaysInStatus  int           `json:"days_in_status"`
	LifetimeDays  int           `json:"lifetime_days"`
}

// Durations computes how long the pledge has been in its current status
// and how long it has existed. Pure computation over the ledger; nothing
// extra is stored.
func (s *Service) Durations(ctx context.Context, id string, now time.Time) (DurationInfo, error) {
	p, err := s.store.GetPledge(ctx, id)
	if err != nil {
		return DurationInfo{}, err
	}

	since := p.CreatedAt
	if n := len(p.StatusLedger); n > 0 {
		since = p.StatusLedger[n-1].Timestamp
	}
	return DurationInfo{
		CurrentStatus: p.CurrentStatus,
		StatusSince:   since,
		DaysInStatus:  int(now.Sub(since).Hours() / 24),
		LifetimeDays:  int(now.Sub(p.CreatedAt).Hours() / 24),
	}, nil
}

// Package storage defines the persistence interfaces for the donation
// compliance engine. Implementations must serialize the conditional
// operations per entity; the engine never applies a limit or transition
// optimistically and rolls back.
package storage

import (
	"context"
	"errors"

	"github.com/pledgeworks/celebrate/internal/app/domain/donor"
	"github.com/pledgeworks/celebrate/internal/app/domain/pledge"
)

var (
	// ErrNotFound reports a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict reports a lost conditional update: the pledge's
	// current status no longer matches the transition's previous status.
	ErrStatusConflict = errors.New("status conflict")
	// ErrKeyInFlight reports an idempotency key reserved by a submission
	// that has not completed yet.
	ErrKeyInFlight = errors.New("idempotency key in flight")
)

// DonorStore persists donor accounts.
type DonorStore interface {
	CreateDonor(ctx context.Context, d donor.Donor) (donor.Donor, error)
	UpdateDonor(ctx context.Context, d donor.Donor) (donor.Donor, error)
	GetDonor(ctx context.Context, id string) (donor.Donor, error)
	ListDonors(ctx context.Context) ([]donor.Donor, error)
	SetTipLimitReached(ctx context.Context, donorID string, reached bool) error
	// ClearTipLimitFlags resets every donor's sticky tip-limit flag at the
	// calendar-year boundary. Returns the number of donors cleared.
	ClearTipLimitFlags(ctx context.Context) (int, error)
}

// PledgePrepare runs against the donor's persisted pledge history inside
// the store's critical section, immediately before the insert. It may
// reject the donation (limit re-check) or amend the pledge being written
// (tip truncation). Because it runs under the same lock/transaction as the
// insert, a limit approval and the write it guards cannot interleave with
// a racing donation.
type PledgePrepare func(existing []pledge.Pledge, p pledge.Pledge) (pledge.Pledge, error)

// PledgeStore persists pledges and their append-only status ledgers.
type PledgeStore interface {
	// CreatePledge writes the pledge and its initial ledger entry
	// atomically, applying prepare (when non-nil) under the same
	// lock/transaction as the insert.
	CreatePledge(ctx context.Context, p pledge.Pledge, prepare PledgePrepare) (pledge.Pledge, error)
	GetPledge(ctx context.Context, id string) (pledge.Pledge, error)
	ListPledgesByDonor(ctx context.Context, donorID string) ([]pledge.Pledge, error)
	ListPledgesByRecipient(ctx context.Context, recipientID string) ([]pledge.Pledge, error)
	ListPledgesByStatus(ctx context.Context, status pledge.Status) ([]pledge.Pledge, error)
	// AppendStatusTransition applies entry atomically: it validates that
	// the pledge's current status equals entry.PreviousStatus, writes the
	// new status, syncs the legacy flags and appends the entry, all as one
	// operation. Returns ErrStatusConflict when the condition fails; no
	// ledger entry is written in that case.
	AppendStatusTransition(ctx context.Context, id string, entry pledge.StatusLedgerEntry) (pledge.Pledge, error)
}

// IdempotencyStore deduplicates donation submissions.
type IdempotencyStore interface {
	// ReserveKey claims key for a new submission. fresh is true when the
	// caller owns the key; otherwise pledgeID holds the bound result, or
	// ErrKeyInFlight is returned when the original submission is still
	// running.
	ReserveKey(ctx context.Context, key string) (pledgeID string, fresh bool, err error)
	// BindKey records the pledge created under the key.
	BindKey(ctx context.Context, key, pledgeID string) error
	// ReleaseKey frees a reserved key after a failed submission so a
	// retry can run.
	ReleaseKey(ctx context.Context, key string) error
}

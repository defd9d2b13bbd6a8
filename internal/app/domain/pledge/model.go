// Package pledge defines the celebration (escrowed donation) aggregate, its
// status lifecycle and its append-only audit ledger.
package pledge

import (
	"time"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
)

// Status is a pledge lifecycle state.
type Status string

const (
	// StatusNone is the pseudo-state a pledge transitions out of at
	// creation. It never appears as a CurrentStatus.
	StatusNone     Status = "none"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusResolved Status = "resolved"
	StatusDefunct  Status = "defunct"
)

// TriggerSource identifies what drove a status transition.
type TriggerSource string

const (
	TriggerSystem  TriggerSource = "system"
	TriggerSession TriggerSource = "congressional-session"
	TriggerUser    TriggerSource = "user-action"
)

// AuditTrail carries caller-supplied request context for a ledger entry.
// The engine records it verbatim and never computes it.
type AuditTrail struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// StatusLedgerEntry is one immutable record in a pledge's audit ledger.
// Entries are only ever appended; editing or deleting historical entries is
// not supported, administratively or otherwise.
type StatusLedgerEntry struct {
	PreviousStatus Status            `json:"previous_status"`
	NewStatus      Status            `json:"new_status"`
	Timestamp      time.Time         `json:"timestamp"`
	Reason         string            `json:"reason"`
	TriggerSource  TriggerSource     `json:"trigger_source"`
	ActorID        string            `json:"actor_id,omitempty"`
	ActorName      string            `json:"actor_name,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ComplianceTier compliance.Tier   `json:"compliance_tier"`
	FECCompliant   bool              `json:"fec_compliant"`
	Audit          AuditTrail        `json:"audit"`
}

// DonorSnapshot freezes the donor's compliance-relevant fields at pledge
// creation. It is never re-derived afterwards, even if the donor's live
// tier changes.
type DonorSnapshot struct {
	DonorID         string            `json:"donor_id"`
	ComplianceTier  compliance.Tier   `json:"compliance_tier"`
	State           string            `json:"state"`
	TipLimitReached bool              `json:"tip_limit_reached"`
	ValidationFlags map[string]string `json:"validation_flags,omitempty"`
	FECCompliant    bool              `json:"fec_compliant"`
	CapturedAt      time.Time         `json:"captured_at"`
}

// Pledge is an escrowed contribution awaiting a triggering legislative
// event. Amounts are in cents.
type Pledge struct {
	ID             string              `json:"id"`
	DonorID        string              `json:"donor_id"`
	RecipientID    string              `json:"recipient_id"`
	BillID         string              `json:"bill_id"`
	DonationAmount int64               `json:"donation_amount"`
	TipAmount      int64               `json:"tip_amount"`
	Fee            int64               `json:"fee"`
	DonorSnapshot  DonorSnapshot       `json:"donor_snapshot"`
	CurrentStatus  Status              `json:"current_status"`
	StatusLedger   []StatusLedgerEntry `json:"status_ledger"`
	CreatedAt      time.Time           `json:"created_at"`

	// Legacy redundant flags, kept in sync with CurrentStatus for
	// backward-compatible queries.
	Resolved bool `json:"resolved"`
	Paused   bool `json:"paused"`
	Defunct  bool `json:"defunct"`
}

// SyncFlags rewrites the legacy booleans from CurrentStatus. Callers that
// mutate CurrentStatus must call this in the same critical section so no
// reader observes flags that disagree with the status.
func (p *Pledge) SyncFlags() {
	p.Resolved = p.CurrentStatus == StatusResolved
	p.Paused = p.CurrentStatus == StatusPaused
	p.Defunct = p.CurrentStatus == StatusDefunct
}

// CountsTowardDonationLimits reports whether the pledge participates in the
// annual and per-election donation aggregates. Defunct and paused pledges
// are excluded.
func (p Pledge) CountsTowardDonationLimits() bool {
	return p.CurrentStatus != StatusDefunct && p.CurrentStatus != StatusPaused
}

// CountsTowardTipLimit reports whether the pledge participates in the PAC
// tip aggregate. Resolved pledges are excluded here in addition to defunct
// and paused ones.
func (p Pledge) CountsTowardTipLimit() bool {
	return p.CurrentStatus != StatusDefunct &&
		p.CurrentStatus != StatusPaused &&
		p.CurrentStatus != StatusResolved
}

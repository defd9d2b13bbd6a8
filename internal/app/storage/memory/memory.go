// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pledgeworks/celebrate/internal/app/domain/donor"
	"github.com/pledgeworks/celebrate/internal/app/domain/pledge"
	"github.com/pledgeworks/celebrate/internal/app/storage"
)

// Store is the in-memory implementation of the storage interfaces.
type Store struct {
	mu             sync.RWMutex
	nextID         int64
	donors         map[string]donor.Donor
	pledges        map[string]pledge.Pledge
	pledgesByDonor map[string][]string
	idempotency    map[string]string // key -> pledge ID, "" while in flight
}

var _ storage.DonorStore = (*Store)(nil)
var _ storage.PledgeStore = (*Store)(nil)
var _ storage.IdempotencyStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:         1,
		donors:         make(map[string]donor.Donor),
		pledges:        make(map[string]pledge.Pledge),
		pledgesByDonor: make(map[string][]string),
		idempotency:    make(map[string]string),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// DonorStore implementation ---------------------------------------------------

func (s *Store) CreateDonor(_ context.Context, d donor.Donor) (donor.Donor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = s.nextIDLocked()
	} else if _, exists := s.donors[d.ID]; exists {
		return donor.Donor{}, fmt.Errorf("donor %s already exists", d.ID)
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	s.donors[d.ID] = d
	return d, nil
}

func (s *Store) UpdateDonor(_ context.Context, d donor.Donor) (donor.Donor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.donors[d.ID]
	if !ok {
		return donor.Donor{}, fmt.Errorf("donor %s: %w", d.ID, storage.ErrNotFound)
	}

	d.CreatedAt = original.CreatedAt
	d.UpdatedAt = time.Now().UTC()

	s.donors[d.ID] = d
	return d, nil
}

func (s *Store) GetDonor(_ context.Context, id string) (donor.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.donors[id]
	if !ok {
		return donor.Donor{}, fmt.Errorf("donor %s: %w", id, storage.ErrNotFound)
	}
	return d, nil
}

func (s *Store) ListDonors(_ context.Context) ([]donor.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]donor.Donor, 0, len(s.donors))
	for _, d := range s.donors {
		result = append(result, d)
	}
	return result, nil
}

func (s *Store) SetTipLimitReached(_ context.Context, donorID string, reached bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.donors[donorID]
	if !ok {
		return fmt.Errorf("donor %s: %w", donorID, storage.ErrNotFound)
	}
	d.TipLimitReached = reached
	d.UpdatedAt = time.Now().UTC()
	s.donors[donorID] = d
	return nil
}

func (s *Store) ClearTipLimitFlags(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	now := time.Now().UTC()
	for id, d := range s.donors {
		if d.TipLimitReached {
			d.TipLimitReached = false
			d.UpdatedAt = now
			s.donors[id] = d
			cleared++
		}
	}
	return cleared, nil
}

// PledgeStore implementation --------------------------------------------------

func (s *Store) CreatePledge(_ context.Context, p pledge.Pledge, prepare storage.PledgePrepare) (pledge.Pledge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.pledges[p.ID]; exists {
		return pledge.Pledge{}, fmt.Errorf("pledge %s already exists", p.ID)
	}

	if prepare != nil {
		existing := make([]pledge.Pledge, 0, len(s.pledgesByDonor[p.DonorID]))
		for _, id := range s.pledgesByDonor[p.DonorID] {
			existing = append(existing, clonePledge(s.pledges[id]))
		}
		prepared, err := prepare(existing, clonePledge(p))
		if err != nil {
			return pledge.Pledge{}, err
		}
		prepared.ID = p.ID
		p = prepared
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.SyncFlags()
	p.StatusLedger = cloneLedger(p.StatusLedger)

	s.pledges[p.ID] = p
	s.pledgesByDonor[p.DonorID] = append(s.pledgesByDonor[p.DonorID], p.ID)
	return clonePledge(p), nil
}

func (s *Store) GetPledge(_ context.Context, id string) (pledge.Pledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pledges[id]
	if !ok {
		return pledge.Pledge{}, fmt.Errorf("pledge %s: %w", id, storage.ErrNotFound)
	}
	return clonePledge(p), nil
}

func (s *Store) ListPledgesByDonor(_ context.Context, donorID string) ([]pledge.Pledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.pledgesByDonor[donorID]
	result := make([]pledge.Pledge, 0, len(ids))
	for _, id := range ids {
		result = append(result, clonePledge(s.pledges[id]))
	}
	return result, nil
}

func (s *Store) ListPledgesByRecipient(_ context.Context, recipientID string) ([]pledge.Pledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []pledge.Pledge
	for _, p := range s.pledges {
		if p.RecipientID == recipientID {
			result = append(result, clonePledge(p))
		}
	}
	return result, nil
}

func (s *Store) ListPledgesByStatus(_ context.Context, status pledge.Status) ([]pledge.Pledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []pledge.Pledge
	for _, p := range s.pledges {
		if p.CurrentStatus == status {
			result = append(result, clonePledge(p))
		}
	}
	return result, nil
}

func (s *Store) AppendStatusTransition(_ context.Context, id string, entry pledge.StatusLedgerEntry) (pledge.Pledge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pledges[id]
	if !ok {
		return pledge.Pledge{}, fmt.Errorf("pledge %s: %w", id, storage.ErrNotFound)
	}
	if p.CurrentStatus != entry.PreviousStatus {
		return pledge.Pledge{}, fmt.Errorf("pledge %s is %s, not %s: %w",
			id, p.CurrentStatus, entry.PreviousStatus, storage.ErrStatusConflict)
	}

	p.CurrentStatus = entry.NewStatus
	p.SyncFlags()
	p.StatusLedger = append(cloneLedger(p.StatusLedger), cloneEntry(entry))

	s.pledges[id] = p
	return clonePledge(p), nil
}

// IdempotencyStore implementation ---------------------------------------------

func (s *Store) ReserveKey(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pledgeID, exists := s.idempotency[key]; exists {
		if pledgeID == "" {
			return "", false, storage.ErrKeyInFlight
		}
		return pledgeID, false, nil
	}
	s.idempotency[key] = ""
	return "", true, nil
}

func (s *Store) BindKey(_ context.Context, key, pledgeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idempotency[key] = pledgeID
	return nil
}

func (s *Store) ReleaseKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.idempotency, key)
	return nil
}

// Clone helpers ---------------------------------------------------------------

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneEntry(e pledge.StatusLedgerEntry) pledge.StatusLedgerEntry {
	e.Metadata = cloneMap(e.Metadata)
	return e
}

func cloneLedger(entries []pledge.StatusLedgerEntry) []pledge.StatusLedgerEntry {
	if len(entries) == 0 {
		return nil
	}
	dst := make([]pledge.StatusLedgerEntry, len(entries))
	for i, e := range entries {
		dst[i] = cloneEntry(e)
	}
	return dst
}

func clonePledge(p pledge.Pledge) pledge.Pledge {
	p.StatusLedger = cloneLedger(p.StatusLedger)
	p.DonorSnapshot.ValidationFlags = cloneMap(p.DonorSnapshot.ValidationFlags)
	return p
}

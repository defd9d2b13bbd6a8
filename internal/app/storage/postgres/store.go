// Package postgres implements the storage interfaces backed by PostgreSQL.
//
// Conditional operations rely on row-level locking: pledge creation locks
// the donor row so the limit re-check and the insert serialize, and status
// transitions use a compare-and-set UPDATE keyed on the current status.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
	"github.com/pledgeworks/celebrate/internal/app/domain/donor"
	"github.com/pledgeworks/celebrate/internal/app/domain/pledge"
	"github.com/pledgeworks/celebrate/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.DonorStore = (*Store)(nil)
var _ storage.PledgeStore = (*Store)(nil)
var _ storage.IdempotencyStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Connect opens a PostgreSQL connection pool for the given DSN.
func Connect(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// --- DonorStore -------------------------------------------------------------

func (s *Store) CreateDonor(ctx context.Context, d donor.Donor) (donor.Donor, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO donors (id, email, name, state, compliance_tier, tip_limit_reached, created_at, updated_at)
		VALUES (:id, :email, :name, :state, :compliance_tier, :tip_limit_reached, :created_at, :updated_at)
	`, d)
	if err != nil {
		return donor.Donor{}, err
	}
	return d, nil
}

func (s *Store) UpdateDonor(ctx context.Context, d donor.Donor) (donor.Donor, error) {
	d.UpdatedAt = time.Now().UTC()
	result, err := s.db.NamedExecContext(ctx, `
		UPDATE donors
		SET email = :email, name = :name, state = :state,
		    compliance_tier = :compliance_tier, tip_limit_reached = :tip_limit_reached,
		    updated_at = :updated_at
		WHERE id = :id
	`, d)
	if err != nil {
		return donor.Donor{}, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return donor.Donor{}, fmt.Errorf("donor %s: %w", d.ID, storage.ErrNotFound)
	}
	return s.GetDonor(ctx, d.ID)
}

func (s *Store) GetDonor(ctx context.Context, id string) (donor.Donor, error) {
	var d donor.Donor
	err := s.db.GetContext(ctx, &d, `SELECT * FROM donors WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return donor.Donor{}, fmt.Errorf("donor %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return donor.Donor{}, err
	}
	return d, nil
}

func (s *Store) ListDonors(ctx context.Context) ([]donor.Donor, error) {
	donors := []donor.Donor{}
	if err := s.db.SelectContext(ctx, &donors, `SELECT * FROM donors ORDER BY created_at`); err != nil {
		return nil, err
	}
	return donors, nil
}

func (s *Store) SetTipLimitReached(ctx context.Context, donorID string, reached bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE donors SET tip_limit_reached = $2, updated_at = $3 WHERE id = $1
	`, donorID, reached, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("donor %s: %w", donorID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ClearTipLimitFlags(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE donors SET tip_limit_reached = FALSE, updated_at = $1 WHERE tip_limit_reached
	`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// --- PledgeStore ------------------------------------------------------------

// pledgeRow is the pledges table shape. The donor snapshot is stored as a
// JSONB document; ledger entries live in their own append-only table.
type pledgeRow struct {
	ID             string        `db:"id"`
	DonorID        string        `db:"donor_id"`
	RecipientID    string        `db:"recipient_id"`
	BillID         string        `db:"bill_id"`
	DonationAmount int64         `db:"donation_amount"`
	TipAmount      int64         `db:"tip_amount"`
	Fee            int64         `db:"fee"`
	DonorSnapshot  []byte        `db:"donor_snapshot"`
	CurrentStatus  pledge.Status `db:"current_status"`
	Resolved       bool          `db:"resolved"`
	Paused         bool          `db:"paused"`
	Defunct        bool          `db:"defunct"`
	CreatedAt      time.Time     `db:"created_at"`
}

type ledgerRow struct {
	ID             string    `db:"id"`
	PledgeID       string    `db:"pledge_id"`
	PreviousStatus string    `db:"previous_status"`
	NewStatus      string    `db:"new_status"`
	Timestamp      time.Time `db:"ts"`
	Reason         string    `db:"reason"`
	TriggerSource  string    `db:"trigger_source"`
	ActorID        string    `db:"actor_id"`
	ActorName      string    `db:"actor_name"`
	Metadata       []byte    `db:"metadata"`
	ComplianceTier string    `db:"compliance_tier"`
	FECCompliant   bool      `db:"fec_compliant"`
	Audit          []byte    `db:"audit"`
}

func toRow(p pledge.Pledge) (pledgeRow, error) {
	snapshot, err := json.Marshal(p.DonorSnapshot)
	if err != nil {
		return pledgeRow{}, err
	}
	return pledgeRow{
		ID:             p.ID,
		DonorID:        p.DonorID,
		RecipientID:    p.RecipientID,
		BillID:         p.BillID,
		DonationAmount: p.DonationAmount,
		TipAmount:      p.TipAmount,
		Fee:            p.Fee,
		DonorSnapshot:  snapshot,
		CurrentStatus:  p.CurrentStatus,
		Resolved:       p.Resolved,
		Paused:         p.Paused,
		Defunct:        p.Defunct,
		CreatedAt:      p.CreatedAt,
	}, nil
}

func fromRow(row pledgeRow, ledger []pledge.StatusLedgerEntry) (pledge.Pledge, error) {
	p := pledge.Pledge{
		ID:             row.ID,
		DonorID:        row.DonorID,
		RecipientID:    row.RecipientID,
		BillID:         row.BillID,
		DonationAmount: row.DonationAmount,
		TipAmount:      row.TipAmount,
		Fee:            row.Fee,
		CurrentStatus:  row.CurrentStatus,
		Resolved:       row.Resolved,
		Paused:         row.Paused,
		Defunct:        row.Defunct,
		StatusLedger:   ledger,
		CreatedAt:      row.CreatedAt,
	}
	if len(row.DonorSnapshot) > 0 {
		if err := json.Unmarshal(row.DonorSnapshot, &p.DonorSnapshot); err != nil {
			return pledge.Pledge{}, err
		}
	}
	return p, nil
}

func toLedgerRow(pledgeID string, e pledge.StatusLedgerEntry) (ledgerRow, error) {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return ledgerRow{}, err
	}
	audit, err := json.Marshal(e.Audit)
	if err != nil {
		return ledgerRow{}, err
	}
	return ledgerRow{
		ID:             uuid.NewString(),
		PledgeID:       pledgeID,
		PreviousStatus: string(e.PreviousStatus),
		NewStatus:      string(e.NewStatus),
		Timestamp:      e.Timestamp,
		Reason:         e.Reason,
		TriggerSource:  string(e.TriggerSource),
		ActorID:        e.ActorID,
		ActorName:      e.ActorName,
		Metadata:       metadata,
		ComplianceTier: string(e.ComplianceTier),
		FECCompliant:   e.FECCompliant,
		Audit:          audit,
	}, nil
}

func fromLedgerRow(row ledgerRow) (pledge.StatusLedgerEntry, error) {
	e := pledge.StatusLedgerEntry{
		PreviousStatus: pledge.Status(row.PreviousStatus),
		NewStatus:      pledge.Status(row.NewStatus),
		Timestamp:      row.Timestamp,
		Reason:         row.Reason,
		TriggerSource:  pledge.TriggerSource(row.TriggerSource),
		ActorID:        row.ActorID,
		ActorName:      row.ActorName,
		ComplianceTier: compliance.Tier(row.ComplianceTier),
		FECCompliant:   row.FECCompliant,
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &e.Metadata); err != nil {
			return pledge.StatusLedgerEntry{}, err
		}
	}
	if len(row.Audit) > 0 {
		if err := json.Unmarshal(row.Audit, &e.Audit); err != nil {
			return pledge.StatusLedgerEntry{}, err
		}
	}
	return e, nil
}

const insertLedgerSQL = `
	INSERT INTO pledge_status_ledger
		(id, pledge_id, previous_status, new_status, ts, reason, trigger_source,
		 actor_id, actor_name, metadata, compliance_tier, fec_compliant, audit)
	VALUES
		(:id, :pledge_id, :previous_status, :new_status, :ts, :reason, :trigger_source,
		 :actor_id, :actor_name, :metadata, :compliance_tier, :fec_compliant, :audit)
`

func (s *Store) CreatePledge(ctx context.Context, p pledge.Pledge, prepare storage.PledgePrepare) (pledge.Pledge, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.SyncFlags()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return pledge.Pledge{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the donor row so racing donations for the same donor serialize
	// through the limit re-check.
	var donorID string
	err = tx.GetContext(ctx, &donorID, `SELECT id FROM donors WHERE id = $1 FOR UPDATE`, p.DonorID)
	if errors.Is(err, sql.ErrNoRows) {
		return pledge.Pledge{}, fmt.Errorf("donor %s: %w", p.DonorID, storage.ErrNotFound)
	}
	if err != nil {
		return pledge.Pledge{}, err
	}

	if prepare != nil {
		existing, err := s.listByDonorTx(ctx, tx, p.DonorID)
		if err != nil {
			return pledge.Pledge{}, err
		}
		prepared, err := prepare(existing, p)
		if err != nil {
			return pledge.Pledge{}, err
		}
		prepared.ID = p.ID
		p = prepared
		p.SyncFlags()
	}

	row, err := toRow(p)
	if err != nil {
		return pledge.Pledge{}, err
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO pledges
			(id, donor_id, recipient_id, bill_id, donation_amount, tip_amount, fee,
			 donor_snapshot, current_status, resolved, paused, defunct, created_at)
		VALUES
			(:id, :donor_id, :recipient_id, :bill_id, :donation_amount, :tip_amount, :fee,
			 :donor_snapshot, :current_status, :resolved, :paused, :defunct, :created_at)
	`, row); err != nil {
		return pledge.Pledge{}, err
	}

	for _, entry := range p.StatusLedger {
		lrow, err := toLedgerRow(p.ID, entry)
		if err != nil {
			return pledge.Pledge{}, err
		}
		if _, err := tx.NamedExecContext(ctx, insertLedgerSQL, lrow); err != nil {
			return pledge.Pledge{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return pledge.Pledge{}, err
	}
	return p, nil
}

func (s *Store) GetPledge(ctx context.Context, id string) (pledge.Pledge, error) {
	var row pledgeRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM pledges WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return pledge.Pledge{}, fmt.Errorf("pledge %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return pledge.Pledge{}, err
	}
	ledger, err := s.ledgerFor(ctx, id)
	if err != nil {
		return pledge.Pledge{}, err
	}
	return fromRow(row, ledger)
}

func (s *Store) ledgerFor(ctx context.Context, pledgeID string) ([]pledge.StatusLedgerEntry, error) {
	rows := []ledgerRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM pledge_status_ledger WHERE pledge_id = $1 ORDER BY ts, id
	`, pledgeID)
	if err != nil {
		return nil, err
	}
	entries := make([]pledge.StatusLedgerEntry, 0, len(rows))
	for _, r := range rows {
		e, err := fromLedgerRow(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) listByDonorTx(ctx context.Context, tx *sqlx.Tx, donorID string) ([]pledge.Pledge, error) {
	rows := []pledgeRow{}
	if err := tx.SelectContext(ctx, &rows, `
		SELECT * FROM pledges WHERE donor_id = $1 ORDER BY created_at
	`, donorID); err != nil {
		return nil, err
	}
	return rowsToPledges(rows)
}

func rowsToPledges(rows []pledgeRow) ([]pledge.Pledge, error) {
	result := make([]pledge.Pledge, 0, len(rows))
	for _, row := range rows {
		p, err := fromRow(row, nil)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *Store) ListPledgesByDonor(ctx context.Context, donorID string) ([]pledge.Pledge, error) {
	rows := []pledgeRow{}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM pledges WHERE donor_id = $1 ORDER BY created_at
	`, donorID); err != nil {
		return nil, err
	}
	return rowsToPledges(rows)
}

func (s *Store) ListPledgesByRecipient(ctx context.Context, recipientID string) ([]pledge.Pledge, error) {
	rows := []pledgeRow{}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM pledges WHERE recipient_id = $1 ORDER BY created_at
	`, recipientID); err != nil {
		return nil, err
	}
	return rowsToPledges(rows)
}

func (s *Store) ListPledgesByStatus(ctx context.Context, status pledge.Status) ([]pledge.Pledge, error) {
	rows := []pledgeRow{}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM pledges WHERE current_status = $1 ORDER BY created_at
	`, status); err != nil {
		return nil, err
	}
	return rowsToPledges(rows)
}

func (s *Store) AppendStatusTransition(ctx context.Context, id string, entry pledge.StatusLedgerEntry) (pledge.Pledge, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return pledge.Pledge{}, err
	}
	defer func() { _ = tx.Rollback() }()

	next := pledge.Pledge{CurrentStatus: entry.NewStatus}
	next.SyncFlags()

	// Compare-and-set keyed on the previous status. RowsAffected == 0 means
	// either the pledge is gone or a concurrent transition won.
	result, err := tx.ExecContext(ctx, `
		UPDATE pledges
		SET current_status = $2, resolved = $3, paused = $4, defunct = $5
		WHERE id = $1 AND current_status = $6
	`, id, entry.NewStatus, next.Resolved, next.Paused, next.Defunct, entry.PreviousStatus)
	if err != nil {
		return pledge.Pledge{}, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		var current string
		err := tx.GetContext(ctx, &current, `SELECT current_status FROM pledges WHERE id = $1`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return pledge.Pledge{}, fmt.Errorf("pledge %s: %w", id, storage.ErrNotFound)
		}
		if err != nil {
			return pledge.Pledge{}, err
		}
		return pledge.Pledge{}, fmt.Errorf("pledge %s is %s, not %s: %w",
			id, current, entry.PreviousStatus, storage.ErrStatusConflict)
	}

	lrow, err := toLedgerRow(id, entry)
	if err != nil {
		return pledge.Pledge{}, err
	}
	if _, err := tx.NamedExecContext(ctx, insertLedgerSQL, lrow); err != nil {
		return pledge.Pledge{}, err
	}

	if err := tx.Commit(); err != nil {
		return pledge.Pledge{}, err
	}
	return s.GetPledge(ctx, id)
}

// --- IdempotencyStore -------------------------------------------------------

func (s *Store) ReserveKey(ctx context.Context, key string) (string, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, pledge_id, created_at)
		VALUES ($1, NULL, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, time.Now().UTC())
	if err != nil {
		return "", false, err
	}
	if n, _ := result.RowsAffected(); n == 1 {
		return "", true, nil
	}

	var pledgeID sql.NullString
	if err := s.db.GetContext(ctx, &pledgeID, `
		SELECT pledge_id FROM idempotency_keys WHERE key = $1
	`, key); err != nil {
		return "", false, err
	}
	if !pledgeID.Valid || pledgeID.String == "" {
		return "", false, storage.ErrKeyInFlight
	}
	return pledgeID.String, false, nil
}

func (s *Store) BindKey(ctx context.Context, key, pledgeID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_keys SET pledge_id = $2 WHERE key = $1
	`, key, pledgeID)
	return err
}

func (s *Store) ReleaseKey(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
	return err
}

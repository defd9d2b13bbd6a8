// Package donor defines the donor aggregate. Donors are never deleted, only
// tier-promoted.
package donor

import (
	"time"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
)

// Donor is a registered donor account.
type Donor struct {
	ID              string          `json:"id" db:"id"`
	Email           string          `json:"email" db:"email"`
	Name            string          `json:"name" db:"name"`
	State           string          `json:"state" db:"state"`
	ComplianceTier  compliance.Tier `json:"compliance_tier" db:"compliance_tier"`
	TipLimitReached bool            `json:"tip_limit_reached" db:"tip_limit_reached"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

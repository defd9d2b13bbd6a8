package limits

import "fmt"

// Limit type identifiers reported in violations.
const (
	LimitPerDonation = "per-donation"
	LimitAnnualCap   = "annual-cap"
	LimitPerElection = "per-election"
)

// Violation scopes.
const (
	ScopePerDonation     = "per-donation"
	ScopeAnnualAggregate = "annual-aggregate"
	ScopePerCandidate    = "per-candidate-per-cycle"
)

// Violation describes which limit an attempted donation would exceed.
// Amount is the limit itself, in cents.
type Violation struct {
	LimitType string `json:"limit_type"`
	Amount    int64  `json:"amount"`
	Scope     string `json:"scope"`
	Message   string `json:"message"`
}

// Error makes Violation usable as a rejection error. Violations are
// surfaced to the caller, never silently clamped (tip truncation is the
// single exception and lives in the tips service).
func (v *Violation) Error() string { return v.Message }

// Dollars renders a cent amount as a dollar string for messages.
func Dollars(cents int64) string {
	if cents%100 == 0 {
		return fmt.Sprintf("$%d", cents/100)
	}
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

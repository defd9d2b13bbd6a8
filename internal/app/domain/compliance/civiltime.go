package compliance

import "time"

// Reset boundaries are defined in a fixed civil timezone (Eastern), not the
// server's local time or raw UTC. A naive UTC rollover would reset the
// annual caps several hours early or late depending on season.

var eastern = mustLoadEastern()

func mustLoadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Fall back to a fixed offset; standard Eastern time.
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// Eastern returns the civil timezone used for all reset computations.
func Eastern() *time.Location { return eastern }

// CivilYear returns the calendar year of t in Eastern time. Aggregate
// annual totals attribute each pledge to this year, not the UTC year.
func CivilYear(t time.Time) int { return t.In(eastern).Year() }

// NextAnnualReset returns the upcoming Dec 31 -> Jan 1 boundary: midnight
// Eastern on January 1 of the year after t.
func NextAnnualReset(t time.Time) time.Time {
	return time.Date(t.In(eastern).Year()+1, time.January, 1, 0, 0, 0, 0, eastern)
}

// FollowingAnnualReset returns the boundary after NextAnnualReset.
func FollowingAnnualReset(t time.Time) time.Time {
	return time.Date(t.In(eastern).Year()+2, time.January, 1, 0, 0, 0, 0, eastern)
}

// SameCivilYear reports whether a and b fall in the same Eastern calendar
// year.
func SameCivilYear(a, b time.Time) bool { return CivilYear(a) == CivilYear(b) }

// Package elections computes the current election-cycle window used to
// scope per-candidate contribution limits.
package elections

import (
	"time"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
	"github.com/pledgeworks/celebrate/pkg/logger"
)

// Type identifies one of the tracked election events.
type Type string

const (
	TypePrimary Type = "primary"
	TypeGeneral Type = "general"
	TypeRunoff  Type = "runoff"
	TypeSpecial Type = "special"
)

// typePriority is the evaluation order for deciding which election the
// cycle is anchored on. This is a tie-break policy, not a date ordering:
// a runoff or special date earlier than another state's general must not
// be miscategorized, so the order is fixed and must be preserved.
var typePriority = []Type{TypePrimary, TypeGeneral, TypeRunoff, TypeSpecial}

// Source flags whether cycle data came from real per-state dates or the
// generic fallback. Verified-tier reset boundaries are only trustworthy
// when the source is authoritative.
type Source string

const (
	SourceAuthoritative Source = "authoritative"
	SourceFallback      Source = "fallback"
)

// StateDates holds the configured election dates for one state. Nil fields
// are simply not configured.
type StateDates struct {
	Primary *time.Time
	General *time.Time
	Runoff  *time.Time
	Special *time.Time
}

func (d StateDates) dateFor(t Type) *time.Time {
	switch t {
	case TypePrimary:
		return d.Primary
	case TypeGeneral:
		return d.General
	case TypeRunoff:
		return d.Runoff
	case TypeSpecial:
		return d.Special
	}
	return nil
}

// DateSource supplies per-state election dates. Implementations may be
// stale or missing data; the calculator falls back to generic dates.
type DateSource interface {
	Dates(state string) (StateDates, bool)
}

// Cycle is the computed election-cycle window.
type Cycle struct {
	CurrentElectionType Type      `json:"current_election_type"`
	InElectionCycle     bool      `json:"in_election_cycle"`
	CycleStart          time.Time `json:"cycle_start"`
	CycleEnd            time.Time `json:"cycle_end"`
	NextElectionDate    time.Time `json:"next_election_date"`
	Source              Source    `json:"source"`
}

// Contains reports whether t falls inside the cycle window.
func (c Cycle) Contains(t time.Time) bool {
	return !t.Before(c.CycleStart) && !t.After(c.CycleEnd)
}

// Calculator derives cycle windows from a date source.
type Calculator struct {
	source DateSource
	log    *logger.Logger
}

// NewCalculator builds a calculator over the given date source. A nil
// source means every state uses the generic fallback dates.
func NewCalculator(source DateSource, log *logger.Logger) *Calculator {
	if log == nil {
		log = logger.NewDefault("elections")
	}
	return &Calculator{source: source, log: log}
}

// fallbackDates returns the generic same-year primary/general pair used
// when no per-state data is available.
func fallbackDates(year int) StateDates {
	primary := time.Date(year, time.June, 1, 0, 0, 0, 0, compliance.Eastern())
	general := time.Date(year, time.November, 5, 0, 0, 0, 0, compliance.Eastern())
	return StateDates{Primary: &primary, General: &general}
}

// CycleFor computes the election cycle for a state at the given instant.
func (c *Calculator) CycleFor(state string, now time.Time) Cycle {
	source := SourceAuthoritative
	var dates StateDates
	ok := false
	if c.source != nil {
		dates, ok = c.source.Dates(state)
	}
	if !ok || dates == (StateDates{}) {
		dates = fallbackDates(now.Year())
		source = SourceFallback
		c.log.WithField("state", state).Warn("no election dates configured; using generic fallback")
	}
	cycle := computeCycle(dates, now)
	cycle.Source = source
	return cycle
}

func computeCycle(dates StateDates, now time.Time) Cycle {
	// Pick the anchor: the first type in priority order whose date has
	// passed.
	var anchorType Type
	var anchor time.Time
	for _, t := range typePriority {
		d := dates.dateFor(t)
		if d != nil && !d.After(now) {
			anchorType = t
			anchor = *d
			break
		}
	}

	if anchorType != "" {
		// In a cycle. The window ends one instant before the next
		// chronologically later configured date, or at the end of the
		// year two years out when nothing follows.
		var next time.Time
		for _, t := range typePriority {
			d := dates.dateFor(t)
			if d != nil && d.After(anchor) && (next.IsZero() || d.Before(next)) {
				next = *d
			}
		}
		cycle := Cycle{
			CurrentElectionType: anchorType,
			InElectionCycle:     true,
			CycleStart:          anchor,
		}
		if next.IsZero() {
			cycle.CycleEnd = endOfYear(now.Year() + 2)
		} else {
			cycle.CycleEnd = next.Add(-time.Nanosecond)
			cycle.NextElectionDate = next
		}
		return cycle
	}

	// Upcoming cycle: nothing has passed yet. The next election is the
	// earliest configured future date; the window is backdated to the
	// prior cycle's general election.
	var next time.Time
	var nextType Type
	for _, t := range typePriority {
		d := dates.dateFor(t)
		if d != nil && d.After(now) && (next.IsZero() || d.Before(next)) {
			next = *d
			nextType = t
		}
	}
	start := priorGeneral(dates, now)
	cycle := Cycle{
		CurrentElectionType: nextType,
		InElectionCycle:     false,
		CycleStart:          start,
		NextElectionDate:    next,
	}
	if !next.IsZero() {
		cycle.CycleEnd = next.Add(-time.Nanosecond)
	} else {
		cycle.CycleEnd = endOfYear(now.Year() + 2)
	}
	return cycle
}

// priorGeneral backdates to the previous cycle's general election: the
// configured general minus two years, or the generic Nov 5 two years back
// when general is not configured.
func priorGeneral(dates StateDates, now time.Time) time.Time {
	if dates.General != nil {
		return dates.General.AddDate(-2, 0, 0)
	}
	return time.Date(now.Year()-2, time.November, 5, 0, 0, 0, 0, compliance.Eastern())
}

func endOfYear(year int) time.Time {
	return time.Date(year, time.December, 31, 23, 59, 59, int(time.Second-time.Nanosecond), compliance.Eastern())
}

package elections

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
)

func datePtr(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, compliance.Eastern())
	return &d
}

func TestCycleForInCycle(t *testing.T) {
	source := StaticSource{
		"GA": StateDates{
			Primary: datePtr(2026, time.May, 19),
			General: datePtr(2026, time.November, 3),
			Runoff:  datePtr(2026, time.December, 1),
		},
	}
	calc := NewCalculator(source, nil)

	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, compliance.Eastern())
	cycle := calc.CycleFor("GA", now)

	if cycle.Source != SourceAuthoritative {
		t.Fatalf("source: %s", cycle.Source)
	}
	if !cycle.InElectionCycle {
		t.Fatalf("should be in cycle")
	}
	if cycle.CurrentElectionType != TypePrimary {
		t.Fatalf("anchor type: %s", cycle.CurrentElectionType)
	}
	if !cycle.CycleStart.Equal(*source["GA"].Primary) {
		t.Fatalf("cycle start: %s", cycle.CycleStart)
	}
	// The window ends one instant before the next configured date.
	wantEnd := source["GA"].General.Add(-time.Nanosecond)
	if !cycle.CycleEnd.Equal(wantEnd) {
		t.Fatalf("cycle end: got %s, want %s", cycle.CycleEnd, wantEnd)
	}
	if !cycle.NextElectionDate.Equal(*source["GA"].General) {
		t.Fatalf("next election: %s", cycle.NextElectionDate)
	}
	if cycle.Contains(*source["GA"].General) {
		t.Fatalf("the next election instant belongs to the following cycle")
	}
	if !cycle.Contains(wantEnd) {
		t.Fatalf("the window end is inside the cycle")
	}
}

func TestCycleForPriorityOrder(t *testing.T) {
	// A special election earlier than the primary must not win the anchor:
	// priority order is fixed, not chronological.
	source := StaticSource{
		"TX": StateDates{
			Primary: datePtr(2026, time.March, 3),
			Special: datePtr(2026, time.January, 10),
		},
	}
	calc := NewCalculator(source, nil)

	now := time.Date(2026, time.April, 1, 0, 0, 0, 0, compliance.Eastern())
	cycle := calc.CycleFor("TX", now)
	if cycle.CurrentElectionType != TypePrimary {
		t.Fatalf("primary outranks special: got %s", cycle.CurrentElectionType)
	}
	if !cycle.CycleStart.Equal(*source["TX"].Primary) {
		t.Fatalf("cycle start should be the primary date: %s", cycle.CycleStart)
	}
}

func TestCycleForUpcoming(t *testing.T) {
	source := StaticSource{
		"OH": StateDates{
			Primary: datePtr(2026, time.May, 5),
			General: datePtr(2026, time.November, 3),
		},
	}
	calc := NewCalculator(source, nil)

	now := time.Date(2026, time.February, 1, 0, 0, 0, 0, compliance.Eastern())
	cycle := calc.CycleFor("OH", now)

	if cycle.InElectionCycle {
		t.Fatalf("nothing has passed; should not be in a cycle")
	}
	if cycle.CurrentElectionType != TypePrimary {
		t.Fatalf("next type: %s", cycle.CurrentElectionType)
	}
	if !cycle.NextElectionDate.Equal(*source["OH"].Primary) {
		t.Fatalf("next election: %s", cycle.NextElectionDate)
	}
	// The window is backdated to the prior cycle's general election.
	wantStart := source["OH"].General.AddDate(-2, 0, 0)
	if !cycle.CycleStart.Equal(wantStart) {
		t.Fatalf("cycle start: got %s, want %s", cycle.CycleStart, wantStart)
	}
}

func TestCycleForNothingFollows(t *testing.T) {
	source := StaticSource{
		"WY": StateDates{General: datePtr(2026, time.November, 3)},
	}
	calc := NewCalculator(source, nil)

	now := time.Date(2026, time.December, 1, 0, 0, 0, 0, compliance.Eastern())
	cycle := calc.CycleFor("WY", now)

	if !cycle.InElectionCycle || cycle.CurrentElectionType != TypeGeneral {
		t.Fatalf("unexpected cycle: %+v", cycle)
	}
	if cycle.CycleEnd.Year() != 2028 || cycle.CycleEnd.Month() != time.December {
		t.Fatalf("open-ended cycle should run to the end of the year two years out: %s", cycle.CycleEnd)
	}
	if !cycle.NextElectionDate.IsZero() {
		t.Fatalf("no next election configured: %s", cycle.NextElectionDate)
	}
}

func TestCycleForFallback(t *testing.T) {
	calc := NewCalculator(nil, nil)

	now := time.Date(2026, time.August, 1, 0, 0, 0, 0, compliance.Eastern())
	cycle := calc.CycleFor("ZZ", now)

	if cycle.Source != SourceFallback {
		t.Fatalf("missing state should use fallback dates: %s", cycle.Source)
	}
	// Generic June 1 primary has passed; the window runs to the Nov 5 general.
	if cycle.CurrentElectionType != TypePrimary || !cycle.InElectionCycle {
		t.Fatalf("unexpected fallback cycle: %+v", cycle)
	}
	if cycle.NextElectionDate.Month() != time.November || cycle.NextElectionDate.Day() != 5 {
		t.Fatalf("fallback general: %s", cycle.NextElectionDate)
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elections.yaml")
	content := `states:
  ga:
    primary: "2026-05-19"
    general: "2026-11-03"
  tx:
    general: "2026-11-03"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	source, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}

	dates, ok := source.Dates(" ga ")
	if !ok {
		t.Fatalf("state lookup should be case and whitespace insensitive")
	}
	if dates.Primary == nil || dates.Primary.Day() != 19 {
		t.Fatalf("primary date: %+v", dates.Primary)
	}
	if dates.Primary.Location().String() != compliance.Eastern().String() {
		t.Fatalf("dates must be interpreted in Eastern time: %s", dates.Primary.Location())
	}

	if _, ok := source.Dates("CA"); ok {
		t.Fatalf("unconfigured state should miss")
	}
}

func TestFileSourceRejectsBadDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elections.yaml")
	if err := os.WriteFile(path, []byte("states:\n  ga:\n    primary: \"05/19/2026\"\n"), 0o600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if _, err := NewFileSource(path); err == nil {
		t.Fatalf("malformed date should fail the load")
	}
}

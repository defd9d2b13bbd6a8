package elections

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
)

// stateDatesYAML is the on-disk shape of one state's election dates.
// Dates are civil dates (YYYY-MM-DD) interpreted in Eastern time.
type stateDatesYAML struct {
	Primary string `yaml:"primary"`
	General string `yaml:"general"`
	Runoff  string `yaml:"runoff"`
	Special string `yaml:"special"`
}

type datesFileYAML struct {
	States map[string]stateDatesYAML `yaml:"states"`
}

// FileSource serves election dates from a yaml snapshot ingested offline by
// the external watcher jobs. It is read-only at runtime; Reload swaps the
// snapshot atomically.
type FileSource struct {
	path string

	mu    sync.RWMutex
	dates map[string]StateDates
}

var _ DateSource = (*FileSource)(nil)

// NewFileSource loads the snapshot at path.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the snapshot file.
func (s *FileSource) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read election dates: %w", err)
	}

	var file datesFileYAML
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse election dates: %w", err)
	}

	parsed := make(map[string]StateDates, len(file.States))
	for state, entry := range file.States {
		dates, err := parseStateDates(entry)
		if err != nil {
			return fmt.Errorf("state %s: %w", state, err)
		}
		parsed[normalizeState(state)] = dates
	}

	s.mu.Lock()
	s.dates = parsed
	s.mu.Unlock()
	return nil
}

// Dates implements DateSource.
func (s *FileSource) Dates(state string) (StateDates, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dates, ok := s.dates[normalizeState(state)]
	return dates, ok
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func parseStateDates(entry stateDatesYAML) (StateDates, error) {
	var dates StateDates
	fields := []struct {
		raw string
		dst **time.Time
	}{
		{entry.Primary, &dates.Primary},
		{entry.General, &dates.General},
		{entry.Runoff, &dates.Runoff},
		{entry.Special, &dates.Special},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			continue
		}
		t, err := time.ParseInLocation("2006-01-02", raw, compliance.Eastern())
		if err != nil {
			return StateDates{}, fmt.Errorf("parse date %q: %w", raw, err)
		}
		*f.dst = &t
	}
	return dates, nil
}

// StaticSource is a fixed in-memory date source, mainly for tests and local
// development.
type StaticSource map[string]StateDates

var _ DateSource = StaticSource(nil)

// Dates implements DateSource.
func (s StaticSource) Dates(state string) (StateDates, bool) {
	dates, ok := s[normalizeState(state)]
	return dates, ok
}

// Package session reacts to the legislative-session signal: it ages out
// eligible pledges when the tracked session ends and sends warnings as the
// end approaches. The engine never polls the upstream API directly; the
// signal is an injected collaborator.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Info describes the tracked legislative session.
type Info struct {
	Session          string    `json:"session"`
	SessionEndDate   time.Time `json:"session_end_date"`
	NextElectionDate time.Time `json:"next_election_date"`
	Ended            bool      `json:"ended"`
	InWarningPeriod  bool      `json:"in_warning_period"`
}

// Signal reports the state of the tracked legislative session.
type Signal interface {
	IsSessionEnded(ctx context.Context) (bool, error)
	IsInWarningPeriod(ctx context.Context) (bool, error)
	SessionInfo(ctx context.Context) (Info, error)
}

// HTTPSignal fetches session state from an upstream endpoint maintained by
// the external watcher jobs.
type HTTPSignal struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

var _ Signal = (*HTTPSignal)(nil)

// NewHTTPSignal validates the endpoint and builds the client.
func NewHTTPSignal(client *http.Client, endpoint, apiKey string) (*HTTPSignal, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("session signal endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid session signal endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSignal{client: client, endpoint: endpoint, apiKey: apiKey}, nil
}

func (s *HTTPSignal) SessionInfo(ctx context.Context) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Info{}, err
	}
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("session signal returned %d", resp.StatusCode)
	}

	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Info{}, fmt.Errorf("decode session info: %w", err)
	}
	return info, nil
}

func (s *HTTPSignal) IsSessionEnded(ctx context.Context) (bool, error) {
	info, err := s.SessionInfo(ctx)
	if err != nil {
		return false, err
	}
	return info.Ended, nil
}

func (s *HTTPSignal) IsInWarningPeriod(ctx context.Context) (bool, error) {
	info, err := s.SessionInfo(ctx)
	if err != nil {
		return false, err
	}
	return info.InWarningPeriod, nil
}

// StaticSignal is a fixed in-memory signal for tests and manual operation.
type StaticSignal struct {
	mu   sync.RWMutex
	info Info
}

var _ Signal = (*StaticSignal)(nil)

// NewStaticSignal builds a signal that reports the given info.
func NewStaticSignal(info Info) *StaticSignal {
	return &StaticSignal{info: info}
}

// Set replaces the reported info.
func (s *StaticSignal) Set(info Info) {
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
}

func (s *StaticSignal) SessionInfo(context.Context) (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info, nil
}

func (s *StaticSignal) IsSessionEnded(ctx context.Context) (bool, error) {
	info, _ := s.SessionInfo(ctx)
	return info.Ended, nil
}

func (s *StaticSignal) IsInWarningPeriod(ctx context.Context) (bool, error) {
	info, _ := s.SessionInfo(ctx)
	return info.InWarningPeriod, nil
}

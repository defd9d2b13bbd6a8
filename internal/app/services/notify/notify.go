// Package notify defines the outbound notification sink. Notifications are
// fire-and-forget: a failure here must never roll back a validated donation
// or a status transition, so callers log errors and continue.
package notify

import (
	"context"
	"time"

	"github.com/pledgeworks/celebrate/pkg/logger"
)

// Sink receives user-facing notifications.
type Sink interface {
	LimitReached(ctx context.Context, donorID, limitType string) error
	TipLimitReached(ctx context.Context, donorID string) error
	PledgeDefunct(ctx context.Context, donorID, pledgeID, sessionName string) error
	SessionWarning(ctx context.Context, donorID string, sessionEnd time.Time) error
}

// LogSink writes notifications to the application log. It stands in for
// the email/webhook delivery pipeline, which lives outside this engine.
type LogSink struct {
	log *logger.Logger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink builds a log-backed sink.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &LogSink{log: log}
}

func (s *LogSink) LimitReached(_ context.Context, donorID, limitType string) error {
	s.log.WithField("donor", donorID).Infof("notify: %s limit reached", limitType)
	return nil
}

func (s *LogSink) TipLimitReached(_ context.Context, donorID string) error {
	s.log.WithField("donor", donorID).Info("notify: annual tip limit reached")
	return nil
}

func (s *LogSink) PledgeDefunct(_ context.Context, donorID, pledgeID, sessionName string) error {
	s.log.WithField("donor", donorID).Infof("notify: pledge %s defunct (%s)", pledgeID, sessionName)
	return nil
}

func (s *LogSink) SessionWarning(_ context.Context, donorID string, sessionEnd time.Time) error {
	s.log.WithField("donor", donorID).Infof("notify: session ends %s", sessionEnd.Format(time.RFC3339))
	return nil
}

package session

import (
	"context"
	"sync"
	"time"

	"github.com/pledgeworks/celebrate/internal/app/domain/pledge"
	"github.com/pledgeworks/celebrate/internal/app/metrics"
	"github.com/pledgeworks/celebrate/internal/app/services/notify"
	"github.com/pledgeworks/celebrate/internal/app/services/pledges"
	"github.com/pledgeworks/celebrate/internal/app/storage"
	"github.com/pledgeworks/celebrate/internal/app/system"
	"github.com/pledgeworks/celebrate/pkg/logger"
)

// Watcher periodically consults the session signal and drives the bulk
// defunct transition and warning notifications. Each session is processed
// at most once.
type Watcher struct {
	signal   Signal
	machine  *pledges.Service
	store    storage.PledgeStore
	notifier notify.Sink
	interval time.Duration
	log      *logger.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	processed map[string]bool
	warned    map[string]bool
}

var _ system.Service = (*Watcher)(nil)

// NewWatcher builds a session watcher.
func NewWatcher(signal Signal, machine *pledges.Service, store storage.PledgeStore, notifier notify.Sink, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.NewDefault("session-watcher")
	}
	if notifier == nil {
		notifier = notify.NewLogSink(log)
	}
	return &Watcher{
		signal:    signal,
		machine:   machine,
		store:     store,
		notifier:  notifier,
		interval:  time.Minute,
		log:       log,
		processed: make(map[string]bool),
		warned:    make(map[string]bool),
	}
}

// WithInterval overrides the poll interval. Call before Start.
func (w *Watcher) WithInterval(d time.Duration) *Watcher {
	if d > 0 {
		w.interval = d
	}
	return w
}

func (w *Watcher) Name() string { return "session-watcher" }

func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.Tick(runCtx)
			}
		}
	}()

	w.log.Info("session watcher started")
	return nil
}

func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Tick runs one poll of the signal. Exported so the HTTP shell can force a
// check when the upstream delivers a push notification.
func (w *Watcher) Tick(ctx context.Context) {
	info, err := w.signal.SessionInfo(ctx)
	if err != nil {
		w.log.WithError(err).Warn("session signal unavailable")
		return
	}

	switch {
	case info.Ended:
		w.handleSessionEnd(ctx, info)
	case info.InWarningPeriod:
		w.handleWarning(ctx, info)
	}
}

func (w *Watcher) handleSessionEnd(ctx context.Context, info Info) {
	w.mu.Lock()
	already := w.processed[info.Session]
	if !already {
		w.processed[info.Session] = true
	}
	w.mu.Unlock()
	if already {
		return
	}

	meta := map[string]string{
		"session":          info.Session,
		"session_end_date": info.SessionEndDate.Format(time.RFC3339),
	}
	if !info.NextElectionDate.IsZero() {
		meta["next_election_date"] = info.NextElectionDate.Format(time.RFC3339)
	}

	count, err := w.machine.MakeDefunctBulk(ctx, meta, time.Now().UTC())
	if err != nil {
		w.log.WithError(err).Error("bulk defunct failed; will not retry this session automatically")
		return
	}
	for i := 0; i < count; i++ {
		metrics.PledgeDefuncted()
	}
	w.log.Infof("session %s ended; %d pledges marked defunct", info.Session, count)
}

// handleWarning notifies each donor with active pledges once per session.
func (w *Watcher) handleWarning(ctx context.Context, info Info) {
	w.mu.Lock()
	already := w.warned[info.Session]
	if !already {
		w.warned[info.Session] = true
	}
	w.mu.Unlock()
	if already {
		return
	}

	active, err := w.store.ListPledgesByStatus(ctx, pledge.StatusActive)
	if err != nil {
		w.log.WithError(err).Warn("list active pledges for warning failed")
		return
	}

	seen := make(map[string]bool)
	for _, p := range active {
		if seen[p.DonorID] {
			continue
		}
		seen[p.DonorID] = true
		if err := w.notifier.SessionWarning(ctx, p.DonorID, info.SessionEndDate); err != nil {
			w.log.WithError(err).WithField("donor", p.DonorID).Warn("session warning notification failed")
		}
	}
	w.log.Infof("session %s in warning period; notified %d donors", info.Session, len(seen))
}

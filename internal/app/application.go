package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pledgeworks/celebrate/internal/app/services/donations"
	"github.com/pledgeworks/celebrate/internal/app/services/elections"
	"github.com/pledgeworks/celebrate/internal/app/services/limits"
	"github.com/pledgeworks/celebrate/internal/app/services/notify"
	"github.com/pledgeworks/celebrate/internal/app/services/pledges"
	"github.com/pledgeworks/celebrate/internal/app/services/session"
	"github.com/pledgeworks/celebrate/internal/app/services/tips"
	"github.com/pledgeworks/celebrate/internal/app/storage"
	"github.com/pledgeworks/celebrate/internal/app/storage/memory"
	"github.com/pledgeworks/celebrate/internal/app/system"
	"github.com/pledgeworks/celebrate/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Donors      storage.DonorStore
	Pledges     storage.PledgeStore
	Idempotency storage.IdempotencyStore
}

// Options configures the optional background machinery.
type Options struct {
	// ElectionDatesPath points at the yaml snapshot of per-state election
	// dates. Empty means every state uses the generic fallback dates.
	ElectionDatesPath string
	// SessionSignalURL is the congressional-session signal endpoint. Empty
	// disables the watcher's remote signal; a static signal is used instead
	// so the watcher can still be driven from tests and the HTTP trigger.
	SessionSignalURL string
	SessionSignalKey string
	SessionPoll      time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Donors    storage.DonorStore
	Cycles    *elections.Calculator
	Limits    *limits.Service
	Tips      *tips.Service
	Pledges   *pledges.Service
	Donations *donations.Service
	Watcher   *session.Watcher
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Donors == nil {
		stores.Donors = mem
	}
	if stores.Pledges == nil {
		stores.Pledges = mem
	}
	if stores.Idempotency == nil {
		stores.Idempotency = mem
	}

	manager := system.NewManager()

	var source elections.DateSource
	if opts.ElectionDatesPath != "" {
		fileSource, err := elections.NewFileSource(opts.ElectionDatesPath)
		if err != nil {
			return nil, fmt.Errorf("load election dates: %w", err)
		}
		source = fileSource
	}
	calculator := elections.NewCalculator(source, log)

	notifier := notify.NewLogSink(log)

	limitEngine := limits.New(stores.Donors, stores.Pledges, calculator, log)
	pacTracker := tips.New(stores.Donors, stores.Pledges, log)
	machine := pledges.New(stores.Donors, stores.Pledges, notifier, log)
	donationSvc := donations.New(stores.Donors, stores.Pledges, stores.Idempotency,
		limitEngine, pacTracker, calculator, notifier, log)

	var signal session.Signal
	if opts.SessionSignalURL != "" {
		httpSignal, err := session.NewHTTPSignal(&http.Client{Timeout: 10 * time.Second},
			opts.SessionSignalURL, opts.SessionSignalKey)
		if err != nil {
			return nil, fmt.Errorf("configure session signal: %w", err)
		}
		signal = httpSignal
	} else {
		log.Warn("SESSION_SIGNAL_URL not set; session watcher runs on a static signal")
		signal = session.NewStaticSignal(session.Info{})
	}
	watcher := session.NewWatcher(signal, machine, stores.Pledges, notifier, log).
		WithInterval(opts.SessionPoll)

	reset := tips.NewResetScheduler(stores.Donors, log)

	for _, svc := range []system.Service{watcher, reset} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		Donors:    stores.Donors,
		Cycles:    calculator,
		Limits:    limitEngine,
		Tips:      pacTracker,
		Pledges:   machine,
		Donations: donationSvc,
		Watcher:   watcher,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Package poll runs the periodic poll cycle: fetch a snapshot from the
// gateway, forward it to the configured sinks, and keep the latest outcome
// and health inputs for the API layer.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/powermon/internal/core/domain"
	"github.com/vietddude/powermon/internal/gateway"
	"github.com/vietddude/powermon/internal/health"
	"github.com/vietddude/powermon/internal/metrics"
)

// SnapshotSource produces one full gateway snapshot per call.
type SnapshotSource interface {
	Fetch(ctx context.Context) (*domain.Snapshot, error)
}

// StoreSink pushes a snapshot to the time-series store.
type StoreSink interface {
	Write(ctx context.Context, s *domain.Snapshot) error
}

// BusSink publishes snapshots and availability to the message bus.
type BusSink interface {
	Publish(ctx context.Context, s *domain.Snapshot) error
	PublishAvailability(ctx context.Context, online bool, detail string) error
	Connected() bool
}

// OutcomeArchive persists poll outcomes for later inspection.
type OutcomeArchive interface {
	Append(ctx context.Context, o *domain.PollOutcome) error
}

// OutcomeCache holds the most recent outcome in a shared cache.
type OutcomeCache interface {
	SetLatest(ctx context.Context, o *domain.PollOutcome) error
}

// RecoveryTrigger is notified when the gateway is unreachable.
type RecoveryTrigger interface {
	HandleDeviceFailure(ctx context.Context, detail string)
	Enabled() bool
	LastError() string
	LastSuccess() time.Time
}

// Config tunes the background loop.
type Config struct {
	Interval time.Duration // default 30s
}

const DefaultInterval = 30 * time.Second

// Options controls one poll cycle.
type Options struct {
	// PushToStore forwards the snapshot to the time-series store.
	PushToStore bool
	// Publish forwards the snapshot to the bus. Nil follows PushToStore, so
	// a routine cycle drives both sinks together.
	Publish *bool
	// StoreResult commits the outcome as the service's latest state. Live
	// preview fetches set this false so they never perturb health reporting.
	StoreResult bool
}

// DefaultOptions is what the background loop runs with.
func DefaultOptions() Options {
	return Options{PushToStore: true, StoreResult: true}
}

// Scheduler serializes poll cycles and owns the latest-outcome state.
// Exactly one cycle runs at a time; a manual trigger that arrives while the
// background loop is mid-cycle simply waits its turn.
type Scheduler struct {
	cfg      Config
	source   SnapshotSource
	store    StoreSink
	bus      BusSink
	archive  OutcomeArchive
	cache    OutcomeCache
	recovery RecoveryTrigger
	log      *slog.Logger
	now      func() time.Time

	// pollMu is the single poll gate. Every cycle, background or manual,
	// holds it for the full fetch-and-forward sequence.
	pollMu sync.Mutex

	// stateMu guards the published state below; API handlers read it while
	// a cycle may be committing.
	stateMu             sync.RWMutex
	lastOutcome         *domain.PollOutcome
	lastPoll            time.Time
	lastSuccess         time.Time
	consecutiveFailures int
	deviceErr           string
	deviceLastSuccess   time.Time
	storeState          health.SinkState
	busState            health.SinkState

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// New builds a scheduler. store, bus, archive, cache, and recovery may be nil
// when the corresponding feature is disabled.
func New(cfg Config, source SnapshotSource, store StoreSink, bus BusSink,
	archive OutcomeArchive, cache OutcomeCache, recovery RecoveryTrigger,
	log *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		source:   source,
		store:    store,
		bus:      bus,
		archive:  archive,
		cache:    cache,
		recovery: recovery,
		log:      log,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run executes the background loop until ctx is cancelled or Stop is called.
// Each iteration polls once, then sleeps for whatever remains of the interval
// after the cycle's own duration.
func (s *Scheduler) Run(ctx context.Context) {
	s.running.Store(true)
	defer func() {
		s.running.Store(false)
		s.doneOnce.Do(func() { close(s.done) })
	}()

	s.log.Info("poll loop started", "interval", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("poll loop stopped", "reason", ctx.Err())
			return
		case <-s.stop:
			s.log.Info("poll loop stopped")
			return
		default:
		}

		started := s.now()
		if _, err := s.PollOnce(ctx, DefaultOptions()); err != nil {
			s.log.Warn("poll cycle failed", "error", err)
		}

		sleep := s.cfg.Interval - s.now().Sub(started)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			s.log.Info("poll loop stopped", "reason", ctx.Err())
			return
		case <-s.stop:
			s.log.Info("poll loop stopped")
			return
		case <-time.After(sleep):
		}
	}
}

// Stop ends the background loop and waits for any in-flight cycle to finish,
// so the caller can release the resources a cycle touches. An in-progress
// fetch runs to completion; only new cycles are prevented. Safe to call more
// than once, and safe to call even if Run was never started.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.running.Load() {
		<-s.done
	}
	// An on-demand cycle may hold the gate without the loop running.
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
}

// PollOnce runs one full cycle under the poll gate and returns its outcome.
// The returned error mirrors the outcome's device error; sink failures are
// recorded on the outcome but do not fail the cycle.
func (s *Scheduler) PollOnce(ctx context.Context, opts Options) (*domain.PollOutcome, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	started := s.now()
	outcome := &domain.PollOutcome{
		ID:        uuid.NewString(),
		Timestamp: started,
	}

	snap, err := s.source.Fetch(ctx)
	if err != nil {
		outcome.DeviceError = err.Error()
		outcome.Duration = s.now().Sub(started)
		metrics.PollCycles.WithLabelValues("failure").Inc()
		metrics.PollDuration.Observe(outcome.Duration.Seconds())
		metrics.GatewayFailures.WithLabelValues(gateway.Classify(err).String()).Inc()

		s.handleDeviceFailure(ctx, err, opts)
		if opts.StoreResult {
			s.commit(ctx, outcome)
		}
		return outcome, err
	}

	outcome.Snapshot = snap
	s.forward(ctx, outcome, opts)
	outcome.Duration = s.now().Sub(started)

	metrics.PollCycles.WithLabelValues("success").Inc()
	metrics.PollDuration.Observe(outcome.Duration.Seconds())
	if snap.BatteryPercent != nil {
		metrics.BatteryPercent.Set(*snap.BatteryPercent)
	}

	if opts.StoreResult {
		s.commit(ctx, outcome)
	}
	return outcome, nil
}

// forward pushes the snapshot to the enabled sinks per the cycle options.
func (s *Scheduler) forward(ctx context.Context, outcome *domain.PollOutcome, opts Options) {
	if opts.PushToStore && s.store != nil {
		if err := s.store.Write(ctx, outcome.Snapshot); err != nil {
			outcome.StoreError = err.Error()
			metrics.SinkErrors.WithLabelValues("influxdb").Inc()
			s.log.Warn("time-series push failed", "error", err)
		} else {
			outcome.PushedStore = true
		}
	}

	publish := opts.PushToStore
	if opts.Publish != nil {
		publish = *opts.Publish
	}
	if publish && s.bus != nil {
		if err := s.bus.Publish(ctx, outcome.Snapshot); err != nil {
			outcome.BusError = err.Error()
			metrics.SinkErrors.WithLabelValues("mqtt").Inc()
			s.log.Warn("bus publish failed", "error", err)
		} else {
			outcome.PublishedBus = true
		}
	}
}

// handleDeviceFailure marks the gateway offline on the bus and kicks the
// recovery coordinator. Both happen even for preview cycles: an unreachable
// gateway is an unreachable gateway regardless of who asked.
func (s *Scheduler) handleDeviceFailure(ctx context.Context, err error, opts Options) {
	if s.bus != nil {
		if perr := s.bus.PublishAvailability(ctx, false, err.Error()); perr != nil {
			s.log.Debug("failed to publish offline availability", "error", perr)
		}
	}
	if s.recovery != nil && gateway.Classify(err) == gateway.FailureConnection {
		s.recovery.HandleDeviceFailure(ctx, err.Error())
	}
}

// commit publishes the outcome as the service's latest state and mirrors it
// to the archive and cache, best effort.
func (s *Scheduler) commit(ctx context.Context, outcome *domain.PollOutcome) {
	s.stateMu.Lock()
	s.lastOutcome = outcome
	s.lastPoll = outcome.Timestamp
	if outcome.Success() {
		s.lastSuccess = outcome.Timestamp
		s.consecutiveFailures = 0
		s.deviceErr = ""
		s.deviceLastSuccess = outcome.Timestamp
	} else {
		s.consecutiveFailures++
		s.deviceErr = outcome.DeviceError
	}
	if outcome.PushedStore {
		s.storeState = health.SinkState{LastSuccess: outcome.Timestamp}
	} else if outcome.StoreError != "" {
		s.storeState.LastError = outcome.StoreError
	}
	if outcome.PublishedBus {
		s.busState = health.SinkState{LastSuccess: outcome.Timestamp}
	} else if outcome.BusError != "" {
		s.busState.LastError = outcome.BusError
	}
	failures := s.consecutiveFailures
	s.stateMu.Unlock()

	metrics.ConsecutiveFailures.Set(float64(failures))

	if s.cache != nil {
		if err := s.cache.SetLatest(ctx, outcome); err != nil {
			s.log.Debug("failed to cache latest outcome", "error", err)
		}
	}
	if s.archive != nil {
		if err := s.archive.Append(ctx, outcome); err != nil {
			s.log.Warn("failed to archive poll outcome", "error", err)
		}
	}
}

// LatestOutcome returns the most recently committed outcome, or nil before
// the first committed cycle.
func (s *Scheduler) LatestOutcome() *domain.PollOutcome {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastOutcome
}

// Running reports whether the background loop is active.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Interval returns the configured poll interval.
func (s *Scheduler) Interval() time.Duration { return s.cfg.Interval }

// HealthReport assembles the consolidated health view from the committed
// state and the live sink handles.
func (s *Scheduler) HealthReport() domain.HealthReport {
	s.stateMu.RLock()
	in := health.Inputs{
		DeviceError:         s.deviceErr,
		DeviceLastSuccess:   s.deviceLastSuccess,
		Store:               s.storeState,
		StoreEnabled:        s.store != nil,
		Bus:                 s.busState,
		BusEnabled:          s.bus != nil,
		RecoveryEnabled:     s.recovery != nil && s.recovery.Enabled(),
		LastPoll:            s.lastPoll,
		LastSuccess:         s.lastSuccess,
		ConsecutiveFailures: s.consecutiveFailures,
	}
	s.stateMu.RUnlock()

	if s.bus != nil {
		in.BusConnected = s.bus.Connected()
	}
	if in.RecoveryEnabled {
		in.RecoveryLastError = s.recovery.LastError()
		in.RecoveryLastSuccess = s.recovery.LastSuccess()
	}
	in.LoopRunning = s.Running()

	return health.Aggregate(in)
}

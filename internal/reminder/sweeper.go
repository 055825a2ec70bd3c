// Package reminder provides the periodic sweep that nudges the current
// signer of every open request as expiry approaches.
package reminder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/onnwee/inkflow/internal/signing"
	"github.com/onnwee/inkflow/internal/tasks"
)

// DefaultSweepInterval is the default interval between sweep cycles.
// Reminders fire on day boundaries, so an hourly sweep keeps the
// latency of each threshold under an hour without redelivering.
const DefaultSweepInterval = time.Hour

// DefaultSweepTimeout is the default timeout for a single sweep cycle.
const DefaultSweepTimeout = 2 * time.Minute

// SweeperConfig configures the reminder sweeper.
type SweeperConfig struct {
	// Interval is the duration between sweep cycles.
	Interval time.Duration
	// Timeout for each sweep cycle.
	Timeout time.Duration
	// Logger for sweep activity.
	Logger *slog.Logger
	// Metrics for sweep tracking.
	Metrics *Metrics
	// Clock drives the ticker and the days-remaining math; defaults to
	// the real clock.
	Clock clock.Clock
}

// Sweeper periodically walks the open requests and schedules a reminder
// for the signer currently up, at each of the configured days-remaining
// thresholds. Each (request, threshold) pair fires at most once; the
// request carries the marker of the last threshold delivered.
type Sweeper struct {
	config    SweeperConfig
	store     signing.Store
	scheduler tasks.Scheduler
	clk       clock.Clock

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper creates a reminder sweeper.
func NewSweeper(store signing.Store, scheduler tasks.Scheduler, config SweeperConfig) *Sweeper {
	if config.Interval == 0 {
		config.Interval = DefaultSweepInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultSweepTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &Sweeper{
		config:    config,
		store:     store,
		scheduler: scheduler,
		clk:       config.Clock,
	}
}

// Start begins the periodic sweep.
// Returns immediately; the sweep runs in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop signals the sweeper to stop and waits for it to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the sweeper is currently running.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// run is the main loop for the sweeper.
func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := s.clk.Ticker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.config.Logger.Info("reminder sweeper stopping due to context cancellation")
			return
		case <-s.stopCh:
			s.config.Logger.Info("reminder sweeper stopping due to stop signal")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one reminder cycle with the configured timeout.
func (s *Sweeper) sweep(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	sent, err := s.RunOnce(ctx)
	duration := time.Since(start).Seconds()

	if s.config.Metrics != nil {
		status := StatusSuccess
		if err != nil {
			status = StatusFailure
		}
		s.config.Metrics.IncSweepsTotal(status)
		s.config.Metrics.ObserveSweepDuration(duration)
		s.config.Metrics.AddRemindersSent(sent)
	}
	if err != nil {
		s.config.Logger.Error("reminder sweep failed",
			"reminders_sent", sent,
			"duration_seconds", duration,
			"error", err)
		return
	}
	s.config.Logger.Info("reminder sweep completed",
		"reminders_sent", sent,
		"duration_seconds", duration)
}

// RunOnce walks every open request once and returns how many reminders
// it scheduled. A failure on one request is logged and skipped; the
// sweep keeps going. Exposed for the one-shot sweeper binary and tests.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	requests, err := s.store.ListOpenRequests(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clk.Now().UTC()
	sent := 0
	for _, req := range requests {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		default:
		}

		ok, err := s.remind(ctx, req, now)
		if err != nil {
			s.config.Logger.Error("reminder skipped",
				"request_id", req.ID,
				"error", err)
			if s.config.Metrics != nil {
				s.config.Metrics.IncSweepErrors()
			}
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

// remind fires at most one reminder for a request, when its
// days-remaining sits exactly on an unfired threshold.
func (s *Sweeper) remind(ctx context.Context, req *signing.SignatureRequest, now time.Time) (bool, error) {
	days := signing.DaysRemaining(req.ExpiresAt, now)
	if days == 0 {
		// Expired; the read path reports that on its own.
		return false, nil
	}

	threshold := 0
	for _, t := range signing.ReminderThresholds {
		if days == t {
			threshold = t
			break
		}
	}
	if threshold == 0 || req.LastReminderDay == threshold {
		return false, nil
	}

	signer, err := s.currentSigner(ctx, req.ID)
	if err != nil {
		return false, err
	}
	if signer == nil {
		// No signer is up right now; nothing to remind.
		return false, nil
	}

	// Persist the marker before scheduling, so a crash between the two
	// drops a reminder instead of repeating one.
	req.LastReminderDay = threshold
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		return false, err
	}

	if err := s.scheduler.Schedule(0, tasks.KindNotifyReminder, tasks.NotifyReminderPayload{
		RequestID:     req.ID,
		SignerID:      signer.ID,
		DaysRemaining: threshold,
	}); err != nil {
		return false, err
	}

	s.config.Logger.Debug("reminder scheduled",
		"request_id", req.ID,
		"signer_id", signer.ID,
		"days_remaining", threshold)
	return true, nil
}

// currentSigner returns the signer whose turn it is: the lowest-order
// signer already sent their link but not yet signed.
func (s *Sweeper) currentSigner(ctx context.Context, requestID string) (*signing.Signer, error) {
	signers, err := s.store.ListSigners(ctx, requestID)
	if err != nil {
		return nil, err
	}
	for _, signer := range signers {
		if signer.Status == signing.SignerSent {
			return signer, nil
		}
		if signer.Status == signing.SignerDeclined {
			return nil, nil
		}
	}
	return nil, nil
}

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Processor runs the periodic engine maintenance
type Processor interface {
	// ResendAll retransmits unsent and failed entries of connected accounts
	ResendAll(ctx context.Context) (int, error)
	// SweepTemporaryOccupants drops expired nickname changes
	SweepTemporaryOccupants() int
}

// Config holds configuration for the maintenance scheduler
type Config struct {
	ResendInterval time.Duration
	SweepInterval  time.Duration
	StartDelay     time.Duration // delay before the first resend
}

// Scheduler periodically resends pending entries and sweeps rooms
type Scheduler struct {
	processor      Processor
	resendInterval time.Duration
	sweepInterval  time.Duration
	startDelay     time.Duration
	logger         *slog.Logger
	stopCh         chan struct{}
	cancel         context.CancelFunc // stops in-flight resends
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

// New creates a new maintenance scheduler
func New(processor Processor, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.ResendInterval == 0 {
		cfg.ResendInterval = time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	if cfg.StartDelay == 0 {
		cfg.StartDelay = 5 * time.Second
	}

	return &Scheduler{
		processor:      processor,
		resendInterval: cfg.ResendInterval,
		sweepInterval:  cfg.SweepInterval,
		startDelay:     cfg.StartDelay,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance scheduler started", "resend_interval", s.resendInterval, "sweep_interval", s.sweepInterval)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the scheduler and waits for the loop to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	resend := time.NewTicker(s.resendInterval)
	defer resend.Stop()
	sweep := time.NewTicker(s.sweepInterval)
	defer sweep.Stop()

	// give sessions a moment to connect before the first resend
	select {
	case <-time.After(s.startDelay):
		s.resend(ctx)
	case <-s.stopCh:
		return
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-resend.C:
			s.resend(ctx)
		case <-sweep.C:
			s.sweep()
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) resend(ctx context.Context) {
	n, err := s.processor.ResendAll(ctx)
	if err != nil {
		s.logger.Error("failed to resend pending entries", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("resent pending entries", "count", n)
		return
	}
	s.logger.Debug("no pending entries to resend")
}

func (s *Scheduler) sweep() {
	if n := s.processor.SweepTemporaryOccupants(); n > 0 {
		s.logger.Info("dropped expired nickname changes", "count", n)
	}
}

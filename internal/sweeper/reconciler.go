package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/logger"
	"github.com/dgaz9/screenly/internal/store"
)

// ProcessingReconcilerConfig holds configuration for the processing reconciler
type ProcessingReconcilerConfig struct {
	Interval           time.Duration // Time to sleep between sweep cycles
	ProcessingDeadline time.Duration // How long an asset may stay in processing before it is failed
}

// processingReconciler implements the Sweeper interface. It is the backstop
// for remote-video resolutions that die without transitioning: any asset
// still marked is_processing past the deadline is failed and disabled so a
// placeholder never reaches the renderer.
type processingReconciler struct {
	config    *ProcessingReconcilerConfig
	store     store.Store
	clock     adapter.Clock
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewProcessingReconciler creates a new processing reconciler
func NewProcessingReconciler(
	config *ProcessingReconcilerConfig,
	st store.Store,
	clock adapter.Clock,
) Sweeper {
	return &processingReconciler{
		config:    config,
		store:     st,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the sweeper's name
func (s *processingReconciler) Name() string {
	return "processing-reconciler"
}

// Start begins the sweeper's main loop. Cycles run one at a time; a slow
// cycle delays the next one instead of overlapping it.
func (s *processingReconciler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh) // Signal that we've stopped
	}()

	logger.InfoCtx(ctx, "Starting processing reconciler",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("processing_deadline", s.config.ProcessingDeadline),
	)

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Processing reconciler stopping due to context cancellation", zap.Error(ctx.Err()))
			return nil
		case <-s.stopChan:
			logger.InfoCtx(ctx, "Processing reconciler stop requested")
			return nil
		default:
			if err := s.runSweepCycle(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.ErrorCtx(ctx, err)
				}
			}
			if !s.sleep(ctx, s.config.Interval) {
				return nil // Context canceled or stop requested during sleep
			}
		}
	}
}

// Stop gracefully stops the sweeper with timeout support
func (s *processingReconciler) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil // Already stopped
	}

	logger.InfoCtx(ctx, "Stopping processing reconciler")

	// Signal stop to the main loop
	close(s.stopChan)

	// Wait for main loop to exit, but respect context cancellation
	select {
	case <-s.stoppedCh:
		logger.InfoCtx(ctx, "Processing reconciler stopped gracefully")
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Processing reconciler stop interrupted by context timeout")
		return ctx.Err()
	}
}

// runSweepCycle fails every asset stuck in processing past the deadline
func (s *processingReconciler) runSweepCycle(ctx context.Context) error {
	cycleID := ulid.Make().String()
	startTime := s.clock.Now()
	cutoff := startTime.Add(-s.config.ProcessingDeadline)

	stale, err := s.store.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale processing assets: %w", err)
	}

	if len(stale) == 0 {
		return nil
	}

	logger.InfoCtx(ctx, "Found assets stuck in processing",
		zap.String("cycle_id", cycleID),
		zap.Int("count", len(stale)),
		zap.Time("cutoff", cutoff),
	)

	failed := 0
	for _, asset := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}

		reason := fmt.Sprintf("resolution did not complete within %s", s.config.ProcessingDeadline)
		if err := s.store.FailResolution(ctx, asset.AssetID, reason); err != nil {
			logger.ErrorCtx(ctx, err,
				zap.String("cycle_id", cycleID),
				zap.String("asset_id", asset.AssetID),
			)
			continue
		}
		failed++

		logger.WarnCtx(ctx, "Disabled asset stuck in processing",
			zap.String("cycle_id", cycleID),
			zap.String("asset_id", asset.AssetID),
			zap.Time("last_update", asset.UpdatedAt),
		)
	}

	logger.InfoCtx(ctx, "Reconcile cycle completed",
		zap.String("cycle_id", cycleID),
		zap.Duration("duration", s.clock.Since(startTime)),
		zap.Int("stale", len(stale)),
		zap.Int("failed", failed),
	)

	return nil
}

// sleep waits for the duration while staying responsive to cancellation.
// Returns false when the wait was interrupted.
func (s *processingReconciler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-s.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	case <-s.stopChan:
		return false
	}
}

// internal/membership/reconciler.go
package membership

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BulkSyncer is the slice of SyncService the reconciler needs.
type BulkSyncer interface {
	ListAsociacionIDs(ctx context.Context) ([]uuid.UUID, error)
	SyncAsociacion(ctx context.Context, asociacionID uuid.UUID) (*SyncReport, error)
}

// Reconciler runs periodic correction passes over every active asociación:
// one pass after an initial delay (so startup traffic settles first), then
// one per interval. A manual trigger is exposed; triggers while a pass is in
// flight are dropped, not queued.
type Reconciler struct {
	syncer       BulkSyncer
	initialDelay time.Duration
	interval     time.Duration
	runTimeout   time.Duration
	logger       zerolog.Logger

	updating atomic.Bool
	trigger  chan struct{}
}

// NewReconciler creates a reconciler; call Start to begin the schedule.
func NewReconciler(syncer BulkSyncer, initialDelay, interval, runTimeout time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		syncer:       syncer,
		initialDelay: initialDelay,
		interval:     interval,
		runTimeout:   runTimeout,
		logger:       logger.With().Str("component", "membership-reconciler").Logger(),
		trigger:      make(chan struct{}, 1),
	}
}

// Start blocks until ctx is cancelled. Cancellation stops the timers only;
// an in-flight pass keeps its own deadline and finishes in the background,
// its result discarded.
func (r *Reconciler) Start(ctx context.Context) {
	initial := time.NewTimer(r.initialDelay)
	defer initial.Stop()

	select {
	case <-ctx.Done():
		return
	case <-initial.C:
		go r.runOnce()
	case <-r.trigger:
		go r.runOnce()
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go r.runOnce()
		case <-r.trigger:
			go r.runOnce()
		}
	}
}

// TriggerNow requests an immediate pass. It reports false, without queueing,
// when a pass is already in flight.
func (r *Reconciler) TriggerNow() bool {
	if r.updating.Load() {
		return false
	}
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// InFlight reports whether a pass is currently running.
func (r *Reconciler) InFlight() bool {
	return r.updating.Load()
}

func (r *Reconciler) runOnce() {
	if !r.updating.CompareAndSwap(false, true) {
		return
	}
	defer r.updating.Store(false)

	// Deliberately not derived from the service context: shutdown discards
	// the result but does not cancel the pass.
	ctx, cancel := context.WithTimeout(context.Background(), r.runTimeout)
	defer cancel()

	start := time.Now()

	ids, err := r.syncer.ListAsociacionIDs(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("list asociaciones")
		syncRunsTotal.WithLabelValues("error").Inc()
		return
	}

	var corrected, failed int
	for _, id := range ids {
		report, err := r.syncer.SyncAsociacion(ctx, id)
		if err != nil {
			r.logger.Error().Err(err).Stringer("asociacion_id", id).Msg("sync asociacion")
			failed++
			continue
		}
		corrected += report.Synced
		syncRecordErrorsTotal.Add(float64(len(report.Errors)))
	}

	elapsed := time.Since(start)
	syncLastRunSeconds.Set(elapsed.Seconds())
	syncCorrectionsTotal.Add(float64(corrected))
	if failed > 0 {
		syncRunsTotal.WithLabelValues("partial").Inc()
	} else {
		syncRunsTotal.WithLabelValues("ok").Inc()
	}

	r.logger.Info().
		Int("asociaciones", len(ids)).
		Int("corrected", corrected).
		Int("failed", failed).
		Dur("elapsed", elapsed).
		Msg("reconciliation pass finished")
}

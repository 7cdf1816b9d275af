package movies

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultReconcileQueueSize   = 256
	defaultReconcileMaxAttempts = 8
	defaultReconcileMaxBackoff  = 30 * time.Second
)

// RatingReconcilerConfig configures the background recompute worker.
type RatingReconcilerConfig struct {
	Recompute      func(ctx context.Context, movieID int64) (*float64, error)
	Logger         *zap.Logger
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	QueueSize      int
}

// RatingReconciler retries the average recompute for movies whose average
// could not be refreshed inline. A movie is queued at most once at a time; a
// movie enqueued while it is being reconciled runs again afterwards.
type RatingReconciler struct {
	recompute      func(ctx context.Context, movieID int64) (*float64, error)
	logger         *zap.Logger
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxAttempts    int
	queue          chan int64

	mu      sync.Mutex
	queued  map[int64]struct{}
	running map[int64]struct{}
	rerun   map[int64]struct{}
}

// NewRatingReconciler constructs a reconciler. Run must be started for queued
// movies to be processed.
func NewRatingReconciler(cfg RatingReconcilerConfig) *RatingReconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultRecomputeBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultReconcileMaxBackoff
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultReconcileMaxAttempts
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultReconcileQueueSize
	}
	return &RatingReconciler{
		recompute:      cfg.Recompute,
		logger:         logger,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		maxAttempts:    maxAttempts,
		queue:          make(chan int64, queueSize),
		queued:         make(map[int64]struct{}),
		running:        make(map[int64]struct{}),
		rerun:          make(map[int64]struct{}),
	}
}

// Enqueue schedules a movie for recompute. It never blocks; when the queue is
// full the movie is dropped and logged for manual reconciliation.
func (r *RatingReconciler) Enqueue(movieID int64) bool {
	r.mu.Lock()
	if _, ok := r.queued[movieID]; ok {
		r.mu.Unlock()
		return true
	}
	if _, ok := r.running[movieID]; ok {
		r.rerun[movieID] = struct{}{}
		r.mu.Unlock()
		return true
	}
	r.queued[movieID] = struct{}{}
	r.mu.Unlock()

	return r.push(movieID)
}

// Pending reports how many movies are queued or being retried.
func (r *RatingReconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queued) + len(r.running)
}

// Run processes queued movies until ctx is done.
func (r *RatingReconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case movieID := <-r.queue:
			r.start(movieID)
			r.reconcile(ctx, movieID)
			if r.finish(movieID) {
				r.push(movieID)
			}
		}
	}
}

func (r *RatingReconciler) reconcile(ctx context.Context, movieID int64) {
	if r.recompute == nil {
		return
	}
	attempt := 0
	var average *float64
	operation := func() error {
		attempt++
		value, err := r.recompute(ctx, movieID)
		if err != nil {
			return permanentOnNotFound(err)
		}
		average = value
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("average rating reconcile attempt failed",
			zap.Int64("movie_id", movieID),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, newRetryPolicy(ctx, r.initialBackoff, r.maxBackoff, r.maxAttempts-1), notify)
	switch {
	case err == nil:
		fields := []zap.Field{zap.Int64("movie_id", movieID), zap.Int("attempt", attempt)}
		if average != nil {
			fields = append(fields, zap.Float64("average_rating", *average))
		}
		r.logger.Info("average rating reconciled", fields...)
	case errors.Is(err, ErrNotFound):
		r.logger.Info("stale rating dropped for deleted movie", zap.Int64("movie_id", movieID))
	case ctx.Err() != nil:
		// shutting down; the movie stays stale
	default:
		r.logger.Error("average rating left stale",
			zap.Int64("movie_id", movieID),
			zap.Int("attempts", attempt),
			zap.Error(err))
	}
}

// push hands a movie already marked queued to the worker, unmarking it when the
// queue is full.
func (r *RatingReconciler) push(movieID int64) bool {
	select {
	case r.queue <- movieID:
		return true
	default:
		r.mu.Lock()
		delete(r.queued, movieID)
		r.mu.Unlock()
		r.logger.Error("rating reconcile queue full",
			zap.Int64("movie_id", movieID),
			zap.Int("queue_size", cap(r.queue)))
		return false
	}
}

func (r *RatingReconciler) start(movieID int64) {
	r.mu.Lock()
	delete(r.queued, movieID)
	r.running[movieID] = struct{}{}
	r.mu.Unlock()
}

// finish clears the running mark and reports whether the movie was enqueued
// again meanwhile, in which case it is marked queued.
func (r *RatingReconciler) finish(movieID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, movieID)
	if _, ok := r.rerun[movieID]; !ok {
		return false
	}
	delete(r.rerun, movieID)
	r.queued[movieID] = struct{}{}
	return true
}

// Package dispatch owns every post transition from scheduled onward: the
// periodic sweep for due posts, delivery with retry and backoff, manual
// handoff, and orphan recovery after an unclean shutdown.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/internal/util"
	"github.com/ardelis/postqueue/queue/policy"
	"github.com/ardelis/postqueue/queue/post"
)

// Deliverer publishes a post through its platform's delivery channel.
// Implementations must respect ctx for the per-attempt timeout and apply
// their own outbound rate limiting.
type Deliverer interface {
	Deliver(ctx context.Context, p *post.Post) error
}

// Config contains dispatcher tuning
type Config struct {
	SweepInterval   time.Duration // how often to look for due posts
	DeliveryTimeout time.Duration // per-attempt bound on the delivery call
	MaxBackoff      time.Duration // cap on the exponential retry delay
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		SweepInterval:   60 * time.Second,
		DeliveryTimeout: 30 * time.Second,
		MaxBackoff:      24 * time.Hour,
	}
}

// Dispatcher sweeps for due posts and drives them to a terminal state
type Dispatcher struct {
	store     *post.Store
	table     *policy.Table
	deliverer Deliverer
	cfg       Config
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	log       *zap.SugaredLogger

	mu          sync.Mutex
	lastSweepAt time.Time
	sweepCount  int64
}

// New creates a dispatcher
func New(store *post.Store, table *policy.Table, deliverer Deliverer, cfg Config, log *zap.SugaredLogger) *Dispatcher {
	return NewWithContext(context.Background(), store, table, deliverer, cfg, log)
}

// NewWithContext creates a dispatcher with a parent context
func NewWithContext(ctx context.Context, store *post.Store, table *policy.Table, deliverer Deliverer, cfg Config, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	dctx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		store:     store,
		table:     table,
		deliverer: deliverer,
		cfg:       cfg,
		ctx:       dctx,
		cancel:    cancel,
		log:       log,
	}
}

// Start begins the sweep loop
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	d.log.Infow("Dispatcher started", "sweep_interval", d.cfg.SweepInterval)
}

// Stop gracefully stops the dispatcher, waiting for an in-flight sweep to
// finish. In-flight delivery attempts run to completion; their posts are
// already committed as dispatching, so an interrupted attempt is picked up
// by orphan recovery on the next start.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.log.Infow("Dispatcher stopped")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case tickTime := <-ticker.C:
			d.mu.Lock()
			d.lastSweepAt = tickTime
			d.sweepCount++
			d.mu.Unlock()

			if err := d.Sweep(tickTime); err != nil {
				d.log.Warnw("Dispatch sweep error", "error", err, "sweep", d.sweepCount)
			}
		}
	}
}

// Sweep finds scheduled posts whose time has come and dispatches each.
// One post's failure never blocks the rest of the sweep.
func (d *Dispatcher) Sweep(now time.Time) error {
	due, err := d.store.ListDue(now)
	if err != nil {
		return errors.Wrap(err, "failed to list due posts")
	}

	for _, p := range due {
		select {
		case <-d.ctx.Done():
			return d.ctx.Err()
		default:
		}

		if err := d.dispatchOne(p, now); err != nil {
			d.log.Errorw("Failed to dispatch post",
				"post_id", p.ID,
				"platform", p.Platform,
				"error", err)
			continue
		}
	}

	return nil
}

// dispatchOne claims a due post via CAS and runs one delivery attempt.
// Losing the CAS means another actor already owns the post; that is not an
// error, just a skip.
func (d *Dispatcher) dispatchOne(p *post.Post, now time.Time) error {
	pol, err := d.table.PolicyFor(p.Platform)
	if err != nil {
		return err
	}

	attempt := p.AttemptCount + 1
	claimed, err := d.store.UpdateStatus(p.ID, post.StatusScheduled, post.StatusDispatching,
		post.Update{AttemptCount: &attempt})
	if errors.IsConflict(err) {
		d.log.Debugw("Post claimed elsewhere, skipping", "post_id", p.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if pol.Manual {
		// Manual platforms have no API channel. The post parks in
		// dispatching until the operator confirms the outcome.
		d.log.Infow("Manual delivery handoff",
			"post_id", claimed.ID,
			"platform", claimed.Platform,
			"scheduled_at", claimed.ScheduledAt.Format(time.RFC3339))
		return nil
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	deliverErr := d.deliverer.Deliver(ctx, claimed)
	if deliverErr == nil {
		// A cancel request racing a successful delivery loses: the post
		// went out, so the record says published.
		published, err := d.store.UpdateStatus(claimed.ID, post.StatusDispatching, post.StatusPublished, post.Update{})
		if err != nil {
			return err
		}
		d.log.Infow("Post published",
			"post_id", published.ID,
			"platform", published.Platform,
			"attempt", attempt)
		return nil
	}

	return d.handleFailure(claimed.ID, pol, attempt, deliverErr, now)
}

// handleFailure records a failed attempt and decides the post's next state:
// cancelled if a deferred cancel is pending, failed once the retry budget
// is spent, otherwise rescheduled with exponential backoff.
func (d *Dispatcher) handleFailure(id string, pol policy.Policy, attempt int, deliverErr error, now time.Time) error {
	reason := deliverErr.Error()

	fresh, err := d.store.Get(id)
	if err != nil {
		return err
	}

	if fresh.CancelRequested {
		_, err := d.store.UpdateStatus(id, post.StatusDispatching, post.StatusCancelled,
			post.Update{LastError: &reason})
		if err != nil {
			return err
		}
		d.log.Infow("Post cancelled after failed attempt",
			"post_id", id, "attempt", attempt, "error", reason)
		return nil
	}

	if attempt > pol.MaxRetries {
		_, err := d.store.UpdateStatus(id, post.StatusDispatching, post.StatusFailed,
			post.Update{LastError: &reason})
		if err != nil {
			return err
		}
		d.log.Errorw("Post failed terminally, retry budget exhausted",
			"post_id", id, "attempts", attempt, "error", reason)
		return nil
	}

	// The destination window is capacity-checked like a fresh assignment;
	// a full window pushes the retry later rather than oversubscribing it.
	// Terminates once past the last scheduled post.
	retryAt := now.Add(Backoff(pol.BackoffBase, attempt, d.cfg.MaxBackoff))
	for {
		err = d.store.RetrySlot(id, fresh.Platform, retryAt, pol.Window, pol.MaxPerWindow, reason)
		if !errors.Is(err, errors.ErrNoCapacity) {
			break
		}
		retryAt = retryAt.Add(pol.Window)
	}
	if err != nil {
		return err
	}
	d.log.Warnw("Delivery failed, retry scheduled",
		"post_id", id,
		"attempt", attempt,
		"retry_at", retryAt.Format(time.RFC3339),
		"error", reason)
	return nil
}

// Backoff returns the delay before the retry following failed attempt n:
// base doubled per prior attempt, capped at max.
func Backoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// MarkPublished confirms a manual delivery. Only a dispatching post can be
// confirmed; a duplicate call fails with ErrConflict.
func (d *Dispatcher) MarkPublished(id string) (*post.Post, error) {
	published, err := d.store.UpdateStatus(id, post.StatusDispatching, post.StatusPublished, post.Update{})
	if err != nil {
		return nil, err
	}
	d.log.Infow("Manual delivery confirmed", "post_id", id)
	return published, nil
}

// MarkFailed records that a manual delivery did not happen. Manual posts
// get no automatic retry; the operator reschedules explicitly if wanted.
func (d *Dispatcher) MarkFailed(id, reason string) (*post.Post, error) {
	if reason == "" {
		reason = "manual delivery not completed"
	}
	failed, err := d.store.UpdateStatus(id, post.StatusDispatching, post.StatusFailed,
		post.Update{LastError: util.Ptr(reason)})
	if err != nil {
		return nil, err
	}
	d.log.Infow("Manual delivery marked failed", "post_id", id, "reason", reason)
	return failed, nil
}

// RecoverOrphans returns posts stranded in dispatching by an unclean
// shutdown to scheduled so the next sweep retries them. Manual-platform
// posts are left alone; dispatching is their normal waiting state. Posts
// with a pending cancel are cancelled instead of retried.
func (d *Dispatcher) RecoverOrphans() (int, error) {
	orphans, err := d.store.ListByStatus(post.StatusDispatching)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list dispatching posts")
	}

	recovered := 0
	for _, p := range orphans {
		pol, err := d.table.PolicyFor(p.Platform)
		if err != nil {
			d.log.Errorw("Orphan with unknown platform", "post_id", p.ID, "platform", p.Platform)
			continue
		}
		if pol.Manual {
			continue
		}

		if p.CancelRequested {
			reason := "cancelled during recovery"
			if _, err := d.store.UpdateStatus(p.ID, post.StatusDispatching, post.StatusCancelled,
				post.Update{LastError: &reason}); err != nil {
				d.log.Errorw("Failed to cancel orphaned post", "post_id", p.ID, "error", err)
				continue
			}
			recovered++
			continue
		}

		if _, err := d.store.UpdateStatus(p.ID, post.StatusDispatching, post.StatusScheduled, post.Update{}); err != nil {
			d.log.Errorw("Failed to recover orphaned post", "post_id", p.ID, "error", err)
			continue
		}
		d.log.Warnw("Recovered orphaned post, outcome of interrupted attempt unknown",
			"post_id", p.ID, "attempt_count", p.AttemptCount)
		recovered++
	}

	return recovered, nil
}

// GetStats returns dispatcher loop statistics
func (d *Dispatcher) GetStats() map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]interface{}{
		"last_sweep_at":  d.lastSweepAt,
		"sweeps":         d.sweepCount,
		"sweep_interval": d.cfg.SweepInterval,
	}
}

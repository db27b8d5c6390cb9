// Package remind surfaces upcoming and overdue posts to the operator.
// Every post inside the lead window gets a reminder; for manual platforms,
// where the operator has to post by hand, the reminder is the delivery
// prompt itself.
package remind

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/queue/post"
)

// Notifier delivers a reminder to the operator
type Notifier interface {
	Notify(ctx context.Context, p *post.Post) error
}

// LogNotifier writes reminders to the structured log. The default channel
// when nothing richer is configured.
type LogNotifier struct {
	Log *zap.SugaredLogger
}

func (n *LogNotifier) Notify(ctx context.Context, p *post.Post) error {
	n.Log.Infow("REMINDER: post due soon",
		"post_id", p.ID,
		"platform", p.Platform,
		"scheduled_at", p.ScheduledAt.Format(time.RFC3339),
		"topic", p.Topic)
	return nil
}

// Config contains emitter tuning
type Config struct {
	LeadWindow   time.Duration // remind this long before scheduled_at
	PollInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		LeadWindow:   15 * time.Minute,
		PollInterval: 60 * time.Second,
	}
}

// Emitter polls for upcoming posts and reminds the operator once per
// (post, slot). Rescheduling a post re-arms its reminder; re-polling the
// same slot does not.
type Emitter struct {
	store    *post.Store
	notifier Notifier
	cfg      Config
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      *zap.SugaredLogger

	mu   sync.Mutex
	seen map[string]time.Time // post id -> scheduled_at already reminded for
}

// New creates a reminder emitter
func New(store *post.Store, notifier Notifier, cfg Config, log *zap.SugaredLogger) *Emitter {
	return NewWithContext(context.Background(), store, notifier, cfg, log)
}

// NewWithContext creates an emitter with a parent context
func NewWithContext(ctx context.Context, store *post.Store, notifier Notifier, cfg Config, log *zap.SugaredLogger) *Emitter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if notifier == nil {
		notifier = &LogNotifier{Log: log}
	}
	ectx, cancel := context.WithCancel(ctx)
	return &Emitter{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		ctx:      ectx,
		cancel:   cancel,
		log:      log,
		seen:     make(map[string]time.Time),
	}
}

// Start begins the poll loop
func (e *Emitter) Start() {
	e.wg.Add(1)
	go e.run()
	e.log.Infow("Reminder emitter started",
		"lead_window", e.cfg.LeadWindow,
		"poll_interval", e.cfg.PollInterval)
}

// Stop gracefully stops the emitter
func (e *Emitter) Stop() {
	e.cancel()
	e.wg.Wait()
	e.log.Infow("Reminder emitter stopped")
}

func (e *Emitter) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case tickTime := <-ticker.C:
			if err := e.Poll(tickTime); err != nil {
				e.log.Warnw("Reminder poll error", "error", err)
			}
		}
	}
}

// Poll emits reminders for posts entering the lead window. Exported so a
// poll can be driven directly in tests and one-shot commands.
func (e *Emitter) Poll(now time.Time) error {
	scheduled, err := e.store.ListByStatus(post.StatusScheduled)
	if err != nil {
		return errors.Wrap(err, "failed to list scheduled posts")
	}
	// Manual posts park in dispatching until the operator confirms; keep
	// reminding about those too.
	dispatching, err := e.store.ListByStatus(post.StatusDispatching)
	if err != nil {
		return errors.Wrap(err, "failed to list dispatching posts")
	}
	candidates := append(scheduled, dispatching...)

	horizon := now.Add(e.cfg.LeadWindow)
	for _, p := range candidates {
		if p.ScheduledAt == nil || p.ScheduledAt.After(horizon) {
			continue
		}

		if !e.markSeen(p.ID, *p.ScheduledAt) {
			continue
		}

		if err := e.notifier.Notify(e.ctx, p); err != nil {
			// Forget the slot so the next poll retries the reminder
			e.forget(p.ID)
			e.log.Warnw("Reminder notification failed", "post_id", p.ID, "error", err)
		}
	}

	e.prune(candidates)
	return nil
}

// markSeen records a reminder for the slot; returns false when the same
// (post, slot) pair was already reminded.
func (e *Emitter) markSeen(id string, at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.seen[id]; ok && prev.Equal(at) {
		return false
	}
	e.seen[id] = at
	return true
}

func (e *Emitter) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.seen, id)
}

// prune drops dedupe entries for posts that left the calendar, keeping the
// map bounded.
func (e *Emitter) prune(posts []*post.Post) {
	live := make(map[string]bool, len(posts))
	for _, p := range posts {
		live[p.ID] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.seen {
		if !live[id] {
			delete(e.seen, id)
		}
	}
}

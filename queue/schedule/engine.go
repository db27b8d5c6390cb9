// Package schedule assigns delivery slots to queued posts.
//
// Slot assignment is capacity-driven: a candidate time is only committed
// after the platform's rolling-window occupancy is re-checked in the same
// transaction as the status write, so concurrent assignments cannot both
// land in a full window.
package schedule

import (
	"time"

	"go.uber.org/zap"

	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/queue/policy"
	"github.com/ardelis/postqueue/queue/post"
)

// Engine assigns slots to queued posts against the platform policy table
type Engine struct {
	store   *post.Store
	table   *policy.Table
	horizon time.Duration
	log     *zap.SugaredLogger
	now     func() time.Time
}

// New creates a scheduling engine. horizonDays bounds the day-by-day slot
// search before an assignment fails with ErrNoCapacity.
func New(store *post.Store, table *policy.Table, horizonDays int, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		store:   store,
		table:   table,
		horizon: time.Duration(horizonDays) * 24 * time.Hour,
		log:     log,
		now:     time.Now,
	}
}

// Enqueue moves a draft post into the queue, making it eligible for slot
// assignment.
func (e *Engine) Enqueue(id string) (*post.Post, error) {
	return e.store.UpdateStatus(id, post.StatusDraft, post.StatusQueued, post.Update{})
}

// AssignSlot moves a queued post to scheduled, picking the earliest slot
// with spare capacity. When requestedAt is set the search starts there and
// keeps its time-of-day; otherwise it starts at the platform's preferred
// time on the next eligible day. Fails with ErrNoCapacity when every day
// inside the search horizon is full; the post stays queued.
func (e *Engine) AssignSlot(id string, requestedAt *time.Time) (*post.Post, error) {
	p, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if p.Status != post.StatusQueued {
		return nil, errors.Wrapf(errors.ErrConflict, "post %s is %s, expected queued", id, p.Status)
	}

	pol, err := e.table.PolicyFor(p.Platform)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()

	var candidate time.Time
	if requestedAt != nil {
		candidate = requestedAt.UTC().Truncate(time.Second)
		if candidate.Before(now) {
			return nil, errors.NewValidationError("requested time %s is in the past", candidate.Format(time.RFC3339))
		}
	} else {
		candidate = pol.PreferredAt(now)
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
	}

	deadline := now.Add(e.horizon)
	for !candidate.After(deadline) {
		err := e.store.ReserveSlot(id, p.Platform, candidate, pol.Window, pol.MaxPerWindow)
		if err == nil {
			e.log.Infow("Slot assigned",
				"post_id", id,
				"platform", p.Platform,
				"scheduled_at", candidate.Format(time.RFC3339))
			return e.store.Get(id)
		}
		if !errors.Is(err, errors.ErrNoCapacity) {
			return nil, err
		}
		// Window full; same time-of-day, next day
		candidate = candidate.AddDate(0, 0, 1)
	}

	return nil, errors.Wrapf(errors.ErrNoCapacity,
		"no free slot for %s within %d days", p.Platform, int(e.horizon.Hours()/24))
}

// Cancel stops a post's progress toward delivery. Draft, queued, and
// scheduled posts are cancelled immediately. A dispatching post is flagged
// for deferred cancellation: the in-flight attempt completes and its
// outcome stands, but no further retry is made.
func (e *Engine) Cancel(id string) (*post.Post, error) {
	p, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case post.StatusDraft, post.StatusQueued, post.StatusScheduled:
		return e.store.UpdateStatus(id, p.Status, post.StatusCancelled, post.Update{})
	case post.StatusDispatching:
		if err := e.store.RequestCancel(id); err != nil {
			return nil, err
		}
		e.log.Infow("Cancellation deferred, post is mid-dispatch", "post_id", id)
		return e.store.Get(id)
	default:
		return nil, errors.Wrapf(errors.ErrConflict, "post %s is already terminal (%s)", id, p.Status)
	}
}

// BatchResult summarizes a batch scheduling run
type BatchResult struct {
	Scheduled []*post.Post      `json:"scheduled"`
	Failed    map[string]string `json:"failed,omitempty"` // post id -> reason
}

// ScheduleBatch assigns slots to a set of queued posts, cycling platforms
// round-robin so no single platform's backlog monopolizes the earliest
// days, then rebalances each platform's calendar. With no ids given, every
// queued post is scheduled.
//
// Within a platform, posts are taken first-come-first-served by creation
// time. Already-scheduled posts are never reordered to make room.
func (e *Engine) ScheduleBatch(ids []string) (*BatchResult, error) {
	var candidates []*post.Post
	if len(ids) == 0 {
		queued, err := e.store.ListByStatus(post.StatusQueued)
		if err != nil {
			return nil, err
		}
		candidates = queued
	} else {
		for _, id := range ids {
			p, err := e.store.Get(id)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, p)
		}
	}

	result := &BatchResult{Failed: make(map[string]string)}

	// Bucket by platform, preserving FCFS order within each
	byPlatform := make(map[policy.Platform][]*post.Post)
	for _, p := range candidates {
		if p.Status != post.StatusQueued {
			result.Failed[p.ID] = "not queued: " + string(p.Status)
			continue
		}
		byPlatform[p.Platform] = append(byPlatform[p.Platform], p)
	}

	assigned := make(map[policy.Platform][]*post.Post)
	for round := 0; ; round++ {
		progress := false
		for _, platform := range e.table.Platforms() {
			bucket := byPlatform[platform]
			if round >= len(bucket) {
				continue
			}
			progress = true

			p := bucket[round]
			scheduled, err := e.AssignSlot(p.ID, nil)
			if err != nil {
				result.Failed[p.ID] = err.Error()
				continue
			}
			result.Scheduled = append(result.Scheduled, scheduled)
			assigned[platform] = append(assigned[platform], scheduled)
		}
		if !progress {
			break
		}
	}

	for platform, posts := range assigned {
		if err := e.rebalance(platform, posts); err != nil {
			e.log.Warnw("Calendar rebalance failed", "platform", platform, "error", err)
		}
	}

	// Re-read moved posts so the result reflects final slots
	for i, p := range result.Scheduled {
		fresh, err := e.store.Get(p.ID)
		if err == nil {
			result.Scheduled[i] = fresh
		}
	}

	if len(result.Failed) == 0 {
		result.Failed = nil
	}
	return result, nil
}

// rebalance evens out a platform's calendar after a bulk assignment: when a
// day's post count exceeds the span mean by more than one, the most
// recently assigned post on that day is moved to the nearest under-filled
// day. Single pass; a move that would overfill its destination window is
// skipped.
func (e *Engine) rebalance(platform policy.Platform, batch []*post.Post) error {
	if len(batch) < 2 {
		return nil
	}

	pol, err := e.table.PolicyFor(platform)
	if err != nil {
		return err
	}

	spanStart, spanEnd := batch[0].ScheduledAt.Truncate(24*time.Hour), batch[0].ScheduledAt.Truncate(24*time.Hour)
	for _, p := range batch[1:] {
		day := p.ScheduledAt.Truncate(24 * time.Hour)
		if day.Before(spanStart) {
			spanStart = day
		}
		if day.After(spanEnd) {
			spanEnd = day
		}
	}
	spanDays := int(spanEnd.Sub(spanStart).Hours()/24) + 1
	if spanDays < 2 {
		return nil
	}

	onSpan, err := e.store.QueryWindow(platform, spanStart, spanEnd.AddDate(0, 0, 1))
	if err != nil {
		return err
	}

	perDay := make(map[time.Time]int, spanDays)
	for _, p := range onSpan {
		perDay[p.ScheduledAt.Truncate(24*time.Hour)]++
	}
	mean := float64(len(onSpan)) / float64(spanDays)

	for day, count := range perDay {
		if float64(count) <= mean+1 {
			continue
		}

		mover := mostRecentOnDay(batch, day)
		if mover == nil {
			continue
		}

		target, ok := nearestUnderfilledDay(day, spanStart, spanDays, perDay, mean)
		if !ok {
			continue
		}

		at := time.Date(target.Year(), target.Month(), target.Day(),
			mover.ScheduledAt.Hour(), mover.ScheduledAt.Minute(), 0, 0, time.UTC)
		err := e.store.MoveSlot(mover.ID, platform, at, pol.Window, pol.MaxPerWindow)
		if errors.Is(err, errors.ErrNoCapacity) {
			continue
		}
		if err != nil {
			return err
		}

		perDay[day]--
		perDay[target]++
		e.log.Infow("Rebalanced post",
			"post_id", mover.ID,
			"platform", platform,
			"from", day.Format("2006-01-02"),
			"to", target.Format("2006-01-02"))
	}

	return nil
}

// mostRecentOnDay returns the batch post assigned last onto the given day
func mostRecentOnDay(batch []*post.Post, day time.Time) *post.Post {
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].ScheduledAt != nil && batch[i].ScheduledAt.Truncate(24*time.Hour).Equal(day) {
			return batch[i]
		}
	}
	return nil
}

// nearestUnderfilledDay finds the span day closest to from whose count is
// below the mean, preferring earlier days on ties.
func nearestUnderfilledDay(from, spanStart time.Time, spanDays int, perDay map[time.Time]int, mean float64) (time.Time, bool) {
	var best time.Time
	bestDist := -1
	for i := 0; i < spanDays; i++ {
		day := spanStart.AddDate(0, 0, i)
		if day.Equal(from) || float64(perDay[day]) >= mean {
			continue
		}
		dist := int(day.Sub(from).Hours() / 24)
		if dist < 0 {
			dist = -dist
		}
		if bestDist == -1 || dist < bestDist {
			best, bestDist = day, dist
		}
	}
	return best, bestDist != -1
}

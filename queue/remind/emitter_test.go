package remind

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutil "github.com/ardelis/postqueue/internal/testing"
	"github.com/ardelis/postqueue/queue/policy"
	"github.com/ardelis/postqueue/queue/post"
)

type captureNotifier struct {
	reminders []*post.Post
}

func (n *captureNotifier) Notify(ctx context.Context, p *post.Post) error {
	n.reminders = append(n.reminders, p)
	return nil
}

var testNow = time.Date(2026, 9, 1, 17, 50, 0, 0, time.UTC)

func newTestEmitter(t *testing.T) (*Emitter, *captureNotifier, *post.Store) {
	t.Helper()

	store := post.NewStore(testutil.CreateTestDB(t))
	notifier := &captureNotifier{}
	emitter := New(store, notifier, DefaultConfig(), nil)
	return emitter, notifier, store
}

func scheduleAt(t *testing.T, store *post.Store, platform policy.Platform, at time.Time) *post.Post {
	t.Helper()

	p, err := post.New(platform, "test content", "", "", "")
	require.NoError(t, err)
	require.NoError(t, store.Create(p))

	_, err = store.UpdateStatus(p.ID, post.StatusDraft, post.StatusQueued, post.Update{})
	require.NoError(t, err)
	scheduled, err := store.UpdateStatus(p.ID, post.StatusQueued, post.StatusScheduled, post.Update{ScheduledAt: &at})
	require.NoError(t, err)
	return scheduled
}

func TestPollRemindsManualPostInLeadWindow(t *testing.T) {
	emitter, notifier, store := newTestEmitter(t)

	// 18:00 slot, 17:50 clock, 15 minute lead window
	p := scheduleAt(t, store, policy.Instagram, testNow.Add(10*time.Minute))
	require.NoError(t, emitter.Poll(testNow))

	require.Len(t, notifier.reminders, 1)
	assert.Equal(t, p.ID, notifier.reminders[0].ID)
}

func TestPollIsIdempotentPerSlot(t *testing.T) {
	emitter, notifier, store := newTestEmitter(t)

	scheduleAt(t, store, policy.Instagram, testNow.Add(10*time.Minute))

	require.NoError(t, emitter.Poll(testNow))
	require.NoError(t, emitter.Poll(testNow.Add(time.Minute)))
	require.NoError(t, emitter.Poll(testNow.Add(2*time.Minute)))

	assert.Len(t, notifier.reminders, 1)
}

func TestPollRemindsAutomaticPlatformPost(t *testing.T) {
	emitter, notifier, store := newTestEmitter(t)

	// Reminders cover every platform; the delivery channel is separate
	p := scheduleAt(t, store, policy.LinkedIn, testNow.Add(10*time.Minute))
	require.NoError(t, emitter.Poll(testNow))

	require.Len(t, notifier.reminders, 1)
	assert.Equal(t, p.ID, notifier.reminders[0].ID)
}

func TestPollSkipsPostsBeyondLeadWindow(t *testing.T) {
	emitter, notifier, store := newTestEmitter(t)

	scheduleAt(t, store, policy.Instagram, testNow.Add(time.Hour))
	require.NoError(t, emitter.Poll(testNow))

	assert.Empty(t, notifier.reminders)
}

func TestPollRemindsManualPostAwaitingConfirmation(t *testing.T) {
	emitter, notifier, store := newTestEmitter(t)

	// Overdue manual post parked in dispatching until the operator confirms
	p := scheduleAt(t, store, policy.Instagram, testNow.Add(-5*time.Minute))
	_, err := store.UpdateStatus(p.ID, post.StatusScheduled, post.StatusDispatching, post.Update{})
	require.NoError(t, err)

	require.NoError(t, emitter.Poll(testNow))
	require.Len(t, notifier.reminders, 1)
	assert.Equal(t, p.ID, notifier.reminders[0].ID)
}

func TestRescheduleRearmsReminder(t *testing.T) {
	emitter, notifier, store := newTestEmitter(t)

	p := scheduleAt(t, store, policy.Instagram, testNow.Add(10*time.Minute))
	require.NoError(t, emitter.Poll(testNow))
	require.Len(t, notifier.reminders, 1)

	// Operator moves the slot; a fresh reminder fires for the new time
	moved := testNow.Add(12 * time.Minute)
	_, err := store.UpdateStatus(p.ID, post.StatusScheduled, post.StatusScheduled, post.Update{ScheduledAt: &moved})
	require.NoError(t, err)

	require.NoError(t, emitter.Poll(testNow.Add(time.Minute)))
	assert.Len(t, notifier.reminders, 2)
}

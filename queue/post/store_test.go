package post

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardelis/postqueue/errors"
	testutil "github.com/ardelis/postqueue/internal/testing"
	"github.com/ardelis/postqueue/internal/util"
	"github.com/ardelis/postqueue/queue/policy"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(testutil.CreateTestDB(t))
}

// createQueued creates a post and advances it to queued
func createQueued(t *testing.T, store *Store, platform policy.Platform) *Post {
	t.Helper()

	p, err := New(platform, "test content", "testing", "casual", "")
	require.NoError(t, err)
	require.NoError(t, store.Create(p))

	queued, err := store.UpdateStatus(p.ID, StatusDraft, StatusQueued, Update{})
	require.NoError(t, err)
	return queued
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)

	p, err := New(policy.LinkedIn, "hello world", "launch", "formal", "profile-1")
	require.NoError(t, err)
	require.NoError(t, store.Create(p))

	got, err := store.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, policy.LinkedIn, got.Platform)
	assert.Equal(t, "hello world", got.Content)
	assert.Equal(t, "launch", got.Topic)
	assert.Equal(t, "formal", got.Style)
	assert.Equal(t, StatusDraft, got.Status)
	assert.Nil(t, got.ScheduledAt)
	assert.Equal(t, 0, got.AttemptCount)
	assert.False(t, got.CancelRequested)
	assert.Equal(t, "profile-1", got.ProfileID)
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("nonexistent")
	assert.True(t, errors.IsNotFound(err))
}

func TestNewRejectsInvalidInput(t *testing.T) {
	_, err := New("myspace", "content", "", "", "")
	assert.ErrorIs(t, err, errors.ErrUnknownPlatform)

	_, err = New(policy.Twitter, "   ", "", "", "")
	assert.True(t, errors.IsValidation(err))
}

func TestUpdateStatusHappyPath(t *testing.T) {
	store := newTestStore(t)
	p := createQueued(t, store, policy.Twitter)

	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	scheduled, err := store.UpdateStatus(p.ID, StatusQueued, StatusScheduled, Update{ScheduledAt: &at})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, scheduled.Status)
	require.NotNil(t, scheduled.ScheduledAt)
	assert.True(t, scheduled.ScheduledAt.Equal(at))
}

func TestUpdateStatusConflict(t *testing.T) {
	store := newTestStore(t)
	p := createQueued(t, store, policy.Twitter)

	// Post is queued, not scheduled; the CAS must fail without mutating
	_, err := store.UpdateStatus(p.ID, StatusScheduled, StatusDispatching, Update{})
	assert.True(t, errors.IsConflict(err))

	got, err := store.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestUpdateStatusIllegalEdge(t *testing.T) {
	store := newTestStore(t)
	p := createQueued(t, store, policy.Twitter)

	_, err := store.UpdateStatus(p.ID, StatusQueued, StatusPublished, Update{})
	assert.True(t, errors.IsValidation(err))
}

func TestUpdateStatusNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.UpdateStatus("nonexistent", StatusDraft, StatusQueued, Update{})
	assert.True(t, errors.IsNotFound(err))
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, terminal := range []Status{StatusPublished, StatusFailed, StatusCancelled} {
		for _, next := range []Status{StatusDraft, StatusQueued, StatusScheduled,
			StatusDispatching, StatusPublished, StatusFailed, StatusCancelled} {
			assert.False(t, CanTransition(terminal, next),
				"terminal state %s must not transition to %s", terminal, next)
		}
	}
}

func TestAuditTrailRecordsEveryTransition(t *testing.T) {
	store := newTestStore(t)
	p := createQueued(t, store, policy.LinkedIn)

	at := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	_, err := store.UpdateStatus(p.ID, StatusQueued, StatusScheduled, Update{ScheduledAt: &at})
	require.NoError(t, err)
	_, err = store.UpdateStatus(p.ID, StatusScheduled, StatusDispatching, Update{AttemptCount: util.Ptr(1)})
	require.NoError(t, err)
	_, err = store.UpdateStatus(p.ID, StatusDispatching, StatusPublished, Update{})
	require.NoError(t, err)

	trail, err := store.History(p.ID)
	require.NoError(t, err)
	require.Len(t, trail, 4)

	assert.Equal(t, StatusDraft, trail[0].FromStatus)
	assert.Equal(t, StatusQueued, trail[0].ToStatus)
	assert.Equal(t, StatusScheduled, trail[1].ToStatus)
	assert.Equal(t, StatusDispatching, trail[2].ToStatus)
	assert.Equal(t, 1, trail[2].Attempt)
	assert.Equal(t, StatusPublished, trail[3].ToStatus)

	// Monotonic sequence
	for i := 1; i < len(trail); i++ {
		assert.Greater(t, trail[i].Seq, trail[i-1].Seq)
	}
}

func TestReserveSlotEnforcesWindowCap(t *testing.T) {
	store := newTestStore(t)
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	window := time.Hour
	maxPerWindow := 2

	for i := 0; i < maxPerWindow; i++ {
		p := createQueued(t, store, policy.Twitter)
		require.NoError(t, store.ReserveSlot(p.ID, policy.Twitter, at, window, maxPerWindow))
	}

	overflow := createQueued(t, store, policy.Twitter)
	err := store.ReserveSlot(overflow.ID, policy.Twitter, at, window, maxPerWindow)
	assert.ErrorIs(t, err, errors.ErrNoCapacity)

	// The failed reservation must leave the post queued
	got, err := store.Get(overflow.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Nil(t, got.ScheduledAt)

	// A slot a full window away is free
	require.NoError(t, store.ReserveSlot(overflow.ID, policy.Twitter, at.Add(2*window), window, maxPerWindow))
}

func TestReserveSlotCountsPerPlatform(t *testing.T) {
	store := newTestStore(t)
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	p1 := createQueued(t, store, policy.Twitter)
	require.NoError(t, store.ReserveSlot(p1.ID, policy.Twitter, at, time.Hour, 1))

	// Another platform's occupancy does not count against this one
	p2 := createQueued(t, store, policy.LinkedIn)
	require.NoError(t, store.ReserveSlot(p2.ID, policy.LinkedIn, at, time.Hour, 1))
}

func TestMoveSlotExcludesOwnSlot(t *testing.T) {
	store := newTestStore(t)
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	p := createQueued(t, store, policy.Twitter)
	require.NoError(t, store.ReserveSlot(p.ID, policy.Twitter, at, time.Hour, 1))

	// Moving within its own window must not self-collide
	require.NoError(t, store.MoveSlot(p.ID, policy.Twitter, at.Add(30*time.Minute), time.Hour, 1))

	got, err := store.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.True(t, got.ScheduledAt.Equal(at.Add(30*time.Minute)))
}

func TestRequestCancelOnlyWhileDispatching(t *testing.T) {
	store := newTestStore(t)
	p := createQueued(t, store, policy.LinkedIn)

	err := store.RequestCancel(p.ID)
	assert.True(t, errors.IsConflict(err))

	at := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	_, err = store.UpdateStatus(p.ID, StatusQueued, StatusScheduled, Update{ScheduledAt: &at})
	require.NoError(t, err)
	_, err = store.UpdateStatus(p.ID, StatusScheduled, StatusDispatching, Update{AttemptCount: util.Ptr(1)})
	require.NoError(t, err)

	require.NoError(t, store.RequestCancel(p.ID))

	got, err := store.Get(p.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, StatusDispatching, got.Status, "flag defers; the in-flight attempt still owns the post")
}

func TestListDueOrdersByScheduledAt(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	var ids []string
	for _, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		p := createQueued(t, store, policy.Twitter)
		at := base.Add(offset)
		_, err := store.UpdateStatus(p.ID, StatusQueued, StatusScheduled, Update{ScheduledAt: &at})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	due, err := store.ListDue(base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, ids[1], due[0].ID)
	assert.Equal(t, ids[2], due[1].ID)
}

func TestListByStatusOrdersByCreation(t *testing.T) {
	store := newTestStore(t)

	first := createQueued(t, store, policy.Twitter)
	second := createQueued(t, store, policy.LinkedIn)

	queued, err := store.ListByStatus(StatusQueued)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, first.ID, queued[0].ID)
	assert.Equal(t, second.ID, queued[1].ID)
}

func TestListByStatusKeepsSubSecondCreationOrder(t *testing.T) {
	store := newTestStore(t)

	// A burst of posts lands inside one wall-clock second; enqueue order
	// must survive the round trip through the stored timestamps.
	var ids []string
	for i := 0; i < 30; i++ {
		p := createQueued(t, store, policy.Twitter)
		ids = append(ids, p.ID)
	}

	queued, err := store.ListByStatus(StatusQueued)
	require.NoError(t, err)
	require.Len(t, queued, len(ids))
	for i, p := range queued {
		assert.Equal(t, ids[i], p.ID, "position %d out of creation order", i)
	}
}

func TestTimestampsRoundTripSubSecond(t *testing.T) {
	store := newTestStore(t)

	p := createQueued(t, store, policy.Twitter)
	at := time.Date(2026, 9, 1, 9, 0, 0, 123456789, time.UTC)
	scheduled, err := store.UpdateStatus(p.ID, StatusQueued, StatusScheduled, Update{ScheduledAt: &at})
	require.NoError(t, err)

	assert.True(t, scheduled.ScheduledAt.Equal(at))
	assert.True(t, scheduled.CreatedAt.Equal(p.CreatedAt))
}

func TestListFilters(t *testing.T) {
	store := newTestStore(t)
	createQueued(t, store, policy.Twitter)
	createQueued(t, store, policy.LinkedIn)

	all, err := store.List(nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	tw := policy.Twitter
	onlyTwitter, err := store.List(&tw, nil)
	require.NoError(t, err)
	require.Len(t, onlyTwitter, 1)
	assert.Equal(t, policy.Twitter, onlyTwitter[0].Platform)

	draft := StatusDraft
	none, err := store.List(nil, &draft)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPurgeRequiresTerminalState(t *testing.T) {
	store := newTestStore(t)
	p := createQueued(t, store, policy.Twitter)

	err := store.Purge(p.ID)
	assert.True(t, errors.IsValidation(err))

	_, err = store.UpdateStatus(p.ID, StatusQueued, StatusCancelled, Update{})
	require.NoError(t, err)

	require.NoError(t, store.Purge(p.ID))

	_, err = store.Get(p.ID)
	assert.True(t, errors.IsNotFound(err))

	trail, err := store.History(p.ID)
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)

	createQueued(t, store, policy.Twitter)
	createQueued(t, store, policy.Twitter)
	p, err := New(policy.Instagram, "draft content", "", "", "")
	require.NoError(t, err)
	require.NoError(t, store.Create(p))

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 1, stats.Draft)
	assert.Equal(t, 3, stats.Total)
}

func TestSegments(t *testing.T) {
	p := &Post{Content: "first part\n---\nsecond part\n---\n"}
	assert.Equal(t, []string{"first part", "second part"}, p.Segments())

	single := &Post{Content: "just one body"}
	assert.Equal(t, []string{"just one body"}, single.Segments())
}

package post

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/queue/policy"
)

// Store handles durable persistence of posts. All writes are committed
// before the operation returns; compare-and-set UpdateStatus is the only
// mutual-exclusion primitive other components rely on.
//
// The mutex serializes multi-statement operations (occupancy check +
// assignment) within the process; the status CAS in SQL guards against any
// other writer on the same database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new post store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const postColumns = `id, platform, content, topic, style, status, scheduled_at,
	attempt_count, last_error, cancel_requested, profile_id, created_at, updated_at`

// Update carries the optional field changes applied atomically with a
// status transition. Nil fields are left unchanged.
type Update struct {
	ScheduledAt     *time.Time
	ClearScheduledAt bool
	AttemptCount    *int
	LastError       *string
	CancelRequested *bool
}

// Create inserts a new draft post. Fails with a validation error if the
// platform is unknown or the content is empty.
func (s *Store) Create(p *Post) error {
	if !p.Platform.Valid() {
		return errors.Wrapf(errors.ErrUnknownPlatform, "%q", p.Platform)
	}
	if p.Content == "" {
		return errors.NewValidationError("content cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO posts (
			id, platform, content, topic, style, status, scheduled_at,
			attempt_count, last_error, cancel_requested, profile_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		p.ID,
		string(p.Platform),
		p.Content,
		p.Topic,
		p.Style,
		string(p.Status),
		fmtNullableTime(p.ScheduledAt),
		p.AttemptCount,
		p.LastError,
		boolToInt(p.CancelRequested),
		p.ProfileID,
		fmtTime(p.CreatedAt),
		fmtTime(p.UpdatedAt),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create post")
	}

	return nil
}

// Get retrieves a post by ID, failing with a not-found error if absent
func (s *Store) Get(id string) (*Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = ?`

	p, err := scanPost(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("post %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get post")
	}
	return p, nil
}

// UpdateStatus atomically transitions a post from expected to next,
// applying upd in the same write and appending the audit entry in the same
// transaction. Fails with ErrConflict if the stored status does not match
// expected (guards against concurrent double-dispatch) and rejects edges
// outside the lifecycle table.
func (s *Store) UpdateStatus(id string, expected, next Status, upd Update) (*Post, error) {
	if !CanTransition(expected, next) {
		return nil, errors.NewValidationError("illegal transition %s -> %s", expected, next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "begin transition tx")
	}
	defer tx.Rollback()

	if err := s.applyTransitionTx(tx, id, expected, next, upd); err != nil {
		return nil, err
	}

	updated, err := getTx(tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit transition tx")
	}

	return updated, nil
}

// applyTransitionTx performs the CAS write and audit append inside tx.
// Callers must have validated the edge already or accept the raw write.
func (s *Store) applyTransitionTx(tx *sql.Tx, id string, expected, next Status, upd Update) error {
	now := time.Now().UTC()

	set := "status = ?, updated_at = ?"
	args := []interface{}{string(next), fmtTime(now)}

	if upd.ScheduledAt != nil {
		set += ", scheduled_at = ?"
		args = append(args, fmtTime(*upd.ScheduledAt))
	} else if upd.ClearScheduledAt {
		set += ", scheduled_at = NULL"
	}
	if upd.AttemptCount != nil {
		set += ", attempt_count = ?"
		args = append(args, *upd.AttemptCount)
	}
	if upd.LastError != nil {
		set += ", last_error = ?"
		args = append(args, *upd.LastError)
	}
	if upd.CancelRequested != nil {
		set += ", cancel_requested = ?"
		args = append(args, boolToInt(*upd.CancelRequested))
	}

	args = append(args, id, string(expected))

	res, err := tx.Exec("UPDATE posts SET "+set+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return errors.Wrap(err, "failed to update post status")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		// Distinguish a missing post from a concurrent mutation
		var actual string
		err := tx.QueryRow("SELECT status FROM posts WHERE id = ?", id).Scan(&actual)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.NewNotFoundError("post %s", id)
		}
		if err != nil {
			return errors.Wrap(err, "failed to read post status")
		}
		conflictErr := errors.Wrapf(errors.ErrConflict, "post %s is %s, expected %s", id, actual, expected)
		return errors.WithDetail(conflictErr, fmt.Sprintf("Attempted transition: %s -> %s", expected, next))
	}

	attempt := 0
	if upd.AttemptCount != nil {
		attempt = *upd.AttemptCount
	}
	lastError := ""
	if upd.LastError != nil {
		lastError = *upd.LastError
	}

	return appendAuditTx(tx, id, expected, next, attempt, lastError, now)
}

// ReserveSlot assigns scheduled_at to a queued post after re-validating the
// rolling-window occupancy inside the same transaction as the write. The
// occupancy re-check immediately before the CAS is what keeps two
// concurrent assignments from both observing spare capacity.
//
// Fails with ErrNoCapacity when the window around at is already full and
// ErrConflict when the post left queued state concurrently.
func (s *Store) ReserveSlot(id string, platform policy.Platform, at time.Time, window time.Duration, maxPerWindow int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin reserve tx")
	}
	defer tx.Rollback()

	occupancy, err := countWindowTx(tx, platform, at.Add(-window), at.Add(window))
	if err != nil {
		return err
	}
	if occupancy >= maxPerWindow {
		return errors.Wrapf(errors.ErrNoCapacity, "platform %s window around %s holds %d of %d",
			platform, fmtTime(at), occupancy, maxPerWindow)
	}

	upd := Update{ScheduledAt: &at}
	if err := s.applyTransitionTx(tx, id, StatusQueued, StatusScheduled, upd); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "commit reserve tx")
}

// MoveSlot reassigns an already-scheduled post to a new slot, re-checking
// occupancy at the destination. Used by calendar rebalancing; the post's
// current slot is excluded from the destination count.
func (s *Store) MoveSlot(id string, platform policy.Platform, at time.Time, window time.Duration, maxPerWindow int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin move tx")
	}
	defer tx.Rollback()

	query := `
		SELECT COUNT(*) FROM posts
		WHERE platform = ?
		  AND id != ?
		  AND status IN ('scheduled', 'dispatching', 'published')
		  AND scheduled_at > ? AND scheduled_at < ?
	`
	var occupancy int
	err = tx.QueryRow(query, string(platform), id, fmtTime(at.Add(-window)), fmtTime(at.Add(window))).Scan(&occupancy)
	if err != nil {
		return errors.Wrap(err, "failed to count destination occupancy")
	}
	if occupancy >= maxPerWindow {
		return errors.Wrapf(errors.ErrNoCapacity, "platform %s window around %s holds %d of %d",
			platform, fmtTime(at), occupancy, maxPerWindow)
	}

	upd := Update{ScheduledAt: &at}
	if err := s.applyTransitionTx(tx, id, StatusScheduled, StatusScheduled, upd); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "commit move tx")
}

// RetrySlot reschedules a dispatching post for a retry attempt, re-checking
// occupancy at the destination window. A short backoff lands back inside
// the window the post already occupies; a cap-length one can cross into a
// different, possibly full, window, so the destination is verified the same
// way as a fresh assignment. The post's own slot is excluded from the count.
func (s *Store) RetrySlot(id string, platform policy.Platform, at time.Time, window time.Duration, maxPerWindow int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin retry tx")
	}
	defer tx.Rollback()

	query := `
		SELECT COUNT(*) FROM posts
		WHERE platform = ?
		  AND id != ?
		  AND status IN ('scheduled', 'dispatching', 'published')
		  AND scheduled_at > ? AND scheduled_at < ?
	`
	var occupancy int
	err = tx.QueryRow(query, string(platform), id, fmtTime(at.Add(-window)), fmtTime(at.Add(window))).Scan(&occupancy)
	if err != nil {
		return errors.Wrap(err, "failed to count destination occupancy")
	}
	if occupancy >= maxPerWindow {
		return errors.Wrapf(errors.ErrNoCapacity, "platform %s window around %s holds %d of %d",
			platform, fmtTime(at), occupancy, maxPerWindow)
	}

	upd := Update{ScheduledAt: &at, LastError: &lastError}
	if err := s.applyTransitionTx(tx, id, StatusDispatching, StatusScheduled, upd); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "commit retry tx")
}

// RequestCancel flags an in-flight post for deferred cancellation. The
// current delivery attempt completes and its outcome is recorded; the flag
// prevents further retries.
func (s *Store) RequestCancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE posts SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = 'dispatching'`,
		fmtTime(time.Now().UTC()), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to request cancellation")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		var actual string
		err := s.db.QueryRow("SELECT status FROM posts WHERE id = ?", id).Scan(&actual)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.NewNotFoundError("post %s", id)
		}
		if err != nil {
			return errors.Wrap(err, "failed to read post status")
		}
		return errors.Wrapf(errors.ErrConflict, "post %s is %s, not dispatching", id, actual)
	}

	return nil
}

// CountWindow returns the number of rate-limited posts (scheduled,
// dispatching, or published) for a platform with scheduled_at strictly
// inside (from, to).
func (s *Store) CountWindow(platform policy.Platform, from, to time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "begin count tx")
	}
	defer tx.Rollback()
	return countWindowTx(tx, platform, from, to)
}

func countWindowTx(tx *sql.Tx, platform policy.Platform, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM posts
		WHERE platform = ?
		  AND status IN ('scheduled', 'dispatching', 'published')
		  AND scheduled_at > ? AND scheduled_at < ?
	`
	var count int
	if err := tx.QueryRow(query, string(platform), fmtTime(from), fmtTime(to)).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count window occupancy")
	}
	return count, nil
}

// QueryWindow returns posts for a platform with scheduled_at in [from, to),
// ordered by scheduled_at ascending.
func (s *Store) QueryWindow(platform policy.Platform, from, to time.Time) ([]*Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts
		WHERE platform = ?
		  AND scheduled_at >= ? AND scheduled_at < ?
		ORDER BY scheduled_at ASC`

	rows, err := s.db.Query(query, string(platform), fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query window")
	}
	defer rows.Close()

	return scanPosts(rows, "window posts")
}

// ListByStatus returns all posts with the given status, ordered by
// created_at ascending (enqueue order, the FCFS tie-break key).
func (s *Store) ListByStatus(status Status) ([]*Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts
		WHERE status = ?
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(query, string(status))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list posts by status")
	}
	defer rows.Close()

	return scanPosts(rows, "posts by status")
}

// ListDue returns scheduled posts with scheduled_at <= now, ordered by
// scheduled_at ascending. This is the dispatcher's sweep query.
func (s *Store) ListDue(now time.Time) ([]*Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts
		WHERE status = 'scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		ORDER BY scheduled_at ASC`

	rows, err := s.db.Query(query, fmtTime(now))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due posts")
	}
	defer rows.Close()

	return scanPosts(rows, "due posts")
}

// List returns posts, optionally filtered by platform and/or status,
// ordered by created_at ascending.
func (s *Store) List(platform *policy.Platform, status *Status) ([]*Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts`
	var clauses []string
	var args []interface{}

	if platform != nil {
		clauses = append(clauses, "platform = ?")
		args = append(args, string(*platform))
	}
	if status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*status))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list posts")
	}
	defer rows.Close()

	return scanPosts(rows, "posts")
}

// Purge removes a terminal-state post and its audit trail. Posts are
// destroyed only this way; no component auto-deletes.
func (s *Store) Purge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.Get(id)
	if err != nil {
		return err
	}
	if !p.Status.Terminal() {
		return errors.NewValidationError("cannot purge post %s in non-terminal state %s", id, p.Status)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin purge tx")
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM post_audit WHERE post_id = ?", id); err != nil {
		return errors.Wrap(err, "failed to purge audit trail")
	}
	if _, err := tx.Exec("DELETE FROM posts WHERE id = ?", id); err != nil {
		return errors.Wrap(err, "failed to purge post")
	}

	return errors.Wrap(tx.Commit(), "commit purge tx")
}

// Stats holds post counts by lifecycle state
type Stats struct {
	Draft       int `json:"draft"`
	Queued      int `json:"queued"`
	Scheduled   int `json:"scheduled"`
	Dispatching int `json:"dispatching"`
	Published   int `json:"published"`
	Failed      int `json:"failed"`
	Cancelled   int `json:"cancelled"`
	Total       int `json:"total"`
}

// GetStats returns post counts by status
func (s *Store) GetStats() (*Stats, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM posts GROUP BY status")
	if err != nil {
		return nil, errors.Wrap(err, "failed to count posts")
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}
		switch Status(status) {
		case StatusDraft:
			stats.Draft = count
		case StatusQueued:
			stats.Queued = count
		case StatusScheduled:
			stats.Scheduled = count
		case StatusDispatching:
			stats.Dispatching = count
		case StatusPublished:
			stats.Published = count
		case StatusFailed:
			stats.Failed = count
		case StatusCancelled:
			stats.Cancelled = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating status counts")
	}

	return stats, nil
}

// scanner abstracts sql.Row and sql.Rows for scanPost
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(row scanner) (*Post, error) {
	var p Post
	var platform, status string
	var scheduledAt sql.NullString
	var cancelRequested int
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID,
		&platform,
		&p.Content,
		&p.Topic,
		&p.Style,
		&status,
		&scheduledAt,
		&p.AttemptCount,
		&p.LastError,
		&cancelRequested,
		&p.ProfileID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Platform = policy.Platform(platform)
	p.Status = Status(status)
	p.CancelRequested = cancelRequested != 0

	if scheduledAt.Valid {
		t, err := parseTime(scheduledAt.String)
		if err != nil {
			return nil, errors.Wrap(err, "invalid scheduled_at")
		}
		p.ScheduledAt = &t
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, errors.Wrap(err, "invalid created_at")
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, errors.Wrap(err, "invalid updated_at")
	}

	return &p, nil
}

func scanPosts(rows *sql.Rows, context string) ([]*Post, error) {
	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan post")
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}
	return posts, nil
}

func getTx(tx *sql.Tx, id string) (*Post, error) {
	p, err := scanPost(tx.QueryRow(`SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("post %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get post")
	}
	return p, nil
}

// Timestamps are stored as fixed-width nanosecond RFC3339 UTC strings so
// lexicographic comparison in SQL matches chronological order. The fixed
// fractional width keeps sub-second creation order intact; plain RFC3339
// would collapse posts created in the same second onto one key.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtNullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

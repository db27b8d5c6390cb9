package post

import (
	"database/sql"
	"time"

	"github.com/ardelis/postqueue/errors"
)

// AuditEntry is one record in a post's append-only transition trail.
// Entries are written in the same transaction as the transition they
// record and are never updated or deleted except by purge.
type AuditEntry struct {
	Seq        int64     `json:"seq"`
	PostID     string    `json:"post_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	Attempt    int       `json:"attempt,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// appendAuditTx records a transition inside the same transaction that
// performed it, so the trail can never disagree with the posts table.
func appendAuditTx(tx *sql.Tx, postID string, from, to Status, attempt int, errMsg string, at time.Time) error {
	_, err := tx.Exec(
		`INSERT INTO post_audit (post_id, from_status, to_status, attempt, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		postID, string(from), string(to), attempt, errMsg, fmtTime(at),
	)
	return errors.Wrap(err, "failed to append audit entry")
}

// History returns a post's transition trail in write order
func (s *Store) History(postID string) ([]*AuditEntry, error) {
	rows, err := s.db.Query(
		`SELECT seq, post_id, from_status, to_status, attempt, error, created_at
		 FROM post_audit WHERE post_id = ? ORDER BY seq ASC`,
		postID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit trail")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var from, to, createdAt string
		if err := rows.Scan(&e.Seq, &e.PostID, &from, &to, &e.Attempt, &e.Error, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan audit entry")
		}
		e.FromStatus = Status(from)
		e.ToStatus = Status(to)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, errors.Wrap(err, "invalid audit created_at")
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating audit entries")
	}

	return entries, nil
}

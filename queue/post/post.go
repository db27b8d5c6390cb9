// Package post provides the durable Post record store: the unit of
// schedulable work, its lifecycle state machine, and the append-only audit
// trail of every transition.
package post

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/queue/policy"
)

// Status represents the lifecycle state of a post
type Status string

const (
	StatusDraft       Status = "draft"
	StatusQueued      Status = "queued"
	StatusScheduled   Status = "scheduled"
	StatusDispatching Status = "dispatching"
	StatusPublished   Status = "published"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Valid returns true if the status string is a valid Status
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusQueued, StatusScheduled, StatusDispatching,
		StatusPublished, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for states a post never leaves.
// Terminal records are destroyed only by explicit operator purge.
func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusFailed || s == StatusCancelled
}

// transitions is the full set of legal lifecycle edges. The scheduled ->
// scheduled self-edge covers retry reschedules and calendar rebalancing;
// draft/queued -> cancelled lets an operator abandon work that never
// reached a slot.
var transitions = map[Status][]Status{
	StatusDraft:       {StatusQueued, StatusCancelled},
	StatusQueued:      {StatusScheduled, StatusCancelled},
	StatusScheduled:   {StatusScheduled, StatusDispatching, StatusCancelled},
	StatusDispatching: {StatusPublished, StatusScheduled, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle edge
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SegmentSeparator splits thread-style content into ordered segments.
// A post for a thread platform stores all segments in Content joined by
// this separator.
const SegmentSeparator = "\n---\n"

// Post is the unit of schedulable work, tracked from draft through a
// terminal state. Content is immutable once set; editing creates a new
// draft, never a mutation of a dispatched post.
type Post struct {
	ID              string          `json:"id"`
	Platform        policy.Platform `json:"platform"`
	Content         string          `json:"content"`
	Topic           string          `json:"topic,omitempty"`
	Style           string          `json:"style,omitempty"`
	Status          Status          `json:"status"`
	ScheduledAt     *time.Time      `json:"scheduled_at,omitempty"`
	AttemptCount    int             `json:"attempt_count"`
	LastError       string          `json:"last_error,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	ProfileID       string          `json:"profile_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// New creates a draft post, assigning a fresh ID. Fails with a validation
// error if the platform is unknown or the content is empty.
func New(platform policy.Platform, content, topic, style, profileID string) (*Post, error) {
	if !platform.Valid() {
		return nil, errors.Wrapf(errors.ErrUnknownPlatform, "%q", platform)
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.NewValidationError("content cannot be empty")
	}

	now := time.Now().UTC()
	return &Post{
		ID:        uuid.NewString(),
		Platform:  platform,
		Content:   content,
		Topic:     topic,
		Style:     style,
		Status:    StatusDraft,
		ProfileID: profileID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Segments returns the ordered content segments of a thread-style post.
// Single-body posts yield one segment.
func (p *Post) Segments() []string {
	parts := strings.Split(p.Content, SegmentSeparator)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Due reports whether the post's scheduled time has been reached
func (p *Post) Due(now time.Time) bool {
	return p.Status == StatusScheduled && p.ScheduledAt != nil && !p.ScheduledAt.After(now)
}

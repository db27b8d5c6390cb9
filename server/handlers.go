package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/queue/policy"
	"github.com/ardelis/postqueue/queue/post"
)

type createRequest struct {
	Platform  string   `json:"platform"`
	Content   string   `json:"content"`
	Topic     string   `json:"topic"`
	Style     string   `json:"style"`
	Points    []string `json:"points"`
	ProfileID string   `json:"profile_id"`
}

// handleCreate creates a draft post. With no content and a topic, the
// draft body is generated first.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	platform, err := policy.Parse(req.Platform)
	if err != nil {
		writeError(w, err)
		return
	}

	body := req.Content
	if body == "" && req.Topic != "" {
		if s.generator == nil {
			writeError(w, errors.NewValidationError("content generation is not configured; supply content"))
			return
		}
		body, err = s.generator.Generate(r.Context(), platform, req.Style, req.Topic, req.Points)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	p, err := post.New(platform, body, req.Topic, req.Style, req.ProfileID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Create(p); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var platformFilter *policy.Platform
	if name := r.URL.Query().Get("platform"); name != "" {
		platform, err := policy.Parse(name)
		if err != nil {
			writeError(w, err)
			return
		}
		platformFilter = &platform
	}

	var statusFilter *post.Status
	if name := r.URL.Query().Get("status"); name != "" {
		status := post.Status(name)
		if !status.Valid() {
			writeError(w, errors.NewValidationError("unknown status %q", name))
			return
		}
		statusFilter = &status
	}

	posts, err := s.store.List(platformFilter, statusFilter)
	if err != nil {
		writeError(w, err)
		return
	}
	if posts == nil {
		posts = []*post.Post{}
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Get(id); err != nil {
		writeError(w, err)
		return
	}

	trail, err := s.store.History(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if trail == nil {
		trail = []*post.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, trail)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Enqueue(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type assignRequest struct {
	At string `json:"at"` // RFC3339; empty picks the preferred slot
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var requestedAt *time.Time
	if req.At != "" {
		at, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			writeError(w, errors.NewValidationError("invalid at timestamp %q (want RFC3339)", req.At))
			return
		}
		requestedAt = &at
	}

	p, err := s.engine.AssignSlot(chi.URLParam(r, "id"), requestedAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleMarkPublished(w http.ResponseWriter, r *http.Request) {
	p, err := s.dispatcher.MarkPublished(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type markFailedRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleMarkFailed(w http.ResponseWriter, r *http.Request) {
	var req markFailedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := s.dispatcher.MarkFailed(chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Purge(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchRequest struct {
	IDs []string `json:"ids"` // empty schedules every queued post
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.engine.ScheduleBatch(req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleCalendar lists a platform's posts inside a time range,
// defaulting to the next 30 days.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	platform, err := policy.Parse(r.URL.Query().Get("platform"))
	if err != nil {
		writeError(w, err)
		return
	}

	from := time.Now().UTC()
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, errors.NewValidationError("invalid from timestamp %q", raw))
			return
		}
	}
	to := from.AddDate(0, 0, 30)
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, errors.NewValidationError("invalid to timestamp %q", raw))
			return
		}
	}

	posts, err := s.store.QueryWindow(platform, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	if posts == nil {
		posts = []*post.Post{}
	}
	writeJSON(w, http.StatusOK, posts)
}

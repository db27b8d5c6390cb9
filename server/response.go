package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ardelis/postqueue/errors"
)

// errorResponse is the JSON body for every non-2xx response
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Hints string `json:"hints,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. Conflicts and
// full calendars are the caller's problem to retry or reconsider (409);
// bad input is 400; a broken delivery channel is an upstream failure (502).
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}

	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
		resp.Code = "not_found"
	case errors.IsValidation(err), errors.Is(err, errors.ErrUnknownPlatform):
		status = http.StatusBadRequest
		resp.Code = "validation"
	case errors.IsConflict(err):
		status = http.StatusConflict
		resp.Code = "conflict"
	case errors.Is(err, errors.ErrNoCapacity):
		status = http.StatusConflict
		resp.Code = "no_capacity"
	case errors.Is(err, errors.ErrDelivery), errors.Is(err, errors.ErrGeneration):
		status = http.StatusBadGateway
		resp.Code = "upstream"
	}

	if hints := errors.GetAllHints(err); len(hints) > 0 {
		resp.Hints = hints[0]
	}

	writeJSON(w, status, resp)
}

// decodeBody decodes a JSON request body into v. An empty body is allowed
// and leaves v at its zero value.
func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.NewValidationError("invalid JSON body: %v", err)
	}
	return nil
}

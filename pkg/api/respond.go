package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adaptivelb/server/pkg/store"
	"github.com/goccy/go-json"
)

const maxLimit = 1000

type envelope map[string]any

// write encodes the value as the JSON body of the response.
func (s *Server) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("api: failed to encode response", "error", err)
	}
}

func (s *Server) success(w http.ResponseWriter, status int, data any) {
	s.write(w, status, envelope{"status": "success", "data": data})
}

// list writes a successful response holding a list and its size.
func list[T any](s *Server, w http.ResponseWriter, items []T) {
	s.write(w, http.StatusOK, envelope{"status": "success", "results": len(items), "data": items})
}

// fail writes an error response. Client errors have status "fail", server errors "error".
func (s *Server) fail(w http.ResponseWriter, status int, message string) {
	result := "fail"
	if status >= 500 {
		result = "error"
	}
	s.write(w, status, envelope{"status": result, "message": message})
}

// decode reads the JSON body of the request into v.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body is too large")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// limitParam returns the "limit" query parameter, or def when missing or not a positive integer.
func limitParam(r *http.Request, def int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

// rangeParams returns the "start" and "end" query parameters, which are both required RFC 3339 times.
// They are returned in the layout of the stored timestamps, so that both bounds are inclusive
// whatever the precision used by the client.
func rangeParams(r *http.Request) (start, end string, err error) {
	rawStart := strings.TrimSpace(r.URL.Query().Get("start"))
	rawEnd := strings.TrimSpace(r.URL.Query().Get("end"))
	if rawStart == "" || rawEnd == "" {
		return "", "", errors.New("start and end are required")
	}

	from, err := time.Parse(time.RFC3339Nano, rawStart)
	if err != nil {
		return "", "", errors.New("start must be an RFC 3339 time")
	}
	to, err := time.Parse(time.RFC3339Nano, rawEnd)
	if err != nil {
		return "", "", errors.New("end must be an RFC 3339 time")
	}

	if from.After(to) {
		return "", "", errors.New("start must not be after end")
	}
	return store.Timestamp(from), store.Timestamp(to), nil
}

package models

import (
	"encoding/json"
	"net/http"
)

// Problem is the RFC 7807 body the relay's plain HTTP routes answer with when
// a request cannot be served. WebSocket traffic never sees one.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// problemSlugs names the problem types with a stable URI. Any other status
// falls back to about:blank.
var problemSlugs = map[int]string{
	http.StatusNotFound:            "not-found",
	http.StatusMethodNotAllowed:    "method-not-allowed",
	http.StatusInternalServerError: "internal-error",
	http.StatusServiceUnavailable:  "service-unavailable",
}

// ProblemType returns the type URI used for status.
func ProblemType(status int) string {
	if slug, ok := problemSlugs[status]; ok {
		return "/problems/" + slug
	}
	return "about:blank"
}

// NewProblem builds the problem for status, titled with the standard status text.
func NewProblem(status int, requestID, detail string) *Problem {
	return &Problem{
		Type:      ProblemType(status),
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		RequestID: requestID,
	}
}

// Write sends p as application/problem+json.
func (p *Problem) Write(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/problem+json")
	if p.RequestID != "" {
		h.Set("X-Request-Id", p.RequestID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

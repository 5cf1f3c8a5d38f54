// Package response writes the ops endpoints' JSON bodies and problem errors.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/breatheroute/aqirelay/internal/api/middleware"
	"github.com/breatheroute/aqirelay/internal/api/models"
)

// JSON writes data with status, echoing the request id when r carries one.
// A nil data writes no body.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	h := w.Header()
	if id := middleware.GetRequestID(r.Context()); id != "" {
		h.Set(middleware.RequestIDHeader, id)
	}
	h.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// Problem writes an RFC 7807 error for r with the given status.
func Problem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	p := models.NewProblem(status, middleware.GetRequestID(r.Context()), detail)
	p.Instance = r.URL.Path
	p.Write(w)
}

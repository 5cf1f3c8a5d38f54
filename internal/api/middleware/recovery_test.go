package middleware_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqirelay/internal/api/middleware"
)

// hijackableRecorder lets a handler take the connection over and counts any
// writes attempted afterwards.
type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked   bool
	lateWrites int
	clientSide net.Conn
	serverSide net.Conn
}

func newHijackableRecorder() *hijackableRecorder {
	client, server := net.Pipe()
	return &hijackableRecorder{ResponseRecorder: httptest.NewRecorder(), clientSide: client, serverSide: server}
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return h.serverSide, bufio.NewReadWriter(bufio.NewReader(h.serverSide), bufio.NewWriter(h.serverSide)), nil
}

func (h *hijackableRecorder) WriteHeader(code int) {
	if h.hijacked {
		h.lateWrites++
		return
	}
	h.ResponseRecorder.WriteHeader(code)
}

func (h *hijackableRecorder) Write(b []byte) (int, error) {
	if h.hijacked {
		h.lateWrites++
		return 0, http.ErrHijacked
	}
	return h.ResponseRecorder.Write(b)
}

func TestRecovery_WritesProblem(t *testing.T) {
	var buf bytes.Buffer
	handler := middleware.RequestID(middleware.Recovery(zerolog.New(&buf))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
	req.Header.Set("X-Request-Id", "req-panic")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "panic recovered", entry["message"])
	assert.Equal(t, "req-panic", entry["request_id"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/v1/ops/status", entry["path"])
	assert.Equal(t, false, entry["upgraded"])
}

func TestRecovery_AfterPartialResponse(t *testing.T) {
	handler := middleware.Recovery(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("partial"))
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partial", w.Body.String())
}

func TestRecovery_AfterUpgradeWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	handler := middleware.Recovery(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := http.NewResponseController(w).Hijack()
		require.NoError(t, err)
		defer conn.Close()
		panic("boom")
	}))

	w := newHijackableRecorder()
	defer w.clientSide.Close()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.True(t, w.hijacked)
	assert.Zero(t, w.lateWrites)
	assert.Contains(t, buf.String(), `"upgraded":true`)
}

func TestRecovery_RepanicsAbortHandler(t *testing.T) {
	handler := middleware.Recovery(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	})
}

package middleware_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/scoreroom/internal/dependencies/mocks"
	"github.com/mcoot/scoreroom/internal/middleware"
	"github.com/mcoot/scoreroom/internal/ratelimit"
	"github.com/mcoot/scoreroom/internal/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hello"))
	})
}

func TestLoggingCapturesStatus(t *testing.T) {
	var captured *middleware.ResponseWriter
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = w.(*middleware.ResponseWriter)
		okHandler().ServeHTTP(w, r)
	})

	rec := httptest.NewRecorder()
	middleware.Logging(testutil.NopLogger())(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.NotNil(t, captured)
	assert.Equal(t, http.StatusTeapot, captured.Status())
	assert.Equal(t, 5, captured.Size())
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestHijackUnsupported(t *testing.T) {
	rw := &middleware.ResponseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	assert.Error(t, err)
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	handler := middleware.Recovery(testutil.NopLogger(), middleware.DefaultPanicHandler)(panicking)
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRecoveryReraisesAbortHandler(t *testing.T) {
	aborting := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})

	handler := middleware.Recovery(testutil.NopLogger(), middleware.DefaultPanicHandler)(aborting)
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

// hijackRecorder hands out one end of a pipe on Hijack
type hijackRecorder struct {
	*httptest.ResponseRecorder
	conn net.Conn
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return h.conn, bufio.NewReadWriter(bufio.NewReader(h.conn), bufio.NewWriter(h.conn)), nil
}

func TestRecoveryWritesNothingAfterHijack(t *testing.T) {
	server, client := net.Pipe()
	defer func() { _ = client.Close() }()

	upgraded := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		_ = conn.Close()
		panic("after upgrade")
	})

	called := false
	onPanic := func(http.ResponseWriter, *http.Request, any) { called = true }

	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder(), conn: server}
	handler := middleware.Recovery(testutil.NopLogger(), onPanic)(middleware.Logging(testutil.NopLogger())(upgraded))
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	})
	assert.False(t, called)
}

func byRemoteAddr(r *http.Request) string {
	return r.RemoteAddr
}

func tooMany(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTooManyRequests)
}

func TestRateLimit(t *testing.T) {
	clk := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	limiter := ratelimit.NewFixedWindow(2, time.Minute, clk)
	handler := middleware.RateLimit(limiter, byRemoteAddr, tooMany, testutil.NopLogger())(okHandler())

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusTeapot, do("1.1.1.1:1"))
	assert.Equal(t, http.StatusTeapot, do("1.1.1.1:1"))
	assert.Equal(t, http.StatusTooManyRequests, do("1.1.1.1:1"))
	assert.Equal(t, http.StatusTeapot, do("2.2.2.2:1"), "keys are limited independently")

	clk.Advance(time.Minute)
	assert.Equal(t, http.StatusTeapot, do("1.1.1.1:1"))
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return true, errors.New("backend down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	logger, logs := testutil.CaptureLogger()
	handler := middleware.RateLimit(failingLimiter{}, byRemoteAddr, tooMany, logger)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, logs.String(), "rate limiter failed")
}

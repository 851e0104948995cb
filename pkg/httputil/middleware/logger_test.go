package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgeflare/pgapi/pkg/httputil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return zap.New(core), logs
}

func TestLoggerCustomFormat(t *testing.T) {
	logger, logs := newTestLogger()
	mw := LoggerWithOptions(&LoggerOptions{
		Logger: logger,
		Format: func(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field {
			return []zap.Field{zap.String("test", "log")}
		},
	})

	rr := httptest.NewRecorder()
	mw(http.HandlerFunc(ok)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com/foo", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "response", logs.All()[0].Message)
	assert.Equal(t, "log", logs.All()[0].ContextMap()["test"])
}

func TestLoggerDefaultFields(t *testing.T) {
	logger, logs := newTestLogger()
	mw := LoggerWithOptions(&LoggerOptions{Logger: logger})

	rr := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com/foo", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.EqualValues(t, len("short and stout"), fields["bytes"])
	assert.Equal(t, uuid.Nil.String(), fields["req_id"])
}

func TestLoggerScopedLogger(t *testing.T) {
	logger, logs := newTestLogger()
	reqID := uuid.New().String()
	mw := LoggerWithOptions(&LoggerOptions{Logger: logger})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/foo", nil)
	req = req.WithContext(context.WithValue(req.Context(), httputil.RequestIDCtxKey, reqID))
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Logger(r.Context()).Info("inside")
	})).ServeHTTP(httptest.NewRecorder(), req)

	inside := logs.FilterMessage("inside").All()
	require.Len(t, inside, 1)
	assert.Equal(t, reqID, inside[0].ContextMap()["req_id"])
	assert.Equal(t, reqID, logs.FilterMessage("response").All()[0].ContextMap()["req_id"])
}

func TestLoggerNilOptions(t *testing.T) {
	rr := httptest.NewRecorder()
	LoggerWithOptions(nil)(http.HandlerFunc(ok)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotNil(t, Logger(context.Background()))
}

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

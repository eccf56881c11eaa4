package httpgin

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLine(t *testing.T, buf *bytes.Buffer) (level string, fields map[string]any) {
	t.Helper()

	var line struct {
		Level string         `json:"level"`
		HTTP  map[string]any `json:"http"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line.Level, line.HTTP
}

func TestLoggingMiddleware_LogsCallerAndErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(RequestIDMiddleware(), LoggingMiddleware(logger))
	r.POST("/events/:id/reservations", func(c *gin.Context) {
		c.Set(ctxMemberID, int64(7))
		c.Set(ctxRole, "admin")
		_ = c.Error(errors.New("store unavailable"))
		c.Status(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodPost, "/events/3/reservations", nil)
	req.Header.Set(headerRequestID, "req-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	level, fields := logLine(t, &buf)
	assert.Equal(t, "ERROR", level)
	assert.Equal(t, float64(500), fields["status"])
	assert.Equal(t, "/events/:id/reservations", fields["route"])
	assert.Equal(t, "/events/3/reservations", fields["path"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, float64(7), fields["member_id"])
	assert.Equal(t, "admin", fields["role"])
	assert.Contains(t, fields["err"], "store unavailable")
}

func TestLoggingMiddleware_ClientErrorsAreWarnings(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(RequestIDMiddleware(), LoggingMiddleware(logger))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	level, fields := logLine(t, &buf)
	assert.Equal(t, "WARN", level)
	assert.Equal(t, float64(404), fields["status"])
	assert.NotEmpty(t, fields["request_id"])
	assert.NotContains(t, fields, "member_id")
}

func TestCORS_RestrictsOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(CORS([]string{"https://app.example"}))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

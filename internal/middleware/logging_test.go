package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-timing/internal/common/logging"
)

type capturingLogger struct {
	logging.Logger
	messages []string
	fields   [][]logging.Field
}

func (c *capturingLogger) WithFields(...logging.Field) logging.Logger { return c }

func (c *capturingLogger) Debug(msg string, fields ...logging.Field) { c.record(msg, fields) }
func (c *capturingLogger) Info(msg string, fields ...logging.Field)  { c.record(msg, fields) }
func (c *capturingLogger) Warn(msg string, fields ...logging.Field)  { c.record(msg, fields) }
func (c *capturingLogger) Error(msg string, _ error, fields ...logging.Field) {
	c.record(msg, fields)
}

func (c *capturingLogger) record(msg string, fields []logging.Field) {
	c.messages = append(c.messages, msg)
	c.fields = append(c.fields, fields)
}

func fieldValue(fields []logging.Field, key string) interface{} {
	for _, f := range fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

func TestLogging(t *testing.T) {
	logger := &capturingLogger{}
	r := mux.NewRouter()
	r.Use(Logging(logger))
	r.HandleFunc("/api/latest", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/latest", nil))

	require.Len(t, logger.messages, 1)
	assert.Equal(t, "HTTP request completed", logger.messages[0])
	assert.Equal(t, http.StatusNotFound, fieldValue(logger.fields[0], "status"))
	assert.Equal(t, "/api/latest", fieldValue(logger.fields[0], "path"))
}

func TestRecover(t *testing.T) {
	logger := &capturingLogger{}
	r := mux.NewRouter()
	r.Use(Recover(logger))
	r.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("nil map") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"HTTP handler panicked"}, logger.messages)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-timing/internal/common/errors"
	"live-timing/internal/common/logging"
	"live-timing/internal/engines"
	"live-timing/internal/manager"
	"live-timing/internal/models"
)

type startCall struct {
	ctx        context.Context
	url        string
	searchTerm string
	opts       manager.Options
}

type fakeSessions struct {
	mu       sync.Mutex
	starts   []startCall
	running  bool
	startErr error
}

func (f *fakeSessions) Restart(ctx context.Context, rawURL, searchTerm string, opts manager.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts = append(f.starts, startCall{ctx: ctx, url: rawURL, searchTerm: searchTerm, opts: opts})
	f.running = true
	return nil
}

func (f *fakeSessions) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return engines.ErrEngineNotRunning
	}
	f.running = false
	return nil
}

func (f *fakeSessions) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSessions) Stats() manager.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := manager.Stats{Running: f.running}
	if n := len(f.starts); n > 0 {
		stats.RaceURL = f.starts[n-1].url
		stats.SearchTerm = f.starts[n-1].searchTerm
	}
	return stats
}

func (f *fakeSessions) lastStart(t *testing.T) startCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.starts)
	return f.starts[len(f.starts)-1]
}

type fakeRelay struct{}

func (fakeRelay) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

func (fakeRelay) Stats() map[string]interface{} {
	return map[string]interface{}{"enabled": true}
}

type contextKey struct{}

func newTestAPI(t *testing.T, sinks ...func(models.CanonicalUpdate)) (*API, *fakeSessions, *httptest.Server) {
	t.Helper()
	sessions := &fakeSessions{}
	ctx := context.WithValue(context.Background(), contextKey{}, "app")
	api, err := NewAPI(ctx, Config{
		Sessions:        sessions,
		Relay:           fakeRelay{},
		LatestTTL:       time.Minute,
		DefaultInterval: 2 * time.Second,
		Sinks:           sinks,
		Logger:          logging.NewNopLogger(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(api.Router())
	t.Cleanup(func() {
		api.Hub().Close()
		srv.Close()
	})
	return api, sessions, srv
}

func sampleUpdate(sessionID string) models.CanonicalUpdate {
	ours := models.Competitor{RowID: "r7", Position: 2, Team: "Kart Club", KartNumber: "7"}
	return models.CanonicalUpdate{
		SessionID:   sessionID,
		Provider:    models.ProviderRaceFacer,
		Race:        &models.RaceState{},
		Competitors: []models.Competitor{{RowID: "r1", Position: 1, KartNumber: "3"}, ours},
		OurTeam:     &ours,
		Found:       true,
		Timestamp:   time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC),
	}
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func TestNewAPI_RequiresSessions(t *testing.T) {
	_, err := NewAPI(context.Background(), Config{LatestTTL: time.Minute})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestAPI_Health(t *testing.T) {
	_, _, srv := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["running"])
}

func TestAPI_Latest(t *testing.T) {
	api, _, srv := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/api/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	api.Dispatch(sampleUpdate("s-1"))

	resp, err = http.Get(srv.URL + "/api/latest")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.CanonicalUpdate
	decodeBody(t, resp, &got)
	assert.Equal(t, "s-1", got.SessionID)
	require.NotNil(t, got.OurTeam)
	assert.Equal(t, "7", got.OurTeam.KartNumber)

	resp, err = http.Get(srv.URL + "/api/latest?session=other")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_StartSession(t *testing.T) {
	var (
		mu   sync.Mutex
		sunk []models.CanonicalUpdate
	)
	_, sessions, srv := newTestAPI(t, func(u models.CanonicalUpdate) {
		mu.Lock()
		sunk = append(sunk, u)
		mu.Unlock()
	})

	resp := postJSON(t, srv.URL+"/api/session", map[string]interface{}{
		"url":              "https://www.racefacer.com/en/live/some-track",
		"searchTerm":       "Kart Club",
		"searchType":       "team",
		"updateIntervalMs": 500,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var stats manager.Stats
	decodeBody(t, resp, &stats)
	assert.True(t, stats.Running)
	assert.Equal(t, "Kart Club", stats.SearchTerm)

	call := sessions.lastStart(t)
	assert.Equal(t, "app", call.ctx.Value(contextKey{}), "engines must outlive the request")
	assert.Equal(t, models.SearchTeam, call.opts.SearchType)
	assert.Equal(t, 500*time.Millisecond, call.opts.UpdateInterval)

	// The manager's callback feeds the cache and the sinks.
	call.opts.OnUpdate(sampleUpdate("s-2"))

	resp, err := http.Get(srv.URL + "/api/latest?session=s-2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	mu.Lock()
	assert.Len(t, sunk, 1)
	mu.Unlock()
}

func TestAPI_StartSession_DefaultInterval(t *testing.T) {
	_, sessions, srv := newTestAPI(t)

	resp := postJSON(t, srv.URL+"/api/session", map[string]string{
		"url": "https://live.apex-timing.com/some-track/",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	call := sessions.lastStart(t)
	assert.Equal(t, 2*time.Second, call.opts.UpdateInterval)
	assert.Equal(t, models.SearchAny, call.opts.SearchType)
}

func TestAPI_StartSession_Rejected(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "not json", body: "{"},
		{name: "missing url", body: `{"searchTerm":"7"}`, field: "url"},
		{name: "unknown provider", body: `{"url":"https://example.com/race"}`, field: "url"},
		{name: "bad search type", body: `{"url":"https://racefacer.com/x","searchType":"car"}`, field: "searchType"},
		{name: "interval too short", body: `{"url":"https://racefacer.com/x","updateIntervalMs":5}`, field: "updateIntervalMs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, sessions, srv := newTestAPI(t)

			resp, err := http.Post(srv.URL+"/api/session", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body errorResponse
			decodeBody(t, resp, &body)
			assert.Equal(t, errors.ErrTypeValidation, body.Type)
			if tt.field != "" {
				require.NotEmpty(t, body.Fields)
				assert.Equal(t, tt.field, body.Fields[0].Field)
			}
			assert.False(t, sessions.IsRunning())
		})
	}
}

func TestAPI_StartSession_ManagerError(t *testing.T) {
	_, sessions, srv := newTestAPI(t)
	sessions.startErr = errors.ConfigError("unsupported race url")

	resp := postJSON(t, srv.URL+"/api/session", map[string]string{"url": "https://racefacer.com/x"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_StopSession(t *testing.T) {
	_, sessions, srv := newTestAPI(t)

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/session", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNotFound, del())

	resp := postJSON(t, srv.URL+"/api/session", map[string]string{"url": "https://racefacer.com/x"})
	resp.Body.Close()
	require.True(t, sessions.IsRunning())

	assert.Equal(t, http.StatusNoContent, del())
	assert.False(t, sessions.IsRunning())
}

func TestAPI_StatsAndRelay(t *testing.T) {
	_, _, srv := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats map[string]interface{}
	decodeBody(t, resp, &stats)
	assert.Contains(t, stats, "session")
	assert.Contains(t, stats, "relay")
	assert.EqualValues(t, 0, stats["subscribers"])

	resp, err = http.Get(srv.URL + "/api/proxy?url=https://racefacer.com")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg.Type, msg.Data
}

func TestAPI_WebSocketStream(t *testing.T) {
	api, _, srv := newTestAPI(t)

	conn := dialWS(t, srv)
	require.Eventually(t, func() bool { return api.Hub().Count() == 1 }, time.Second, 5*time.Millisecond)

	api.Dispatch(sampleUpdate("s-3"))
	msgType, data := readMessage(t, conn)
	assert.Equal(t, MessageUpdate, msgType)
	var got models.CanonicalUpdate
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "s-3", got.SessionID)
	assert.True(t, got.Found)

	opts := api.SessionOptions(models.SearchKart, 0)
	opts.OnError(errors.ConnectionError("proxy down", nil), 3)
	msgType, data = readMessage(t, conn)
	assert.Equal(t, MessageError, msgType)
	assert.Contains(t, string(data), `"consecutiveErrors":3`)

	opts.OnFatalError(engines.ErrTooManyErrors)
	msgType, _ = readMessage(t, conn)
	assert.Equal(t, MessageFatal, msgType)
}

func TestAPI_WebSocketGreeting(t *testing.T) {
	api, _, srv := newTestAPI(t)
	api.Dispatch(sampleUpdate("s-4"))

	conn := dialWS(t, srv)
	msgType, data := readMessage(t, conn)
	assert.Equal(t, MessageUpdate, msgType)
	assert.Contains(t, string(data), `"sessionId":"s-4"`)
}

func TestAPI_WebSocketDisconnect(t *testing.T) {
	api, _, srv := newTestAPI(t)

	conn := dialWS(t, srv)
	require.Eventually(t, func() bool { return api.Hub().Count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return api.Hub().Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

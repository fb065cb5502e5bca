package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ms-events/internal/auth"
	"ms-events/internal/config"
	"ms-events/internal/database"
	eventsdb "ms-events/internal/events/db"
	"ms-events/internal/events/service"
	"ms-events/internal/logger"
	"ms-events/internal/middleware"
	"ms-events/internal/models"
	"ms-events/internal/realtime"
	"ms-events/internal/server"
	"ms-events/internal/uploads"
	usersdb "ms-events/internal/users/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	srv    *httptest.Server
	events *service.EventService
}

func setupApp(t *testing.T) *testApp {
	return setupAppWithLimit(t, 100)
}

func setupAppWithLimit(t *testing.T, authPerMinute int) *testApp {
	cfg := config.Load()
	cfg.Env = "test"
	cfg.Server.FrontendURL = "http://localhost:5173"

	bunDB, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })
	require.NoError(t, database.CreateSchema(context.Background(), bunDB))

	log := logger.NewNop()
	users := &usersdb.DB{Bun: bunDB}
	authService := auth.NewService(users, auth.NewTokenService("test-secret", time.Hour, "ms-events"), log)
	authService.BcryptCost = 4

	hub := realtime.NewHub(log)
	events := service.NewEventService(&eventsdb.DB{Bun: bunDB}, log)
	events.AddPublisher("realtime", hub)

	store, err := uploads.NewStore(t.TempDir(), cfg.Uploads.MaxBytes)
	require.NoError(t, err)
	limiter := middleware.NewRateLimiter(authPerMinute, log)
	t.Cleanup(limiter.Stop)

	srv := httptest.NewServer(server.NewRouter(server.Deps{
		Config:  cfg,
		Logger:  log,
		DB:      bunDB,
		Auth:    authService,
		Users:   users,
		Events:  events,
		Hub:     hub,
		Uploads: store,
		Limiter: limiter,
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(events.Wait)
	return &testApp{srv: srv, events: events}
}

func (a *testApp) call(t *testing.T, method, path, token string, body interface{}) (*http.Response, []byte) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (a *testApp) register(t *testing.T, name, email string) string {
	resp, body := a.call(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var result auth.AuthResult
	require.NoError(t, json.Unmarshal(body, &result))
	return result.Token
}

func TestHealthAndMetrics(t *testing.T) {
	app := setupApp(t)

	resp, body := app.call(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, body = app.call(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "events_api_http_requests_total")
}

func TestAuthRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	app := setupAppWithLimit(t, 3)

	var statuses []int
	for i := 0; i < 6; i++ {
		body, err := json.Marshal(map[string]string{"email": "nobody@example.com", "password": "secret123"})
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, app.srv.URL+"/api/auth/login", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}

	assert.Equal(t, []int{401, 401, 401, 429, 429, 429}, statuses)
}

func TestUnknownRoute(t *testing.T) {
	app := setupApp(t)

	resp, body := app.call(t, http.MethodGet, "/api/nothing-here", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "Route not found", payload["message"])
	assert.Equal(t, "/api/nothing-here", payload["path"])
}

func TestCORSPreflight(t *testing.T) {
	app := setupApp(t)

	req, err := http.NewRequest(http.MethodOptions, app.srv.URL+"/api/events", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestExpiredTokenIsRejected(t *testing.T) {
	app := setupApp(t)
	app.register(t, "Ada", "ada@example.com")

	tokens := auth.NewTokenService("test-secret", time.Hour, "ms-events").
		WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	expired, _, err := tokens.Issue("someone")
	require.NoError(t, err)

	resp, body := app.call(t, http.MethodGet, "/api/auth/me", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "TokenExpired")
}

func readFrame(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" {
				return event, data
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestJoinNotifiesRoomSubscribers(t *testing.T) {
	app := setupApp(t)
	ada := app.register(t, "Ada", "ada@example.com")
	bob := app.register(t, "Bob", "bob@example.com")

	resp, body := app.call(t, http.MethodPost, "/api/events", ada, map[string]interface{}{
		"title":        "Go Conference",
		"description":  "Talks",
		"date":         time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"location":     "Berlin",
		"category":     "conference",
		"maxAttendees": "10",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var event models.EventResponse
	require.NoError(t, json.Unmarshal(body, &event))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, app.srv.URL+"/api/realtime?events="+event.ID, nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	reader := bufio.NewReader(stream.Body)

	name, _ := readFrame(t, reader)
	require.Equal(t, "connected", name)
	name, _ = readFrame(t, reader)
	require.Equal(t, "joined", name)

	resp, body = app.call(t, http.MethodPost, "/api/events/"+event.ID+"/join", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	name, data := readFrame(t, reader)
	require.Equal(t, "notification", name)
	var n models.Notification
	require.NoError(t, json.Unmarshal([]byte(data), &n))
	assert.Equal(t, models.NotificationAttendeeJoined, n.Type)
	assert.Equal(t, event.ID, n.EventID)
	assert.Equal(t, 2, n.AttendeeCount)
}

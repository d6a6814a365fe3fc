// File: internal/server/handlers_test.go
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalez0416/keepy/internal/bridge"
	"github.com/whalez0416/keepy/internal/detector"
	"github.com/whalez0416/keepy/internal/models"
	"github.com/whalez0416/keepy/internal/moderation"
	"github.com/whalez0416/keepy/internal/scanner"
	"github.com/whalez0416/keepy/internal/scheduler"
	"github.com/whalez0416/keepy/internal/storage"
)

type testAPI struct {
	server *HTTPServer
	store  storage.Storage
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "api_test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	client := bridge.NewClient(bridge.DefaultClientConfig())
	scan := scanner.New(nil, store, client, detector.NewDetector(nil), nil)
	sched := scheduler.New(scheduler.DefaultConfig(), store, scan, client, nil)
	mod := moderation.NewService(store, client, nil)

	srv, err := NewHTTPServer(&ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		EnableHealth: true,
		Version:      "2.0.0",
	}, store, sched, mod, client, nil)
	require.NoError(t, err)

	return &testAPI{server: srv, store: store}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "2.0.0", body["version"])
}

func TestCreateTargetShowsSecretExactlyOnce(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"name":   "Test Clinic",
		"domain": "clinic.example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode(t, rec)
	secret, _ := body["secret_key"].(string)
	require.NotEmpty(t, secret, "The creation response carries the generated secret")

	target := body["target"].(map[string]interface{})
	targetID := target["id"].(string)
	assert.Equal(t, float64(5), target["interval_minutes"], "Interval defaults when omitted")
	assert.Equal(t, false, target["active"])
	assert.Equal(t, float64(models.OnboardingNone), target["onboarding_level"])

	// Every later read must omit the secret entirely.
	rec = api.do(t, http.MethodGet, "/api/v1/targets/"+targetID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), secret)
	assert.NotContains(t, rec.Body.String(), "secret")

	// But the monitor itself keeps it for signing.
	stored, err := api.store.GetTarget(context.Background(), targetID)
	require.NoError(t, err)
	assert.Equal(t, secret, stored.SecretKey)
}

func TestCreateTargetValidation(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"domain": "clinic.example.com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"name":             "Test Clinic",
		"domain":           "clinic.example.com",
		"interval_minutes": 11,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRotateSecretReturnsNewValueOnce(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"name":   "Test Clinic",
		"domain": "clinic.example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	first := body["secret_key"].(string)
	targetID := body["target"].(map[string]interface{})["id"].(string)

	rec = api.do(t, http.MethodPost, "/api/v1/targets/"+targetID+"/secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode(t, rec)["secret_key"].(string)
	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)

	stored, err := api.store.GetTarget(context.Background(), targetID)
	require.NoError(t, err)
	assert.Equal(t, second, stored.SecretKey)
}

func TestLinkBoardActivatesMonitoring(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"name":   "Test Clinic",
		"domain": "clinic.example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	targetID := decode(t, rec)["target"].(map[string]interface{})["id"].(string)

	rec = api.do(t, http.MethodPost, "/api/v1/targets/"+targetID+"/link", map[string]interface{}{
		"board_table": "write_consult",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := api.store.GetTarget(context.Background(), targetID)
	require.NoError(t, err)
	assert.Equal(t, "write_consult", stored.BoardTable)
	assert.True(t, stored.Active)
	assert.Equal(t, models.OnboardingActivated, stored.OnboardingLevel)
}

func TestLinkBoardRequiresTableName(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"name":   "Test Clinic",
		"domain": "clinic.example.com",
	})
	targetID := decode(t, rec)["target"].(map[string]interface{})["id"].(string)

	rec = api.do(t, http.MethodPost, "/api/v1/targets/"+targetID+"/link", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTargetNotFound(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/v1/targets/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateTargetInterval(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"name":   "Test Clinic",
		"domain": "clinic.example.com",
	})
	targetID := decode(t, rec)["target"].(map[string]interface{})["id"].(string)

	rec = api.do(t, http.MethodPut, "/api/v1/targets/"+targetID, map[string]interface{}{
		"interval_minutes": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := api.store.GetTarget(context.Background(), targetID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.IntervalMinutes)
}

func TestListEventsWithFilters(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, api.store.SaveTarget(ctx, &models.Target{
		ID: "t1", Name: "Clinic", Domain: "clinic.example.com",
		IntervalMinutes: 5, CreatedAt: now, UpdatedAt: now,
	}))
	for i, kind := range []string{models.EventSpamDetected, models.EventSpamDetected, models.EventTargetDown} {
		event := &models.AuditEvent{
			ID:        "e" + string(rune('1'+i)),
			TargetID:  "t1",
			Kind:      kind,
			Message:   "test event",
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}
		if kind == models.EventSpamDetected {
			event.Status = models.StatusDetected
		}
		require.NoError(t, api.store.SaveEvent(ctx, event))
	}

	rec := api.do(t, http.MethodGet, "/api/v1/events?kind="+models.EventSpamDetected, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["count"])

	rec = api.do(t, http.MethodGet, "/api/v1/events?kind="+models.EventTargetDown, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])
}

func TestDeletePostRequiresActor(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/events/e1/delete", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "actor_id"))
}

func TestForceSweepUnknownTargetIs404(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/targets/missing/sweep", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

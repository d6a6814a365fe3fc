package scanner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalez0416/keepy/internal/bridge"
	"github.com/whalez0416/keepy/internal/detector"
	"github.com/whalez0416/keepy/internal/models"
	"github.com/whalez0416/keepy/internal/schema"
	"github.com/whalez0416/keepy/internal/storage"
)

const testSecret = "keepy_scanner_test_secret"

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "scanner_test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

// fetchStub answers fetch_recent_posts after verifying the envelope.
func fetchStub(t *testing.T, respond func(req *bridge.Request) (*bridge.Response, int)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env := bridge.Envelope{
			Key:       r.Header.Get(bridge.HeaderAPIKey),
			Timestamp: r.Header.Get(bridge.HeaderTimestamp),
			Signature: r.Header.Get(bridge.HeaderSignature),
		}
		require.True(t, bridge.Verify(testSecret, env, time.Now().Unix()),
			"Scanner must sign every fetch")

		var req bridge.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, bridge.ActionFetchRecent, req.Action)

		resp, status := respond(&req)
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}))
}

func scanTarget(srv *httptest.Server) *models.Target {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Target{
		ID:              "t1",
		Name:            "Test Clinic",
		Domain:          srv.URL,
		TargetURL:       srv.URL,
		SecretKey:       testSecret,
		BoardTable:      "write_consult",
		IntervalMinutes: 5,
		Active:          true,
		OnboardingLevel: models.OnboardingActivated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func stdMapping() map[schema.Role]string {
	return map[schema.Role]string{
		schema.RoleID:      "wr_id",
		schema.RoleSubject: "wr_subject",
		schema.RoleContent: "wr_content",
		schema.RoleDate:    "wr_datetime",
		schema.RolePhone:   "wr_hp",
	}
}

func TestScanDetectsSpamAndAdvancesCheckpoint(t *testing.T) {
	srv := fetchStub(t, func(req *bridge.Request) (*bridge.Response, int) {
		return &bridge.Response{
			Success: true,
			Mapping: stdMapping(),
			Posts: []map[string]interface{}{
				{"wr_id": "10", "wr_subject": "예약 문의", "wr_content": "예약 부탁드립니다.", "wr_datetime": "2026-08-30 09:00:00"},
				{"wr_id": "11", "wr_subject": "무료 카지노", "wr_content": "지금 접속", "wr_datetime": "2026-08-30 10:00:00"},
				{"wr_id": "12", "wr_subject": "진료 시간", "wr_content": "토요일 진료 하나요?", "wr_datetime": "2026-08-30 11:00:00"},
			},
		}, http.StatusOK
	})
	defer srv.Close()

	store := newTestStorage(t)
	ctx := context.Background()
	target := scanTarget(srv)
	require.NoError(t, store.SaveTarget(ctx, target))

	s := New(nil, store, bridge.NewClient(bridge.DefaultClientConfig()), detector.NewDetector(nil), nil)

	result, err := s.Scan(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 1, result.Detected)
	assert.True(t, result.Advanced)
	assert.Equal(t, "12", result.Checkpoint.LastID)

	// The detection is durable and references the remote post.
	events, err := store.GetEvents(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSpamDetected, events[0].Kind)
	assert.Equal(t, models.StatusDetected, events[0].Status)
	assert.Equal(t, "11", events[0].RemotePostID())
	assert.Equal(t, "write_consult", events[0].BoardTable())

	// The stored checkpoint now points past the batch.
	loaded, err := store.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "12", loaded.CheckpointID)
	require.NotNil(t, loaded.CheckpointDate)
	assert.Equal(t, time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC), loaded.CheckpointDate.UTC())
}

func TestScanEmptyBatchLeavesCheckpointAlone(t *testing.T) {
	srv := fetchStub(t, func(req *bridge.Request) (*bridge.Response, int) {
		return &bridge.Response{Success: true, Mapping: stdMapping()}, http.StatusOK
	})
	defer srv.Close()

	store := newTestStorage(t)
	ctx := context.Background()
	target := scanTarget(srv)
	cpDate := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	target.CheckpointID = "9"
	target.CheckpointDate = &cpDate
	require.NoError(t, store.SaveTarget(ctx, target))

	s := New(nil, store, bridge.NewClient(bridge.DefaultClientConfig()), detector.NewDetector(nil), nil)

	result, err := s.Scan(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.False(t, result.Advanced)

	loaded, err := store.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "9", loaded.CheckpointID)
}

func TestScanFetchFailureRecordsEventAndKeepsCursor(t *testing.T) {
	srv := fetchStub(t, func(req *bridge.Request) (*bridge.Response, int) {
		return &bridge.Response{Success: false, Error: bridge.ErrBridgeError}, http.StatusInternalServerError
	})
	defer srv.Close()

	store := newTestStorage(t)
	ctx := context.Background()
	target := scanTarget(srv)
	target.CheckpointID = "50"
	require.NoError(t, store.SaveTarget(ctx, target))

	s := New(nil, store, bridge.NewClient(bridge.DefaultClientConfig()), detector.NewDetector(nil), nil)

	_, err := s.Scan(ctx, target)
	require.Error(t, err)

	kind := models.EventTargetDown
	events, err := store.GetEvents(ctx, models.EventFilter{Kind: &kind})
	require.NoError(t, err)
	require.Len(t, events, 1)

	loaded, err := store.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "50", loaded.CheckpointID, "A failed fetch never moves the cursor")
}

func TestScanForbiddenTableRecordsMappingFailure(t *testing.T) {
	srv := fetchStub(t, func(req *bridge.Request) (*bridge.Response, int) {
		return &bridge.Response{Success: false, Error: bridge.ErrForbiddenTable}, http.StatusOK
	})
	defer srv.Close()

	store := newTestStorage(t)
	ctx := context.Background()
	target := scanTarget(srv)
	require.NoError(t, store.SaveTarget(ctx, target))

	s := New(nil, store, bridge.NewClient(bridge.DefaultClientConfig()), detector.NewDetector(nil), nil)

	_, err := s.Scan(ctx, target)
	require.Error(t, err)

	kind := models.EventMappingFailed
	events, err := store.GetEvents(ctx, models.EventFilter{Kind: &kind})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestScanSendsClampedLookbackWindow(t *testing.T) {
	var sinceDate string
	srv := fetchStub(t, func(req *bridge.Request) (*bridge.Response, int) {
		sinceDate = req.SinceDate
		return &bridge.Response{Success: true, Mapping: stdMapping()}, http.StatusOK
	})
	defer srv.Close()

	store := newTestStorage(t)
	ctx := context.Background()
	target := scanTarget(srv)
	// A checkpoint from a month ago must be clamped to the 7-day floor.
	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	target.CheckpointDate = &old
	require.NoError(t, store.SaveTarget(ctx, target))

	s := New(nil, store, bridge.NewClient(bridge.DefaultClientConfig()), detector.NewDetector(nil), nil)
	_, err := s.Scan(ctx, target)
	require.NoError(t, err)

	// The cursor goes over the wire in the layout boards store.
	parsed, err := time.Parse(bridge.TimeLayout, sinceDate)
	require.NoError(t, err)
	floor := time.Now().UTC().Add(-LookbackMax)
	assert.WithinDuration(t, floor, parsed, time.Minute)
}

func TestScanRequiresLinkedBoard(t *testing.T) {
	store := newTestStorage(t)
	s := New(nil, store, bridge.NewClient(bridge.DefaultClientConfig()), detector.NewDetector(nil), nil)

	_, err := s.Scan(context.Background(), &models.Target{ID: "t1"})
	require.Error(t, err)
}

package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalez0416/keepy/internal/bridge"
	"github.com/whalez0416/keepy/internal/models"
	"github.com/whalez0416/keepy/internal/storage"
	"github.com/whalez0416/keepy/pkg/utils"
)

const testSecret = "keepy_moderation_test_secret"

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "moderation_test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

// deleteStub serves delete_post and counts how many requests arrive.
func deleteStub(t *testing.T, calls *int32, respond func(req *bridge.Request) (*bridge.Response, int)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		var req bridge.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, bridge.ActionDeletePost, req.Action)

		resp, status := respond(&req)
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}))
}

func seedDetection(t *testing.T, store storage.Storage, srv *httptest.Server) *models.AuditEvent {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	target := &models.Target{
		ID:              "t1",
		Name:            "Test Clinic",
		Domain:          srv.URL,
		SecretKey:       testSecret,
		BoardTable:      "write_consult",
		IntervalMinutes: 5,
		Active:          true,
		OnboardingLevel: models.OnboardingActivated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, store.SaveTarget(ctx, target))

	event := &models.AuditEvent{
		ID:       "e1",
		TargetID: "t1",
		Kind:     models.EventSpamDetected,
		Message:  "Spam detected on write_consult (post 42)",
		Status:   models.StatusDetected,
		Meta: map[string]interface{}{
			models.MetaRemotePostID: "42",
			models.MetaBoardTable:   "write_consult",
		},
		CreatedAt: now,
	}
	require.NoError(t, store.SaveEvent(ctx, event))
	return event
}

func TestDeletePostSuccess(t *testing.T) {
	var calls int32
	srv := deleteStub(t, &calls, func(req *bridge.Request) (*bridge.Response, int) {
		assert.Equal(t, "write_consult", req.Table)
		assert.Equal(t, "42", req.PostID)
		return &bridge.Response{Success: true, Deleted: 1}, http.StatusOK
	})
	defer srv.Close()

	store := newTestStorage(t)
	seedDetection(t, store, srv)
	svc := NewService(store, bridge.NewClient(bridge.DefaultClientConfig()), nil)

	updated, err := svc.DeletePost(context.Background(), "e1", Actor{ID: "admin-1", Role: RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, updated.Status)
	assert.Equal(t, "admin-1", updated.Meta[models.MetaActedBy])
	assert.Equal(t, "42", updated.RemotePostID(), "Resolution keeps the original detection meta")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDeletePostUnauthorizedNeverReachesBridge(t *testing.T) {
	var calls int32
	srv := deleteStub(t, &calls, func(req *bridge.Request) (*bridge.Response, int) {
		return &bridge.Response{Success: true}, http.StatusOK
	})
	defer srv.Close()

	store := newTestStorage(t)
	seedDetection(t, store, srv)
	svc := NewService(store, bridge.NewClient(bridge.DefaultClientConfig()), nil)

	cases := []Actor{
		{ID: "owner-1", Role: RoleOwner},
		{ID: "owner-2", Role: RoleOwner, Grants: map[string]bool{"t2": true}},
		{ID: "nobody", Role: "viewer", Grants: map[string]bool{"t1": true}},
	}
	for _, actor := range cases {
		_, err := svc.DeletePost(context.Background(), "e1", actor)
		require.Error(t, err)
		appErr, ok := err.(*utils.AppError)
		require.True(t, ok)
		assert.Equal(t, utils.ErrCodeForbidden, appErr.Code)
	}

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "Permission is checked before any bridge traffic")

	// The event is still pending moderation.
	event, err := store.GetEvent(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDetected, event.Status)
}

func TestDeletePostOwnerWithGrant(t *testing.T) {
	var calls int32
	srv := deleteStub(t, &calls, func(req *bridge.Request) (*bridge.Response, int) {
		return &bridge.Response{Success: true, Deleted: 1}, http.StatusOK
	})
	defer srv.Close()

	store := newTestStorage(t)
	seedDetection(t, store, srv)
	svc := NewService(store, bridge.NewClient(bridge.DefaultClientConfig()), nil)

	updated, err := svc.DeletePost(context.Background(), "e1",
		Actor{ID: "owner-1", Role: RoleOwner, Grants: map[string]bool{"t1": true}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, updated.Status)
}

func TestDeletePostRemoteNotFoundCountsAsResolved(t *testing.T) {
	var calls int32
	srv := deleteStub(t, &calls, func(req *bridge.Request) (*bridge.Response, int) {
		return &bridge.Response{Success: false, Error: bridge.ErrNotFound}, http.StatusOK
	})
	defer srv.Close()

	store := newTestStorage(t)
	seedDetection(t, store, srv)
	svc := NewService(store, bridge.NewClient(bridge.DefaultClientConfig()), nil)

	updated, err := svc.DeletePost(context.Background(), "e1", Actor{ID: "admin-1", Role: RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, updated.Status, "A post already gone remotely is a resolved event")
}

func TestDeletePostBridgeFailureMarksDeleteFailed(t *testing.T) {
	var calls int32
	srv := deleteStub(t, &calls, func(req *bridge.Request) (*bridge.Response, int) {
		return &bridge.Response{Success: false, Error: bridge.ErrForbiddenTable}, http.StatusOK
	})
	defer srv.Close()

	store := newTestStorage(t)
	seedDetection(t, store, srv)
	svc := NewService(store, bridge.NewClient(bridge.DefaultClientConfig()), nil)

	updated, err := svc.DeletePost(context.Background(), "e1", Actor{ID: "admin-1", Role: RoleAdmin})
	require.Error(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, models.StatusDeleteFailed, updated.Status)
	assert.Equal(t, bridge.ErrForbiddenTable, updated.Meta[models.MetaDeleteError])
}

func TestDeletePostRepeatIsConflictNotSecondDeletion(t *testing.T) {
	var calls int32
	srv := deleteStub(t, &calls, func(req *bridge.Request) (*bridge.Response, int) {
		return &bridge.Response{Success: true, Deleted: 1}, http.StatusOK
	})
	defer srv.Close()

	store := newTestStorage(t)
	seedDetection(t, store, srv)
	svc := NewService(store, bridge.NewClient(bridge.DefaultClientConfig()), nil)
	admin := Actor{ID: "admin-1", Role: RoleAdmin}

	_, err := svc.DeletePost(context.Background(), "e1", admin)
	require.NoError(t, err)

	_, err = svc.DeletePost(context.Background(), "e1", admin)
	require.Error(t, err)
	appErr, ok := err.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrCodeConflict, appErr.Code)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "The remote delete must run exactly once")
}

func TestDeletePostUnknownEvent(t *testing.T) {
	store := newTestStorage(t)
	svc := NewService(store, bridge.NewClient(bridge.DefaultClientConfig()), nil)

	_, err := svc.DeletePost(context.Background(), "missing", Actor{ID: "admin-1", Role: RoleAdmin})
	require.Error(t, err)
	appErr, ok := err.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrCodeNotFound, appErr.Code)
}

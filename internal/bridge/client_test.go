package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalez0416/keepy/internal/schema"
	"github.com/whalez0416/keepy/pkg/utils"
)

const testSecret = "keepy_client_test_secret"

// bridgeStub verifies envelopes the way a real endpoint does and answers
// with a canned response.
func bridgeStub(t *testing.T, respond func(req *Request) (*Response, int)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ok", "service": "keepy-bridge", "version": "2.0.0",
			})
			return
		}

		env := Envelope{
			Key:       r.Header.Get(HeaderAPIKey),
			Timestamp: r.Header.Get(HeaderTimestamp),
			Signature: r.Header.Get(HeaderSignature),
		}
		if !Verify(testSecret, env, time.Now().Unix()) {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(&Response{Success: false, Error: ErrAuthFailed})
			return
		}

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp, status := respond(&req)
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestClientStatus(t *testing.T) {
	srv := bridgeStub(t, nil)
	defer srv.Close()

	client := NewClient(DefaultClientConfig())
	info, err := client.Status(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", info.Status)
	assert.Equal(t, "keepy-bridge", info.Service)
	assert.Equal(t, "2.0.0", info.Version)
}

func TestClientSignsRequests(t *testing.T) {
	var seen *Request
	srv := bridgeStub(t, func(req *Request) (*Response, int) {
		seen = req
		return &Response{Success: true}, http.StatusOK
	})
	defer srv.Close()

	client := NewClient(DefaultClientConfig())
	resp, err := client.ListBoards(context.Background(), srv.URL, testSecret, nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.NotNil(t, seen)
	assert.Equal(t, ActionListBoards, seen.Action)
}

func TestClientRejectedAuthentication(t *testing.T) {
	srv := bridgeStub(t, func(req *Request) (*Response, int) {
		return &Response{Success: true}, http.StatusOK
	})
	defer srv.Close()

	client := NewClient(DefaultClientConfig())
	_, err := client.ListBoards(context.Background(), srv.URL, "wrong_secret", nil)
	require.Error(t, err)

	appErr, ok := err.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrCodeAuth, appErr.Code)
}

func TestClientProtocolFailurePassthrough(t *testing.T) {
	// success=false with a vocabulary error is not a transport error; the
	// caller branches on Response.Error.
	srv := bridgeStub(t, func(req *Request) (*Response, int) {
		return &Response{Success: false, Error: ErrForbiddenTable}, http.StatusOK
	})
	defer srv.Close()

	client := NewClient(DefaultClientConfig())
	resp, err := client.FetchRecentPosts(context.Background(), srv.URL, testSecret, nil,
		"users", "", "", 10)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, ErrForbiddenTable, resp.Error)
}

func TestClientBridgeInternalError(t *testing.T) {
	srv := bridgeStub(t, func(req *Request) (*Response, int) {
		return &Response{Success: false, Error: ErrBridgeError}, http.StatusInternalServerError
	})
	defer srv.Close()

	client := NewClient(DefaultClientConfig())
	_, err := client.TestConnection(context.Background(), srv.URL, testSecret, &DBParams{Driver: "sqlite", Name: "x.db"})
	require.Error(t, err)

	appErr, ok := err.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrCodeBridge, appErr.Code)
}

func TestClientFetchCarriesCursorsAndMapping(t *testing.T) {
	srv := bridgeStub(t, func(req *Request) (*Response, int) {
		assert.Equal(t, "write_free", req.Table)
		assert.Equal(t, "41", req.SinceID)
		assert.Equal(t, 50, req.Limit)
		return &Response{
			Success: true,
			Posts:   []map[string]interface{}{{"wr_id": "42", "wr_subject": "hello"}},
			Mapping: map[schema.Role]string{schema.RoleID: "wr_id", schema.RoleSubject: "wr_subject"},
		}, http.StatusOK
	})
	defer srv.Close()

	client := NewClient(DefaultClientConfig())
	resp, err := client.FetchRecentPosts(context.Background(), srv.URL, testSecret, nil,
		"write_free", "41", "2026-01-01T00:00:00Z", 50)
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Posts, 1)
	assert.Equal(t, "wr_id", resp.Mapping[schema.RoleID])
}

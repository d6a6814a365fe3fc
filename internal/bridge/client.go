package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/whalez0416/keepy/internal/metrics"
	"github.com/whalez0416/keepy/pkg/utils"
)

// ClientConfig holds bridge client configuration
type ClientConfig struct {
	StatusTimeout time.Duration `json:"status_timeout"`
	CallTimeout   time.Duration `json:"call_timeout"`
	FetchTimeout  time.Duration `json:"fetch_timeout"`
	UserAgent     string        `json:"user_agent"`
}

// DefaultClientConfig returns the documented call timeouts. Bridge calls
// fail closed on timeout; there is no automatic retry, a failed scan waits
// for the next scheduled tick.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		StatusTimeout: 5 * time.Second,
		CallTimeout:   10 * time.Second,
		FetchTimeout:  15 * time.Second,
		UserAgent:     "keepy-monitor/1.0",
	}
}

// Client talks to remote bridge endpoints over signed HTTP/JSON.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     *logrus.Logger
	metrics    *metrics.PrometheusMetrics
	now        func() time.Time
}

// NewClient creates a new bridge client
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger: utils.GetLogger(),
		now:    time.Now,
	}
}

// SetMetrics attaches request instrumentation to the client.
func (c *Client) SetMetrics(m *metrics.PrometheusMetrics) {
	c.metrics = m
}

// StatusInfo is the bridge's unauthenticated service metadata.
type StatusInfo struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Version  string `json:"version"`
	Database string `json:"database,omitempty"`
}

// Status performs the unauthenticated status check. It is the only action
// reachable without a signed envelope and must not touch the remote
// database.
func (c *Client) Status(ctx context.Context, bridgeURL string) (*StatusInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.StatusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bridgeURL, nil)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid bridge URL", err.Error())
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Bridge status check failed", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, utils.NewAppError(utils.ErrCodeBridge,
			fmt.Sprintf("Bridge status returned HTTP %d", resp.StatusCode))
	}

	var info StatusInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeBridge, "Invalid bridge status response", err.Error())
	}
	return &info, nil
}

// TestConnection asks the bridge to open a connection using credentials
// supplied in the signed body. The bridge holds no credentials at rest;
// they arrive fresh on each call.
func (c *Client) TestConnection(ctx context.Context, bridgeURL, secret string, db *DBParams) (*Response, error) {
	return c.call(ctx, bridgeURL, secret, &Request{Action: ActionTestConnection, DB: db}, c.config.CallTimeout)
}

// ListBoards enumerates candidate board tables with row counts and last
// activity.
func (c *Client) ListBoards(ctx context.Context, bridgeURL, secret string, db *DBParams) (*Response, error) {
	return c.call(ctx, bridgeURL, secret, &Request{Action: ActionListBoards, DB: db}, c.config.CallTimeout)
}

// FetchRecentPosts returns rows newer than the supplied cursors, ascending
// by id, together with the column mapping the bridge resolved.
func (c *Client) FetchRecentPosts(ctx context.Context, bridgeURL, secret string, db *DBParams, table, sinceID, sinceDate string, limit int) (*Response, error) {
	req := &Request{
		Action:    ActionFetchRecent,
		DB:        db,
		Table:     table,
		SinceID:   sinceID,
		SinceDate: sinceDate,
		Limit:     limit,
	}
	return c.call(ctx, bridgeURL, secret, req, c.config.FetchTimeout)
}

// DeletePost deletes one remote row. A missing row is reported as
// NOT_FOUND in the response error, not as a transport failure, so callers
// can treat it as already resolved.
func (c *Client) DeletePost(ctx context.Context, bridgeURL, secret string, db *DBParams, table, postID string) (*Response, error) {
	req := &Request{
		Action: ActionDeletePost,
		DB:     db,
		Table:  table,
		PostID: postID,
	}
	return c.call(ctx, bridgeURL, secret, req, c.config.CallTimeout)
}

// call signs and posts one request, decoding the common envelope. Protocol
// failures (success=false) are returned as the Response with a nil error
// so callers can branch on the fixed vocabulary; transport and HTTP-level
// failures are returned as errors.
func (c *Client) call(ctx context.Context, bridgeURL, secret string, reqBody *Request, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to encode bridge request", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bridgeURL, bytes.NewReader(payload))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid bridge URL", err.Error())
	}

	env := Sign(secret, c.now().UTC().Unix())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set(HeaderAPIKey, env.Key)
	req.Header.Set(HeaderTimestamp, env.Timestamp)
	req.Header.Set(HeaderSignature, env.Signature)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordBridgeError(reqBody.Action, utils.ErrCodeConnection)
		}
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Bridge call failed", err.Error())
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.RecordBridgeRequest(reqBody.Action, resp.Status, time.Since(start))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeBridge,
			fmt.Sprintf("Invalid bridge response (HTTP %d)", resp.StatusCode), err.Error())
	}

	c.logger.WithFields(logrus.Fields{
		"action":   reqBody.Action,
		"status":   resp.StatusCode,
		"success":  out.Success,
		"duration": time.Since(start),
	}).Debug("Bridge call completed")

	if !out.Success && out.Error != "" && c.metrics != nil {
		c.metrics.RecordBridgeError(reqBody.Action, out.Error)
	}

	if resp.StatusCode == http.StatusForbidden {
		return &out, utils.NewAppError(utils.ErrCodeAuth, "Bridge rejected authentication", out.Error)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return &out, utils.NewAppError(utils.ErrCodeBridge, "Bridge internal error", out.Error)
	}

	return &out, nil
}

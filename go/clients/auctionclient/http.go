package auctionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/bidhouse/go/internal/httpapi"
	"github.com/mcdev12/bidhouse/go/internal/timesync"
	"github.com/shopspring/decimal"
)

// APIError is a non-2xx response from the REST API.
type APIError struct {
	StatusCode int
	Body       httpapi.ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned status code: %d, error: %s, message: %s", e.StatusCode, e.Body.Error, e.Body.Message)
}

// HTTPClient calls the REST API for callers that do not hold a WebSocket.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewHTTPClient(baseURL, bidderID string) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
	if bidderID != "" {
		c.SetHeader(httpapi.BidderHeader, bidderID)
	}
	return c
}

func (c *HTTPClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *HTTPClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// do sends a request and decodes a 2xx body into out. Other statuses come
// back as *APIError.
func (c *HTTPClient) do(ctx context.Context, method, endpoint string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(responseBody, &apiErr.Body)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) PlaceBid(ctx context.Context, itemID uuid.UUID, amount decimal.Decimal) (*httpapi.PlaceBidResponse, error) {
	var out httpapi.PlaceBidResponse
	req := httpapi.PlaceBidRequest{ItemID: itemID.String(), Amount: amount}
	if err := c.do(ctx, http.MethodPost, "/api/bids", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetItem(ctx context.Context, itemID uuid.UUID) (*httpapi.ItemView, error) {
	var out httpapi.ItemView
	if err := c.do(ctx, http.MethodGet, "/api/items/"+itemID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListBids(ctx context.Context, itemID uuid.UUID, limit, offset int) (*httpapi.BidHistoryResponse, error) {
	endpoint := "/api/items/" + itemID.String() + "/bids"
	if q := pageQuery(limit, offset); q != "" {
		endpoint += "?" + q
	}

	var out httpapi.BidHistoryResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MyBids lists this client's own bids with their standing.
func (c *HTTPClient) MyBids(ctx context.Context, limit, offset int) (*httpapi.MyBidsResponse, error) {
	endpoint := "/api/bids/user/me"
	if q := pageQuery(limit, offset); q != "" {
		endpoint += "?" + q
	}

	var out httpapi.MyBidsResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func pageQuery(limit, offset int) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q.Encode()
}

// SyncTime fetches the server clock and feeds it to tracker, for clients
// that poll instead of holding a WebSocket.
func (c *HTTPClient) SyncTime(ctx context.Context, tracker *timesync.DriftTracker) (time.Duration, error) {
	var snap timesync.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/time", nil, &snap); err != nil {
		return 0, err
	}
	return tracker.ObserveMillis(snap.ServerTime, time.Now()), nil
}

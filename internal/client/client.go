// Package client calls the marketbook HTTP API from other Go services.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"marketbook/internal/models"

	"github.com/redis/go-redis/v9"
)

// Client is a small HTTP client for the booking API. Availability reads can
// be cached in Redis; everything else always goes to the server.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status of err, or 0 when err is not an APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// BookingInput is the body of a booking request.
type BookingInput struct {
	RequestID   string            `json:"request_id,omitempty"`
	ResourceID  string            `json:"resource_id"`
	RequesterID string            `json:"requester_id"`
	Slot        models.TimeSlot   `json:"slot"`
	Selections  models.Selections `json:"selections"`
}

// Availability is the claim list of one resource over a window.
type Availability struct {
	ResourceID string          `json:"resource_id"`
	Window     models.TimeSlot `json:"window"`
	Claims     []models.Claim  `json:"claims"`
}

func New(baseURL, apiKey, apiExtra string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiExtra:   apiExtra,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseRedisCache enables caching of availability reads.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

func (c *Client) Quote(ctx context.Context, resourceID string, sel models.Selections) (models.Quote, error) {
	var q models.Quote
	body := map[string]any{"resource_id": resourceID, "selections": sel}
	err := c.doPost(ctx, "/api/v1/quotes", body, &q)
	return q, err
}

func (c *Client) RequestBooking(ctx context.Context, in BookingInput) (*models.Booking, error) {
	var b models.Booking
	if err := c.doPost(ctx, "/api/v1/bookings", in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	var b models.Booking
	if err := c.doGet(ctx, "/api/v1/bookings/"+url.PathEscape(bookingID), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) Respond(ctx context.Context, bookingID, vendorID string, decision models.Decision) (*models.Booking, error) {
	body := map[string]any{"vendor_id": vendorID, "decision": decision}
	return c.transition(ctx, bookingID, "respond", body)
}

func (c *Client) Cancel(ctx context.Context, bookingID, actorID string) (*models.Booking, error) {
	return c.transition(ctx, bookingID, "cancel", map[string]any{"actor_id": actorID})
}

func (c *Client) Complete(ctx context.Context, bookingID string) (*models.Booking, error) {
	return c.transition(ctx, bookingID, "complete", nil)
}

func (c *Client) transition(ctx context.Context, bookingID, action string, body any) (*models.Booking, error) {
	var b models.Booking
	path := fmt.Sprintf("/api/v1/bookings/%s/%s", url.PathEscape(bookingID), action)
	if err := c.doPost(ctx, path, body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Availability fetches the claims on resourceID for one day (YYYY-MM-DD).
func (c *Client) Availability(ctx context.Context, resourceID, date string) (*Availability, error) {
	path := fmt.Sprintf("/api/v1/resources/%s/availability?date=%s", url.PathEscape(resourceID), url.QueryEscape(date))
	cacheKey := fmt.Sprintf("marketbook:client:availability:%s:%s", resourceID, date)

	var resp Availability
	if c.readCache(ctx, cacheKey, &resp) {
		return &resp, nil
	}
	if err := c.doGet(ctx, path, &resp); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, resp)
	return &resp, nil
}

func (c *Client) VendorStats(ctx context.Context, vendorID string) (models.VendorStats, error) {
	var st models.VendorStats
	err := c.doGet(ctx, "/api/v1/vendors/"+url.PathEscape(vendorID)+"/stats", &st)
	return st, err
}

func (c *Client) VendorFeed(ctx context.Context, vendorID string, limit int) ([]models.BookingEvent, error) {
	path := fmt.Sprintf("/api/v1/vendors/%s/feed?limit=%d", url.PathEscape(vendorID), limit)
	var wrap struct {
		Events []models.BookingEvent `json:"events"`
	}
	if err := c.doGet(ctx, path, &wrap); err != nil {
		return nil, err
	}
	return wrap.Events, nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

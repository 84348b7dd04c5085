package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	trackPath = "/pixel/track/"

	// maxResponseBytes bounds how much of an upstream response is read.
	maxResponseBytes = 1 << 20
)

// Minimum deliverable value per currency. The Events API rejects zero and
// negative amounts; zero-decimal currencies cannot go below one whole unit.
var currencyMinimums = map[string]float64{
	"JPY": 1,
	"KRW": 1,
	"VND": 1,
}

const defaultMinimum = 0.01

// Purchase describes one conversion to report to the pixel.
type Purchase struct {
	// EventID is the source event id; the wire event_id gets a "stripe_"
	// prefix so upstream deduplication keys on the origin event.
	EventID  string
	Value    float64
	Currency string
	PageURL  string

	// Identity fields, plaintext. Hashed on the way out; empty fields are
	// omitted from the payload entirely.
	Email      string
	Phone      string
	ExternalID string
}

type trackRequest struct {
	PixelCode  string          `json:"pixel_code"`
	Event      string          `json:"event"`
	EventID    string          `json:"event_id"`
	Timestamp  string          `json:"timestamp"`
	Context    trackContext    `json:"context"`
	Properties trackProperties `json:"properties"`
}

type trackContext struct {
	Page trackPage         `json:"page"`
	User map[string]string `json:"user"`
}

type trackPage struct {
	URL string `json:"url"`
}

type trackProperties struct {
	ContentType string  `json:"content_type"`
	Currency    string  `json:"currency"`
	Value       float64 `json:"value"`
}

// apiResponse is the envelope every Events API endpoint answers with.
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client talks to the TikTok Events API. Safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client
	now     func() time.Time
}

// NewClient creates a Client for baseURL with a bounded request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// SendPurchase delivers one Purchase event for the given pixel. On success it
// returns the raw upstream response body. Success is strict: HTTP 200 and an
// application code of 0; anything else is an *UpstreamError. There is no
// retry — the upstream deduplicates on event_id if the caller redelivers.
func (c *Client) SendPurchase(ctx context.Context, pixelCode, accessToken string, p Purchase) (json.RawMessage, error) {
	user := make(map[string]string)
	if p.Email != "" {
		user["email"] = HashIdentifier(p.Email)
	}
	if p.Phone != "" {
		user["phone_number"] = HashIdentifier(p.Phone)
	}
	if p.ExternalID != "" {
		user["external_id"] = HashIdentifier(p.ExternalID)
	}

	pageURL := p.PageURL
	if pageURL == "" {
		pageURL = "https://example.com/checkout"
	}

	payload := trackRequest{
		PixelCode: pixelCode,
		Event:     "Purchase",
		EventID:   "stripe_" + p.EventID,
		Timestamp: c.now().UTC().Format("2006-01-02T15:04:05Z"),
		Context: trackContext{
			Page: trackPage{URL: pageURL},
			User: user,
		},
		Properties: trackProperties{
			ContentType: "product",
			Currency:    p.Currency,
			Value:       ClampValue(p.Value, p.Currency),
		},
	}

	return c.post(ctx, trackPath, accessToken, payload)
}

// ProbeResult reports the outcome of a connectivity test against the API.
type ProbeResult struct {
	Reachable  bool            `json:"reachable"`
	StatusCode int             `json:"status_code"`
	Code       int             `json:"code"`
	Message    string          `json:"message"`
	Response   json.RawMessage `json:"response,omitempty"`
}

// TestConnectivity sends a minimal one-unit USD purchase with a fixed event
// id to check that the pixel credential is accepted upstream. The fixed id
// keeps repeated probes deduplicated on the TikTok side.
func (c *Client) TestConnectivity(ctx context.Context, pixelCode, accessToken string) (*ProbeResult, error) {
	probe := Purchase{
		EventID:  "connectivity_test",
		Value:    1.00,
		Currency: "USD",
	}
	raw, err := c.SendPurchase(ctx, pixelCode, accessToken, probe)
	if err == nil {
		return &ProbeResult{Reachable: true, StatusCode: http.StatusOK, Response: raw}, nil
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		// The credential reached the API; it just didn't like it.
		return &ProbeResult{
			Reachable:  true,
			StatusCode: upstream.StatusCode,
			Code:       upstream.Code,
			Message:    upstream.Message,
			Response:   upstream.Body,
		}, nil
	}
	return nil, err
}

func (c *Client) post(ctx context.Context, path, accessToken string, payload interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Access-Token", accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &MalformedResponseError{StatusCode: resp.StatusCode, Body: raw, Err: err}
	}

	if resp.StatusCode == http.StatusOK && parsed.Code == 0 {
		return raw, nil
	}
	return nil, &UpstreamError{
		StatusCode: resp.StatusCode,
		Code:       parsed.Code,
		Message:    parsed.Message,
		Body:       raw,
	}
}

// ClampValue raises value to the minimum the API accepts for the currency
// and rounds to two decimal places.
func ClampValue(value float64, currency string) float64 {
	min := defaultMinimum
	if m, ok := currencyMinimums[currency]; ok {
		min = m
	}
	if value < min {
		value = min
	}
	return math.Round(value*100) / 100
}

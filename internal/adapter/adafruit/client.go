// Package adafruit forwards observations to an Adafruit IO feed.
package adafruit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/wardrive/internal/domain"
	"github.com/couchcryptid/wardrive/internal/observability"
)

// DefaultBaseURL is the Adafruit IO REST API root.
const DefaultBaseURL = "https://io.adafruit.com/api/v2"

// Client implements domain.Feed over the Adafruit IO REST API. Every request
// is bounded by the client timeout.
type Client struct {
	username   string
	key        string
	feedKey    string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an Adafruit IO client. Empty credentials are allowed and
// leave the client unconfigured.
func NewClient(username, key, feedKey string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		username: username,
		key:      key,
		feedKey:  feedKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: DefaultBaseURL,
		metrics: metrics,
		logger:  logger,
	}
}

// IsConfigured reports whether username, key and feed name are all set.
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.key != "" && c.feedKey != ""
}

// FetchFeedData returns the newest limit entries of the feed.
func (c *Client) FetchFeedData(ctx context.Context, limit int) ([]domain.FeedEntry, error) {
	if !c.IsConfigured() {
		return nil, nil
	}
	params := url.Values{"limit": {strconv.Itoa(limit)}}

	var entries []domain.FeedEntry
	if err := c.do(ctx, "fetch", http.MethodGet, c.dataURL()+"?"+params.Encode(), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Publish posts one observation as {"value": "<observation JSON>"}.
func (c *Client) Publish(ctx context.Context, obs domain.Observation) error {
	if !c.IsConfigured() {
		return &domain.TransportError{Op: "publish", Err: errors.New("feed credentials not configured")}
	}
	encoded, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	body, err := json.Marshal(datum{Value: string(encoded)})
	if err != nil {
		return fmt.Errorf("encode datum: %w", err)
	}
	return c.do(ctx, "publish", http.MethodPost, c.dataURL(), body, nil)
}

// PublishBatch publishes each observation on its own. Once ctx is done the
// remaining observations are reported as failed without being attempted.
func (c *Client) PublishBatch(ctx context.Context, batch []domain.Observation) []domain.Observation {
	var failed []domain.Observation
	for i, obs := range batch {
		if ctx.Err() != nil {
			failed = append(failed, batch[i:]...)
			break
		}
		if err := c.Publish(ctx, obs); err != nil {
			c.logger.Debug("publish failed", "mac", obs.MAC, "error", err)
			failed = append(failed, obs)
		}
	}
	return failed
}

// ExtractPayload unwraps an entry whose value is an object or an encoded string.
func (c *Client) ExtractPayload(entry domain.FeedEntry) (map[string]any, bool) {
	return domain.ExtractEntryPayload(entry)
}

func (c *Client) dataURL() string {
	return fmt.Sprintf("%s/%s/feeds/%s/data", c.baseURL, url.PathEscape(c.username), url.PathEscape(c.feedKey))
}

func (c *Client) do(ctx context.Context, op, method, fullURL string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-AIO-Key", c.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	err = c.roundTrip(req, op, out)
	c.metrics.FeedDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.metrics.FeedRequests.WithLabelValues(op, outcome).Inc()
	return err
}

func (c *Client) roundTrip(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("adafruit io: %s", bytes.TrimSpace(msg))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// datum is the Adafruit IO create-data request body.
type datum struct {
	Value string `json:"value"`
}

package adafruit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/wardrive/internal/domain"
	"github.com/couchcryptid/wardrive/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser = "rover"
	testKey  = "aio_test_key"
	testFeed = "wardrive"
)

func testClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		username:   testUser,
		key:        testKey,
		feedKey:    testFeed,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testObservation(mac string) domain.Observation {
	return domain.Observation{
		SSID:      "cafe",
		MAC:       mac,
		Channel:   6,
		RSSI:      -61,
		Security:  domain.SecurityOpen,
		Latitude:  19.4326,
		Longitude: -99.1332,
		Timestamp: time.Date(2024, time.April, 26, 14, 10, 0, 0, time.UTC),
	}
}

func TestClient_IsConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()

	assert.True(t, NewClient("u", "k", "f", time.Second, logger, metrics).IsConfigured())
	assert.False(t, NewClient("", "k", "f", time.Second, logger, metrics).IsConfigured())
	assert.False(t, NewClient("u", "", "f", time.Second, logger, metrics).IsConfigured())
	assert.False(t, NewClient("u", "k", "", time.Second, logger, metrics).IsConfigured())
}

func TestClient_Publish_WireFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rover/feeds/wardrive/data", r.URL.Path)
		assert.Equal(t, testKey, r.Header.Get("X-AIO-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		value, ok := body["value"].(string)
		require.True(t, ok, "value must be a JSON-encoded string")

		var obs domain.Observation
		require.NoError(t, json.Unmarshal([]byte(value), &obs))
		assert.Equal(t, "AA:BB:CC:DD:EE:01", obs.MAC)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"0F1"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	require.NoError(t, c.Publish(context.Background(), testObservation("AA:BB:CC:DD:EE:01")))
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.FeedRequests.WithLabelValues("publish", "success")), 1e-9)
}

func TestClient_Publish_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid key"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	err := c.Publish(context.Background(), testObservation("AA:BB:CC:DD:EE:01"))

	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusUnauthorized, terr.StatusCode)
	assert.False(t, terr.Retryable())
	assert.Contains(t, err.Error(), "401")
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.FeedRequests.WithLabelValues("publish", "error")), 1e-9)
}

func TestClient_Publish_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	c := testClient(srv.URL, 50*time.Millisecond)
	err := c.Publish(context.Background(), testObservation("AA:BB:CC:DD:EE:01"))

	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.True(t, terr.Retryable())
}

func TestClient_Publish_Unconfigured(t *testing.T) {
	c := testClient("http://127.0.0.1:0", time.Second)
	c.key = ""
	err := c.Publish(context.Background(), testObservation("AA:BB:CC:DD:EE:01"))
	require.Error(t, err)
}

func TestClient_PublishBatch_ReportsExactFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body datum
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		var obs domain.Observation
		require.NoError(t, json.Unmarshal([]byte(body.Value), &obs))
		if obs.MAC == "AA:BB:CC:DD:EE:02" || obs.MAC == "AA:BB:CC:DD:EE:04" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	batch := []domain.Observation{
		testObservation("AA:BB:CC:DD:EE:01"),
		testObservation("AA:BB:CC:DD:EE:02"),
		testObservation("AA:BB:CC:DD:EE:03"),
		testObservation("AA:BB:CC:DD:EE:04"),
		testObservation("AA:BB:CC:DD:EE:05"),
	}

	c := testClient(srv.URL, 5*time.Second)
	failed := c.PublishBatch(context.Background(), batch)
	assert.Equal(t, []domain.Observation{batch[1], batch[3]}, failed)
}

func TestClient_PublishBatch_StopsWhenContextDone(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	batch := []domain.Observation{
		testObservation("AA:BB:CC:DD:EE:01"),
		testObservation("AA:BB:CC:DD:EE:02"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testClient(srv.URL, 5*time.Second)
	failed := c.PublishBatch(ctx, batch)

	assert.Zero(t, calls.Load())
	assert.Equal(t, batch, failed)
}

func TestClient_FetchFeedData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rover/feeds/wardrive/data", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, testKey, r.Header.Get("X-AIO-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"1","value":"{\"mac\":\"AA:BB:CC:DD:EE:01\",\"latitude\":1,\"longitude\":2}","created_at":"2024-04-26T14:10:00Z"},
			{"id":"2","value":{"mac":"AA:BB:CC:DD:EE:02","latitude":1,"longitude":2}},
			{"id":"3","value":"garbage"}
		]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	entries, err := c.FetchFeedData(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "1", entries[0].ID)
	assert.Equal(t, "2024-04-26T14:10:00Z", entries[0].CreatedAt)

	first, ok := c.ExtractPayload(entries[0])
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", first["mac"])

	second, ok := c.ExtractPayload(entries[1])
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:02", second["mac"])

	_, ok = c.ExtractPayload(entries[2])
	assert.False(t, ok)
}

func TestClient_FetchFeedData_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	_, err := c.FetchFeedData(context.Background(), 10)
	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "fetch", terr.Op)

	c.username = ""
	entries, err := c.FetchFeedData(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClient_TransportErrorUnwraps(t *testing.T) {
	c := testClient("http://127.0.0.1:1", time.Second)
	err := c.Publish(context.Background(), testObservation("AA:BB:CC:DD:EE:01"))
	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.NotNil(t, errors.Unwrap(err))
}

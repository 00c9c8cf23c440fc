package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	httpadapter "github.com/couchcryptid/wardrive/internal/adapter/http"
	"github.com/couchcryptid/wardrive/internal/cluster"
	"github.com/couchcryptid/wardrive/internal/domain"
	"github.com/couchcryptid/wardrive/internal/observability"
	"github.com/couchcryptid/wardrive/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockService struct {
	ingestErr error
	published bool
	queryErr  error
	result    pipeline.QueryResult
	panicOn   bool

	got map[string]any
}

func (m *mockService) Ingest(_ context.Context, raw map[string]any) (pipeline.IngestResult, error) {
	if m.panicOn {
		panic("boom")
	}
	m.got = raw
	if m.ingestErr != nil {
		return pipeline.IngestResult{}, m.ingestErr
	}
	return pipeline.IngestResult{Published: m.published}, nil
}

func (m *mockService) Query(_ context.Context) (pipeline.QueryResult, error) {
	return m.result, m.queryErr
}

func newTestServer(svc *mockService, readyErr error) (*httpadapter.Server, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httpadapter.NewServer(":0", svc, &mockReadiness{err: readyErr}, metrics, logger), metrics
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthzReturns200(t *testing.T) {
	srv, _ := newTestServer(&mockService{}, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	srv, _ := newTestServer(&mockService{}, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])

	srv, _ = newTestServer(&mockService{}, fmt.Errorf("offline buffer: permission denied"))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "offline buffer: permission denied", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(&mockService{}, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestPostSamples(t *testing.T) {
	tests := []struct {
		name       string
		svc        *mockService
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "published",
			svc:        &mockService{published: true},
			body:       `{"mac":"AA:BB:CC:DD:EE:FF","latitude":1,"longitude":2}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok","published":true}`,
		},
		{
			name:       "buffered",
			svc:        &mockService{},
			body:       `{"mac":"AA:BB:CC:DD:EE:FF","latitude":1,"longitude":2}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok","published":false}`,
		},
		{
			name:       "missing body",
			svc:        &mockService{},
			body:       ``,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"missing JSON body"}`,
		},
		{
			name:       "not an object",
			svc:        &mockService{},
			body:       `[1,2]`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"body must be a JSON object"}`,
		},
		{
			name:       "validation error",
			svc:        &mockService{ingestErr: &domain.ValidationError{Field: "mac", Reason: "bad"}},
			body:       `{"mac":"AA:BB:CC"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"invalid mac: bad","field":"mac"}`,
		},
		{
			name:       "storage error",
			svc:        &mockService{ingestErr: &domain.StorageError{Op: "append", Path: "/x", Err: errors.New("disk full")}},
			body:       `{"mac":"AA:BB:CC:DD:EE:FF","latitude":1,"longitude":2}`,
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"failed to store sample"}`,
		},
		{
			name:       "panic",
			svc:        &mockService{panicOn: true},
			body:       `{"mac":"AA:BB:CC:DD:EE:FF"}`,
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"internal server error"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(tt.svc, nil)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/samples", strings.NewReader(tt.body))
			srv.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestPostSamples_KeepsNumbersExact(t *testing.T) {
	svc := &mockService{}
	srv, _ := newTestServer(svc, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/samples",
		strings.NewReader(`{"mac":"AA:BB:CC:DD:EE:FF","latitude":40.712812345678,"longitude":-74.006,"hdop":0.90}`))
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, json.Number("0.90"), svc.got["hdop"])
}

func TestGetNetworks(t *testing.T) {
	svc := &mockService{result: pipeline.QueryResult{
		Count:    1,
		Source:   pipeline.SourceStorage,
		Networks: []domain.Observation{{MAC: "AA:BB:CC:DD:EE:FF", SSID: "cafe", Security: "OPEN"}},
		Clusters: []cluster.Cluster{},
	}}
	srv, metrics := newTestServer(svc, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/networks", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.InDelta(t, 1, body["count"], 1e-9)
	assert.Equal(t, "storage", body["source"])
	assert.Len(t, body["networks"], 1)
	assert.Empty(t, body["clusters"])

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("GET", "/api/networks", "200")), 1e-9)
}

func TestGetNetworks_Error(t *testing.T) {
	srv, _ := newTestServer(&mockService{queryErr: errors.New("read failed")}, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/networks", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	srv, _ := newTestServer(&mockService{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	srv.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

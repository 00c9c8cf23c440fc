// Package pipeline coordinates ingestion, local persistence, forwarding to the
// remote feed and the read path that answers network queries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/wardrive/internal/cluster"
	"github.com/couchcryptid/wardrive/internal/domain"
	"github.com/couchcryptid/wardrive/internal/observability"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Source names where FetchNetworks found its records.
type Source string

const (
	SourceStorage       Source = "storage"
	SourceOfflineBuffer Source = "offline-buffer"
	SourceRemote        Source = "remote"
)

// Store is a durable, ordered record queue.
type Store interface {
	Append(obs domain.Observation) error
	AppendAll(records []domain.Observation) error
	ReadAll() ([]domain.Observation, error)
	WriteAll(records []domain.Observation) error
	PopAll() ([]domain.Observation, error)
	Count() (int, error)
}

// Clusterer groups observations into hotspots.
type Clusterer interface {
	Cluster(records []domain.Observation) []cluster.Cluster
}

// IngestResult reports what happened to an accepted observation.
type IngestResult struct {
	Published   bool
	Observation domain.Observation
}

// QueryResult is the answer to a network query.
type QueryResult struct {
	Count    int                  `json:"count"`
	Source   Source               `json:"source"`
	Networks []domain.Observation `json:"networks"`
	Clusters []cluster.Cluster    `json:"clusters"`
}

// Coordinator owns the primary store, the offline buffer and the remote feed.
// It is safe for concurrent use.
type Coordinator struct {
	primary    Store
	offline    Store
	feed       domain.Feed
	clusterer  Clusterer
	fetchLimit int
	logger     *slog.Logger
	metrics    *observability.Metrics
	syncs      singleflight.Group
}

// NewCoordinator wires the coordinator. fetchLimit bounds remote fetches.
func NewCoordinator(primary, offline Store, feed domain.Feed, clusterer Clusterer, fetchLimit int, logger *slog.Logger, metrics *observability.Metrics) *Coordinator {
	if feed.IsConfigured() {
		metrics.FeedEnabled.Set(1)
	} else {
		metrics.FeedEnabled.Set(0)
	}
	return &Coordinator{
		primary:    primary,
		offline:    offline,
		feed:       feed,
		clusterer:  clusterer,
		fetchLimit: fetchLimit,
		logger:     logger,
		metrics:    metrics,
	}
}

// Ingest validates raw, persists it locally and forwards it. A publish
// failure is not an error: the observation is kept in the offline buffer and
// Published is false. Invalid payloads return a *domain.ValidationError and
// nothing is written.
func (c *Coordinator) Ingest(ctx context.Context, raw map[string]any) (IngestResult, error) {
	obs, err := domain.Validate(domain.NormalizePayload(raw))
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			c.metrics.ValidationErrors.WithLabelValues(verr.Field).Inc()
		}
		return IngestResult{}, err
	}

	if err := c.primary.Append(obs); err != nil {
		c.logger.Error("persist observation failed", "mac", obs.MAC, "error", err)
		return IngestResult{}, err
	}

	if c.feed.IsConfigured() {
		err := c.feed.Publish(ctx, obs)
		if err == nil {
			c.metrics.ObservationsIngested.WithLabelValues("published").Inc()
			if _, err := c.SyncOfflineBuffer(ctx); err != nil {
				c.logger.Warn("catch-up sync failed", "error", err)
			}
			return IngestResult{Published: true, Observation: obs}, nil
		}
		c.logPublishFailure(obs, err)
	}

	if err := c.offline.Append(obs); err != nil {
		c.logger.Error("buffer observation failed", "mac", obs.MAC, "error", err)
		return IngestResult{Observation: obs}, err
	}
	c.metrics.ObservationsIngested.WithLabelValues("buffered").Inc()
	c.metrics.OfflineBuffered.Inc()
	return IngestResult{Published: false, Observation: obs}, nil
}

// logPublishFailure buffers either way but raises rejections the feed will
// keep refusing, such as bad credentials, to error level.
func (c *Coordinator) logPublishFailure(obs domain.Observation, err error) {
	var terr *domain.TransportError
	if errors.As(err, &terr) && !terr.Retryable() {
		c.logger.Error("feed rejected observation, buffering", "mac", obs.MAC, "status", terr.StatusCode, "error", err)
		return
	}
	c.logger.Warn("publish failed, buffering observation", "mac", obs.MAC, "error", err)
}

// FetchNetworks returns the first non-empty of: the primary store, the
// offline buffer, the remote feed. A remote result is cached into the primary
// store. The remote feed is never consulted while local data exists.
func (c *Coordinator) FetchNetworks(ctx context.Context) ([]domain.Observation, Source, error) {
	records, err := c.primary.ReadAll()
	if err != nil {
		return nil, "", err
	}
	if len(records) > 0 {
		return records, SourceStorage, nil
	}

	records, err = c.offline.ReadAll()
	if err != nil {
		return nil, "", err
	}
	if len(records) > 0 || !c.feed.IsConfigured() {
		return records, SourceOfflineBuffer, nil
	}

	entries, err := c.feed.FetchFeedData(ctx, c.fetchLimit)
	if err != nil {
		c.logger.Warn("remote fetch failed, serving empty result", "error", err)
		return records, SourceOfflineBuffer, nil
	}

	remote := c.normalizeEntries(entries)
	if len(remote) > 0 {
		if err := c.primary.WriteAll(remote); err != nil {
			c.logger.Error("cache remote records failed", "records", len(remote), "error", err)
		}
	}
	return remote, SourceRemote, nil
}

func (c *Coordinator) normalizeEntries(entries []domain.FeedEntry) []domain.Observation {
	out := make([]domain.Observation, 0, len(entries))
	for _, entry := range entries {
		raw, ok := c.feed.ExtractPayload(entry)
		if !ok {
			c.logger.Debug("skipping undecodable feed entry", "id", entry.ID)
			continue
		}
		obs, err := domain.Validate(domain.NormalizePayload(raw))
		if err != nil {
			c.logger.Debug("skipping invalid feed entry", "id", entry.ID, "error", err)
			continue
		}
		out = append(out, obs)
	}
	return out
}

// SyncOfflineBuffer drains the offline buffer into the remote feed and
// re-buffers only the observations that failed. It returns how many were
// delivered. Concurrent calls share one run so a backlog is never published
// twice by overlapping syncs.
func (c *Coordinator) SyncOfflineBuffer(ctx context.Context) (int, error) {
	v, err, _ := c.syncs.Do("offline-buffer", func() (any, error) {
		return c.syncOnce(ctx)
	})
	delivered, _ := v.(int)
	return delivered, err
}

func (c *Coordinator) syncOnce(ctx context.Context) (int, error) {
	logger := c.logger.With("sync_run", uuid.NewString())

	pending, err := c.offline.PopAll()
	if err != nil {
		c.metrics.SyncRuns.WithLabelValues("error").Inc()
		return 0, err
	}
	if len(pending) == 0 {
		c.metrics.SyncRuns.WithLabelValues("empty").Inc()
		c.metrics.OfflineBuffered.Set(0)
		return 0, nil
	}

	if !c.feed.IsConfigured() {
		if err := c.restore(logger, pending); err != nil {
			return 0, err
		}
		c.metrics.SyncRuns.WithLabelValues("skipped").Inc()
		c.metrics.OfflineBuffered.Set(float64(len(pending)))
		return 0, nil
	}

	failed := c.feed.PublishBatch(ctx, pending)
	delivered := len(pending) - len(failed)
	c.metrics.SyncDelivered.Add(float64(delivered))
	c.metrics.SyncFailed.Add(float64(len(failed)))

	if len(failed) > 0 {
		if err := c.restore(logger, failed); err != nil {
			return delivered, err
		}
		c.metrics.SyncRuns.WithLabelValues("partial").Inc()
	} else {
		c.metrics.SyncRuns.WithLabelValues("delivered").Inc()
	}
	c.refreshBufferedGauge()

	logger.Info("offline buffer synced", "pending", len(pending), "delivered", delivered, "failed", len(failed))
	return delivered, nil
}

// restore puts popped records back into the offline buffer.
func (c *Coordinator) restore(logger *slog.Logger, records []domain.Observation) error {
	if err := c.offline.AppendAll(records); err != nil {
		c.metrics.SyncRuns.WithLabelValues("error").Inc()
		logger.Error("re-buffer failed, records lost", "records", len(records), "error", err)
		return fmt.Errorf("restore %d records to offline buffer: %w", len(records), err)
	}
	return nil
}

func (c *Coordinator) refreshBufferedGauge() {
	if n, err := c.offline.Count(); err == nil {
		c.metrics.OfflineBuffered.Set(float64(n))
	}
}

// Query fetches networks, collapses repeat sightings and clusters the
// insecure ones. Count is the number of distinct networks.
func (c *Coordinator) Query(ctx context.Context) (QueryResult, error) {
	records, source, err := c.FetchNetworks(ctx)
	if err != nil {
		return QueryResult{}, err
	}
	networks := domain.Dedupe(records)

	start := time.Now()
	clusters := c.clusterer.Cluster(networks)
	c.metrics.ClusterDuration.Observe(time.Since(start).Seconds())
	c.metrics.ClustersFound.Set(float64(len(clusters)))
	c.metrics.ClusteredSamples.Observe(float64(insecureCount(networks)))
	c.metrics.QuerySource.WithLabelValues(string(source)).Inc()

	return QueryResult{
		Count:    len(networks),
		Source:   source,
		Networks: networks,
		Clusters: clusters,
	}, nil
}

func insecureCount(records []domain.Observation) int {
	n := 0
	for _, r := range records {
		if r.Insecure() {
			n++
		}
	}
	return n
}

// CheckReadiness returns nil when both queue files can be read.
func (c *Coordinator) CheckReadiness(_ context.Context) error {
	if _, err := c.primary.Count(); err != nil {
		return fmt.Errorf("primary store: %w", err)
	}
	if _, err := c.offline.Count(); err != nil {
		return fmt.Errorf("offline buffer: %w", err)
	}
	return nil
}

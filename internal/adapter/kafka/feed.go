// Package kafka implements the remote feed on top of a Kafka topic, for
// deployments that forward sightings into a broker instead of Adafruit IO.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/couchcryptid/wardrive/internal/domain"
	"github.com/couchcryptid/wardrive/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

// Feed produces observations to a topic and reads back its tail.
// It implements domain.Feed.
//
// Every message goes to partition 0 so the tail read by FetchFeedData sees
// all of them; topics with more partitions only ever use the first.
type Feed struct {
	brokers []string
	topic   string
	timeout time.Duration
	writer  *kafkago.Writer
	metrics *observability.Metrics
	logger  *slog.Logger
}

// batchTimeout bounds how long Publish waits for the writer to fill a batch.
// The writer default of one second would stall every single-message write.
const batchTimeout = 10 * time.Millisecond

func firstPartition(kafkago.Message, ...int) int { return 0 }

// NewFeed creates a Kafka-backed feed. With no brokers or no topic the feed
// reports itself unconfigured.
func NewFeed(brokers []string, topic string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Feed {
	f := &Feed{
		brokers: brokers,
		topic:   topic,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
	if f.IsConfigured() {
		f.writer = &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     kafkago.BalancerFunc(firstPartition),
			BatchTimeout: batchTimeout,
			RequiredAcks: kafkago.RequireAll,
			WriteTimeout: timeout,
		}
	}
	return f
}

func (f *Feed) IsConfigured() bool {
	return len(f.brokers) > 0 && f.topic != ""
}

// Publish writes a single observation keyed by MAC.
func (f *Feed) Publish(ctx context.Context, obs domain.Observation) error {
	if f.writer == nil {
		return &domain.TransportError{Op: "publish", Err: errors.New("kafka brokers not configured")}
	}
	msg, err := serializeToMessage(obs)
	if err != nil {
		return err
	}
	return f.observe("publish", func() error {
		ctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		if err := f.writer.WriteMessages(ctx, msg); err != nil {
			return &domain.TransportError{Op: "publish", Err: err}
		}
		return nil
	})
}

// PublishBatch writes the whole batch in one WriteMessages call and maps
// per-message write errors back onto the observations that produced them.
func (f *Feed) PublishBatch(ctx context.Context, batch []domain.Observation) []domain.Observation {
	if len(batch) == 0 {
		return nil
	}
	if f.writer == nil {
		return slices.Clone(batch)
	}

	msgs := make([]kafkago.Message, 0, len(batch))
	index := make([]int, 0, len(batch))
	failed := make([]bool, len(batch))
	for i, obs := range batch {
		msg, err := serializeToMessage(obs)
		if err != nil {
			f.logger.Warn("unserializable observation left in buffer", "mac", obs.MAC, "error", err)
			failed[i] = true
			continue
		}
		msgs = append(msgs, msg)
		index = append(index, i)
	}

	if len(msgs) > 0 {
		err := f.observe("publish_batch", func() error {
			ctx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			return f.writer.WriteMessages(ctx, msgs...)
		})
		for _, j := range failedMessages(len(msgs), err) {
			failed[index[j]] = true
		}
		if err != nil {
			f.logger.Debug("batch write incomplete", "messages", len(msgs), "error", err)
		}
	}

	var out []domain.Observation
	for i, obs := range batch {
		if failed[i] {
			out = append(out, obs)
		}
	}
	return out
}

// FetchFeedData reads up to limit of the most recent messages on partition 0,
// newest first.
func (f *Feed) FetchFeedData(ctx context.Context, limit int) ([]domain.FeedEntry, error) {
	if !f.IsConfigured() || limit <= 0 {
		return nil, nil
	}
	var entries []domain.FeedEntry
	err := f.observe("fetch", func() error {
		ctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		var err error
		entries, err = f.readTail(ctx, limit)
		if err != nil {
			return &domain.TransportError{Op: "fetch", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (f *Feed) readTail(ctx context.Context, limit int) ([]domain.FeedEntry, error) {
	conn, err := kafkago.DialLeader(ctx, "tcp", f.brokers[0], f.topic, 0)
	if err != nil {
		return nil, fmt.Errorf("dial leader: %w", err)
	}
	first, last, err := conn.ReadOffsets()
	_ = conn.Close()
	if err != nil {
		return nil, fmt.Errorf("read offsets: %w", err)
	}
	start := max(first, last-int64(limit))
	if start >= last {
		return nil, nil
	}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   f.brokers,
		Topic:     f.topic,
		Partition: 0,
		MaxBytes:  10e6,
	})
	defer r.Close()
	if err := r.SetOffset(start); err != nil {
		return nil, fmt.Errorf("set offset: %w", err)
	}

	entries := make([]domain.FeedEntry, 0, last-start)
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			return nil, fmt.Errorf("read message: %w", err)
		}
		entries = append(entries, mapMessageToEntry(msg))
		if msg.Offset >= last-1 {
			break
		}
	}
	slices.Reverse(entries)
	return entries, nil
}

func (f *Feed) ExtractPayload(entry domain.FeedEntry) (map[string]any, bool) {
	return domain.ExtractEntryPayload(entry)
}

// Close flushes and closes the producer.
func (f *Feed) Close() error {
	if f.writer == nil {
		return nil
	}
	return f.writer.Close()
}

func (f *Feed) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	f.metrics.FeedDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	f.metrics.FeedRequests.WithLabelValues(op, outcome).Inc()
	return err
}

// serializeToMessage marshals an Observation into a Kafka message keyed by
// MAC so every sighting of one access point lands on the same partition.
func serializeToMessage(obs domain.Observation) (kafkago.Message, error) {
	data, err := json.Marshal(obs)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize observation: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(obs.MAC),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "security", Value: []byte(obs.Security)},
			{Key: "observed_at", Value: []byte(obs.Timestamp.UTC().Format(time.RFC3339))},
		},
	}, nil
}

func mapMessageToEntry(msg kafkago.Message) domain.FeedEntry {
	entry := domain.FeedEntry{
		ID:    strconv.FormatInt(msg.Offset, 10),
		Value: json.RawMessage(msg.Value),
	}
	if !msg.Time.IsZero() {
		entry.CreatedAt = msg.Time.UTC().Format(time.RFC3339)
	}
	return entry
}

// failedMessages returns the indexes of messages that were not acknowledged.
// A WriteErrors value pins failures to individual messages; any other error
// fails the whole batch.
func failedMessages(n int, err error) []int {
	if err == nil {
		return nil
	}
	var werrs kafkago.WriteErrors
	if !errors.As(err, &werrs) || len(werrs) != n {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	var failed []int
	for i, e := range werrs {
		if e != nil {
			failed = append(failed, i)
		}
	}
	return failed
}

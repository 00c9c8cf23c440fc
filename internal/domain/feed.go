package domain

import (
	"context"
	"encoding/json"
)

// FeedEntry is one datum returned by a remote feed. Value holds either the
// observation object itself or a JSON string encoding it.
type FeedEntry struct {
	ID        string          `json:"id,omitempty"`
	Value     json.RawMessage `json:"value"`
	CreatedAt string          `json:"created_at,omitempty"`
}

// Feed is the remote telemetry service observations are forwarded to.
type Feed interface {
	// IsConfigured reports whether all credentials are present. Callers must
	// not attempt any other method when it returns false.
	IsConfigured() bool

	// FetchFeedData returns up to limit entries, newest first.
	FetchFeedData(ctx context.Context, limit int) ([]FeedEntry, error)

	// Publish forwards one observation.
	Publish(ctx context.Context, obs Observation) error

	// PublishBatch attempts each observation independently and returns the
	// ones that still need retrying, in input order.
	PublishBatch(ctx context.Context, batch []Observation) []Observation

	// ExtractPayload unwraps an entry into an observation-shaped object.
	ExtractPayload(entry FeedEntry) (map[string]any, bool)
}

// ExtractEntryPayload decodes an entry value that is either an object or a
// string holding an encoded object. It returns false rather than an error so
// one bad entry never fails a whole fetch.
func ExtractEntryPayload(entry FeedEntry) (map[string]any, bool) {
	if len(entry.Value) == 0 {
		return nil, false
	}
	if entry.Value[0] == '"' {
		var encoded string
		if err := json.Unmarshal(entry.Value, &encoded); err != nil {
			return nil, false
		}
		raw, err := DecodePayload([]byte(encoded))
		return raw, err == nil
	}
	raw, err := DecodePayload(entry.Value)
	return raw, err == nil
}

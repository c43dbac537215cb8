package redis

import (
	"context"
	"fmt"
	"time"
)

const segmentKeyPrefix = "segment:"

// SegmentDeduper remembers delivered transcript segments in Redis so a
// redelivered final is recognised across restarts and replicas.
type SegmentDeduper struct {
	client *Client
	ttl    time.Duration
}

// NewSegmentDeduper creates a deduper whose keys expire after ttl
func NewSegmentDeduper(client *Client, ttl time.Duration) *SegmentDeduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SegmentDeduper{client: client, ttl: ttl}
}

// FirstSeen records key and reports whether it was new
func (d *SegmentDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.rdb.SetNX(ctx, segmentKeyPrefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record segment: %w", err)
	}
	return ok, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fenceKey namespaces the mirrored quarantine deadline for one entity so a
// second proxy instance sharing the same Redis can see the same fence
// without querying this instance's SQLite file.
func fenceKey(kind, id string) string {
	return fmt.Sprintf("llmproxy:fence:%s:%s", kind, id)
}

// SetFenceMirror attaches an optional Redis client the repository mirrors
// auto-disable deadlines into. A nil client (the default) disables
// mirroring entirely; SQLite alone remains authoritative either way.
func (r *SQLiteRepository) SetFenceMirror(client *redis.Client) {
	r.fence = client
}

// mirrorFence best-effort copies an entity's new auto_disabled_until_ms
// into Redis with a TTL matched to the disable window. Mirror failures are
// swallowed: SQLite already committed the real fence, so a Redis outage
// must never fail the caller's request.
func (r *SQLiteRepository) mirrorFence(ctx context.Context, kind, id string, disabledUntilMs, nowMs int64) {
	if r.fence == nil {
		return
	}
	ttl := time.Duration(disabledUntilMs-nowMs) * time.Millisecond
	if ttl <= 0 {
		return
	}
	_ = r.fence.Set(ctx, fenceKey(kind, id), disabledUntilMs, ttl).Err()
}

// clearFenceMirror best-effort removes an entity's mirrored fence, e.g.
// after a clean success clears its failure log.
func (r *SQLiteRepository) clearFenceMirror(ctx context.Context, kind, id string) {
	if r.fence == nil {
		return
	}
	_ = r.fence.Del(ctx, fenceKey(kind, id)).Err()
}

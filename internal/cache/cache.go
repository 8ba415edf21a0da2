package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamvault/backend/internal/logger"
	"github.com/streamvault/backend/internal/progress"
)

// progress snapshots expire on their own; a job that stops reporting
// should not leave a stale record forever
const snapshotTTL = 24 * time.Hour

const progressChannel = "progress_updates"

// Cache stores the latest progress snapshot per job in Redis and fans
// updates out over pub/sub so every instance sees them.
type Cache struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects to Redis and verifies the connection.
func New(addr string, log *logger.Logger) (*Cache, error) {
	if log == nil {
		log = logger.Default().WithComponent("cache")
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Info(ctx, "connected to Redis", map[string]interface{}{"addr": addr})
	return &Cache{client: client, log: log}, nil
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping verifies the connection; wired into health checks.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func snapshotKey(jobID string) string {
	return "progress:" + jobID
}

// StoreSnapshot saves the latest snapshot for a job and publishes it.
// Errors are logged, not returned; progress caching is best-effort and must
// never fail a download.
func (c *Cache) StoreSnapshot(ctx context.Context, snap progress.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, snapshotKey(snap.JobID), data, snapshotTTL).Err(); err != nil {
		c.log.Warn(ctx, "snapshot store failed", map[string]interface{}{
			"job_id": snap.JobID,
			"error":  err.Error(),
		})
		return
	}
	if err := c.client.Publish(ctx, progressChannel, data).Err(); err != nil {
		c.log.Warn(ctx, "snapshot publish failed", map[string]interface{}{
			"job_id": snap.JobID,
			"error":  err.Error(),
		})
	}
}

// GetSnapshot returns the latest snapshot for a job, or false when none is
// cached.
func (c *Cache) GetSnapshot(ctx context.Context, jobID string) (progress.Snapshot, bool) {
	data, err := c.client.Get(ctx, snapshotKey(jobID)).Bytes()
	if err == redis.Nil {
		return progress.Snapshot{}, false
	}
	if err != nil {
		c.log.Warn(ctx, "snapshot fetch failed", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
		return progress.Snapshot{}, false
	}

	var snap progress.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return progress.Snapshot{}, false
	}
	return snap, true
}

// Subscribe delivers snapshots published by any instance until ctx ends.
func (c *Cache) Subscribe(ctx context.Context, handler func(progress.Snapshot)) {
	sub := c.client.Subscribe(ctx, progressChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var snap progress.Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				continue
			}
			handler(snap)
		}
	}
}

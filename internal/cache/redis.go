// Package cache holds the Redis client bootstrap and the event journal
// producer consumed by the historian.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shampiniony/sightquest-server/internal/models"
)

// DefaultQueueName is the Redis list the journal appends to.
const DefaultQueueName = "sightquest_events"

// ConnectRedis creates a client for addr and verifies it with a ping.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		// Callers bound publishes and pushes with their own deadlines.
		ContextTimeoutEnabled: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Journal appends applied game events to a Redis list.
type Journal struct {
	rdb   redis.Cmdable
	queue string
}

func NewJournal(rdb redis.Cmdable, queue string) *Journal {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Journal{rdb: rdb, queue: queue}
}

// Queue returns the name of the backing list.
func (j *Journal) Queue() string {
	return j.queue
}

// Append serializes record and pushes it onto the journal list.
func (j *Journal) Append(ctx context.Context, record models.EventRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal EventRecord: %w", err)
	}
	if err := j.rdb.RPush(ctx, j.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", j.queue, err)
	}
	return nil
}

// Pop blocks up to timeout for the next record. It returns (nil, nil) when
// the timeout elapses with the list empty.
func (j *Journal) Pop(ctx context.Context, timeout time.Duration) (*models.EventRecord, error) {
	res, err := j.rdb.BLPop(ctx, timeout, j.queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BLPop %s: %w", j.queue, err)
	}
	if len(res) < 2 {
		return nil, nil
	}
	// res[0] is the list name, res[1] the payload.
	var record models.EventRecord
	if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
		return nil, fmt.Errorf("invalid event record: %w", err)
	}
	return &record, nil
}

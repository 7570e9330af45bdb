// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list finished match results are pushed to.
const DefaultQueueName = "gameroom_results"

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// ResultQueue is a Redis list of JSON-encoded match results. The game server pushes,
// the historian pops.
type ResultQueue struct {
	rdb  redis.UniversalClient
	name string
}

func NewResultQueue(rdb redis.UniversalClient, name string) *ResultQueue {
	if name == "" {
		name = DefaultQueueName
	}
	return &ResultQueue{rdb: rdb, name: name}
}

func (q *ResultQueue) Name() string { return q.name }

// Publish serializes the record to JSON, then pushes it to the tail of the queue.
func (q *ResultQueue) Publish(ctx context.Context, record models.MatchResult) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal match result: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.name, err)
	}
	return nil
}

// Pop blocks up to timeout for the next record. It returns (nil, nil) when the wait timed out.
func (q *ResultQueue) Pop(ctx context.Context, timeout time.Duration) (*models.MatchResult, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to BLPOP '%s': %w", q.name, err)
	}
	if len(res) < 2 {
		return nil, nil
	}

	var rec models.MatchResult
	if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
		return nil, fmt.Errorf("bad match result payload: %w", err)
	}
	return &rec, nil
}

// Package notify delivers workflow notification records to recipients.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
)

const DefaultQueueKey = "approvals:notifications"

// Envelope is the JSON payload pushed onto the queue
type Envelope struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	RecipientID string    `json:"recipient_id"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// RedisQueue hands notifications to out-of-process consumers through a Redis list
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue connects to redisURL and verifies the connection
func NewRedisQueue(redisURL, key string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisQueueWithClient(client, key), nil
}

// NewRedisQueueWithClient creates a queue from an existing Redis client
func NewRedisQueueWithClient(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

// Notify pushes one envelope; consumers pop from the other end in FIFO order
func (q *RedisQueue) Notify(ctx context.Context, notification store.Notification) error {
	payload, err := json.Marshal(Envelope{
		ID:          notification.ID,
		DocumentID:  notification.DocumentID,
		RecipientID: notification.RecipientID,
		Message:     notification.Message,
		CreatedAt:   notification.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// Pop waits up to timeout for the oldest envelope. It returns false when the
// queue stayed empty.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (Envelope, bool, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return Envelope{}, false, nil
	}
	if err != nil {
		return Envelope{}, false, fmt.Errorf("dequeue notification: %w", err)
	}

	var envelope Envelope
	if err := json.Unmarshal([]byte(result[1]), &envelope); err != nil {
		return Envelope{}, false, fmt.Errorf("unmarshal notification: %w", err)
	}
	return envelope, true, nil
}

// Len reports how many envelopes are waiting
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Ping checks if Redis is reachable
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

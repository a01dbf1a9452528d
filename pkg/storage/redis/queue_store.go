package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"shelltask/pkg/models"
)

const (
	StreamKeyPending = "shelltask:runs:pending"
	DefaultGroup     = "shelltask-executors"
)

// Queue is a Redis-streams backed run queue.
type Queue struct {
	client *redis.Client
	stream string
	block  time.Duration
}

// QueueConfig holds Redis connection configuration
type QueueConfig struct {
	Addr         string
	Password     string
	DB           int
	Stream       string
	Block        time.Duration // how long Pop waits for a message
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultQueueConfig returns defaults for addr.
func DefaultQueueConfig(addr string) QueueConfig {
	return QueueConfig{
		Addr:         addr,
		Stream:       StreamKeyPending,
		Block:        2 * time.Second,
		PoolSize:     20,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewQueue connects with default config.
func NewQueue(addr string) (*Queue, error) {
	return NewQueueWithConfig(DefaultQueueConfig(addr))
}

// NewQueueWithConfig connects and pings Redis.
func NewQueueWithConfig(cfg QueueConfig) (*Queue, error) {
	// a blocking XREADGROUP must not trip the socket read timeout
	readTimeout := cfg.ReadTimeout + cfg.Block

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewQueueWithClient(client, cfg.Stream, cfg.Block), nil
}

// NewQueueWithClient wraps an existing client.
func NewQueueWithClient(client *redis.Client, stream string, block time.Duration) *Queue {
	if stream == "" {
		stream = StreamKeyPending
	}
	return &Queue{client: client, stream: stream, block: block}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Push adds a run payload to the pending stream.
func (q *Queue) Push(ctx context.Context, run *models.TaskRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			"payload": payload,
			"run_id":  run.ID.String(),
			"task":    run.TaskName,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push to queue: %w", err)
	}
	return nil
}

// EnsureGroup creates the consumer group if it doesn't exist.
func (q *Queue) EnsureGroup(ctx context.Context, group string) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Pop blocks up to the configured duration for the next run.
func (q *Queue) Pop(ctx context.Context, group string, consumer string) (string, *models.TaskRun, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    q.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return "", nil, nil
	}

	msg := streams[0].Messages[0]
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return msg.ID, nil, fmt.Errorf("invalid payload format in message %s", msg.ID)
	}

	var run models.TaskRun
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return msg.ID, nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return msg.ID, &run, nil
}

// Ack acknowledges a run as processed.
func (q *Queue) Ack(ctx context.Context, group string, msgID string) error {
	return q.client.XAck(ctx, q.stream, group, msgID).Err()
}

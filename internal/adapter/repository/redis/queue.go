package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
)

// QueueConfig configures a Queue.
type QueueConfig struct {
	Stream       string
	Group        string
	Consumer     string
	BatchSize    int64
	BlockTimeout time.Duration
}

// Queue implements usecase.TransactionQueue on a Redis stream read through a consumer group.
type Queue struct {
	client       *redis.Client
	stream       string
	group        string
	consumer     string
	batchSize    int64
	blockTimeout time.Duration
}

// NewQueue creates a new Queue.
func NewQueue(client *redis.Client, cfg QueueConfig) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaultBlockTimeout
	}

	return &Queue{
		client:       client,
		stream:       cfg.Stream,
		group:        cfg.Group,
		consumer:     cfg.Consumer,
		batchSize:    cfg.BatchSize,
		blockTimeout: cfg.BlockTimeout,
	}
}

// EnsureGroup creates the consumer group, and the stream if needed.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", q.group, q.stream, err)
	}
	return nil
}

// Enqueue appends tx to the queue stream.
func (q *Queue) Enqueue(ctx context.Context, tx *domain.Transaction) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: encodeTransaction(tx),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: xadd %s: %w", domain.ErrStoreUnavailable, q.stream, err)
	}
	return id, nil
}

// Read returns this consumer's unacknowledged messages when pending is set,
// otherwise waits up to the block timeout for new ones.
func (q *Queue) Read(ctx context.Context, pending bool) ([]usecase.QueuedTransaction, error) {
	start, block := ">", q.blockTimeout
	if pending {
		start, block = "0", -1
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, start},
		Count:    q.batchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: xreadgroup %s: %w", domain.ErrStoreUnavailable, q.stream, err)
	}
	if len(streams) == 0 {
		return nil, nil
	}

	batch := make([]usecase.QueuedTransaction, 0, len(streams[0].Messages))
	for _, msg := range streams[0].Messages {
		batch = append(batch, usecase.QueuedTransaction{
			MessageID:   msg.ID,
			Transaction: decodeTransaction(msg.Values),
		})
	}
	return batch, nil
}

// Ack acknowledges processed messages.
func (q *Queue) Ack(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return q.client.XAck(ctx, q.stream, q.group, messageIDs...).Err()
}

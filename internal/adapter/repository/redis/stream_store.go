package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

const (
	defaultBatchSize    = 500
	defaultBlockTimeout = 5 * time.Second
)

// CircuitBreaker guards calls to Redis.
type CircuitBreaker interface {
	Execute(fn func() error) error
}

// StreamConfig configures a StreamStore.
type StreamConfig struct {
	Stream    string
	BatchSize int64
	// BlockTimeout is the server-side wait of a blocking read.
	BlockTimeout time.Duration
}

// StreamStore implements usecase.LedgerStore on a Redis stream.
type StreamStore struct {
	client       *redis.Client
	stream       string
	batchSize    int64
	blockTimeout time.Duration
	breaker      CircuitBreaker
}

// NewStreamStore creates a new StreamStore.
func NewStreamStore(client *redis.Client, cfg StreamConfig) *StreamStore {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaultBlockTimeout
	}

	return &StreamStore{
		client:       client,
		stream:       cfg.Stream,
		batchSize:    cfg.BatchSize,
		blockTimeout: cfg.BlockTimeout,
	}
}

// WithBreaker routes appends through breaker.
func (s *StreamStore) WithBreaker(breaker CircuitBreaker) *StreamStore {
	s.breaker = breaker
	return s
}

// Append adds tx to the stream with XADD and returns the id Redis assigned.
func (s *StreamStore) Append(ctx context.Context, tx *domain.Transaction) (domain.EntryID, error) {
	var raw string
	op := func() error {
		var err error
		raw, err = s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			Values: encodeTransaction(tx),
		}).Result()
		return err
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(op)
	} else {
		err = op()
	}
	if err != nil {
		return domain.EntryID{}, fmt.Errorf("%w: xadd %s: %w", domain.ErrStoreUnavailable, s.stream, err)
	}

	return domain.ParseEntryID(raw)
}

// ReadFrom returns up to one batch of entries after the given id. A blocking
// read that times out on the server returns an empty batch.
func (s *StreamStore) ReadFrom(ctx context.Context, after domain.EntryID, block bool) ([]domain.Entry, error) {
	args := &redis.XReadArgs{
		Streams: []string{s.stream, after.String()},
		Count:   s.batchSize,
		Block:   -1,
	}
	if block {
		args.Block = s.blockTimeout
	}

	streams, err := s.client.XRead(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: xread %s: %w", domain.ErrStoreUnavailable, s.stream, err)
	}
	if len(streams) == 0 {
		return nil, nil
	}

	return decodeEntries(streams[0].Messages)
}

// Ping checks connectivity.
func (s *StreamStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

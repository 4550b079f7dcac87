package redis

import (
	"context"
	"testing"
	"time"
)

func newTestQueue(t *testing.T, consumer string) (*Queue, func()) {
	t.Helper()
	client, mr := newTestRedisClient(t)

	q := NewQueue(client, QueueConfig{
		Stream:       "unconfirmed",
		Group:        "ledgerwriter",
		Consumer:     consumer,
		BlockTimeout: 50 * time.Millisecond,
	})
	if err := q.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("EnsureGroup failed: %v", err)
	}

	return q, func() {
		client.Close()
		mr.Close()
	}
}

func TestQueue_EnsureGroupIsIdempotent(t *testing.T) {
	q, cleanup := newTestQueue(t, "c1")
	defer cleanup()

	if err := q.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("second EnsureGroup failed: %v", err)
	}
}

func TestQueue_EnqueueReadAck(t *testing.T) {
	q, cleanup := newTestQueue(t, "c1")
	defer cleanup()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, sampleTransaction(42))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	batch, err := q.Read(ctx, false)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(batch) != 1 || batch[0].MessageID != id {
		t.Fatalf("expected message %s, got %+v", id, batch)
	}
	if batch[0].Transaction.Amount != 42 || batch[0].Transaction.TransactionID != "tx-1" {
		t.Fatalf("unexpected transaction %+v", batch[0].Transaction)
	}

	// delivered but not acknowledged: still pending for this consumer
	pending, err := q.Read(ctx, true)
	if err != nil {
		t.Fatalf("pending Read failed: %v", err)
	}
	if len(pending) != 1 || pending[0].MessageID != id {
		t.Fatalf("expected message %s to be pending, got %+v", id, pending)
	}

	if err := q.Ack(ctx, id); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}

	pending, err = q.Read(ctx, true)
	if err != nil {
		t.Fatalf("pending Read failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending messages after ack, got %+v", pending)
	}
}

func TestQueue_ReadTimesOutEmpty(t *testing.T) {
	q, cleanup := newTestQueue(t, "c1")
	defer cleanup()

	batch, err := q.Read(context.Background(), false)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected empty batch, got %+v", batch)
	}
}

func TestQueue_AckNothing(t *testing.T) {
	q, cleanup := newTestQueue(t, "c1")
	defer cleanup()

	if err := q.Ack(context.Background()); err != nil {
		t.Fatalf("Ack with no ids failed: %v", err)
	}
}

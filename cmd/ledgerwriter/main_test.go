package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/config"
)

type countingCleaner struct {
	n atomic.Int32
}

func (c *countingCleaner) CleanupLimiters() { c.n.Add(1) }

func TestCleanupLimitersStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &countingCleaner{}

	done := make(chan struct{})
	go func() {
		cleanupLimiters(ctx, c, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(time.Second)
	for c.n.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("limiters were not cleaned periodically")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}

func TestBreakerConfig(t *testing.T) {
	cfg := &config.LedgerWriter{BreakerFailures: 3, BreakerTimeout: time.Minute}

	bc := breakerConfig("ledger", cfg)
	if bc.Name != "ledger" || bc.ConsecutiveFailures != 3 || bc.Timeout != time.Minute {
		t.Fatalf("unexpected breaker config %+v", bc)
	}
	if bc.MaxRequests != 1 {
		t.Fatalf("expected default half-open probes, got %d", bc.MaxRequests)
	}
}

package usecase

import "time"

const (
	// DefaultHistoryLimit is how many recent entries are kept per account.
	DefaultHistoryLimit = 100

	// DefaultCheckpointEvery is how many applied entries separate two snapshots.
	DefaultCheckpointEvery = 1000

	// IdempotencyKeyTTL is how long transaction ids are remembered for duplicate detection.
	IdempotencyKeyTTL = 24 * time.Hour

	// DefaultSubmitTimeout bounds a single append so synchronous callers never block indefinitely.
	DefaultSubmitTimeout = 10 * time.Second
)

package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

// MockLedgerStore is an in-memory LedgerStore with blocking reads.
type MockLedgerStore struct {
	mu       sync.Mutex
	entries  []domain.Entry
	appended chan struct{}
	next     uint64

	// BatchSize caps the entries returned per read; zero returns everything.
	BatchSize int
	// BlockTimeout bounds a blocking read; zero waits for an append or ctx.
	BlockTimeout time.Duration

	AppendFunc   func(ctx context.Context, tx *domain.Transaction) (domain.EntryID, error)
	ReadFromFunc func(ctx context.Context, after domain.EntryID, block bool) ([]domain.Entry, error)
}

func NewMockLedgerStore() *MockLedgerStore {
	return &MockLedgerStore{
		appended: make(chan struct{}),
	}
}

func (m *MockLedgerStore) Append(ctx context.Context, tx *domain.Transaction) (domain.EntryID, error) {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := domain.EntryID{Millis: m.next + 1}
	if err := m.appendLocked(id, *tx); err != nil {
		return domain.EntryID{}, err
	}
	return id, nil
}

// AppendAt stores tx under an explicit id, which must be after every stored id.
func (m *MockLedgerStore) AppendAt(id domain.EntryID, tx domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(id, tx)
}

func (m *MockLedgerStore) appendLocked(id domain.EntryID, tx domain.Transaction) error {
	if n := len(m.entries); n > 0 && !id.After(m.entries[n-1].ID) {
		return fmt.Errorf("entry id %s is not after %s", id, m.entries[n-1].ID)
	}
	if id.Millis > m.next {
		m.next = id.Millis
	}
	m.entries = append(m.entries, domain.Entry{ID: id, Transaction: tx})
	close(m.appended)
	m.appended = make(chan struct{})
	return nil
}

func (m *MockLedgerStore) ReadFrom(ctx context.Context, after domain.EntryID, block bool) ([]domain.Entry, error) {
	if m.ReadFromFunc != nil {
		return m.ReadFromFunc(ctx, after, block)
	}

	var timeout <-chan time.Time
	if m.BlockTimeout > 0 {
		timer := time.NewTimer(m.BlockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		m.mu.Lock()
		batch := m.readLocked(after)
		wait := m.appended
		m.mu.Unlock()

		if len(batch) > 0 || !block {
			return batch, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, nil
		case <-wait:
		}
	}
}

func (m *MockLedgerStore) readLocked(after domain.EntryID) []domain.Entry {
	var batch []domain.Entry
	for _, e := range m.entries {
		if !e.ID.After(after) {
			continue
		}
		batch = append(batch, e)
		if m.BatchSize > 0 && len(batch) == m.BatchSize {
			break
		}
	}
	return batch
}

// Entries returns a copy of the stored log.
func (m *MockLedgerStore) Entries() []domain.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Entry(nil), m.entries...)
}

// MockIDGenerator is a mock implementation of IDGenerator.
type MockIDGenerator struct {
	mu      sync.Mutex
	counter int

	GenerateFunc func() string
}

func NewMockIDGenerator() *MockIDGenerator {
	return &MockIDGenerator{}
}

func (m *MockIDGenerator) Generate() string {
	if m.GenerateFunc != nil {
		return m.GenerateFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return fmt.Sprintf("tx-%d", m.counter)
}

// MockSnapshotStore is an in-memory SnapshotStore.
type MockSnapshotStore struct {
	mu    sync.Mutex
	saved []*domain.Snapshot

	LoadFunc func(ctx context.Context) (*domain.Snapshot, error)
	SaveFunc func(ctx context.Context, snapshot *domain.Snapshot) error
}

func NewMockSnapshotStore() *MockSnapshotStore {
	return &MockSnapshotStore{}
}

func (m *MockSnapshotStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return nil, nil
	}
	return m.saved[len(m.saved)-1], nil
}

func (m *MockSnapshotStore) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, snapshot)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, snapshot)
	return nil
}

// Saved returns every snapshot saved so far.
func (m *MockSnapshotStore) Saved() []*domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Snapshot(nil), m.saved...)
}

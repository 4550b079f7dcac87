package usecase_test

import (
	"sync"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

type recordingMetrics struct {
	mu        sync.Mutex
	applied   int
	skipped   map[string]int
	errors    int
	caughtUp  int
	accepted  int
	rejected  map[string]int
	processed map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		skipped:   make(map[string]int),
		rejected:  make(map[string]int),
		processed: make(map[string]int),
	}
}

func (m *recordingMetrics) EntryApplied(domain.EntryID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied++
}

func (m *recordingMetrics) EntrySkipped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped[reason]++
}

func (m *recordingMetrics) ReplayError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

func (m *recordingMetrics) CaughtUp(int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caughtUp++
}

func (m *recordingMetrics) TransactionAccepted(int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted++
}

func (m *recordingMetrics) TransactionRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *recordingMetrics) MessageProcessed(worker, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[worker+"/"+result]++
}


package logstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"whatsapp-inbox/pkg/constants"
	"whatsapp-inbox/pkg/models"
)

// MemoryStore keeps logs in process memory. Used for tests and the
// "memory" backend; nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	customers map[string][]models.EventRecord
	days      map[string][]models.EventRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers: make(map[string][]models.EventRecord),
		days:      make(map[string][]models.EventRecord),
	}
}

func (m *MemoryStore) Append(ctx context.Context, rec models.EventRecord) error {
	rec, err := prepare(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.customers[rec.CustomerID] = append(m.customers[rec.CustomerID], rec)
	day := constants.DayOf(rec.OccurredAt)
	m.days[day] = append(m.days[day], rec)
	return nil
}

func (m *MemoryStore) ReadTail(ctx context.Context, customerID string, n int) ([]models.EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lastN(m.customers[customerID], n), nil
}

func (m *MemoryStore) ReadDay(ctx context.Context, day time.Time, n int) ([]models.EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lastN(m.days[constants.DayOf(day)], n), nil
}

func (m *MemoryStore) Customers(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.customers))
	for id := range m.customers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

package watermark

import (
	"context"
	"sync"
	"time"

	"whatsapp-inbox/pkg/models"
)

type MemoryStore struct {
	mu         sync.RWMutex
	watermarks map[string]models.Watermark
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		watermarks: make(map[string]models.Watermark),
		now:        time.Now,
	}
}

func (m *MemoryStore) Read(ctx context.Context, customerID string) (models.Watermark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if wm, ok := m.watermarks[customerID]; ok {
		return wm, nil
	}
	return models.Watermark{CustomerID: customerID}, nil
}

func (m *MemoryStore) Write(ctx context.Context, customerID string, lastSeenIncomingAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wm := m.watermarks[customerID]
	wm.CustomerID = customerID
	wm.LastSeenIncomingAt = lastSeenIncomingAt.UTC()
	wm.UpdatedAt = m.now().UTC()
	m.watermarks[customerID] = wm
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

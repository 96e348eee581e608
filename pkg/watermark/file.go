package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"whatsapp-inbox/pkg/constants"
	"whatsapp-inbox/pkg/models"
)

// FileStore keeps all watermarks in one JSON document keyed by customer id.
// Each customer's entry is an open set of fields; writes replace only the
// fields they own and keep anything else already stored.
type FileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create watermark directory: %w", err)
	}
	return &FileStore{path: path, now: time.Now}, nil
}

func (f *FileStore) Read(ctx context.Context, customerID string) (models.Watermark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return models.Watermark{}, err
	}

	wm := models.Watermark{CustomerID: customerID}
	fields, ok := doc[customerID]
	if !ok {
		return wm, nil
	}

	if wm.LastSeenIncomingAt, err = parseTime(stringField(fields, constants.FieldLastSeenIncomingAt)); err != nil {
		return models.Watermark{}, err
	}
	wm.UpdatedAt, _ = parseTime(stringField(fields, constants.FieldUpdatedAt))
	return wm, nil
}

func (f *FileStore) Write(ctx context.Context, customerID string, lastSeenIncomingAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}

	fields := doc[customerID]
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields[constants.FieldLastSeenIncomingAt] = formatTime(lastSeenIncomingAt)
	fields[constants.FieldUpdatedAt] = formatTime(f.now())
	doc[customerID] = fields

	return f.save(doc)
}

func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) load() (map[string]map[string]interface{}, error) {
	doc := make(map[string]map[string]interface{})

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return nil, fmt.Errorf("failed to read watermarks: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse watermarks: %w", err)
	}
	return doc, nil
}

// save writes through a temp file so a crash never leaves a torn document
func (f *FileStore) save(doc map[string]map[string]interface{}) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal watermarks: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write watermarks: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace watermarks: %w", err)
	}
	return nil
}

func stringField(fields map[string]interface{}, key string) string {
	s, _ := fields[key].(string)
	return s
}

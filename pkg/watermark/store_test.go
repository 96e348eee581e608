package watermark

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-inbox/pkg/constants"
	"whatsapp-inbox/pkg/sqlitedb"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func backends(t *testing.T) map[string]Store {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "watermarks.json"))
	require.NoError(t, err)

	db, err := sqlitedb.Open(sqlitedb.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"redis":  NewRedisStore(setupTestRedis(t), logger),
		"sqlite": NewSQLiteStore(db),
	}
}

func TestStore_AbsentWatermarkIsDefault(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			wm, err := store.Read(context.Background(), "15550001")
			require.NoError(t, err)
			assert.Equal(t, "15550001", wm.CustomerID)
			assert.True(t, wm.LastSeenIncomingAt.IsZero())
			assert.False(t, wm.Seen(time.Now()))
		})
	}
}

func TestStore_WriteThenRead(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2026, 3, 1, 10, 0, 0, 987654321, time.UTC)

			require.NoError(t, store.Write(ctx, "15550001", at))

			wm, err := store.Read(ctx, "15550001")
			require.NoError(t, err)
			assert.True(t, wm.LastSeenIncomingAt.Equal(at))
			assert.False(t, wm.UpdatedAt.IsZero())
			assert.True(t, wm.Seen(at))
			assert.False(t, wm.Seen(at.Add(time.Nanosecond)))

			other, err := store.Read(ctx, "15550002")
			require.NoError(t, err)
			assert.True(t, other.LastSeenIncomingAt.IsZero())
		})
	}
}

// The store itself is a blind upsert; regression protection is the caller's job
func TestStore_WriteIsBlindUpsert(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			later := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			earlier := later.Add(-time.Hour)

			require.NoError(t, store.Write(ctx, "c", later))
			require.NoError(t, store.Write(ctx, "c", earlier))

			wm, err := store.Read(ctx, "c")
			require.NoError(t, err)
			assert.True(t, wm.LastSeenIncomingAt.Equal(earlier))
		})
	}
}

func TestFileStore_MergesExistingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermarks.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"c":{"pinned":true,"last_seen_incoming_at":"2026-01-01T00:00:00Z"}}`), 0o644))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Write(context.Background(), "c", at))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, true, doc["c"]["pinned"])
	assert.Equal(t, "2026-03-01T10:00:00Z", doc["c"][constants.FieldLastSeenIncomingAt])
}

func TestRedisStore_MergesExistingFields(t *testing.T) {
	rdb := setupTestRedis(t)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := NewRedisStore(rdb, logger)
	ctx := context.Background()

	require.NoError(t, rdb.HSet(ctx, constants.WatermarkKey("c"), "pinned", "1").Err())
	require.NoError(t, store.Write(ctx, "c", time.Now()))

	pinned, err := rdb.HGet(ctx, constants.WatermarkKey("c"), "pinned").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", pinned)
}

func TestFileStore_CorruptDocumentIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermarks.json")
	require.NoError(t, os.WriteFile(path, []byte(`{oops`), 0o644))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = store.Read(context.Background(), "c")
	assert.Error(t, err)
}

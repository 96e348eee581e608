package logstore

import (
	"context"
	"fmt"
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
	"whatsapp-inbox/pkg/models"
	"whatsapp-inbox/pkg/sqlitedb"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sqlitedb.Open(sqlitedb.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// backends returns a fresh instance of every Store implementation
func backends(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	rdb, _ := setupTestRedis(t)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"redis":  NewRedisStore(rdb, testLogger()),
		"sqlite": openTestSQLite(t),
	}
}

func record(customerID string, dir models.Direction, at time.Time, body string) models.EventRecord {
	return models.EventRecord{
		Direction:  dir,
		CustomerID: customerID,
		OccurredAt: at,
		Kind:       models.KindText,
		Body:       body,
		Tags:       []string{},
	}
}

func bodies(records []models.EventRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Body
	}
	return out
}

func TestStore_ReadTailReturnsAppendOrderTruncated(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

			for i := 0; i < 5; i++ {
				dir := models.DirectionIncoming
				if i%2 == 1 {
					dir = models.DirectionOutgoing
				}
				err := store.Append(ctx, record("15550001", dir, base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("m%d", i)))
				require.NoError(t, err)
			}

			all, err := store.ReadTail(ctx, "15550001", 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, bodies(all))

			last, err := store.ReadTail(ctx, "15550001", 3)
			require.NoError(t, err)
			assert.Equal(t, []string{"m2", "m3", "m4"}, bodies(last))

			assert.Equal(t, models.DirectionOutgoing, last[1].Direction)
			assert.True(t, last[2].OccurredAt.Equal(base.Add(4*time.Minute)))
			assert.NotEmpty(t, last[0].ID, "append assigns a record id")
		})
	}
}

func TestStore_MissingCustomerIsEmpty(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			records, err := store.ReadTail(context.Background(), "nobody", 50)
			require.NoError(t, err)
			assert.NotNil(t, records)
			assert.Empty(t, records)

			none, err := store.ReadTail(context.Background(), "nobody", 0)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStore_AppendRejectsRecordWithoutCustomer(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Append(context.Background(), record("", models.DirectionIncoming, time.Now(), "x"))
			assert.ErrorIs(t, err, ErrMissingCustomer)
		})
	}
}

func TestStore_CustomersAndDayLog(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			day1 := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
			day2 := day1.Add(2 * time.Hour)

			require.NoError(t, store.Append(ctx, record("111", models.DirectionIncoming, day1, "a")))
			require.NoError(t, store.Append(ctx, record("222", models.DirectionIncoming, day1.Add(time.Minute), "b")))
			require.NoError(t, store.Append(ctx, record("111", models.DirectionOutgoing, day2, "c")))

			customers, err := store.Customers(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"111", "222"}, customers)

			first, err := store.ReadDay(ctx, day1, 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, bodies(first))

			second, err := store.ReadDay(ctx, day2, 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"c"}, bodies(second))

			limited, err := store.ReadDay(ctx, day1, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, bodies(limited))

			empty, err := store.ReadDay(ctx, day1.AddDate(0, 0, -5), 10)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestStore_RecordFieldsSurvive(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := models.EventRecord{
				Direction:         models.DirectionIncoming,
				CustomerID:        "15550009",
				DisplayName:       "Ana",
				OccurredAt:        time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC),
				Kind:              models.KindImage,
				Body:              "photo of the box",
				Tags:              []string{"logistics"},
				Media:             &models.MediaRef{ID: "media-1", MimeType: "image/jpeg"},
				ExternalMessageID: "wamid.1",
				Raw:               []byte(`{"id":"wamid.1"}`),
			}
			require.NoError(t, store.Append(ctx, rec))

			got, err := store.ReadTail(ctx, rec.CustomerID, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)

			assert.Equal(t, "Ana", got[0].DisplayName)
			assert.Equal(t, models.KindImage, got[0].Kind)
			assert.Equal(t, []string{"logistics"}, got[0].Tags)
			assert.Equal(t, "media-1", got[0].Media.ID)
			assert.Equal(t, "wamid.1", got[0].ExternalMessageID)
			assert.JSONEq(t, `{"id":"wamid.1"}`, string(got[0].Raw))
			assert.True(t, got[0].OccurredAt.Equal(rec.OccurredAt), "timestamps keep full precision")
		})
	}
}

func TestFileStore_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, record("333", models.DirectionIncoming, at, "first")))

	path := filepath.Join(dir, customersDir, "333"+logExt)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n{\"body\":\"no customer\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.Append(ctx, record("333", models.DirectionIncoming, at.Add(time.Minute), "second")))

	records, err := store.ReadTail(ctx, "333", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, bodies(records))
}

func TestFileStore_EscapesCustomerFileNames(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, record("../escape", models.DirectionIncoming, time.Now(), "x")))

	_, err = os.Stat(filepath.Join(dir, customersDir, "%2E%2E%2Fescape"+logExt))
	assert.NoError(t, err)

	customers, err := store.Customers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"../escape"}, customers)
}

func TestFileStore_DistinctIDsKeepDistinctLogs(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, record("a.b", models.DirectionIncoming, at, "dot")))
	require.NoError(t, store.Append(ctx, record("a_b", models.DirectionIncoming, at, "underscore")))
	require.NoError(t, store.Append(ctx, record("a%2Eb", models.DirectionIncoming, at, "percent")))

	for id, body := range map[string]string{"a.b": "dot", "a_b": "underscore", "a%2Eb": "percent"} {
		records, err := store.ReadTail(ctx, id, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{body}, bodies(records), id)
	}

	customers, err := store.Customers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.b", "a_b", "a%2Eb"}, customers)
}

func TestRedisStore_SkipsMalformedEntries(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	store := NewRedisStore(rdb, testLogger())
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, record("444", models.DirectionIncoming, at, "ok")))
	require.NoError(t, rdb.RPush(ctx, constants.CustomerLogKey("444"), "garbage").Err())

	records, err := store.ReadTail(ctx, "444", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, bodies(records))
}

func TestRedisStore_CustomersMostRecentFirst(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	store := NewRedisStore(rdb, testLogger())
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, record("old", models.DirectionIncoming, at, "x")))
	require.NoError(t, store.Append(ctx, record("new", models.DirectionIncoming, at.Add(time.Hour), "y")))

	customers, err := store.Customers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, customers)
}

func TestSQLiteStore_SkipsMalformedPayloads(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, record("555", models.DirectionIncoming, at, "ok")))
	_, err := store.db.Exec(`
		INSERT INTO event_records (record_id, customer_id, day, direction, occurred_at, payload)
		VALUES ('bad', '555', '2026-03-01', 'incoming', '2026-03-01T10:01:00Z', '{broken')
	`)
	require.NoError(t, err)

	records, err := store.ReadTail(ctx, "555", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, bodies(records))
}

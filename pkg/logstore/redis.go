package logstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"whatsapp-inbox/pkg/constants"
	"whatsapp-inbox/pkg/models"
)

const streamRecordField = "record"

// RedisStore keeps each customer's log in a LIST, each day's log in a
// STREAM, and a ZSET of customers scored by last append time.
type RedisStore struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

func NewRedisStore(rdb *redis.Client, logger *logrus.Logger) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		logger: logger,
	}
}

func (s *RedisStore) Append(ctx context.Context, rec models.EventRecord) error {
	rec, err := prepare(rec)
	if err != nil {
		return err
	}

	data, err := encode(rec)
	if err != nil {
		return err
	}

	// Pipeline so the three writes share one round trip
	pipe := s.rdb.Pipeline()

	pipe.RPush(ctx, constants.CustomerLogKey(rec.CustomerID), data)

	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: constants.DayLogKey(constants.DayOf(rec.OccurredAt)),
		Values: map[string]interface{}{
			"customer_id":     rec.CustomerID,
			"direction":       string(rec.Direction),
			streamRecordField: string(data),
		},
	})

	pipe.ZAdd(ctx, constants.CustomersIndexKey, &redis.Z{
		Score:  float64(rec.OccurredAt.UnixMilli()),
		Member: rec.CustomerID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append event record: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"customer_id": rec.CustomerID,
		"record_id":   rec.ID,
		"direction":   rec.Direction,
	}).Debug("Appended event record")

	return nil
}

func (s *RedisStore) ReadTail(ctx context.Context, customerID string, n int) ([]models.EventRecord, error) {
	if n <= 0 || customerID == "" {
		return []models.EventRecord{}, nil
	}

	entries, err := s.rdb.LRange(ctx, constants.CustomerLogKey(customerID), int64(-n), -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []models.EventRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read customer log: %w", err)
	}

	t := newTail(n)
	for _, entry := range entries {
		t.add([]byte(entry))
	}
	return t.result(s.logger, logrus.Fields{"customer_id": customerID}), nil
}

func (s *RedisStore) ReadDay(ctx context.Context, day time.Time, n int) ([]models.EventRecord, error) {
	if n <= 0 {
		return []models.EventRecord{}, nil
	}

	name := constants.DayOf(day)
	messages, err := s.rdb.XRevRangeN(ctx, constants.DayLogKey(name), "+", "-", int64(n)).Result()
	if err != nil {
		if err == redis.Nil {
			return []models.EventRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read day log: %w", err)
	}

	t := newTail(n)
	// XREVRANGE is newest first
	for i := len(messages) - 1; i >= 0; i-- {
		raw, _ := messages[i].Values[streamRecordField].(string)
		t.add([]byte(raw))
	}
	return t.result(s.logger, logrus.Fields{"day": name}), nil
}

// Customers returns customer ids, most recently active first
func (s *RedisStore) Customers(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.ZRevRange(ctx, constants.CustomersIndexKey, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return ids, nil
}

// Close is a no-op; the client is owned by the caller
func (s *RedisStore) Close() error {
	return nil
}

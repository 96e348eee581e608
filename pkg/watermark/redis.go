package watermark

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"whatsapp-inbox/pkg/constants"
	"whatsapp-inbox/pkg/models"
)

// RedisStore keeps each watermark in a HASH; HSET only touches the fields
// it names, which gives the merge-on-write behaviour for free.
type RedisStore struct {
	rdb    *redis.Client
	logger *logrus.Logger
	now    func() time.Time
}

func NewRedisStore(rdb *redis.Client, logger *logrus.Logger) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		logger: logger,
		now:    time.Now,
	}
}

func (s *RedisStore) Read(ctx context.Context, customerID string) (models.Watermark, error) {
	wm := models.Watermark{CustomerID: customerID}

	fields, err := s.rdb.HGetAll(ctx, constants.WatermarkKey(customerID)).Result()
	if err != nil {
		if err == redis.Nil {
			return wm, nil
		}
		return models.Watermark{}, fmt.Errorf("failed to read watermark: %w", err)
	}

	if wm.LastSeenIncomingAt, err = parseTime(fields[constants.FieldLastSeenIncomingAt]); err != nil {
		return models.Watermark{}, err
	}
	wm.UpdatedAt, _ = parseTime(fields[constants.FieldUpdatedAt])
	return wm, nil
}

func (s *RedisStore) Write(ctx context.Context, customerID string, lastSeenIncomingAt time.Time) error {
	err := s.rdb.HSet(ctx, constants.WatermarkKey(customerID),
		constants.FieldLastSeenIncomingAt, formatTime(lastSeenIncomingAt),
		constants.FieldUpdatedAt, formatTime(s.now()),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"customer_id":           customerID,
		"last_seen_incoming_at": lastSeenIncomingAt,
	}).Debug("Wrote watermark")

	return nil
}

func (s *RedisStore) Close() error {
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"whatsapp-inbox/pkg/config"
	"whatsapp-inbox/pkg/constants"
	"whatsapp-inbox/pkg/logstore"
	redisClient "whatsapp-inbox/pkg/redis"
	"whatsapp-inbox/pkg/sqlitedb"
	"whatsapp-inbox/pkg/watermark"
)

// Stores is the log/watermark pair for one backend plus whatever
// connection they share
type Stores struct {
	Backend    string
	Logs       logstore.Store
	Watermarks watermark.Store

	// Ping reports backend health; nil for backends without a connection
	Ping func(ctx context.Context) error

	closers []func() error
}

// Open builds the stores selected by cfg.StoreBackend
func Open(cfg *config.Config, logger *logrus.Logger) (*Stores, error) {
	stores := &Stores{Backend: cfg.StoreBackend}

	switch cfg.StoreBackend {
	case constants.BackendMemory:
		stores.Logs = logstore.NewMemoryStore()
		stores.Watermarks = watermark.NewMemoryStore()

	case constants.BackendFile:
		logs, err := logstore.NewFileStore(cfg.DataDir, logger)
		if err != nil {
			return nil, err
		}
		wms, err := watermark.NewFileStore(cfg.WatermarkFile())
		if err != nil {
			return nil, err
		}
		stores.Logs, stores.Watermarks = logs, wms

	case constants.BackendRedis:
		client, err := redisClient.NewClient(redisClient.DefaultConnectionConfig(cfg.RedisURL), logger)
		if err != nil {
			return nil, err
		}
		stores.Logs = logstore.NewRedisStore(client.Redis(), logger)
		stores.Watermarks = watermark.NewRedisStore(client.Redis(), logger)
		stores.Ping = client.Ping
		stores.closers = append(stores.closers, client.Close)

	case constants.BackendSQLite:
		db, err := sqlitedb.Open(cfg.SQLiteFile())
		if err != nil {
			return nil, err
		}
		logs, err := logstore.NewSQLiteStore(db, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		stores.Logs = logs
		stores.Watermarks = watermark.NewSQLiteStore(db)
		stores.Ping = db.PingContext
		stores.closers = append(stores.closers, db.Close)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	logger.WithField("backend", cfg.StoreBackend).Info("Opened inbox storage")
	return stores, nil
}

// Close closes the stores, then the shared connection
func (s *Stores) Close() error {
	var errs []error
	if s.Logs != nil {
		errs = append(errs, s.Logs.Close())
	}
	if s.Watermarks != nil {
		errs = append(errs, s.Watermarks.Close())
	}
	for _, closer := range s.closers {
		errs = append(errs, closer())
	}
	return errors.Join(errs...)
}

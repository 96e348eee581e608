package constants

import "time"

// Window and limit defaults for summary and chat reads
const (
	// DefaultSummaryWindow - records folded into each customer summary
	DefaultSummaryWindow = 400

	// DefaultMessageLimit - records returned by a chat view
	DefaultMessageLimit = 300

	// DefaultMaxWindow - upper bound any requested window is clamped to
	DefaultMaxWindow = 2000

	// DefaultAuditLimit - records returned by a per-day audit read
	DefaultAuditLimit = 500
)

// Redis key prefixes and names
const (
	CustomerLogKeyPrefix = "inbox:log:"
	DayLogKeyPrefix      = "inbox:day:"
	WatermarkKeyPrefix   = "inbox:watermark:"
	CustomersIndexKey    = "inbox:customers"
)

// Watermark hash fields
const (
	FieldLastSeenIncomingAt = "last_seen_incoming_at"
	FieldUpdatedAt          = "updated_at"
)

// Storage backends
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Configuration environment variable names
const (
	EnvConfigFile    = "CONFIG_FILE"
	EnvPort          = "PORT"
	EnvLogLevel      = "LOG_LEVEL"
	EnvRedisURL      = "REDIS_URL"
	EnvStoreBackend  = "STORE_BACKEND"
	EnvDataDir       = "DATA_DIR"
	EnvSQLitePath    = "SQLITE_PATH"
	EnvVerifyToken   = "WEBHOOK_VERIFY_TOKEN"
	EnvAppSecret     = "WHATSAPP_APP_SECRET"
	EnvSummaryWindow = "SUMMARY_WINDOW"
	EnvMessageLimit  = "MESSAGE_LIMIT"
	EnvMaxWindow     = "MAX_WINDOW"
	EnvInstanceID    = "INSTANCE_ID"
	EnvShutdownMS    = "SHUTDOWN_TIMEOUT_MS"
)

// DayLayout is the calendar-day format used for per-day log names
const DayLayout = "2006-01-02"

// DayOf returns the UTC calendar day a timestamp belongs to
func DayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// CustomerLogKey returns the Redis list holding a customer's records
func CustomerLogKey(customerID string) string {
	return CustomerLogKeyPrefix + customerID
}

// DayLogKey returns the Redis stream holding a day's records
func DayLogKey(day string) string {
	return DayLogKeyPrefix + day
}

// WatermarkKey returns the Redis hash holding a customer's watermark
func WatermarkKey(customerID string) string {
	return WatermarkKeyPrefix + customerID
}

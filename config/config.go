package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"sage-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"sage"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`
	DatabaseMigrateOnStart        bool          `env:"DB_MIGRATE_ON_START" env-default:"true"`

	// Auth Enabled - when false, X-Tenant-ID and X-User-ID headers are trusted
	AuthEnabled   bool   `env:"AUTH_ENABLED" env-default:"false"`
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	AuthClientID  string `env:"AUTH_CLIENT_ID" env-default:""`

	// Redis
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Kafka
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaPostingsTopic   string   `env:"KAFKA_POSTINGS_TOPIC" env-default:"parsed-postings"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"sage-postings"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`
	KafkaEventsTopic     string   `env:"KAFKA_EVENTS_TOPIC" env-default:"dispatch-events"`
	KafkaBatchSize       int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout    int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks    int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression     string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Matching
	EquipmentMatrixPath string `env:"EQUIPMENT_MATRIX_PATH" env-default:""`

	// Postings
	PostingUpdateLookback time.Duration `env:"POSTING_UPDATE_LOOKBACK" env-default:"72h"`
	// Optional JMESPath overrides for parser output fields, "field=expression" pairs
	PostingFieldMappings []string `env:"POSTING_FIELD_MAPPINGS" env-default:""`

	// Booking
	BookingLockTTL             time.Duration `env:"BOOKING_LOCK_TTL" env-default:"30s"`
	BookingSequenceMaxRetries  int           `env:"BOOKING_SEQUENCE_MAX_RETRIES" env-default:"5"`
	LoadNumberTimezone         string        `env:"LOAD_NUMBER_TIMEZONE" env-default:"UTC"`
	BookingAutoApprovedStatus  string        `env:"BOOKING_AUTO_APPROVED_STATUS" env-default:"pending_dispatch"`
	BookingNeedsApprovalStatus string        `env:"BOOKING_NEEDS_APPROVAL_STATUS" env-default:"available"`

	// Invoice reversal policy
	InvoiceReversalRestoreLoadStatus  bool   `env:"INVOICE_REVERSAL_RESTORE_LOAD_STATUS" env-default:"false"`
	InvoiceReversalRestoredLoadStatus string `env:"INVOICE_REVERSAL_RESTORED_LOAD_STATUS" env-default:"pending_dispatch"`

	// Scheduler
	SchedulerEnabled          bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
	SweepInterval             time.Duration `env:"SWEEP_INTERVAL" env-default:"30s"`
	SweepBatchSize            int           `env:"SWEEP_BATCH_SIZE" env-default:"500"`
	ProjectionRefreshInterval time.Duration `env:"PROJECTION_REFRESH_INTERVAL" env-default:"15s"`

	// Tracing
	OTLPEnabled  bool   `env:"OTLP_ENABLED" env-default:"false"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure bool   `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to read configuration from environment")
	}

	if _, err := time.LoadLocation(cfg.LoadNumberTimezone); err != nil {
		return cfg, errors.Wrapf(err, "invalid LOAD_NUMBER_TIMEZONE %q", cfg.LoadNumberTimezone)
	}

	return cfg, nil
}

// DSN builds the lib/pq connection string.
func (c Config) DSN() string {
	return "host=" + c.DatabaseHost +
		" port=" + c.DatabasePort +
		" user=" + c.DatabaseUserName +
		" password=" + c.DatabasePassword +
		" dbname=" + c.DatabaseName +
		" sslmode=" + c.DatabaseSSLMode
}

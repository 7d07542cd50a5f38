package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.SweepBatchSize)
	assert.Equal(t, 5, cfg.BookingSequenceMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.BookingLockTTL)
	assert.False(t, cfg.InvoiceReversalRestoreLoadStatus)
	assert.Equal(t, "pending_dispatch", cfg.InvoiceReversalRestoredLoadStatus)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("INVOICE_REVERSAL_RESTORE_LOAD_STATUS", "true")
	t.Setenv("LOAD_NUMBER_TIMEZONE", "America/Chicago")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.True(t, cfg.InvoiceReversalRestoreLoadStatus)
	assert.Equal(t, "America/Chicago", cfg.LoadNumberTimezone)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	t.Setenv("LOAD_NUMBER_TIMEZONE", "Mars/Olympus_Mons")

	_, err := Load()
	assert.ErrorContains(t, err, "LOAD_NUMBER_TIMEZONE")
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{
		DatabaseHost:     "db",
		DatabasePort:     "5432",
		DatabaseUserName: "sage",
		DatabasePassword: "secret",
		DatabaseName:     "sage",
		DatabaseSSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5432 user=sage password=secret dbname=sage sslmode=disable", cfg.DSN())
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerURL     string
	SigningSecret string
	DeviceType    string
	LocalAPIURL   string

	DatabasePath      string
	QueueSnapshotPath string
	ChannelsFile      string
	UpdateScript      string
	SoftwareVersion   string
	ServiceUnit       string

	HeartbeatInterval     time.Duration
	InternetCheckInterval time.Duration
	TokenCheckInterval    time.Duration
	RecoveryCooldown      time.Duration
	ProbeTimeout          time.Duration

	TokenRenewalThresholdDays int

	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	RetryAttempts    int

	AckTimeout    time.Duration
	AckRetryDelay time.Duration
	AckMaxRetries int

	QueueMaxMessages int

	SampleInterval     time.Duration
	AggregationWindow  int
	PartitionRecheck   time.Duration
	SyncAckTimeout     time.Duration
	SyncMaxRecords     int
	SyncMaxAttempts    int
	AlarmCheckInterval time.Duration

	TerminalSessionTimeout time.Duration
	SSHAccessDefault       time.Duration
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		ServerURL:     getEnv("SERVER_URL", ""),
		SigningSecret: getEnv("SIGNING_SECRET", ""),
		DeviceType:    getEnv("DEVICE_TYPE", "dm2500i"),
		LocalAPIURL:   getEnv("LOCAL_API_URL", "http://localhost:3003/api/v1"),

		DatabasePath:      getEnv("DATABASE_PATH", "dryerlink.db"),
		QueueSnapshotPath: getEnv("QUEUE_SNAPSHOT_PATH", ".offline_queue.json"),
		ChannelsFile:      getEnv("CHANNELS_FILE", ""),
		UpdateScript:      getEnv("UPDATE_SCRIPT", "/opt/device/scripts/update.sh"),
		SoftwareVersion:   getEnv("SOFTWARE_VERSION", "dev"),
		ServiceUnit:       getEnv("SERVICE_UNIT", "dryerlink.service"),

		HeartbeatInterval:     getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		InternetCheckInterval: getEnvDuration("INTERNET_CHECK_INTERVAL", 10*time.Second),
		TokenCheckInterval:    getEnvDuration("TOKEN_CHECK_INTERVAL", 24*time.Hour),
		RecoveryCooldown:      getEnvDuration("RECOVERY_COOLDOWN", 30*time.Second),
		ProbeTimeout:          getEnvDuration("PROBE_TIMEOUT", 3*time.Second),

		TokenRenewalThresholdDays: getEnvInt("TOKEN_RENEWAL_THRESHOLD_DAYS", 30),

		RetryBackoffBase: getEnvDuration("RETRY_BACKOFF_BASE", time.Second),
		RetryBackoffMax:  getEnvDuration("RETRY_BACKOFF_MAX", 30*time.Second),
		RetryAttempts:    getEnvInt("RETRY_ATTEMPTS", 5),

		AckTimeout:    getEnvDuration("ACK_TIMEOUT", 30*time.Second),
		AckRetryDelay: getEnvDuration("ACK_RETRY_DELAY", 5*time.Second),
		AckMaxRetries: getEnvInt("ACK_MAX_RETRIES", 3),

		QueueMaxMessages: getEnvInt("QUEUE_MAX_MESSAGES", 5000),

		SampleInterval:     getEnvDuration("SAMPLE_INTERVAL", time.Second),
		AggregationWindow:  getEnvInt("AGGREGATION_WINDOW_SAMPLES", 60),
		PartitionRecheck:   getEnvDuration("PARTITION_RECHECK_INTERVAL", time.Hour),
		SyncAckTimeout:     getEnvDuration("SYNC_ACK_TIMEOUT", 2*time.Minute),
		SyncMaxRecords:     getEnvInt("SYNC_MAX_RECORDS", 200),
		SyncMaxAttempts:    getEnvInt("SYNC_MAX_ATTEMPTS", 3),
		AlarmCheckInterval: getEnvDuration("ALARM_CHECK_INTERVAL", 5*time.Second),

		TerminalSessionTimeout: getEnvDuration("TERMINAL_SESSION_TIMEOUT", 30*time.Minute),
		SSHAccessDefault:       getEnvDuration("SSH_ACCESS_DEFAULT", 5*time.Minute),
	}

	if config.ServerURL == "" {
		return nil, fmt.Errorf("SERVER_URL is required")
	}
	if config.SigningSecret == "" {
		return nil, fmt.Errorf("SIGNING_SECRET is required")
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

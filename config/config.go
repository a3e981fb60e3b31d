package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubCipherKey    string
	PayoutChannel      string

	// Lifecycle timers
	GracePeriod   time.Duration // show stopped -> show ended
	EscrowPeriod  time.Duration // show ended -> show finalized
	PaymentPeriod time.Duration // unconfirmed payment wait before refund retry

	// Queue configuration
	WorkerConcurrency int
	MaxJobAttempts    int
	PromoteInterval   time.Duration

	// Payment processor
	PaymentAPIURL         string
	PaymentAuthToken      string
	PaymentStoreID        string
	PayoutNotificationURL string
	WebhookBaseURL        string
	AuthSalt              string

	// Webhook server
	WebhookPort string

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubCipherKey:    getEnv("PUBNUB_CIPHER_KEY", ""),
		PayoutChannel:      getEnv("PAYOUT_CHANNEL", "payout-updates"),

		// Timers
		GracePeriod:   getEnvAsDuration("GRACE_PERIOD", "10m"),
		EscrowPeriod:  getEnvAsDuration("ESCROW_PERIOD", "6m"),
		PaymentPeriod: getEnvAsDuration("PAYMENT_PERIOD", "100m"),

		// Queue
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
		MaxJobAttempts:    getEnvAsInt("MAX_JOB_ATTEMPTS", 5),
		PromoteInterval:   getEnvAsDuration("PROMOTE_INTERVAL", "1s"),

		// Payment processor
		PaymentAPIURL:         getEnv("PAYMENT_API_URL", "http://localhost:8091"),
		PaymentAuthToken:      getEnv("PAYMENT_AUTH_TOKEN", ""),
		PaymentStoreID:        getEnv("PAYMENT_STORE_ID", ""),
		PayoutNotificationURL: getEnv("PAYOUT_NOTIFICATION_URL", ""),
		WebhookBaseURL:        getEnv("WEBHOOK_BASE_URL", "http://localhost:8092"),
		AuthSalt:              getEnv("AUTH_SALT", ""),

		// Webhook server
		WebhookPort: getEnv("WEBHOOK_PORT", "8092"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

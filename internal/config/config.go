package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	Environment        string `envconfig:"ENV" default:"development"`
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING"`
	// StorageBackend selects "postgres" or "memory". Memory is for local runs only.
	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"postgres"`
	JWTSecret      string `envconfig:"JWT_SECRET" required:"true"`

	// Plan defaults
	FreeMessageLimit  int    `envconfig:"FREE_MESSAGE_LIMIT" default:"100"`
	FreeDocumentLimit int    `envconfig:"FREE_DOCUMENT_LIMIT" default:"10"`
	MonthlyPrice      string `envconfig:"MONTHLY_PRICE" default:"9.99"`
	Currency          string `envconfig:"CURRENCY" default:"usd"`
	LTVMonths         int    `envconfig:"LTV_MONTHS" default:"3"`

	// Stripe settings
	StripeSecretKey         string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret     string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeWebhookSecretName string `envconfig:"STRIPE_WEBHOOK_SECRET_NAME"`
	StripePriceMonthly      string `envconfig:"STRIPE_PRICE_MONTHLY"`
	StripeReturnURL         string `envconfig:"STRIPE_RETURN_URL" default:"http://localhost:3000/billing"`

	// Plan transition settings
	PaymentVerifyTimeoutSec int `envconfig:"PAYMENT_VERIFY_TIMEOUT_SEC" default:"10"`
	TransitionLockTTLSec    int `envconfig:"TRANSITION_LOCK_TTL_SEC" default:"30"`
	TransitionLockWaitMs    int `envconfig:"TRANSITION_LOCK_WAIT_MS" default:"2000"`
	ExpiryGraceHours        int `envconfig:"EXPIRY_GRACE_HOURS" default:"6"`

	// Redis settings
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// GCP settings
	GCPProjectIDLocal       string `envconfig:"GCP_PROJECT_ID_LOCAL"`
	GCPProjectIDProduction  string `envconfig:"GCP_PROJECT_ID_PRODUCTION"`
	GCPCredentialsFile      string `envconfig:"GCP_CREDENTIALS_FILE"`
	PubSubEmulatorHost      string `envconfig:"PUBSUB_EMULATOR_HOST"`
	PubSubConversionTopic   string `envconfig:"PUBSUB_CONVERSION_TOPIC" default:"plan-conversions"`
	PubSubPublishTimeoutSec int    `envconfig:"PUBSUB_PUBLISH_TIMEOUT_SEC" default:"5"`

	// Usage bookkeeping settings
	UsageWriteAttempts       int    `envconfig:"USAGE_WRITE_ATTEMPTS" default:"3"`
	UsageWriteBackoffMs      int    `envconfig:"USAGE_WRITE_BACKOFF_MS" default:"50"`
	UsageRetryQueueName      string `envconfig:"USAGE_RETRY_QUEUE_NAME" default:"usage_retry_queue"`
	UsageDeadLetterQueueName string `envconfig:"USAGE_DEAD_LETTER_QUEUE_NAME" default:"usage_retry_queue_dlq"`
	ReconcilePollTimeoutSec  int    `envconfig:"RECONCILE_POLL_TIMEOUT_SEC" default:"30"`
	ReconcilePollMaxMsg      int    `envconfig:"RECONCILE_POLL_MAX_MSG" default:"10"`
	ReconcileVisibilitySec   int    `envconfig:"RECONCILE_VISIBILITY_SEC" default:"60"`
	ReconcileMaxRetries      int    `envconfig:"RECONCILE_MAX_RETRIES" default:"5"`
	ReconcileBackoffInitSec  int    `envconfig:"RECONCILE_BACKOFF_INITIAL_SEC" default:"1"`
	ReconcileBackoffMaxSec   int    `envconfig:"RECONCILE_BACKOFF_MAX_SEC" default:"60"`

	// Scheduler settings
	SweepSchedule  string `envconfig:"SWEEP_SCHEDULE" default:"@every 1h"`
	ExportSchedule string `envconfig:"EXPORT_SCHEDULE" default:"0 2 * * *"`
	ExportRange    string `envconfig:"EXPORT_RANGE" default:"30d"`

	// S3 compatible storage for analytics exports
	S3URL       string `envconfig:"S3_URL"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Prefix    string `envconfig:"S3_PREFIX" default:"analytics"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetGCPProjectID returns the project for the current environment.
func (c *Config) GetGCPProjectID() string {
	if c.Environment == "production" {
		return c.GCPProjectIDProduction
	}
	return c.GCPProjectIDLocal
}

func (c *Config) PaymentVerifyTimeout() time.Duration {
	return time.Duration(c.PaymentVerifyTimeoutSec) * time.Second
}

func (c *Config) TransitionLockTTL() time.Duration {
	return time.Duration(c.TransitionLockTTLSec) * time.Second
}

func (c *Config) TransitionLockWait() time.Duration {
	return time.Duration(c.TransitionLockWaitMs) * time.Millisecond
}

func (c *Config) ExpiryGrace() time.Duration {
	return time.Duration(c.ExpiryGraceHours) * time.Hour
}

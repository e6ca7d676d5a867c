package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mesapay/chatpay/pkg/logger"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config holds every environment-driven setting of the engine.
// Only this struct must be used to hold configuration values, no direct
// access to env, ini or any other config source should be made.
type Config struct {
	AppEnv              string `env:"APP_ENV" default:"dev"`
	AppName             string `env:"APP_NAME" default:"chatpay"`
	AppDebug            bool   `env:"APP_DEBUG" default:"1"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI"`

	HttpListenAddr         string `env:"HTTP_LISTEN_ADDR" validation:"mustExists"`
	HttpServerReadTimeout  int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	LogLevel []string `env:"LOG_LEVEL"`

	QueueName              string        `env:"QUEUE_NAME" default:"chatpay:events"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP" default:"engine"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME" default:"engine"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ"`

	// Collaborator endpoints.
	PaymentGatewayURL    string `env:"PAYMENT_GATEWAY_URL"`
	PaymentGatewayToken  string `env:"PAYMENT_GATEWAY_TOKEN"`
	PaymentGatewaySecret string `env:"PAYMENT_GATEWAY_SECRET"`
	OrderServiceURL      string `env:"ORDER_SERVICE_URL"`
	MessengerURL         string `env:"MESSENGER_URL"`
	MessengerToken       string `env:"MESSENGER_TOKEN"`

	// Source addresses allowed to deliver gateway callbacks. Everything
	// else is rejected before signature checks.
	CallbackAllowedIPs []string `env:"CALLBACK_ALLOWED_IPS"`

	// Flow timing knobs.
	EventMaxAge              time.Duration `env:"EVENT_MAX_AGE" default:"30s"`
	ClaimInactivityThreshold time.Duration `env:"CLAIM_INACTIVITY_THRESHOLD" default:"5m"`
	PixExpiry                time.Duration `env:"PIX_EXPIRY" default:"10m"`
	PaymentReminderAge       time.Duration `env:"PAYMENT_REMINDER_AGE" default:"10m"`
	CheckInThreshold         time.Duration `env:"CHECKIN_THRESHOLD" default:"5m"`
	AbandonThreshold         time.Duration `env:"ABANDON_THRESHOLD" default:"30m"`
	ActivityWindow           time.Duration `env:"ACTIVITY_WINDOW" default:"2h"`
	SweepInterval            time.Duration `env:"SWEEP_INTERVAL" default:"15s"`

	// Retry/escalation policy for collaborator calls.
	RetryMaxAttempts   int           `env:"RETRY_MAX_ATTEMPTS" default:"5"`
	RetryInterval      time.Duration `env:"RETRY_INTERVAL" default:"30s"`
	RetryNotifyAttempt int           `env:"RETRY_NOTIFY_ATTEMPT" default:"3"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

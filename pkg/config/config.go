package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App         AppConfig
	Service     ServiceConfig
	DB          DBConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Stripe      StripeConfig
	Checkout    CheckoutConfig
	Orders      OrdersConfig
	Cron        CronConfig
	Idempotency IdempotencyConfig
	RateLimit   RateLimitConfig
	Outbox      OutboxConfig
	Eventing    EventingConfig
	Kafka       KafkaConfig
	GCP         GCPConfig
	Tracing     TracingConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env                string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port               string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel           string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack       bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	LogFormat          string `envconfig:"STOREFRONT_LOG_FORMAT" default:"json"`
	AutoMigrate        bool   `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
	CORSAllowedOrigins string `envconfig:"STOREFRONT_CORS_ALLOWED_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// AllowedOrigins splits the comma separated CORS origin list.
func (a AppConfig) AllowedOrigins() []string {
	origins := []string{}
	for _, origin := range strings.Split(a.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"STOREFRONT_DB_HOST"`
	Port     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	User     string `envconfig:"STOREFRONT_DB_USER"`
	Password string `envconfig:"STOREFRONT_DB_PASSWORD"`
	Name     string `envconfig:"STOREFRONT_DB_NAME"`
	SSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey             string        `envconfig:"STOREFRONT_STRIPE_API_KEY"`
	WebhookSecret      string        `envconfig:"STOREFRONT_STRIPE_WEBHOOK_SECRET"`
	Env                string        `envconfig:"STOREFRONT_STRIPE_ENV" default:"test"`
	Currency           string        `envconfig:"STOREFRONT_STRIPE_CURRENCY" default:"usd"`
	SuccessURL         string        `envconfig:"STOREFRONT_STRIPE_SUCCESS_URL" default:"http://localhost:3000/checkout/success"`
	CancelURL          string        `envconfig:"STOREFRONT_STRIPE_CANCEL_URL" default:"http://localhost:3000/checkout/cancel"`
	BreakerMaxFailures uint32        `envconfig:"STOREFRONT_STRIPE_BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `envconfig:"STOREFRONT_STRIPE_BREAKER_OPEN_TIMEOUT" default:"30s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CheckoutConfig struct {
	ReuseWindow    time.Duration `envconfig:"STOREFRONT_CHECKOUT_REUSE_WINDOW" default:"30m"`
	SessionLockTTL time.Duration `envconfig:"STOREFRONT_CHECKOUT_SESSION_LOCK_TTL" default:"30s"`
}

type OrdersConfig struct {
	PendingReclaimAfter time.Duration `envconfig:"STOREFRONT_ORDERS_PENDING_RECLAIM_AFTER" default:"24h"`
	CacheTTL            time.Duration `envconfig:"STOREFRONT_ORDERS_CACHE_TTL" default:"5m"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"5m"`
	LockTTL        time.Duration `envconfig:"STOREFRONT_CRON_LOCK_TTL" default:"4m"`
	JobTimeout     time.Duration `envconfig:"STOREFRONT_CRON_JOB_TIMEOUT" default:"1m"`
	ReconcileAfter time.Duration `envconfig:"STOREFRONT_CRON_RECONCILE_AFTER" default:"15m"`
	SweepBatchSize int           `envconfig:"STOREFRONT_CRON_SWEEP_BATCH_SIZE" default:"100"`
}

type IdempotencyConfig struct {
	TTL        time.Duration `envconfig:"STOREFRONT_IDEMPOTENCY_TTL" default:"24h"`
	WebhookTTL time.Duration `envconfig:"STOREFRONT_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

// RateLimitConfig throttles stock-reserving endpoints per caller.
type RateLimitConfig struct {
	CheckoutWindow time.Duration `envconfig:"STOREFRONT_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutLimit  int           `envconfig:"STOREFRONT_RATE_LIMIT_CHECKOUT_LIMIT" default:"10"`
}

type OutboxConfig struct {
	Sink             string `envconfig:"STOREFRONT_OUTBOX_SINK" default:"kafka"`
	BatchSize        int    `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS   int    `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts      int    `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays    int    `envconfig:"STOREFRONT_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays int    `envconfig:"STOREFRONT_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
}

func (o OutboxConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(o.Sink)) {
	case OutboxSinkKafka, OutboxSinkPubSub:
		return nil
	default:
		return fmt.Errorf("%s must be one of %q or %q", EnvOutboxSink, OutboxSinkKafka, OutboxSinkPubSub)
	}
}

// SinkName returns the normalized outbox sink.
func (o OutboxConfig) SinkName() string {
	return strings.ToLower(strings.TrimSpace(o.Sink))
}

// EventingConfig names the topics domain events are routed to, whichever sink is active.
type EventingConfig struct {
	OrdersTopic   string `envconfig:"STOREFRONT_EVENTS_ORDERS_TOPIC" default:"storefront-order-events"`
	PaymentsTopic string `envconfig:"STOREFRONT_EVENTS_PAYMENTS_TOPIC" default:"storefront-payment-events"`
}

type KafkaConfig struct {
	Brokers      string        `envconfig:"STOREFRONT_KAFKA_BROKERS" default:"localhost:9092"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_KAFKA_WRITE_TIMEOUT" default:"10s"`
}

// BrokerList splits the comma separated broker addresses.
func (k KafkaConfig) BrokerList() []string {
	brokers := []string{}
	for _, broker := range strings.Split(k.Brokers, ",") {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
}

type TracingConfig struct {
	Enabled     bool    `envconfig:"STOREFRONT_TRACING_ENABLED" default:"false"`
	Endpoint    string  `envconfig:"STOREFRONT_TRACING_ENDPOINT" default:"localhost:4318"`
	Insecure    bool    `envconfig:"STOREFRONT_TRACING_INSECURE" default:"true"`
	SampleRatio float64 `envconfig:"STOREFRONT_TRACING_SAMPLE_RATIO" default:"1"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

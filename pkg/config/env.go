package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	OutboxSinkKafka  = "kafka"
	OutboxSinkPubSub = "pubsub"
)

const (
	EnvAppEnv       = "STOREFRONT_APP_ENV"
	EnvPort         = "STOREFRONT_APP_PORT"
	EnvDBDSN        = "STOREFRONT_DB_DSN"
	EnvDBHost       = "STOREFRONT_DB_HOST"
	EnvDBUser       = "STOREFRONT_DB_USER"
	EnvDBName       = "STOREFRONT_DB_NAME"
	EnvDBPassword   = "STOREFRONT_DB_PASSWORD"
	EnvRedisURL     = "STOREFRONT_REDIS_URL"
	EnvJWTSecret    = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer    = "STOREFRONT_JWT_ISSUER"
	EnvStripeAPIKey = "STOREFRONT_STRIPE_API_KEY"
	EnvOutboxSink   = "STOREFRONT_OUTBOX_SINK"
	EnvKafkaBrokers = "STOREFRONT_KAFKA_BROKERS"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

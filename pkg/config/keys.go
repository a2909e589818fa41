package config

// EnvPrefix is handed to envconfig. Field tags carry the full variable name,
// which envconfig falls back to when the prefixed key is unset.
const EnvPrefix = "FITCOACH"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "FITCOACH_APP_ENV"
	EnvPort     = "FITCOACH_APP_PORT"
	EnvLogLevel = "FITCOACH_LOG_LEVEL"

	EnvDBDSN  = "FITCOACH_DB_DSN"
	EnvDBHost = "FITCOACH_DB_HOST"
	EnvDBUser = "FITCOACH_DB_USER"
	EnvDBName = "FITCOACH_DB_NAME"

	EnvRedisURL = "FITCOACH_REDIS_URL"

	EnvJWTSecret = "FITCOACH_JWT_SECRET"
	EnvJWTIssuer = "FITCOACH_JWT_ISSUER"

	EnvPaystackSecretKey = "FITCOACH_PAYSTACK_SECRET_KEY"
	EnvPaystackBaseURL   = "FITCOACH_PAYSTACK_BASE_URL"

	EnvCronGracePeriod = "FITCOACH_CRON_EXPIRY_GRACE_PERIOD"
	EnvCronSyncTime    = "FITCOACH_CRON_SYNC_TIME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

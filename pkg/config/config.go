package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Paystack     PaystackConfig
	Webhook      WebhookConfig
	Cron         CronConfig
	SMTP         SMTPConfig
	Twilio       TwilioConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Paystack.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FITCOACH_APP_ENV" required:"true"`
	Port         string `envconfig:"FITCOACH_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"FITCOACH_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FITCOACH_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"FITCOACH_DB_DSN"`

	LegacyHost     string `envconfig:"FITCOACH_DB_HOST"`
	LegacyPort     int    `envconfig:"FITCOACH_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FITCOACH_DB_USER"`
	LegacyPassword string `envconfig:"FITCOACH_DB_PASSWORD"`
	LegacyName     string `envconfig:"FITCOACH_DB_NAME"`
	LegacySSLMode  string `envconfig:"FITCOACH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FITCOACH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FITCOACH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FITCOACH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FITCOACH_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FITCOACH_REDIS_URL"`
	Address      string        `envconfig:"FITCOACH_REDIS_ADDR"`
	Password     string        `envconfig:"FITCOACH_REDIS_PASSWORD"`
	DB           int           `envconfig:"FITCOACH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FITCOACH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FITCOACH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FITCOACH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FITCOACH_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"FITCOACH_REDIS_WRITE_TIMEOUT" default:"3s"`
}

type JWTConfig struct {
	Secret string `envconfig:"FITCOACH_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"FITCOACH_JWT_ISSUER" default:"fitcoach"`
}

// PaystackConfig holds the processor credentials. The secret key doubles as
// the webhook signing secret.
type PaystackConfig struct {
	SecretKey   string        `envconfig:"FITCOACH_PAYSTACK_SECRET_KEY" required:"true"`
	BaseURL     string        `envconfig:"FITCOACH_PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	Timeout     time.Duration `envconfig:"FITCOACH_PAYSTACK_TIMEOUT" default:"10s"`
	CallbackURL string        `envconfig:"FITCOACH_PAYSTACK_CALLBACK_URL"`
	Currency    string        `envconfig:"FITCOACH_PAYSTACK_CURRENCY" default:"NGN"`
}

func (p PaystackConfig) validate() error {
	if _, err := url.ParseRequestURI(p.BaseURL); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvPaystackBaseURL, err)
	}
	return nil
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"FITCOACH_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	MaxBodyBytes   int64         `envconfig:"FITCOACH_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
}

type CronConfig struct {
	SyncTime       string        `envconfig:"FITCOACH_CRON_SYNC_TIME" default:"02:00"`
	ExpiryTime     string        `envconfig:"FITCOACH_CRON_EXPIRY_TIME" default:"03:00"`
	Timezone       string        `envconfig:"FITCOACH_CRON_TIMEZONE" default:"UTC"`
	LockTTL        time.Duration `envconfig:"FITCOACH_CRON_LOCK_TTL" default:"30m"`
	SyncBatchLimit int           `envconfig:"FITCOACH_CRON_SYNC_BATCH_LIMIT" default:"500"`
	GracePeriod    time.Duration `envconfig:"FITCOACH_CRON_EXPIRY_GRACE_PERIOD" default:"72h"`
}

type SMTPConfig struct {
	Host     string `envconfig:"FITCOACH_SMTP_HOST"`
	Port     int    `envconfig:"FITCOACH_SMTP_PORT" default:"587"`
	Username string `envconfig:"FITCOACH_SMTP_USERNAME"`
	Password string `envconfig:"FITCOACH_SMTP_PASSWORD"`
	From     string `envconfig:"FITCOACH_SMTP_FROM" default:"no-reply@fitcoach.app"`
}

// Enabled reports whether outbound email is configured.
func (s SMTPConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

type TwilioConfig struct {
	AccountSID string `envconfig:"FITCOACH_TWILIO_ACCOUNT_SID"`
	AuthToken  string `envconfig:"FITCOACH_TWILIO_AUTH_TOKEN"`
	FromNumber string `envconfig:"FITCOACH_TWILIO_FROM_NUMBER"`
}

func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.FromNumber != ""
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FITCOACH_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	MercadoPago   MercadoPagoConfig
	Reconciler    ReconcilerConfig
	Notifications NotificationsConfig
	FeatureFlags  FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"VERDEVIVA_APP_ENV" required:"true"`
	Port         string `envconfig:"VERDEVIVA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"VERDEVIVA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VERDEVIVA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"VERDEVIVA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"VERDEVIVA_DB_DSN"`
	Driver string `envconfig:"VERDEVIVA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"VERDEVIVA_DB_HOST"`
	LegacyPort     int    `envconfig:"VERDEVIVA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VERDEVIVA_DB_USER"`
	LegacyPassword string `envconfig:"VERDEVIVA_DB_PASSWORD"`
	LegacyName     string `envconfig:"VERDEVIVA_DB_NAME"`
	LegacySSLMode  string `envconfig:"VERDEVIVA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VERDEVIVA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VERDEVIVA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VERDEVIVA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VERDEVIVA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VERDEVIVA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"VERDEVIVA_REDIS_ADDR"`
	Password     string        `envconfig:"VERDEVIVA_REDIS_PASSWORD"`
	DB           int           `envconfig:"VERDEVIVA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VERDEVIVA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VERDEVIVA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VERDEVIVA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VERDEVIVA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VERDEVIVA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"VERDEVIVA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"VERDEVIVA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"VERDEVIVA_JWT_EXPIRATION_MINUTES" required:"true"`
}

// MercadoPagoConfig holds credentials for the payment provider API.
type MercadoPagoConfig struct {
	AccessToken    string        `envconfig:"VERDEVIVA_MP_ACCESS_TOKEN" required:"true"`
	WebhookSecret  string        `envconfig:"VERDEVIVA_MP_WEBHOOK_SECRET" required:"true"`
	BaseURL        string        `envconfig:"VERDEVIVA_MP_BASE_URL"`
	RequestTimeout time.Duration `envconfig:"VERDEVIVA_MP_REQUEST_TIMEOUT" default:"10s"`
}

// ReconcilerConfig tunes the pending-activation sweep and on-demand reconciliation.
type ReconcilerConfig struct {
	SweepInterval    time.Duration `envconfig:"VERDEVIVA_RECONCILER_SWEEP_INTERVAL" default:"15m"`
	PendingMinAge    time.Duration `envconfig:"VERDEVIVA_RECONCILER_PENDING_MIN_AGE" default:"10m"`
	SweepBatchLimit  int           `envconfig:"VERDEVIVA_RECONCILER_SWEEP_BATCH_LIMIT" default:"100"`
	SweepConcurrency int           `envconfig:"VERDEVIVA_RECONCILER_SWEEP_CONCURRENCY" default:"4"`
	MatchWindow      time.Duration `envconfig:"VERDEVIVA_RECONCILER_MATCH_WINDOW" default:"15m"`
}

type NotificationsConfig struct {
	FromEmail string `envconfig:"VERDEVIVA_NOTIFICATIONS_FROM_EMAIL" default:"no-reply@verdeviva.com"`
	Enabled   bool   `envconfig:"VERDEVIVA_NOTIFICATIONS_ENABLED" default:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"VERDEVIVA_AUTO_MIGRATE" default:"false"`
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

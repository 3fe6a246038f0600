package config

// EnvPrefix namespaces every environment variable the backend reads.
const EnvPrefix = "VERDEVIVA"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

const (
	EnvAppEnv   = "VERDEVIVA_APP_ENV"
	EnvPort     = "VERDEVIVA_APP_PORT"
	EnvDBDSN    = "VERDEVIVA_DB_DSN"
	EnvDBHost   = "VERDEVIVA_DB_HOST"
	EnvDBUser   = "VERDEVIVA_DB_USER"
	EnvDBName   = "VERDEVIVA_DB_NAME"
	EnvRedisURL = "VERDEVIVA_REDIS_URL"

	EnvJWTSecret  = "VERDEVIVA_JWT_SECRET"
	EnvJWTIssuer  = "VERDEVIVA_JWT_ISSUER"
	EnvJWTExpMins = "VERDEVIVA_JWT_EXPIRATION_MINUTES"

	EnvMPAccessToken   = "VERDEVIVA_MP_ACCESS_TOKEN"
	EnvMPWebhookSecret = "VERDEVIVA_MP_WEBHOOK_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

package config

const EnvPrefix = "FARMCART"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv      = "FARMCART_APP_ENV"
	EnvPort        = "FARMCART_APP_PORT"
	EnvLogLevel    = "FARMCART_LOG_LEVEL"
	EnvDBDSN       = "FARMCART_DB_DSN"
	EnvDBHost      = "FARMCART_DB_HOST"
	EnvDBUser      = "FARMCART_DB_USER"
	EnvDBName      = "FARMCART_DB_NAME"
	EnvRedisURL    = "FARMCART_REDIS_URL"
	EnvJWTSecret   = "FARMCART_JWT_SECRET"
	EnvJWTIssuer   = "FARMCART_JWT_ISSUER"
	EnvUseSQLite   = "FARMCART_USE_SQLITE"
	EnvTaxRate     = "FARMCART_PRICING_TAX_RATE"
	EnvDeliveryFee = "FARMCART_PRICING_DELIVERY_FEE_CENTS"
	EnvCurrency    = "FARMCART_PRICING_CURRENCY"
	EnvPendingTTL  = "FARMCART_PAYMENT_PENDING_TTL"
	EnvPayPalEnv   = "FARMCART_PAYPAL_ENV"
	EnvPhonePeSalt = "FARMCART_PHONEPE_SALT_KEY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Pricing      PricingConfig
	Payments     PaymentsConfig
	PayPal       PayPalConfig
	PhonePe      PhonePeConfig
	Square       SquareConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"FARMCART_APP_ENV" required:"true"`
	Port         string   `envconfig:"FARMCART_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"FARMCART_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"FARMCART_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"FARMCART_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"FARMCART_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FARMCART_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FARMCART_DB_DSN"`
	Driver string `envconfig:"FARMCART_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FARMCART_DB_HOST"`
	LegacyPort     int    `envconfig:"FARMCART_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FARMCART_DB_USER"`
	LegacyPassword string `envconfig:"FARMCART_DB_PASSWORD"`
	LegacyName     string `envconfig:"FARMCART_DB_NAME"`
	LegacySSLMode  string `envconfig:"FARMCART_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"FARMCART_DB_SQLITE_PATH" default:"farmcart.db"`

	MaxOpenConns    int           `envconfig:"FARMCART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FARMCART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FARMCART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FARMCART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FARMCART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FARMCART_REDIS_ADDR"`
	Password     string        `envconfig:"FARMCART_REDIS_PASSWORD"`
	DB           int           `envconfig:"FARMCART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FARMCART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FARMCART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FARMCART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FARMCART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FARMCART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the verification settings for bearer tokens minted by the
// identity service.
type JWTConfig struct {
	Secret string `envconfig:"FARMCART_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"FARMCART_JWT_ISSUER" required:"true"`
}

type PricingConfig struct {
	TaxRate           string `envconfig:"FARMCART_PRICING_TAX_RATE" default:"0.08"`
	DeliveryFeeCents  int64  `envconfig:"FARMCART_PRICING_DELIVERY_FEE_CENTS" default:"5000"`
	Currency          string `envconfig:"FARMCART_PRICING_CURRENCY" default:"INR"`
	OrderNumberPrefix string `envconfig:"FARMCART_ORDER_NUMBER_PREFIX" default:"ORD"`
}

func (p PricingConfig) validate() error {
	if p.DeliveryFeeCents < 0 {
		return fmt.Errorf("%s must be non-negative", EnvDeliveryFee)
	}
	if strings.TrimSpace(p.Currency) == "" {
		return fmt.Errorf("%s is required", EnvCurrency)
	}
	return nil
}

type PaymentsConfig struct {
	PendingTTL      time.Duration `envconfig:"FARMCART_PAYMENT_PENDING_TTL" default:"30m"`
	ExpiryBatchSize int           `envconfig:"FARMCART_PAYMENT_EXPIRY_BATCH_SIZE" default:"100"`
	CallbackRPS     float64       `envconfig:"FARMCART_PAYMENT_CALLBACK_RPS" default:"20"`
	CallbackBurst   int           `envconfig:"FARMCART_PAYMENT_CALLBACK_BURST" default:"40"`
	WebhookGuardTTL time.Duration `envconfig:"FARMCART_PAYMENT_WEBHOOK_GUARD_TTL" default:"24h"`
	CallbackIPLimit int           `envconfig:"FARMCART_PAYMENT_CALLBACK_IP_LIMIT" default:"120"`
	CallbackWindow  time.Duration `envconfig:"FARMCART_PAYMENT_CALLBACK_WINDOW" default:"1m"`
}

type PayPalConfig struct {
	ClientID     string        `envconfig:"FARMCART_PAYPAL_CLIENT_ID"`
	ClientSecret string        `envconfig:"FARMCART_PAYPAL_CLIENT_SECRET"`
	Env          string        `envconfig:"FARMCART_PAYPAL_ENV" default:"sandbox"`
	BaseURL      string        `envconfig:"FARMCART_PAYPAL_BASE_URL"`
	ReturnURL    string        `envconfig:"FARMCART_PAYPAL_RETURN_URL"`
	CancelURL    string        `envconfig:"FARMCART_PAYPAL_CANCEL_URL"`
	BrandName    string        `envconfig:"FARMCART_PAYPAL_BRAND_NAME" default:"FarmCart"`
	Timeout      time.Duration `envconfig:"FARMCART_PAYPAL_TIMEOUT" default:"15s"`
}

// Endpoint returns the API base URL, honoring an explicit override.
func (p PayPalConfig) Endpoint() string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	if strings.EqualFold(strings.TrimSpace(p.Env), "live") {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
}

type PhonePeConfig struct {
	MerchantID  string        `envconfig:"FARMCART_PHONEPE_MERCHANT_ID"`
	SaltKey     string        `envconfig:"FARMCART_PHONEPE_SALT_KEY"`
	SaltIndex   string        `envconfig:"FARMCART_PHONEPE_SALT_INDEX" default:"1"`
	BaseURL     string        `envconfig:"FARMCART_PHONEPE_BASE_URL" default:"https://api-preprod.phonepe.com/apis/pg-sandbox"`
	CallbackURL string        `envconfig:"FARMCART_PHONEPE_CALLBACK_URL"`
	RedirectURL string        `envconfig:"FARMCART_PHONEPE_REDIRECT_URL"`
	Timeout     time.Duration `envconfig:"FARMCART_PHONEPE_TIMEOUT" default:"15s"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"FARMCART_SQUARE_ACCESS_TOKEN"`
	LocationID  string `envconfig:"FARMCART_SQUARE_LOCATION_ID"`
	Env         string `envconfig:"FARMCART_SQUARE_ENV" default:"sandbox"`
}

// Enabled reports whether card charges should go through Square.
func (s SquareConfig) Enabled() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

type CronConfig struct {
	Interval time.Duration `envconfig:"FARMCART_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"FARMCART_CRON_LOCK_TTL" default:"10m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"FARMCART_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"FARMCART_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"FARMCART_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"FARMCART_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"FARMCART_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"FARMCART_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic           string `envconfig:"FARMCART_PUBSUB_ORDERS_TOPIC" default:"farmcart-order-events"`
	PaymentsTopic         string `envconfig:"FARMCART_PUBSUB_PAYMENTS_TOPIC" default:"farmcart-payment-events"`
	AnalyticsSubscription string `envconfig:"FARMCART_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"farmcart-payment-analytics"`
}

type BigQueryConfig struct {
	Dataset            string `envconfig:"FARMCART_BIGQUERY_DATASET" default:"farmcart"`
	PaymentEventsTable string `envconfig:"FARMCART_BIGQUERY_PAYMENT_EVENTS_TABLE" default:"payment_events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"FARMCART_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"FARMCART_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"FARMCART_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"FARMCART_OUTBOX_RETENTION" default:"720h"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
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

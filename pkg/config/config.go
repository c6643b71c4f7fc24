package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every environment variable the service reads.
	EnvPrefix = "CREAMERY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "CREAMERY_DB_DSN"
	EnvDBHost = "CREAMERY_DB_HOST"
	EnvDBUser = "CREAMERY_DB_USER"
	EnvDBName = "CREAMERY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	Checkout     CheckoutConfig
	Stripe       StripeConfig
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
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CREAMERY_APP_ENV" required:"true"`
	Port         string `envconfig:"CREAMERY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CREAMERY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CREAMERY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CREAMERY_DB_DSN"`
	Driver string `envconfig:"CREAMERY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CREAMERY_DB_HOST"`
	LegacyPort     int    `envconfig:"CREAMERY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CREAMERY_DB_USER"`
	LegacyPassword string `envconfig:"CREAMERY_DB_PASSWORD"`
	LegacyName     string `envconfig:"CREAMERY_DB_NAME"`
	LegacySSLMode  string `envconfig:"CREAMERY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CREAMERY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CREAMERY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CREAMERY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CREAMERY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CREAMERY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CREAMERY_REDIS_ADDR"`
	Password     string        `envconfig:"CREAMERY_REDIS_PASSWORD"`
	DB           int           `envconfig:"CREAMERY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CREAMERY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CREAMERY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CREAMERY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CREAMERY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CREAMERY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CREAMERY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CREAMERY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CREAMERY_JWT_EXPIRATION_MINUTES" default:"60"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"CREAMERY_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"CREAMERY_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"CREAMERY_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"CREAMERY_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"CREAMERY_ARGON_KEY_LEN" default:"32"`
}

// CheckoutConfig tunes the ephemeral checkout attempt store. Attempts are
// deleted explicitly after materialization; the TTL is only a safety net.
type CheckoutConfig struct {
	AttemptTTL            time.Duration `envconfig:"CREAMERY_CHECKOUT_ATTEMPT_TTL" default:"24h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"CREAMERY_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type StripeConfig struct {
	APIKey          string `envconfig:"CREAMERY_STRIPE_API_KEY"`
	WebhookSecret   string `envconfig:"CREAMERY_STRIPE_WEBHOOK_SECRET"`
	Env             string `envconfig:"CREAMERY_STRIPE_ENV" default:"test"`
	ShippingPriceID string `envconfig:"CREAMERY_STRIPE_SHIPPING_PRICE_ID"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CREAMERY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CREAMERY_AUTO_MIGRATE" default:"false"`
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

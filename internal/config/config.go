package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	pkgcfg "github.com/Skotchmaster/auth_backend/pkg/config"
)

type Config struct {
	ServiceName string
	Port        int
	LogLevel    string

	DBDriver    string
	DatabaseURL string

	JWTSecret     []byte
	RefreshSecret []byte
	BcryptCost    int

	CORSOrigins []string

	RateLimitWindow time.Duration
	RateLimitMax    int
	RedisURL        string
	TrustProxy      bool

	KafkaBrokers []string

	ESURL      string
	ESUser     string
	ESPassword string
	ESIndex    string

	ExternalAPIURL string

	OTLPEndpoint string
}

// Load reads .env (if present) and the process environment. It does not validate.
func Load() *Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}

	jwtSecret := pkgcfg.EnvDefault("JWT_SECRET", "")
	// refresh tokens are signed with the access secret unless a distinct one is configured
	refreshSecret := pkgcfg.EnvDefault("REFRESH_TOKEN_SECRET", jwtSecret)

	return &Config{
		ServiceName: pkgcfg.EnvDefault("SERVICE_NAME", "auth-backend"),
		Port:        pkgcfg.EnvIntDefault("PORT", 3000),
		LogLevel:    pkgcfg.EnvDefault("LOG_LEVEL", "info"),

		DBDriver:    pkgcfg.EnvDefault("DB_DRIVER", "pgx"),
		DatabaseURL: pkgcfg.EnvDefault("DATABASE_URL", ""),

		JWTSecret:     []byte(jwtSecret),
		RefreshSecret: []byte(refreshSecret),
		BcryptCost:    pkgcfg.EnvIntDefault("BCRYPT_SALT_ROUNDS", 12),

		CORSOrigins: pkgcfg.CSV(pkgcfg.EnvDefault("CORS_ORIGIN", "http://localhost:3000")),

		RateLimitWindow: pkgcfg.EnvDurationDefault("RATE_LIMIT_WINDOW", 15*time.Minute),
		RateLimitMax:    pkgcfg.EnvIntDefault("RATE_LIMIT_MAX", 100),
		RedisURL:        pkgcfg.EnvDefault("REDIS_URL", ""),
		TrustProxy:      pkgcfg.EnvDefault("TRUST_PROXY", "false") == "true",

		KafkaBrokers: pkgcfg.CSV(pkgcfg.EnvDefault("KAFKA_BROKERS", "")),

		ESURL:      pkgcfg.EnvDefault("ES_URL", ""),
		ESUser:     pkgcfg.EnvDefault("ES_USER", ""),
		ESPassword: pkgcfg.EnvDefault("ES_PASSWORD", ""),
		ESIndex:    pkgcfg.EnvDefault("ES_INDEX", "users"),

		ExternalAPIURL: pkgcfg.EnvDefault("EXTERNAL_API_URL", ""),

		OTLPEndpoint: pkgcfg.EnvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) == 0 {
		errs = append(errs, errors.New("missing required env JWT_SECRET"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("missing required env DATABASE_URL"))
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_SALT_ROUNDS must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.BcryptCost))
	}
	switch c.DBDriver {
	case "pgx", "pq", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d", c.Port))
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate limit window and max must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

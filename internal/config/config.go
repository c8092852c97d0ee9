package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Square       SquareConfig
	Payment      PaymentConfig
	Fees         FeeConfig
	Confirmation ConfirmationConfig
	Redis        RedisConfig
	Bolt         BoltConfig
	Kafka        KafkaConfig
	R2           R2Config
	RateLimit    RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

type DatabaseConfig struct {
	URL      string // Full database URL
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type SquareConfig struct {
	AccessToken         string
	LocationID          string
	Environment         string // "sandbox" or "production"
	APIVersion          string
	WebhookSignatureKey string
	WebhookURL          string
}

type PaymentConfig struct {
	Currency       string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

type FeeConfig struct {
	PlatformFeePercent  float64
	ProviderFeePercent  float64
	ProviderFeeFixed    float64
	PassFeesToAttendees bool
}

// ConfirmationConfig holds the confirmation number prefix per registration type.
type ConfirmationConfig struct {
	IndividualPrefix string
	LodgePrefix      string
	DelegationPrefix string
}

type RedisConfig struct {
	URL       string
	DedupeTTL time.Duration
}

type BoltConfig struct {
	Path string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	Endpoint        string
	// LocalDir receives archive documents when R2 is not configured or fails
	LocalDir        string
}

type RateLimitConfig struct {
	MaxAttempts int
	Window      time.Duration
}

func Load() (*Config, error) {
	// Load .env files if they exist (try .env.local first, then .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "localhost"),
			Env:          getEnv("ENV", "development"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			CORSOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS"),
		},
		Database: parseDatabaseConfig(),
		Square: SquareConfig{
			AccessToken:         getEnv("SQUARE_ACCESS_TOKEN", ""),
			LocationID:          getEnv("SQUARE_LOCATION_ID", ""),
			Environment:         getEnv("SQUARE_ENVIRONMENT", "sandbox"),
			APIVersion:          getEnv("SQUARE_API_VERSION", "2024-11-20"),
			WebhookSignatureKey: getEnv("SQUARE_WEBHOOK_SIGNATURE_KEY", ""),
			WebhookURL:          getEnv("SQUARE_WEBHOOK_URL", "http://localhost:8080/api/webhooks/square"),
		},
		Payment: PaymentConfig{
			Currency:       getEnv("PAYMENT_CURRENCY", "AUD"),
			RequestTimeout: getEnvAsDuration("PAYMENT_REQUEST_TIMEOUT", 20*time.Second),
			MaxRetries:     getEnvAsInt("PAYMENT_MAX_RETRIES", 3),
			RetryBaseDelay: getEnvAsDuration("PAYMENT_RETRY_BASE_DELAY", 250*time.Millisecond),
		},
		Fees: FeeConfig{
			PlatformFeePercent:  getEnvAsFloat("PLATFORM_FEE_PERCENT", 2.0),
			ProviderFeePercent:  getEnvAsFloat("PROVIDER_FEE_PERCENT", 2.2),
			ProviderFeeFixed:    getEnvAsFloat("PROVIDER_FEE_FIXED", 0.30),
			PassFeesToAttendees: getEnvAsBool("PASS_FEES_TO_ATTENDEES", true),
		},
		Confirmation: ConfirmationConfig{
			IndividualPrefix: getEnv("CONFIRMATION_PREFIX_INDIVIDUAL", "IND"),
			LodgePrefix:      getEnv("CONFIRMATION_PREFIX_LODGE", "LDG"),
			DelegationPrefix: getEnv("CONFIRMATION_PREFIX_DELEGATION", "DEL"),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			DedupeTTL: getEnvAsDuration("WEBHOOK_DEDUPE_TTL", 72*time.Hour),
		},
		Bolt: BoltConfig{
			Path: getEnv("BOLT_PATH", ""),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "registration.events"),
		},
		R2: R2Config{
			AccountID:       getEnv("R2_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			BucketName:      getEnv("R2_BUCKET_NAME", "registration-reconciliation"),
			Region:          getEnv("R2_REGION", "auto"),
			Endpoint:        getEnv("R2_ENDPOINT", ""),
			LocalDir:        getEnv("RECONCILIATION_DIR", "./data/reconciliation"),
		},
		RateLimit: RateLimitConfig{
			MaxAttempts: getEnvAsInt("CHECKOUT_RATE_LIMIT", 10),
			Window:      getEnvAsDuration("CHECKOUT_RATE_WINDOW", time.Minute),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks settings that cannot be defaulted safely.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.Square.AccessToken == "" || c.Square.LocationID == "" {
			return errors.New("square access token and location id are required in production")
		}
		if c.Square.WebhookSignatureKey == "" {
			return errors.New("square webhook signature key is required in production")
		}
	}
	if c.Payment.MaxRetries < 0 {
		return errors.New("payment max retries cannot be negative")
	}
	if c.Fees.PlatformFeePercent < 0 || c.Fees.ProviderFeePercent < 0 || c.Fees.ProviderFeeFixed < 0 {
		return errors.New("fee settings cannot be negative")
	}
	return nil
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func parseDatabaseConfig() DatabaseConfig {
	// Check if DATABASE_URL is provided
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL != "" {
		return parseDatabaseURL(databaseURL)
	}

	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		DBName:   getEnv("DB_NAME", "function_registrations"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

func parseDatabaseURL(databaseURL string) DatabaseConfig {
	config := DatabaseConfig{
		URL: databaseURL,
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		// If parsing fails, return the URL as-is
		return config
	}

	config.Host = u.Hostname()
	if u.Port() != "" {
		config.Port, _ = strconv.Atoi(u.Port())
	} else {
		config.Port = 5432
	}

	if u.User != nil {
		config.User = u.User.Username()
		config.Password, _ = u.User.Password()
	}

	config.DBName = strings.TrimPrefix(u.Path, "/")

	config.SSLMode = u.Query().Get("sslmode")
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

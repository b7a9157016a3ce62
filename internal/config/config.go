package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Config holds all application configuration
type Config struct {
	Environment string // "production" tightens bot checks, anything else is treated as dev
	Database    DatabaseConfig
	Auth        AuthConfig
	Stripe      StripeConfig
	BTCPay      BTCPayConfig
	Services    ServicesConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Checkout    CheckoutConfig
	Server      ServerConfig
}

// IsProduction reports whether the server runs with production bot checks.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Username string
	Password string
	Name     string
}

// AuthConfig holds authentication-related configuration
type AuthConfig struct {
	JWTSecret   string
	AdminEmails []string // whitelist for admin console access
}

// StripeConfig holds Stripe API settings
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	PixEnabled    bool // rollout flag for the PIX rail
}

// BTCPayConfig holds BTCPay Server API settings
type BTCPayConfig struct {
	BaseURL       string
	APIKey        string
	StoreID       string
	WebhookSecret string
}

// ServicesConfig holds external service API keys and configuration
type ServicesConfig struct {
	ResendAPIKey        string
	DefaultEmailSender  string
	TurnstileSecretKey  string
	MembersBaseURL      string
	MembersAPIKey       string
	MembersAPISecret    string
	MembersClubID       string
	MembersSubdomain    string
	CRMBaseURL          string
	CRMAPIKey           string
	PasswordSecret      string // key for reversible customer password storage
	DownloadTokenSecret string // key for signing lead-magnet download links
	SiteBaseURL         string // public site, targets of success/cancel redirects
}

// RedisConfig holds Redis connection settings for rate limiting
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds Kafka/event streaming configuration
type KafkaConfig struct {
	Brokers       string
	Topic         string
	ConsumerGroup string
}

// CheckoutConfig holds checkout wizard flow settings
type CheckoutConfig struct {
	ExplicitMethodStep bool // when false the method step collapses if the price implies one rail
	SessionTTLMinutes  int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// Load reads and validates all required environment variables
func Load() (*Config, error) {
	// Load env.local in non-production environments
	if os.Getenv("GO_ENV") != "production" {
		if err := godotenv.Load("env.local"); err != nil {
			return nil, fmt.Errorf("failed to load env.local: %w", err)
		}
	}

	cfg := &Config{Environment: os.Getenv("GO_ENV")}

	// Database configuration
	var err error
	if cfg.Database.Host, err = requireEnv("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Database.Username, err = requireEnv("DB_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.Database.Password, err = requireEnv("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Database.Name, err = requireEnv("DB_NAME"); err != nil {
		return nil, err
	}

	// Auth configuration
	if cfg.Auth.JWTSecret, err = requireEnv("JWT_SECRET"); err != nil {
		return nil, err
	}
	adminEmails, err := requireEnv("ADMIN_EMAILS")
	if err != nil {
		return nil, err
	}
	for _, email := range strings.Split(adminEmails, ",") {
		if trimmed := strings.TrimSpace(email); trimmed != "" {
			cfg.Auth.AdminEmails = append(cfg.Auth.AdminEmails, strings.ToLower(trimmed))
		}
	}

	// Stripe configuration
	if cfg.Stripe.SecretKey, err = requireEnv("STRIPE_SECRET_KEY"); err != nil {
		return nil, err
	}
	if cfg.Stripe.WebhookSecret, err = requireEnv("STRIPE_WEBHOOK_SECRET"); err != nil {
		return nil, err
	}
	cfg.Stripe.PixEnabled = getEnvWithDefault("STRIPE_PIX_ENABLED", "false") == "true"

	// BTCPay configuration
	if cfg.BTCPay.BaseURL, err = requireEnv("BTCPAY_BASE_URL"); err != nil {
		return nil, err
	}
	if cfg.BTCPay.APIKey, err = requireEnv("BTCPAY_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.BTCPay.StoreID, err = requireEnv("BTCPAY_STORE_ID"); err != nil {
		return nil, err
	}
	if cfg.BTCPay.WebhookSecret, err = requireEnv("BTCPAY_WEBHOOK_SECRET"); err != nil {
		return nil, err
	}

	// Services configuration
	if cfg.Services.ResendAPIKey, err = requireEnv("RESEND_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.Services.DefaultEmailSender, err = requireEnv("DEFAULT_EMAIL_SENDER_ADDRESS"); err != nil {
		return nil, err
	}
	if cfg.Services.PasswordSecret, err = requireEnv("PASSWORD_ENCRYPTION_KEY"); err != nil {
		return nil, err
	}
	if cfg.Services.DownloadTokenSecret, err = requireEnv("DOWNLOAD_TOKEN_SECRET"); err != nil {
		return nil, err
	}
	if cfg.Services.SiteBaseURL, err = requireEnv("SITE_BASE_URL"); err != nil {
		return nil, err
	}
	cfg.Services.TurnstileSecretKey = getEnvWithDefault("TURNSTILE_SECRET_KEY", "")
	cfg.Services.MembersBaseURL = getEnvWithDefault("MEMBERS_BASE_URL", "")
	cfg.Services.MembersAPIKey = getEnvWithDefault("MEMBERS_API_KEY", "")
	cfg.Services.MembersAPISecret = getEnvWithDefault("MEMBERS_API_SECRET", "")
	cfg.Services.MembersClubID = getEnvWithDefault("MEMBERS_CLUB_ID", "")
	cfg.Services.MembersSubdomain = getEnvWithDefault("MEMBERS_SUBDOMAIN", "")
	cfg.Services.CRMBaseURL = getEnvWithDefault("CRM_BASE_URL", "")
	cfg.Services.CRMAPIKey = getEnvWithDefault("CRM_API_KEY", "")

	// Redis configuration
	if cfg.Redis.Addr, err = requireEnv("REDIS_ADDR"); err != nil {
		return nil, err
	}
	cfg.Redis.Password = getEnvWithDefault("REDIS_PASSWORD", "")
	redisDB := getEnvWithDefault("REDIS_DB", "0")
	cfg.Redis.DB, err = strconv.Atoi(redisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_DB: %w", err)
	}

	// Kafka configuration
	if cfg.Kafka.Brokers, err = requireEnv("KAFKA_BROKERS"); err != nil {
		return nil, err
	}
	cfg.Kafka.Topic = getEnvWithDefault("KAFKA_TOPIC", "funnel-events")
	cfg.Kafka.ConsumerGroup = getEnvWithDefault("KAFKA_CONSUMER_GROUP", "marketing-sync")

	// Checkout configuration
	cfg.Checkout.ExplicitMethodStep = getEnvWithDefault("CHECKOUT_EXPLICIT_METHOD_STEP", "false") == "true"
	sessionTTL := getEnvWithDefault("CHECKOUT_SESSION_TTL_MINUTES", "30")
	cfg.Checkout.SessionTTLMinutes, err = strconv.Atoi(sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CHECKOUT_SESSION_TTL_MINUTES: %w", err)
	}

	// Server configuration
	serverPort, err := requireEnv("SERVER_PORT")
	if err != nil {
		return nil, err
	}
	cfg.Server.Port, err = strconv.Atoi(serverPort)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SERVER_PORT: %w", err)
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s",
		c.Username, c.Password, c.Host, c.Name)
}

// IsAdminEmail reports whether the email is on the admin whitelist.
func (c *AuthConfig) IsAdminEmail(email string) bool {
	needle := strings.ToLower(strings.TrimSpace(email))
	for _, admin := range c.AdminEmails {
		if admin == needle {
			return true
		}
	}
	return false
}

// requireEnv retrieves an environment variable or returns an error if empty
func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set: %w", key, ErrEmptyEnvironmentVariable)
	}
	return value, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Identity token configuration
	Identity IdentityConfig

	// Verification code configuration
	Verification VerificationConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Booking and capacity timeouts
	Booking BookingConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Code delivery configuration
	Delivery DeliveryConfig

	// Booking event stream configuration
	Events EventsConfig

	// CORS configuration
	CORS CORSConfig

	// Audit configuration
	Audit AuditConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	Driver             string // "postgres" (lib/pq) or "pgx"
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// IdentityConfig holds the signing secret and lifetime of identity tokens
type IdentityConfig struct {
	Secret   string
	TokenTTL time.Duration
}

// VerificationConfig holds one-time code settings
type VerificationConfig struct {
	CodeLength  int
	CodeTTL     time.Duration
	MaxAttempts int
	BcryptCost  int

	// DefaultCountryCode is applied to local phone numbers with a leading zero
	DefaultCountryCode string
}

// RateLimitConfig holds verification request throttling settings
type RateLimitConfig struct {
	Cooldown              time.Duration
	MaxIdentifierRequests int
	IdentifierWindow      time.Duration
	MaxIPRequests         int
	IPWindow              time.Duration
}

// BookingConfig holds checkout timing settings
type BookingConfig struct {
	CheckoutTimeout time.Duration
	HoldTTL         time.Duration
	SweepInterval   time.Duration
	SweepBatchSize  int
	Currency        string
}

// PaymentConfig holds hosted payment gateway configuration
type PaymentConfig struct {
	BaseURL        string
	MerchantKey    string
	MerchantSecret string // SECRET - used only for check values, never sent
	Timeout        time.Duration
	ReturnURL      string
	WebhookURL     string
}

// DeliveryConfig holds code delivery settings
type DeliveryConfig struct {
	Mode        string // "dev" logs codes and echoes them, "production" sends them
	SMSAPIURL   string
	SMSAPIKey   string
	SMSSenderID string
	EmailAPIURL string
	EmailAPIKey string
	EmailFrom   string
	Timeout     time.Duration
}

// EventsConfig holds booking event stream settings
type EventsConfig struct {
	RedisAddr     string // empty means in-process delivery
	RedisPassword string
	TopicPrefix   string
	ConsumerGroup string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Enabled   bool
	Retention time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			Driver:             getEnv("DATABASE_DRIVER", "postgres"),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Identity: IdentityConfig{
			Secret:   getEnv("IDENTITY_TOKEN_SECRET", ""),
			TokenTTL: time.Duration(getEnvAsInt("IDENTITY_TOKEN_TTL_SECONDS", 300)) * time.Second,
		},
		Verification: VerificationConfig{
			CodeLength:  getEnvAsInt("VERIFICATION_CODE_LENGTH", 6),
			CodeTTL:     time.Duration(getEnvAsInt("VERIFICATION_CODE_TTL_MINUTES", 10)) * time.Minute,
			MaxAttempts: getEnvAsInt("VERIFICATION_MAX_ATTEMPTS", 5),
			BcryptCost:  getEnvAsInt("VERIFICATION_BCRYPT_COST", 10),

			DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "94"),
		},
		RateLimit: RateLimitConfig{
			Cooldown:              time.Duration(getEnvAsInt("RATE_LIMIT_COOLDOWN_SECONDS", 60)) * time.Second,
			MaxIdentifierRequests: getEnvAsInt("RATE_LIMIT_IDENTIFIER_REQUESTS", 5),
			IdentifierWindow:      time.Duration(getEnvAsInt("RATE_LIMIT_IDENTIFIER_WINDOW_MINUTES", 60)) * time.Minute,
			MaxIPRequests:         getEnvAsInt("RATE_LIMIT_IP_REQUESTS", 20),
			IPWindow:              time.Duration(getEnvAsInt("RATE_LIMIT_IP_WINDOW_MINUTES", 60)) * time.Minute,
		},
		Booking: BookingConfig{
			CheckoutTimeout: time.Duration(getEnvAsInt("CHECKOUT_TIMEOUT_MINUTES", 15)) * time.Minute,
			HoldTTL:         time.Duration(getEnvAsInt("HOLD_TTL_MINUTES", 20)) * time.Minute,
			SweepInterval:   time.Duration(getEnvAsInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
			SweepBatchSize:  getEnvAsInt("SWEEP_BATCH_SIZE", 100),
			Currency:        strings.ToUpper(getEnv("CURRENCY", "USD")),
		},
		Payment: PaymentConfig{
			BaseURL:        getEnv("GATEWAY_BASE_URL", "https://sandbox.pay.example.com"),
			MerchantKey:    getEnv("GATEWAY_MERCHANT_KEY", ""),
			MerchantSecret: getEnv("GATEWAY_MERCHANT_SECRET", ""),
			Timeout:        time.Duration(getEnvAsInt("GATEWAY_TIMEOUT_SECONDS", 15)) * time.Second,
			ReturnURL:      getEnv("GATEWAY_RETURN_URL", ""),
			WebhookURL:     getEnv("GATEWAY_WEBHOOK_URL", ""),
		},
		Delivery: DeliveryConfig{
			Mode:        getEnv("DELIVERY_MODE", "dev"),
			SMSAPIURL:   getEnv("SMS_API_URL", ""),
			SMSAPIKey:   getEnv("SMS_API_KEY", ""),
			SMSSenderID: getEnv("SMS_SENDER_ID", "TravelCore"),
			EmailAPIURL: getEnv("EMAIL_API_URL", ""),
			EmailAPIKey: getEnv("EMAIL_API_KEY", ""),
			EmailFrom:   getEnv("EMAIL_FROM", "no-reply@travelcore.example"),
			Timeout:     time.Duration(getEnvAsInt("DELIVERY_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Events: EventsConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			TopicPrefix:   getEnv("EVENTS_TOPIC_PREFIX", "booking"),
			ConsumerGroup: getEnv("EVENTS_CONSUMER_GROUP", "booking-core"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Audit: AuditConfig{
			Enabled:   getEnvAsBool("ENABLE_AUDIT_LOGGING", true),
			Retention: time.Duration(getEnvAsInt("AUDIT_RETENTION_DAYS", 90)) * 24 * time.Hour,
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be 'postgres' or 'pgx')", c.Database.Driver)
	}

	if c.Identity.Secret == "" {
		return fmt.Errorf("IDENTITY_TOKEN_SECRET is required")
	}

	if c.Verification.CodeLength < 4 || c.Verification.CodeLength > 10 {
		return fmt.Errorf("VERIFICATION_CODE_LENGTH must be between 4 and 10")
	}

	if c.Verification.MaxAttempts < 1 {
		return fmt.Errorf("VERIFICATION_MAX_ATTEMPTS must be at least 1")
	}

	// Holds must outlive the checkout window so the booking sweep releases them first
	if c.Booking.HoldTTL < c.Booking.CheckoutTimeout {
		return fmt.Errorf("HOLD_TTL_MINUTES must not be shorter than CHECKOUT_TIMEOUT_MINUTES")
	}

	if c.Payment.MerchantKey == "" || c.Payment.MerchantSecret == "" {
		return fmt.Errorf("GATEWAY_MERCHANT_KEY and GATEWAY_MERCHANT_SECRET are required")
	}

	// Validate delivery configuration only in production mode
	if c.Delivery.Mode == "production" {
		if c.Delivery.SMSAPIURL == "" || c.Delivery.SMSAPIKey == "" {
			return fmt.Errorf("SMS_API_URL and SMS_API_KEY are required in production delivery mode")
		}
		if c.Delivery.EmailAPIURL == "" || c.Delivery.EmailAPIKey == "" {
			return fmt.Errorf("EMAIL_API_URL and EMAIL_API_KEY are required in production delivery mode")
		}
	} else if c.Delivery.Mode != "dev" {
		return fmt.Errorf("invalid DELIVERY_MODE: %s (must be 'dev' or 'production')", c.Delivery.Mode)
	}

	return nil
}

// IsProduction reports whether the service runs in the production environment
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

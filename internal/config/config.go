package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported session token formats.
const (
	TokenFormatPaseto = "paseto"
	TokenFormatJWT    = "jwt"
)

// Supported password hashing algorithms.
const (
	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"
)

// Supported email providers.
const (
	EmailProviderSMTP   = "smtp"
	EmailProviderResend = "resend"
	EmailProviderLog    = "log"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Email     EmailConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port            string
	Env             string // dev or prod
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TrustedOrigins  []string // CORS allowed origins for cookie auth

	// TrustProxy honours X-Forwarded-For and X-Real-IP. Enable only behind a
	// proxy that overwrites them.
	TrustProxy bool
}

type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	ChannelBinding string // "require" for Neon DB, empty for local
	MaxOpenConns   int
	MaxIdleConns   int
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type AuthConfig struct {
	TokenFormat string
	// PASETO symmetric key (must be 32 bytes for v4.local)
	PasetoKey []byte
	// HS256 secret, used when TokenFormat is jwt
	JWTSecret            []byte
	SessionTokenDuration time.Duration
	PasswordHasher       string
	BcryptCost           int
	RequireVerifiedLogin bool
	VerificationCodeTTL  time.Duration
	ResetTokenTTL        time.Duration
}

type EmailConfig struct {
	Provider     string
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	From         string
	ResendAPIKey string
	FrontendURL  string // Frontend URL for reset links
	SendTimeout  time.Duration
	MaxRetries   int
}

type RateLimitConfig struct {
	MaxRequests   int
	Window        time.Duration
	EmailCooldown time.Duration
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Env:             getEnv("APP_ENV", "dev"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			TrustedOrigins:  getSliceEnv("TRUSTED_ORIGINS", []string{"http://localhost:3000"}),
			TrustProxy:      getBoolEnv("TRUST_PROXY", false),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			DBName:         getEnv("DB_NAME", "accountd"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			ChannelBinding: getEnv("DB_CHANNEL_BINDING", ""),
			MaxOpenConns:   getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:   getIntEnv("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			TokenFormat:          strings.ToLower(getEnv("AUTH_TOKEN_FORMAT", TokenFormatPaseto)),
			PasetoKey:            []byte(getEnv("PASETO_KEY", "")),
			JWTSecret:            []byte(getEnv("JWT_SECRET", "")),
			SessionTokenDuration: getDurationEnv("SESSION_TOKEN_DURATION", 7*24*time.Hour),
			PasswordHasher:       strings.ToLower(getEnv("PASSWORD_HASHER", HasherBcrypt)),
			BcryptCost:           getIntEnv("BCRYPT_COST", 10),
			RequireVerifiedLogin: getBoolEnv("AUTH_REQUIRE_VERIFIED_LOGIN", false),
			VerificationCodeTTL:  getDurationEnv("VERIFICATION_CODE_TTL", 24*time.Hour),
			ResetTokenTTL:        getDurationEnv("RESET_TOKEN_TTL", time.Hour),
		},
		Email: EmailConfig{
			Provider:     strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderLog)),
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUser:     getEnv("SMTP_USER", ""),
			SMTPPassword: getEnv("SMTP_PASS", ""),
			From:         getEnv("EMAIL_FROM", ""),
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			FrontendURL:  strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
			SendTimeout:  getDurationEnv("EMAIL_SEND_TIMEOUT", 10*time.Second),
			MaxRetries:   getIntEnv("EMAIL_MAX_RETRIES", 3),
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   getIntEnv("RATE_LIMIT_MAX_REQUESTS", 10),
			Window:        getDurationEnv("RATE_LIMIT_WINDOW", 15*time.Minute),
			EmailCooldown: getDurationEnv("EMAIL_COOLDOWN", 2*time.Minute),
		},
	}

	if cfg.Email.From == "" {
		cfg.Email.From = cfg.Email.SMTPUser
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings that the service cannot start without.
func (c *Config) Validate() error {
	switch c.Auth.TokenFormat {
	case TokenFormatPaseto:
		// Validate PASETO key length (must be 32 bytes for v4.local)
		if len(c.Auth.PasetoKey) != 32 {
			return fmt.Errorf("PASETO_KEY must be exactly 32 bytes, got %d", len(c.Auth.PasetoKey))
		}
	case TokenFormatJWT:
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.Auth.JWTSecret))
		}
	default:
		return fmt.Errorf("unsupported AUTH_TOKEN_FORMAT %q", c.Auth.TokenFormat)
	}

	if c.Auth.SessionTokenDuration <= 0 {
		return fmt.Errorf("SESSION_TOKEN_DURATION must be positive")
	}

	switch c.Auth.PasswordHasher {
	case HasherBcrypt, HasherArgon2id:
	default:
		return fmt.Errorf("unsupported PASSWORD_HASHER %q", c.Auth.PasswordHasher)
	}

	switch c.Email.Provider {
	case EmailProviderLog:
		// The log provider prints verification codes and reset links.
		if !c.Server.IsDevelopment() {
			return fmt.Errorf("EMAIL_PROVIDER=log is only allowed when APP_ENV=dev")
		}
	case EmailProviderSMTP:
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when EMAIL_PROVIDER is smtp")
		}
	case EmailProviderResend:
		if c.Email.ResendAPIKey == "" {
			return fmt.Errorf("RESEND_API_KEY is required when EMAIL_PROVIDER is resend")
		}
		if c.Email.From == "" {
			return fmt.Errorf("EMAIL_FROM is required when EMAIL_PROVIDER is resend")
		}
	default:
		return fmt.Errorf("unsupported EMAIL_PROVIDER %q", c.Email.Provider)
	}

	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)

	// Add channel_binding if configured (required for Neon DB)
	if c.ChannelBinding != "" {
		connStr += fmt.Sprintf(" channel_binding=%s", c.ChannelBinding)
	}

	return connStr
}

// Address returns Redis connection address (host:port)
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if the environment is set to dev
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "dev"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolValue
}

// getDurationEnv reads a whole number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	seconds, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return time.Duration(seconds) * time.Second
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Split by comma and trim whitespace
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPasetoKey = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PASETO_KEY", testPasetoKey)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.Server.IsDevelopment())
	assert.Equal(t, TokenFormatPaseto, cfg.Auth.TokenFormat)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.SessionTokenDuration)
	assert.Equal(t, HasherBcrypt, cfg.Auth.PasswordHasher)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.False(t, cfg.Auth.RequireVerifiedLogin)
	assert.Equal(t, 24*time.Hour, cfg.Auth.VerificationCodeTTL)
	assert.Equal(t, time.Hour, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, EmailProviderLog, cfg.Email.Provider)
	assert.False(t, cfg.Server.TrustProxy)
	assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.EmailCooldown)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AUTH_TOKEN_FORMAT", "JWT")
	t.Setenv("JWT_SECRET", "this-secret-is-long-enough-for-hs256!")
	t.Setenv("SESSION_TOKEN_DURATION", "3600")
	t.Setenv("AUTH_REQUIRE_VERIFIED_LOGIN", "true")
	t.Setenv("PASSWORD_HASHER", "argon2id")
	t.Setenv("TRUSTED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("FRONTEND_URL", "https://app.example/")
	t.Setenv("SMTP_USER", "mailer@example.com")
	t.Setenv("TRUST_PROXY", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TokenFormatJWT, cfg.Auth.TokenFormat)
	assert.Equal(t, time.Hour, cfg.Auth.SessionTokenDuration)
	assert.True(t, cfg.Auth.RequireVerifiedLogin)
	assert.Equal(t, HasherArgon2id, cfg.Auth.PasswordHasher)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.TrustedOrigins)
	assert.True(t, cfg.Server.TrustProxy)
	assert.Equal(t, "https://app.example", cfg.Email.FrontendURL)
	assert.Equal(t, "mailer@example.com", cfg.Email.From)
}

func TestLoad_InvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "short paseto key",
			env:     map[string]string{"PASETO_KEY": "short"},
			wantErr: "PASETO_KEY must be exactly 32 bytes",
		},
		{
			name:    "short jwt secret",
			env:     map[string]string{"AUTH_TOKEN_FORMAT": "jwt", "JWT_SECRET": "short"},
			wantErr: "JWT_SECRET must be at least 32 bytes",
		},
		{
			name:    "unknown token format",
			env:     map[string]string{"AUTH_TOKEN_FORMAT": "macaroon"},
			wantErr: "unsupported AUTH_TOKEN_FORMAT",
		},
		{
			name:    "unknown hasher",
			env:     map[string]string{"PASETO_KEY": testPasetoKey, "PASSWORD_HASHER": "md5"},
			wantErr: "unsupported PASSWORD_HASHER",
		},
		{
			name:    "smtp without host",
			env:     map[string]string{"PASETO_KEY": testPasetoKey, "EMAIL_PROVIDER": "smtp"},
			wantErr: "SMTP_HOST is required",
		},
		{
			name:    "log provider in production",
			env:     map[string]string{"PASETO_KEY": testPasetoKey, "APP_ENV": "prod"},
			wantErr: "EMAIL_PROVIDER=log is only allowed when APP_ENV=dev",
		},
		{
			name:    "resend without key",
			env:     map[string]string{"PASETO_KEY": testPasetoKey, "EMAIL_PROVIDER": "resend"},
			wantErr: "RESEND_API_KEY is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ProductionWithSMTP(t *testing.T) {
	t.Setenv("PASETO_KEY", testPasetoKey)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("EMAIL_PROVIDER", "smtp")
	t.Setenv("SMTP_HOST", "smtp.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Server.IsDevelopment())
	assert.Equal(t, EmailProviderSMTP, cfg.Email.Provider)
}

func TestEnvHelpers_FallBackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DURATION", "1h")

	assert.Equal(t, 7, getIntEnv("X_INT", 7))
	assert.True(t, getBoolEnv("X_BOOL", true))
	assert.Equal(t, time.Minute, getDurationEnv("X_DURATION", time.Minute))
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "n", SSLMode: "require"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=require", c.ConnectionString())

	c.ChannelBinding = "require"
	assert.Contains(t, c.ConnectionString(), " channel_binding=require")
}

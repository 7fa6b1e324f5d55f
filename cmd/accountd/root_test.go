package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/accountd/internal/account"
	"github.com/redmonkez12/accountd/internal/auth"
	"github.com/redmonkez12/accountd/internal/config"
	"github.com/redmonkez12/accountd/internal/logging"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"serve", "migrate"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestMigrateCommand_HasDirections(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"migrate", "--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"up", "down", "status"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestServeCommand_RejectsArgs(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"serve", "extra"})

	assert.Error(t, cmd.Execute())
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Env: "prod"},
		Auth: config.AuthConfig{
			TokenFormat:          config.TokenFormatPaseto,
			PasetoKey:            []byte("0123456789abcdef0123456789abcdef"),
			JWTSecret:            []byte("0123456789abcdef0123456789abcdef"),
			SessionTokenDuration: time.Hour,
			PasswordHasher:       config.HasherBcrypt,
			BcryptCost:           4,
			VerificationCodeTTL:  24 * time.Hour,
			ResetTokenTTL:        time.Hour,
		},
		Email: config.EmailConfig{
			Provider:    config.EmailProviderLog,
			FrontendURL: "http://localhost:3000",
			SendTimeout: time.Second,
		},
		RateLimit: config.RateLimitConfig{
			MaxRequests:   10,
			Window:        time.Minute,
			EmailCooldown: time.Minute,
		},
	}
}

func TestNewTokenService(t *testing.T) {
	cfg := testConfig().Auth

	svc, err := newTokenService(cfg)
	require.NoError(t, err)
	assert.IsType(t, &auth.PasetoService{}, svc)

	cfg.TokenFormat = config.TokenFormatJWT
	svc, err = newTokenService(cfg)
	require.NoError(t, err)
	assert.IsType(t, &auth.JWTService{}, svc)

	cfg.TokenFormat = "macaroon"
	_, err = newTokenService(cfg)
	assert.Error(t, err)

	cfg.TokenFormat = config.TokenFormatPaseto
	cfg.PasetoKey = []byte("short")
	_, err = newTokenService(cfg)
	assert.Error(t, err)
}

func TestBuildRouter_ServesAccountRoutes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	router, svc, err := buildRouter(testConfig(), logging.Discard(), account.NewMemoryStore(), client)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	body := `{"name":"Ann","email":"ann@example.com","password":"Abc123!"}`
	req := httptest.NewRequest(http.MethodPost, "/api/user/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), `accountd_operations_total{operation="register",outcome="success"} 1`)

	// The register request was counted against the per-IP window in Redis.
	keys := mr.Keys()
	assert.NotEmpty(t, keys)
}

func TestBuildRouter_RejectsUnknownHasher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	cfg.Auth.PasswordHasher = "md5"

	_, _, err := buildRouter(cfg, logging.Discard(), account.NewMemoryStore(), client)
	assert.Error(t, err)
}

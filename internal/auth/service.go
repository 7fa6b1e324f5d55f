package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/accountd/internal/account"
	"github.com/redmonkez12/accountd/internal/async"
	"github.com/redmonkez12/accountd/internal/logging"
)

// Operation names used for logging and metrics.
const (
	OpRegister             = "register"
	OpVerifyEmail          = "verify_email"
	OpResendCode           = "resend_code"
	OpLogin                = "login"
	OpRequestPasswordReset = "request_password_reset"
	OpConfirmPasswordReset = "confirm_password_reset"
	OpCheckAuth            = "check_auth"
	OpLogout               = "logout"
)

// Notification kinds.
const (
	NotifyVerification  = "verification"
	NotifyWelcome       = "welcome"
	NotifyPasswordReset = "password_reset"
	NotifyResetSuccess  = "reset_success"
)

// ServiceConfig holds the lifetimes and switches of the account lifecycle.
type ServiceConfig struct {
	SessionDuration      time.Duration
	VerificationTTL      time.Duration
	ResetTTL             time.Duration
	RequireVerifiedLogin bool
	NotifyTimeout        time.Duration
}

// DefaultServiceConfig returns the standard lifetimes: 7 day sessions,
// 24 hour verification codes and 1 hour reset tokens.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		SessionDuration: 7 * 24 * time.Hour,
		VerificationTTL: 24 * time.Hour,
		ResetTTL:        time.Hour,
		NotifyTimeout:   10 * time.Second,
	}
}

// AuthResult is returned by operations that open a session.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      account.Profile
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRecorder reports operation outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithRevocationStore enables server-side logout.
func WithRevocationStore(r RevocationStore) Option {
	return func(s *Service) { s.revocations = r }
}

// WithCodeGenerator replaces the verification code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.newCode = gen }
}

// Service handles the account credential and verification lifecycle
type Service struct {
	store       account.Store
	hasher      PasswordHasher
	tokens      TokenService
	notifier    Notifier
	revocations RevocationStore
	recorder    Recorder
	logger      *logging.Logger
	tasks       *async.Group
	cfg         ServiceConfig

	now       func() time.Time
	newCode   func() (string, error)
	newToken  func() (string, error)
	dummyHash string
}

func NewService(
	store account.Store,
	hasher PasswordHasher,
	tokens TokenService,
	notifier Notifier,
	logger *logging.Logger,
	cfg ServiceConfig,
	opts ...Option,
) (*Service, error) {
	switch {
	case store == nil:
		return nil, errors.New("auth: store is required")
	case hasher == nil:
		return nil, errors.New("auth: password hasher is required")
	case tokens == nil:
		return nil, errors.New("auth: token service is required")
	case notifier == nil:
		return nil, errors.New("auth: notifier is required")
	case logger == nil:
		return nil, errors.New("auth: logger is required")
	}

	defaults := DefaultServiceConfig()
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = defaults.SessionDuration
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = defaults.VerificationTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = defaults.ResetTTL
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaults.NotifyTimeout
	}

	s := &Service{
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		recorder: nopRecorder{},
		logger:   logger,
		tasks:    async.NewGroup(logger, cfg.NotifyTimeout),
		cfg:      cfg,
		now:      time.Now,
		newCode:  newVerificationCode,
		newToken: newResetToken,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Unknown emails are verified against this hash so a failed login takes
	// the same time whether or not the account exists.
	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to seed dummy hash: %w", err)
	}
	dummy, err := hasher.Hash(hex.EncodeToString(seed))
	if err != nil {
		return nil, fmt.Errorf("failed to compute dummy hash: %w", err)
	}
	s.dummyHash = dummy

	return s, nil
}

// Register creates an unverified account and mails it a verification code.
func (s *Service) Register(ctx context.Context, name, email, password string) (_ *account.Profile, err error) {
	defer s.observe(OpRegister, time.Now(), &err)

	name = strings.TrimSpace(name)
	email = account.NormalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return nil, failKind(ErrMissingFields, "operation", OpRegister)
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, internal("hash password", err)
	}

	code, err := s.newCode()
	if err != nil {
		return nil, internal("generate verification code", err)
	}

	now := s.now()
	acct := &account.Account{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Verification: &account.PendingToken{Value: code, ExpiresAt: now.Add(s.cfg.VerificationTTL)},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Create(ctx, acct); err != nil {
		if errors.Is(err, account.ErrDuplicateEmail) {
			return nil, failKind(ErrAlreadyExists, "email", email)
		}
		return nil, internal("create account", err)
	}

	s.notify(ctx, NotifyVerification, func(ctx context.Context) error {
		return s.notifier.SendVerificationCode(ctx, email, name, code)
	})

	profile := acct.Profile()
	return &profile, nil
}

// VerifyEmail consumes a pending verification code and opens a session.
func (s *Service) VerifyEmail(ctx context.Context, code string) (_ *AuthResult, err error) {
	defer s.observe(OpVerifyEmail, time.Now(), &err)

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, failKind(ErrMissingFields, "operation", OpVerifyEmail)
	}

	acct, err := s.store.ConsumeVerificationCode(ctx, code, s.now())
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, failKind(ErrInvalidOrExpiredCode)
		}
		return nil, internal("consume verification code", err)
	}

	// The code is spent and the account verified from here on, so a failed
	// token issue only costs the session: Login opens one.
	s.notify(ctx, NotifyWelcome, func(ctx context.Context) error {
		return s.notifier.SendWelcome(ctx, acct.Email, acct.Name)
	})

	result, err := s.openSession(acct)
	if err != nil {
		s.logger.Warn("email verified without a session", "user_id", acct.ID.String())
		return nil, err
	}
	return result, nil
}

// ResendVerificationCode rotates the pending code, restarts its validity
// window and mails the new code.
func (s *Service) ResendVerificationCode(ctx context.Context, email string) (err error) {
	defer s.observe(OpResendCode, time.Now(), &err)

	email = account.NormalizeEmail(email)
	if email == "" {
		return failKind(ErrMissingFields, "operation", OpResendCode)
	}

	acct, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return failKind(ErrNotFound, "email", email)
		}
		return internal("look up account", err)
	}
	if acct.IsVerified || acct.Verification == nil {
		return failKind(ErrNoPendingVerification, "account_id", acct.ID.String())
	}

	code, err := s.newCode()
	if err != nil {
		return internal("generate verification code", err)
	}

	now := s.now()
	pending := account.PendingToken{Value: code, ExpiresAt: now.Add(s.cfg.VerificationTTL)}
	if err := s.store.SetVerificationCode(ctx, acct.ID, pending, now); err != nil {
		// Verified between the lookup and the update.
		if errors.Is(err, account.ErrNotFound) {
			return failKind(ErrNoPendingVerification, "account_id", acct.ID.String())
		}
		return internal("store verification code", err)
	}

	s.notify(ctx, NotifyVerification, func(ctx context.Context) error {
		return s.notifier.SendVerificationCode(ctx, acct.Email, acct.Name, code)
	})

	return nil
}

// Login checks the credentials, stamps the login time and opens a session.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (_ *AuthResult, err error) {
	defer s.observe(OpLogin, time.Now(), &err)

	email = account.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, failKind(ErrMissingFields, "operation", OpLogin)
	}

	acct, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			s.verifyPassword(password, s.dummyHash)
			return nil, failKind(ErrInvalidCredentials)
		}
		return nil, internal("look up account", err)
	}

	if !s.verifyPassword(password, acct.PasswordHash) {
		return nil, failKind(ErrInvalidCredentials, "account_id", acct.ID.String())
	}

	if s.cfg.RequireVerifiedLogin && !acct.IsVerified {
		return nil, failKind(ErrNotVerified, "account_id", acct.ID.String())
	}

	acct, err = s.store.RecordLogin(ctx, acct.ID, s.now())
	if err != nil {
		return nil, internal("record login", err)
	}

	return s.openSession(acct)
}

// RequestPasswordReset issues a reset token and mails the reset link.
// Only the token's digest is stored.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	defer s.observe(OpRequestPasswordReset, time.Now(), &err)

	email = account.NormalizeEmail(email)
	if email == "" {
		return failKind(ErrMissingFields, "operation", OpRequestPasswordReset)
	}

	acct, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return failKind(ErrNotFound, "email", email)
		}
		return internal("look up account", err)
	}

	token, err := s.newToken()
	if err != nil {
		return internal("generate reset token", err)
	}

	now := s.now()
	reset := account.PendingToken{Value: hashToken(token), ExpiresAt: now.Add(s.cfg.ResetTTL)}
	if err := s.store.SetPasswordReset(ctx, acct.ID, reset, now); err != nil {
		return internal("store reset token", err)
	}

	s.notify(ctx, NotifyPasswordReset, func(ctx context.Context) error {
		return s.notifier.SendPasswordReset(ctx, acct.Email, token)
	})

	return nil
}

// ConfirmPasswordReset consumes a reset token and replaces the password.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (err error) {
	defer s.observe(OpConfirmPasswordReset, time.Now(), &err)

	token = strings.TrimSpace(token)
	if token == "" || newPassword == "" {
		return failKind(ErrMissingFields, "operation", OpConfirmPasswordReset)
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return internal("hash password", err)
	}

	acct, err := s.store.ConsumePasswordReset(ctx, hashToken(token), s.now(), passwordHash)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return failKind(ErrInvalidOrExpiredToken)
		}
		return internal("consume reset token", err)
	}

	s.notify(ctx, NotifyResetSuccess, func(ctx context.Context) error {
		return s.notifier.SendPasswordResetSuccess(ctx, acct.Email)
	})

	return nil
}

// CheckAuth returns the profile of an already authenticated account.
func (s *Service) CheckAuth(ctx context.Context, accountID uuid.UUID) (_ *account.Profile, err error) {
	defer s.observe(OpCheckAuth, time.Now(), &err)

	acct, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, failKind(ErrNotFound, "account_id", accountID.String())
		}
		return nil, internal("look up account", err)
	}

	profile := acct.Profile()
	return &profile, nil
}

// Authenticate verifies a session token and rejects revoked ones. Revocation
// lookups that fail are logged and the token is accepted.
func (s *Service) Authenticate(ctx context.Context, token string) (*TokenClaims, error) {
	claims, err := s.tokens.VerifyToken(token)
	if err != nil {
		return nil, err
	}

	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			s.logger.Warn("failed to check session revocation", "token_id", claims.ID, "error", err.Error())
		} else if revoked {
			return nil, ErrInvalidToken
		}
	}

	return claims, nil
}

// Logout revokes the session described by claims until it would have expired.
// A revocation fault is returned as an internal error; the token then stays
// usable until its own expiry.
func (s *Service) Logout(ctx context.Context, claims *TokenClaims) (err error) {
	defer s.observe(OpLogout, time.Now(), &err)

	if claims == nil || s.revocations == nil {
		return nil
	}
	if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt); err != nil {
		return internal("revoke session", fmt.Errorf("token %s: %w", claims.ID, err))
	}
	return nil
}

// SessionDuration is the lifetime of issued session tokens.
func (s *Service) SessionDuration() time.Duration {
	return s.cfg.SessionDuration
}

// Close waits for in-flight notifications to finish or for ctx to end.
func (s *Service) Close(ctx context.Context) error {
	return s.tasks.Wait(ctx)
}

func (s *Service) openSession(acct *account.Account) (*AuthResult, error) {
	token, claims, err := s.tokens.CreateToken(acct.ID, acct.Email, s.cfg.SessionDuration)
	if err != nil {
		return nil, internal("issue session token", err)
	}
	return &AuthResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAt,
		User:      acct.Profile(),
	}, nil
}

// verifyPassword treats a malformed stored hash as a mismatch.
func (s *Service) verifyPassword(password, hash string) bool {
	ok, err := s.hasher.Verify(password, hash)
	if err != nil {
		s.logger.LogError("stored password hash is unreadable", err)
		return false
	}
	return ok
}

func (s *Service) notify(ctx context.Context, kind string, send func(ctx context.Context) error) {
	s.tasks.Go(ctx, "notify:"+kind, func(ctx context.Context) error {
		err := send(ctx)
		outcome := "sent"
		if err != nil {
			outcome = "failed"
		}
		s.recorder.ObserveNotification(kind, outcome)
		return err
	})
}

func (s *Service) observe(operation string, start time.Time, errp *error) {
	outcome := "success"
	if *errp != nil {
		outcome = strings.ToLower(CodeOf(*errp))
		if KindOf(*errp) == ErrInternal {
			s.logger.LogError(operation+" failed", *errp)
		} else {
			s.logger.Debug(operation+" rejected", "code", CodeOf(*errp))
		}
	}
	s.recorder.ObserveOperation(operation, outcome, time.Since(start))
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/redmonkez12/accountd/internal/account"
	"github.com/redmonkez12/accountd/internal/httputil"
	"github.com/redmonkez12/accountd/internal/logging"
)

const maxBodyBytes = 1 << 20

// RateLimiter throttles the unauthenticated endpoints. Limiter failures are
// logged and the request is let through.
type RateLimiter interface {
	CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error)
	RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error
	CheckEmailCooldown(ctx context.Context, email string) (bool, error)
	SetEmailCooldown(ctx context.Context, email string) error
}

// Handler contains HTTP handlers for the account endpoints
type Handler struct {
	service      *Service
	rateLimiter  RateLimiter
	isProduction bool
}

// NewHandler wires the handlers. A nil rateLimiter disables throttling.
func NewHandler(service *Service, rateLimiter RateLimiter, isProduction bool) *Handler {
	return &Handler{
		service:      service,
		rateLimiter:  rateLimiter,
		isProduction: isProduction,
	}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyEmailRequest represents the email verification request
type VerifyEmailRequest struct {
	Code string `json:"code"`
}

// EmailRequest carries a single email address (resend code, forgot password)
type EmailRequest struct {
	Email string `json:"email"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ResetPasswordRequest represents the password reset confirmation
type ResetPasswordRequest struct {
	Password string `json:"password"`
}

// UserResponse wraps an account profile
type UserResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	User    account.Profile `json:"user"`
}

// AuthResponse is returned when a session is opened
type AuthResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Token   string          `json:"token"`
	User    account.Profile `json:"user"`
}

// Register handles user registration
// @Summary      Register a new account
// @Description  Create an unverified account. A six-digit verification code is emailed.
// @Tags         user
// @Accept       json
// @Produce      json
// @Param        request body RegisterRequest true "Registration details"
// @Success      201 {object} UserResponse
// @Failure      400 {object} httputil.ErrorResponse "Missing or invalid fields"
// @Failure      409 {object} httputil.ErrorResponse "Email already registered"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /user/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.allowIP(w, r, "register") {
		return
	}

	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.respondServiceError(w, r, OpRegister, err)
		return
	}

	logging.GetLoggerFromContext(r.Context()).Info("account registered", "user_id", profile.ID)
	httputil.RespondJSON(w, r, UserResponse{
		Success: true,
		Message: "Account created successfully",
		User:    *profile,
	}, http.StatusCreated)
}

// VerifyEmail handles email verification
// @Summary      Verify email address
// @Description  Consume the emailed verification code and open a session.
// @Tags         user
// @Accept       json
// @Produce      json
// @Param        request body VerifyEmailRequest true "Verification code"
// @Success      200 {object} AuthResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid or expired code"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /user/verify-email [post]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if !h.allowIP(w, r, "verify-email") {
		return
	}

	var req VerifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.VerifyEmail(r.Context(), req.Code)
	if err != nil {
		h.respondServiceError(w, r, OpVerifyEmail, err)
		return
	}

	logging.GetLoggerFromContext(r.Context()).Info("email verified", "user_id", result.User.ID)
	h.respondSession(w, r, result, "Email verified successfully")
}

// ResendCode handles resending the verification code
// @Summary      Resend verification code
// @Description  Issue a fresh verification code valid for 24 hours and email it.
// @Tags         user
// @Accept       json
// @Produce      json
// @Param        request body EmailRequest true "Email address"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Missing email or nothing pending"
// @Failure      404 {object} httputil.ErrorResponse "Unknown email"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Router       /user/resend-code [post]
func (h *Handler) ResendCode(w http.ResponseWriter, r *http.Request) {
	if !h.allowIP(w, r, "resend-code") {
		return
	}

	var req EmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if !h.allowEmail(w, r, req.Email, "please wait before requesting another code") {
		return
	}

	if err := h.service.ResendVerificationCode(r.Context(), req.Email); err != nil {
		h.respondServiceError(w, r, OpResendCode, err)
		return
	}

	h.startCooldown(r, req.Email)
	httputil.RespondMessage(w, r, "Verification code resent successfully", http.StatusOK)
}

// Login handles user login
// @Summary      Log in
// @Description  Authenticate with email and password and open a session.
// @Tags         user
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} AuthResponse
// @Failure      400 {object} httputil.ErrorResponse "Missing fields"
// @Failure      401 {object} httputil.ErrorResponse "Invalid credentials"
// @Failure      403 {object} httputil.ErrorResponse "Email not verified"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Router       /user/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.allowIP(w, r, "login") {
		return
	}

	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondServiceError(w, r, OpLogin, err)
		return
	}

	logging.GetLoggerFromContext(r.Context()).Info("user logged in", "user_id", result.User.ID)
	h.respondSession(w, r, result, "Logged in successfully")
}

// ForgotPassword handles password reset requests
// @Summary      Request password reset
// @Description  Email a single-use reset link valid for one hour.
// @Tags         user
// @Accept       json
// @Produce      json
// @Param        request body EmailRequest true "Email address"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Missing email"
// @Failure      404 {object} httputil.ErrorResponse "Unknown email"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Router       /user/forgot-password [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	if !h.allowIP(w, r, "forgot-password") {
		return
	}

	var req EmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if !h.allowEmail(w, r, req.Email, "please wait before requesting another reset") {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.respondServiceError(w, r, OpRequestPasswordReset, err)
		return
	}

	h.startCooldown(r, req.Email)
	httputil.RespondMessage(w, r, "Password reset link sent to your email", http.StatusOK)
}

// ResetPassword handles password reset with token
// @Summary      Reset password
// @Description  Replace the password using the token from the reset link.
// @Tags         user
// @Accept       json
// @Produce      json
// @Param        token   path string               true "Reset token"
// @Param        request body ResetPasswordRequest true "New password"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid or expired token, or weak password"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /user/reset-password/{token} [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ConfirmPasswordReset(r.Context(), chi.URLParam(r, "token"), req.Password); err != nil {
		h.respondServiceError(w, r, OpConfirmPasswordReset, err)
		return
	}

	logging.GetLoggerFromContext(r.Context()).Info("password reset completed")
	httputil.RespondMessage(w, r, "Password reset successful", http.StatusOK)
}

// CheckAuth returns the profile of the signed-in account
// @Summary      Current account
// @Description  Return the profile of the account that owns the session token.
// @Tags         user
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} UserResponse
// @Failure      401 {object} httputil.ErrorResponse "Missing or invalid session"
// @Failure      404 {object} httputil.ErrorResponse "Account no longer exists"
// @Router       /user/check-auth [get]
func (h *Handler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, r, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	profile, err := h.service.CheckAuth(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, OpCheckAuth, err)
		return
	}

	httputil.RespondJSON(w, r, UserResponse{Success: true, User: *profile}, http.StatusOK)
}

// Logout handles user logout
// @Summary      Log out
// @Description  Revoke the presented session token and clear the session cookie.
// @Tags         user
// @Produce      json
// @Success      200 {object} httputil.MessageResponse
// @Router       /user/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	token := bearerToken(r)
	if token == "" {
		token, _ = GetSessionTokenFromCookie(r)
	}

	if token != "" {
		claims, err := h.service.Authenticate(r.Context(), token)
		if err == nil {
			if err := h.service.Logout(r.Context(), claims); err != nil {
				// The cookie is still cleared; the token lapses at its expiry.
				logger.Warn("session not revoked on logout", "user_id", claims.UserID, "error", err.Error())
			} else {
				logger.Info("user logged out", "user_id", claims.UserID)
			}
		}
	}

	ClearSessionCookie(w, h.isProduction)
	httputil.RespondMessage(w, r, "Logged out successfully", http.StatusOK)
}

func (h *Handler) respondSession(w http.ResponseWriter, r *http.Request, result *AuthResult, message string) {
	SetSessionCookie(w, result.Token, h.isProduction, h.service.SessionDuration())
	httputil.RespondJSON(w, r, AuthResponse{
		Success: true,
		Message: message,
		Token:   result.Token,
		User:    result.User,
	}, http.StatusOK)
}

// respondServiceError maps an error kind to its status and payload.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	logger := logging.GetLoggerFromContext(r.Context())

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.LogError(operation+" failed", err)
	} else {
		logger.Warn(operation+" rejected", "code", CodeOf(err))
	}

	httputil.RespondErrorWithCode(w, r, PublicMessage(err), CodeOf(err), status)
}

func statusFor(err error) int {
	switch KindOf(err) {
	case ErrValidationFailed, ErrMissingFields, ErrInvalidOrExpiredCode,
		ErrInvalidOrExpiredToken, ErrNoPendingVerification:
		return http.StatusBadRequest
	case ErrAlreadyExists:
		return http.StatusConflict
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInvalidCredentials:
		return http.StatusUnauthorized
	case ErrNotVerified:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) allowIP(w http.ResponseWriter, r *http.Request, purpose string) bool {
	if h.rateLimiter == nil {
		return true
	}
	logger := logging.GetLoggerFromContext(r.Context())
	ip := getClientIP(r)

	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, purpose)
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip, "purpose", purpose)
		httputil.RespondErrorWithCode(w, r, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return false
	}

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, purpose); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}
	return true
}

func (h *Handler) allowEmail(w http.ResponseWriter, r *http.Request, email, message string) bool {
	if h.rateLimiter == nil || strings.TrimSpace(email) == "" {
		return true
	}
	logger := logging.GetLoggerFromContext(r.Context())

	onCooldown, err := h.rateLimiter.CheckEmailCooldown(r.Context(), email)
	if err != nil {
		logger.Error("failed to check email cooldown", "error", err.Error())
		return true
	}
	if onCooldown {
		logger.Warn("email on cooldown")
		httputil.RespondErrorWithCode(w, r, message, httputil.CodeCooldownActive, http.StatusTooManyRequests)
		return false
	}
	return true
}

func (h *Handler) startCooldown(r *http.Request, email string) {
	if h.rateLimiter == nil {
		return
	}
	if err := h.rateLimiter.SetEmailCooldown(r.Context(), email); err != nil {
		logging.GetLoggerFromContext(r.Context()).Error("failed to set email cooldown", "error", err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.RespondErrorWithCode(w, r, "request body too large", httputil.CodeInvalidRequestBody, http.StatusRequestEntityTooLarge)
			return false
		}
		logging.GetLoggerFromContext(r.Context()).Warn("invalid request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, r, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// getClientIP extracts the client IP address from the request. Forwarding
// headers are not read here; the router rewrites RemoteAddr from them when
// the deployment trusts its proxy.
func getClientIP(r *http.Request) string {
	// RemoteAddr format is "IP:port", extract just the IP
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

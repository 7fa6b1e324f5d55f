package email

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/redmonkez12/accountd/internal/config"
	"github.com/redmonkez12/accountd/internal/logging"
)

const defaultAppName = "Accountd"

// Config controls how account mail is addressed and delivered.
type Config struct {
	From            string
	FrontendURL     string
	AppName         string
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	MaxRetries      int
	RetryBase       time.Duration
}

// Service renders account mail and hands it to a Sender, retrying
// transient failures with exponential backoff.
type Service struct {
	sender Sender
	cfg    Config
	logger *logging.Logger
	now    func() time.Time
}

func NewService(sender Sender, cfg Config, logger *logging.Logger) *Service {
	if cfg.AppName == "" {
		cfg.AppName = defaultAppName
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{sender: sender, cfg: cfg, logger: logger, now: time.Now}
}

// NewFromConfig picks the sender named by the EMAIL_PROVIDER setting.
func NewFromConfig(cfg *config.Config, logger *logging.Logger) (*Service, error) {
	var sender Sender
	switch cfg.Email.Provider {
	case config.EmailProviderSMTP:
		sender = NewSMTPSender(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPUser, cfg.Email.SMTPPassword)
	case config.EmailProviderResend:
		sender = NewResendSender(cfg.Email.ResendAPIKey, &http.Client{Timeout: cfg.Email.SendTimeout})
	case config.EmailProviderLog:
		sender = NewLogSender(logger)
	default:
		return nil, oops.In("email").Errorf("unsupported email provider %q", cfg.Email.Provider)
	}

	return NewService(sender, Config{
		From:            cfg.Email.From,
		FrontendURL:     cfg.Email.FrontendURL,
		VerificationTTL: cfg.Auth.VerificationCodeTTL,
		ResetTTL:        cfg.Auth.ResetTokenTTL,
		MaxRetries:      cfg.Email.MaxRetries,
	}, logger), nil
}

// SendVerificationCode mails the six-digit code that confirms an address.
func (s *Service) SendVerificationCode(ctx context.Context, toEmail, name, code string) error {
	return s.send(ctx, toEmail, "Verify your email address", tmplVerification, templateData{
		Name:      name,
		Code:      code,
		ExpiresIn: humanDuration(s.cfg.VerificationTTL),
	})
}

func (s *Service) SendWelcome(ctx context.Context, toEmail, name string) error {
	return s.send(ctx, toEmail, "Welcome to "+s.cfg.AppName, tmplWelcome, templateData{
		Name: name,
		Link: s.cfg.FrontendURL,
	})
}

// SendPasswordReset mails a link carrying the plaintext reset token. Only the
// digest of the token is stored, so this mail is the one place it exists.
func (s *Service) SendPasswordReset(ctx context.Context, toEmail, token string) error {
	return s.send(ctx, toEmail, "Reset your password", tmplPasswordReset, templateData{
		Link:      s.ResetLink(token),
		ExpiresIn: humanDuration(s.cfg.ResetTTL),
	})
}

func (s *Service) SendPasswordResetSuccess(ctx context.Context, toEmail string) error {
	return s.send(ctx, toEmail, "Your password was changed", tmplResetSuccess, templateData{})
}

// ResetLink builds the frontend URL a reset token is delivered under.
func (s *Service) ResetLink(token string) string {
	return fmt.Sprintf("%s/reset-password/%s", s.cfg.FrontendURL, url.PathEscape(token))
}

func (s *Service) send(ctx context.Context, to, subject, tmpl string, data templateData) error {
	data.AppName = s.cfg.AppName
	data.Year = s.now().Year()

	body, err := render(tmpl, data)
	if err != nil {
		return oops.In("email").Code("TEMPLATE_FAILED").With("template", tmpl).Wrap(err)
	}

	msg := Message{From: s.cfg.From, To: to, Subject: subject, HTML: body}
	if err := s.deliver(ctx, msg); err != nil {
		return oops.In("email").Code("DELIVERY_FAILED").With("template", tmpl).Wrapf(err, "failed to send %s email", tmpl)
	}

	s.logger.Info("email sent", "template", tmpl, "email", to)
	return nil
}

func (s *Service) deliver(ctx context.Context, msg Message) error {
	backoff := retry.WithMaxRetries(uint64(s.cfg.MaxRetries), retry.NewExponential(s.cfg.RetryBase))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := s.sender.Send(ctx, msg)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		s.logger.Warn("email delivery attempt failed", "attempt", attempt, "error", err.Error())
		return retry.RetryableError(err)
	})
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return ""
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/redmonkez12/accountd/internal/logging"
)

// Message is a rendered HTML mail.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// permanentError marks a delivery failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// SMTPSender sends mail through an SMTP relay with PLAIN auth.
type SMTPSender struct {
	addr     string
	host     string
	user     string
	password string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(host, port, user, password string) *SMTPSender {
	return &SMTPSender{
		addr:     net.JoinHostPort(host, port),
		host:     host,
		user:     user,
		password: password,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return &permanentError{err: errors.New("header values must not contain line breaks")}
	}

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.password, s.host)
	}

	body := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		msg.From, msg.To, msg.Subject, msg.HTML,
	))

	// net/smtp has no context support; honour cancellation before dialing.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sendMail(s.addr, auth, msg.From, []string{msg.To}, body); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

const resendEndpoint = "https://api.resend.com/emails"

// ResendSender delivers mail through the Resend HTTP API.
type ResendSender struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewResendSender(apiKey string, client *http.Client) *ResendSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &ResendSender{apiKey: apiKey, endpoint: resendEndpoint, client: client}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(resendRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return &permanentError{err: fmt.Errorf("encode resend request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &permanentError{err: fmt.Errorf("build resend request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("resend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err = fmt.Errorf("resend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return &permanentError{err: err}
}

// LogSender writes mails to the log instead of delivering them. Used in
// development so codes and links can be read from the console.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("email (not delivered)",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.HTML,
	)
	return nil
}

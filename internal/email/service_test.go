package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/accountd/internal/config"
	"github.com/redmonkez12/accountd/internal/logging"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []Message
	failures []error
}

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	return nil
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func newTestService(sender Sender) *Service {
	return NewService(sender, Config{
		From:            "noreply@example.com",
		FrontendURL:     "https://app.example",
		VerificationTTL: 24 * time.Hour,
		ResetTTL:        time.Hour,
		MaxRetries:      2,
		RetryBase:       time.Millisecond,
	}, logging.Discard())
}

func TestService_SendVerificationCode(t *testing.T) {
	sender := &fakeSender{}
	svc := newTestService(sender)

	require.NoError(t, svc.SendVerificationCode(context.Background(), "ann@example.com", "Ann", "482913"))

	require.Len(t, sender.messages, 1)
	msg := sender.messages[0]
	assert.Equal(t, "noreply@example.com", msg.From)
	assert.Equal(t, "ann@example.com", msg.To)
	assert.Equal(t, "Verify your email address", msg.Subject)
	assert.Contains(t, msg.HTML, "482913")
	assert.Contains(t, msg.HTML, "Hello Ann,")
	assert.Contains(t, msg.HTML, "expire in 24 hours")
}

func TestService_SendPasswordReset(t *testing.T) {
	sender := &fakeSender{}
	svc := newTestService(sender)

	require.NoError(t, svc.SendPasswordReset(context.Background(), "ann@example.com", "abc123"))

	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0].HTML, "https://app.example/reset-password/abc123")
	assert.Contains(t, sender.messages[0].HTML, "expire in 1 hour")
}

func TestService_SendWelcomeAndResetSuccess(t *testing.T) {
	sender := &fakeSender{}
	svc := newTestService(sender)

	require.NoError(t, svc.SendWelcome(context.Background(), "ann@example.com", "Ann"))
	require.NoError(t, svc.SendPasswordResetSuccess(context.Background(), "ann@example.com"))

	require.Len(t, sender.messages, 2)
	assert.Equal(t, "Welcome to Accountd", sender.messages[0].Subject)
	assert.Contains(t, sender.messages[0].HTML, "Welcome, Ann!")
	assert.Contains(t, sender.messages[1].HTML, "Your password has been changed")
}

func TestService_EscapesUserInput(t *testing.T) {
	sender := &fakeSender{}
	svc := newTestService(sender)

	require.NoError(t, svc.SendVerificationCode(context.Background(), "ann@example.com", "<script>x</script>", "111111"))

	assert.NotContains(t, sender.messages[0].HTML, "<script>")
	assert.Contains(t, sender.messages[0].HTML, "&lt;script&gt;")
}

func TestService_RetriesTransientFailures(t *testing.T) {
	sender := &fakeSender{failures: []error{errors.New("connection reset"), errors.New("connection reset")}}
	svc := newTestService(sender)

	require.NoError(t, svc.SendWelcome(context.Background(), "ann@example.com", "Ann"))
	assert.Equal(t, 3, sender.calls())
}

func TestService_GivesUpAfterMaxRetries(t *testing.T) {
	transient := errors.New("connection reset")
	sender := &fakeSender{failures: []error{transient, transient, transient, transient}}
	svc := newTestService(sender)

	err := svc.SendWelcome(context.Background(), "ann@example.com", "Ann")
	require.Error(t, err)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, sender.calls())
}

func TestService_DoesNotRetryPermanentFailures(t *testing.T) {
	sender := &fakeSender{failures: []error{&permanentError{err: errors.New("bad recipient")}}}
	svc := newTestService(sender)

	err := svc.SendWelcome(context.Background(), "ann@example.com", "Ann")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, sender.calls())
}

func TestSMTPSender_Send(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", "587", "user", "secret")

	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, msg
		assert.NotNil(t, a)
		return nil
	}

	err := s.Send(context.Background(), Message{From: "noreply@example.com", To: "ann@example.com", Subject: "Hi", HTML: "<p>hi</p>"})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "noreply@example.com", gotFrom)
	assert.Equal(t, []string{"ann@example.com"}, gotTo)
	assert.True(t, bytes.Contains(gotBody, []byte("Subject: Hi\r\n")))
	assert.True(t, bytes.Contains(gotBody, []byte("Content-Type: text/html; charset=UTF-8")))
}

func TestSMTPSender_RejectsHeaderInjection(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", "587", "", "")
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("sendMail must not be called")
		return nil
	}

	err := s.Send(context.Background(), Message{To: "ann@example.com\r\nBcc: eve@example.com", Subject: "Hi"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestResendSender_Send(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	s := NewResendSender("re_test", srv.Client())
	s.endpoint = srv.URL

	err := s.Send(context.Background(), Message{From: "noreply@example.com", To: "ann@example.com", Subject: "Hi", HTML: "<p>hi</p>"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ann@example.com"}, got.To)
	assert.Equal(t, "Hi", got.Subject)
}

func TestResendSender_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusUnprocessableEntity, true},
		{http.StatusUnauthorized, true},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			s := NewResendSender("re_test", srv.Client())
			s.endpoint = srv.URL

			err := s.Send(context.Background(), Message{To: "ann@example.com"})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestLogSender_Send(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(logging.New(&buf, false))

	require.NoError(t, s.Send(context.Background(), Message{To: "ann@example.com", Subject: "Hi", HTML: "code 123456"}))
	assert.True(t, strings.Contains(buf.String(), "123456"))
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		provider string
		want     any
		wantErr  bool
	}{
		{config.EmailProviderLog, &LogSender{}, false},
		{config.EmailProviderSMTP, &SMTPSender{}, false},
		{config.EmailProviderResend, &ResendSender{}, false},
		{"carrier-pigeon", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := &config.Config{Email: config.EmailConfig{Provider: tt.provider, SMTPHost: "localhost", SMTPPort: "25"}}
			svc, err := NewFromConfig(cfg, logging.Discard())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, svc.sender)
		})
	}
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "24 hours", humanDuration(24*time.Hour))
	assert.Equal(t, "1 hour", humanDuration(time.Hour))
	assert.Equal(t, "15 minutes", humanDuration(15*time.Minute))
	assert.Equal(t, "1m30s", humanDuration(90*time.Second))
	assert.Equal(t, "", humanDuration(0))
}

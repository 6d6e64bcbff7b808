// Package notify delivers OTP codes and account notices to a destination
// address. Delivery is best effort: callers log failures and carry on.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/investmarket/auth-api/internal/domain"
)

// Notifier delivers a message to an email address or E.164 phone number.
// The bool reports whether the message was handed off for delivery.
type Notifier interface {
	SendOTP(ctx context.Context, to, code string, purpose domain.Purpose) (bool, error)
	SendNotice(ctx context.Context, to, subject, body string) (bool, error)
}

// EmailSender is implemented by the SMTP and MailerSend transports.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is implemented by the SNS transport.
type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

var otpSubjects = map[domain.Purpose]string{
	domain.PurposeEmailVerification:       "Verify your email address",
	domain.PurposeLoginVerification:       "Your sign-in code",
	domain.PurposePasswordReset:           "Reset your password",
	domain.PurposePhoneVerification:       "Verify your phone number",
	domain.PurposeTwoFactor:               "Your verification code",
	domain.PurposeTransactionVerification: "Confirm your transaction",
}

func otpSubject(purpose domain.Purpose) string {
	if s, ok := otpSubjects[purpose]; ok {
		return s
	}
	return "Your verification code"
}

func otpText(code string, purpose domain.Purpose) string {
	return fmt.Sprintf("%s: %s\n\nIf you did not request this code, you can ignore this message.", otpSubject(purpose), code)
}

// Email renders messages as plain-text email.
type Email struct {
	sender EmailSender
}

func NewEmail(sender EmailSender) *Email {
	return &Email{sender: sender}
}

func (e *Email) SendOTP(ctx context.Context, to, code string, purpose domain.Purpose) (bool, error) {
	if err := e.sender.SendEmail(ctx, to, otpSubject(purpose), otpText(code, purpose)); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Email) SendNotice(ctx context.Context, to, subject, body string) (bool, error) {
	if err := e.sender.SendEmail(ctx, to, subject, body); err != nil {
		return false, err
	}
	return true, nil
}

// SMS renders messages as short text messages.
type SMS struct {
	sender SMSSender
}

func NewSMS(sender SMSSender) *SMS {
	return &SMS{sender: sender}
}

func (s *SMS) SendOTP(ctx context.Context, to, code string, purpose domain.Purpose) (bool, error) {
	msg := fmt.Sprintf("%s: %s", otpSubject(purpose), code)
	if err := s.sender.SendSMS(ctx, to, msg); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SMS) SendNotice(ctx context.Context, to, subject, body string) (bool, error) {
	if err := s.sender.SendSMS(ctx, to, subject+": "+body); err != nil {
		return false, err
	}
	return true, nil
}

// Dev logs messages instead of delivering them.
type Dev struct{}

func (Dev) SendOTP(ctx context.Context, to, code string, purpose domain.Purpose) (bool, error) {
	slog.InfoContext(ctx, "[DEV NOTIFY] otp", "to", to, "purpose", purpose, "code", code)
	return true, nil
}

func (Dev) SendNotice(ctx context.Context, to, subject, body string) (bool, error) {
	slog.InfoContext(ctx, "[DEV NOTIFY] notice", "to", to, "subject", subject, "body", body)
	return true, nil
}

// Router sends phone destinations over SMS and everything else over email.
// A nil channel reports the message as not delivered.
type Router struct {
	Email Notifier
	SMS   Notifier
}

func (r Router) pick(to string) Notifier {
	if strings.HasPrefix(to, "+") {
		return r.SMS
	}
	return r.Email
}

func (r Router) SendOTP(ctx context.Context, to, code string, purpose domain.Purpose) (bool, error) {
	n := r.pick(to)
	if n == nil {
		return false, fmt.Errorf("no channel configured for %q", to)
	}
	return n.SendOTP(ctx, to, code, purpose)
}

func (r Router) SendNotice(ctx context.Context, to, subject, body string) (bool, error) {
	n := r.pick(to)
	if n == nil {
		return false, fmt.Errorf("no channel configured for %q", to)
	}
	return n.SendNotice(ctx, to, subject, body)
}

package smtp

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/investmarket/auth-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailer_SendEmail(t *testing.T) {
	m := NewMailer(&config.Config{SMTPHost: "mail.local", SMTPPort: "1025", SMTPFrom: "noreply@example.com"})
	var gotAddr string
	var gotTo []string
	var gotMsg string
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		assert.Nil(t, a)
		return nil
	}

	require.NoError(t, m.SendEmail(context.Background(), " a@x.com ", "Your code", "123456"))
	assert.Equal(t, "mail.local:1025", gotAddr)
	assert.Equal(t, []string{"a@x.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Your code\r\n")
	assert.Contains(t, gotMsg, "\r\n\r\n123456")
}

func TestMailer_RejectsHeaderInjection(t *testing.T) {
	m := NewMailer(&config.Config{})
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("must not send")
		return nil
	}
	assert.Error(t, m.SendEmail(context.Background(), "a@x.com\r\nBcc: b@x.com", "s", "b"))
	assert.Error(t, m.SendEmail(context.Background(), "", "s", "b"))
}

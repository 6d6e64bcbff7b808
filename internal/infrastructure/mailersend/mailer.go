// Package mailersend delivers email through the MailerSend HTTP API.
package mailersend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
)

const sendTimeout = 10 * time.Second

type Mailer struct {
	client *mailersend.Mailersend
	from   mailersend.From
}

// NewMailer returns nil when apiKey or fromEmail is empty.
func NewMailer(apiKey, fromName, fromEmail string) *Mailer {
	if apiKey == "" || fromEmail == "" {
		return nil
	}
	return &Mailer{
		client: mailersend.NewMailersend(apiKey),
		from:   mailersend.From{Name: fromName, Email: fromEmail},
	}
}

func (m *Mailer) SendEmail(ctx context.Context, to, subject, body string) error {
	if m == nil {
		return errors.New("mailersend not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Email: to}})
	msg.SetSubject(subject)
	msg.SetText(body)

	res, err := m.client.Email.Send(ctx, msg)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("mailersend error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

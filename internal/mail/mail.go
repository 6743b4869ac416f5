// Package mail sends receipt e-mails through Brevo.
package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	brevo "github.com/getbrevo/brevo-go/lib"
	"go.uber.org/zap"
)

var ErrNoRecipient = errors.New("mail: recipient address missing")

// Attachment is a file sent along with a message.
type Attachment struct {
	Name    string
	Content []byte
}

// Message is one transactional e-mail.
type Message struct {
	ToEmail     string
	ToName      string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type transacAPI interface {
	SendTransacEmail(ctx context.Context, email brevo.SendSmtpEmail) (brevo.CreateSmtpEmail, *http.Response, error)
}

// Brevo sends through the Brevo transactional e-mail API.
type Brevo struct {
	api       transacAPI
	fromEmail string
	fromName  string
}

// NewBrevo creates a Brevo sender.
func NewBrevo(apiKey, fromEmail, fromName string) *Brevo {
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	client := brevo.NewAPIClient(cfg)
	return &Brevo{api: client.TransactionalEmailsApi, fromEmail: fromEmail, fromName: fromName}
}

// NewSender returns a Brevo sender, or a LogSender when apiKey is empty.
func NewSender(apiKey, fromEmail, fromName string, log *zap.Logger) Sender {
	if apiKey == "" {
		if log == nil {
			log = zap.NewNop()
		}
		log.Warn("brevo not configured, receipts are logged only")
		return LogSender{Log: log}
	}
	return NewBrevo(apiKey, fromEmail, fromName)
}

// Send delivers msg.
func (b *Brevo) Send(ctx context.Context, msg Message) error {
	if msg.ToEmail == "" {
		return ErrNoRecipient
	}
	email := brevo.SendSmtpEmail{
		Sender:      &brevo.SendSmtpEmailSender{Name: b.fromName, Email: b.fromEmail},
		To:          []brevo.SendSmtpEmailTo{{Email: msg.ToEmail, Name: msg.ToName}},
		Subject:     msg.Subject,
		HtmlContent: msg.HTML,
		TextContent: msg.Text,
	}
	for _, a := range msg.Attachments {
		email.Attachment = append(email.Attachment, brevo.SendSmtpEmailAttachment{
			Name:    a.Name,
			Content: base64.StdEncoding.EncodeToString(a.Content),
		})
	}
	_, resp, err := b.api.SendTransacEmail(ctx, email)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("brevo send: %w", err)
	}
	if resp != nil && resp.StatusCode >= 300 {
		return fmt.Errorf("brevo send: status %d", resp.StatusCode)
	}
	return nil
}

// LogSender writes messages to the log instead of sending them. It is used
// when no Brevo key is configured.
type LogSender struct {
	Log *zap.Logger
}

func (l LogSender) Send(_ context.Context, msg Message) error {
	if msg.ToEmail == "" {
		return ErrNoRecipient
	}
	l.Log.Info("mail not sent, no provider configured",
		zap.String("to", msg.ToEmail), zap.String("subject", msg.Subject), zap.Int("attachments", len(msg.Attachments)))
	return nil
}

package notification

import (
	"context"
	"errors"
	"net/textproto"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/side/eventful/internal/domain"
)

// SMTPConfig holds SMTP relay configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
	CodeTTL  time.Duration
}

// SMTPProvider sends verification mail through a plain SMTP relay.
type SMTPProvider struct {
	config SMTPConfig
	dialer *gomail.Dialer
}

// NewSMTPProvider creates an SMTP-backed provider.
func NewSMTPProvider(config SMTPConfig) *SMTPProvider {
	return &SMTPProvider{
		config: config,
		dialer: gomail.NewDialer(config.Host, config.Port, config.User, config.Password),
	}
}

// Send delivers the code mail. SMTP reply codes invert the HTTP
// convention: 5xx replies are permanent rejections, 4xx are transient.
// Dial and transport errors are transient. SMTP exposes no message id.
func (p *SMTPProvider) Send(ctx context.Context, to string, purpose domain.Purpose, code string) (string, error) {
	subject, body := mailContent(purpose, code, p.config.CodeTTL)

	m := gomail.NewMessage()
	m.SetAddressHeader("From", p.config.From, p.config.FromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := p.dialer.DialAndSend(m); err != nil {
		sendErr := &SendError{Err: err}
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) {
			sendErr.StatusCode = protoErr.Code
			sendErr.Permanent = protoErr.Code >= 500
		}
		return "", sendErr
	}
	return "", nil
}

package notification

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/side/eventful/internal/domain"
)

// SendGridProvider sends verification mail through SendGrid.
type SendGridProvider struct {
	client  *sendgrid.Client
	from    *mail.Email
	codeTTL time.Duration
}

// NewSendGridProvider creates a SendGrid-backed provider.
func NewSendGridProvider(apiKey, fromEmail, fromName string, codeTTL time.Duration) *SendGridProvider {
	return &SendGridProvider{
		client:  sendgrid.NewSendClient(apiKey),
		from:    mail.NewEmail(fromName, fromEmail),
		codeTTL: codeTTL,
	}
}

// Send delivers the code mail. Responses are classified per the retry
// policy: 5xx and 429 are transient (429 carrying any Retry-After
// hint), other 4xx are permanent, transport errors are transient.
func (p *SendGridProvider) Send(ctx context.Context, to string, purpose domain.Purpose, code string) (string, error) {
	subject, body := mailContent(purpose, code, p.codeTTL)
	message := mail.NewSingleEmail(p.from, subject, mail.NewEmail("", to), body, "")

	resp, err := p.client.SendWithContext(ctx, message)
	if err != nil {
		return "", &SendError{Permanent: false, Err: err}
	}

	if resp.StatusCode < http.StatusMultipleChoices {
		return messageID(resp.Headers), nil
	}

	sendErr := &SendError{
		StatusCode: resp.StatusCode,
		Message:    resp.Body,
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		sendErr.RetryAfter = retryAfter(resp.Headers)
	case resp.StatusCode >= http.StatusInternalServerError:
		// transient
	default:
		sendErr.Permanent = true
	}
	return "", sendErr
}

func messageID(headers map[string][]string) string {
	if v := headers["X-Message-Id"]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func retryAfter(headers map[string][]string) time.Duration {
	v := headers["Retry-After"]
	if len(v) == 0 {
		return 0
	}
	secs, err := strconv.Atoi(v[0])
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

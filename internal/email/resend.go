package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"

	"github.com/ignite-health/funnel/internal/metrics"
)

// Message is one rendered email ready for delivery.
type Message struct {
	To       string
	Subject  string
	HTML     string
	Template string
	Headers  map[string]string
}

// Sender delivers rendered messages and returns the provider's message ID.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

type resendSender struct {
	client *resend.Client
	from   string
	logger zerolog.Logger
}

func newResendSender(client *resend.Client, from string, logger zerolog.Logger) *resendSender {
	return &resendSender{client: client, from: from, logger: logger}
}

// Send posts msg to the Resend API. A 429 is returned wrapped in
// ErrRateLimited and is left to the caller to retry.
func (rs *resendSender) Send(ctx context.Context, msg Message) (id string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveUpstream("resend", start, err) }()

	sent, err := rs.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    rs.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Headers: msg.Headers,
		Tags:    []resend.Tag{{Name: "template", Value: msg.Template}},
	})
	var limited *resend.RateLimitError
	switch {
	case errors.As(err, &limited):
		rs.logger.Warn().Str("limit", limited.Limit).Str("reset", limited.Reset).Msg("resend rate limit reached")
		return "", fmt.Errorf("%w, resets in %ss: %w", ErrRateLimited, limited.Reset, err)
	case err != nil:
		return "", fmt.Errorf("resend: %w", err)
	}
	return sent.Id, nil
}

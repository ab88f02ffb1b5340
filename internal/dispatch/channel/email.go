package channel

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"vigil/internal/platform/config"
)

// Email sends notifications over SMTP. One dial per send keeps the adapter
// stateless; the dispatcher owns batching and retry policy.
type Email struct {
	dialer     *gomail.Dialer
	senderAddr string
	senderName string
}

// NewEmail constructs the SMTP channel adapter.
func NewEmail(cfg config.SMTP) *Email {
	return &Email{
		dialer:     gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		senderAddr: cfg.SenderAddress,
		senderName: cfg.SenderName,
	}
}

func (e *Email) Name() string { return "smtp" }

// Send delivers one message. An unparseable recipient address is a permanent
// failure; SMTP-level errors are left retryable for the dispatcher.
func (e *Email) Send(ctx context.Context, msg Message) (string, error) {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return "", Permanent(fmt.Errorf("invalid recipient address %q: %w", msg.To, err))
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", e.senderAddr, e.senderName)
	m.SetAddressHeader("To", msg.To, msg.ToName)
	m.SetHeader("Subject", msg.Subject)
	messageID := fmt.Sprintf("<%s@vigil>", uuid.NewString())
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/plain", msg.Body)

	// gomail has no context support; run the dial in a goroutine so the
	// dispatcher's timeout still bounds the call.
	done := make(chan error, 1)
	go func() { done <- e.dialer.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			if isAddressRejection(err) {
				return "", Permanent(err)
			}
			return "", err
		}
	}
	return strings.Trim(messageID, "<>"), nil
}

// isAddressRejection detects SMTP 5xx recipient rejections, which retrying
// cannot fix.
func isAddressRejection(err error) bool {
	s := err.Error()
	return strings.Contains(s, "550") || strings.Contains(s, "551") || strings.Contains(s, "553")
}

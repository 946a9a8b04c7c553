package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// Message is an outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages best-effort. The issuance pipeline treats
// delivery as fire-and-forget: a failed send never invalidates a created
// request or an issued certificate.
type Sender interface {
	Send(msg Message) error
}

// SMTPSender delivers via a plain SMTP relay.
type SMTPSender struct {
	addr string
	from string
}

// NewSMTPSender creates a sender relaying through addr
func NewSMTPSender(addr, from string) *SMTPSender {
	return &SMTPSender{addr: addr, from: from}
}

// Send delivers the message
func (s *SMTPSender) Send(msg Message) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")

	if err := smtp.SendMail(s.addr, nil, s.from, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", msg.To, err)
	}

	return nil
}

// LogSender logs messages instead of delivering them. Used in development
// and when mail is disabled.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a logging sender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message
func (s *LogSender) Send(msg Message) error {
	s.logger.Info("outbound mail (delivery disabled)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

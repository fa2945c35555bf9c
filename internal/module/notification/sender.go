package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/smtp"

	"go.uber.org/zap"
)

// Sender delivers a single notification to its recipient.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// SMTPConfig holds SMTP configuration.
type SMTPConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	FromAddress string
	FromName    string
}

// SMTPSender delivers notifications as email via SMTP.
type SMTPSender struct {
	config *SMTPConfig
	logger *zap.Logger
}

// NewSMTPSender creates a new SMTP sender.
func NewSMTPSender(config *SMTPConfig, logger *zap.Logger) *SMTPSender {
	return &SMTPSender{
		config: config,
		logger: logger,
	}
}

var subjects = map[string]string{
	TemplateOrderReviewed:   "Your order has been reviewed",
	TemplateOrderPaid:       "Payment received for your order",
	TemplateOrderCancelled:  "Your order has been cancelled",
	TemplateRefundRequested: "Refund request received",
	TemplateRefundReviewed:  "Your refund request has been reviewed",
	TemplateRefundConfirmed: "Refund confirmation received",
	TemplateRefundProcessed: "Your refund has been processed",
	TemplatePaymentFailed:   "Payment failed for your order",
}

// Send renders the notification body from its payload and delivers it.
func (s *SMTPSender) Send(ctx context.Context, n *Notification) error {
	subject, ok := subjects[n.TemplateID]
	if !ok {
		subject = "Order update"
	}

	var payload map[string]any
	if n.Payload != "" {
		if err := json.Unmarshal([]byte(n.Payload), &payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}

	body, err := s.renderTemplate(orderUpdateTemplate, map[string]any{
		"Subject": subject,
		"Payload": payload,
	})
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	return s.sendEmail(n.Recipient, subject, body)
}

func (s *SMTPSender) sendEmail(to, subject, body string) error {
	from := s.config.FromAddress
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.FromAddress)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		from, to, subject, body)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var auth smtp.Auth
	if s.config.User != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.User, s.config.Password, s.config.Host)
	}

	if err := smtp.SendMail(addr, auth, s.config.FromAddress, []string{to}, []byte(msg)); err != nil {
		s.logger.Error("failed to send email",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.Error(err),
		)
		return fmt.Errorf("send email: %w", err)
	}

	s.logger.Info("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

func (s *SMTPSender) renderTemplate(tmpl string, data map[string]any) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

const orderUpdateTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        table { border-collapse: collapse; }
        td { padding: 4px 12px 4px 0; }
        .label { color: #666; }
        .footer { margin-top: 30px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Subject}}</h1>
        <table>
        {{range $key, $value := .Payload}}
            <tr><td class="label">{{$key}}</td><td>{{$value}}</td></tr>
        {{end}}
        </table>
        <div class="footer">
            <p>This is an automated message about your order. Please do not reply.</p>
        </div>
    </div>
</body>
</html>
`

// NoOpSender logs instead of delivering, for testing and development.
type NoOpSender struct {
	logger *zap.Logger
}

// NewNoOpSender creates a no-op sender.
func NewNoOpSender(logger *zap.Logger) *NoOpSender {
	return &NoOpSender{logger: logger}
}

// Send logs but doesn't deliver.
func (s *NoOpSender) Send(ctx context.Context, n *Notification) error {
	s.logger.Info("notification (no-op)",
		zap.String("recipient", n.Recipient),
		zap.String("template", n.TemplateID),
	)
	return nil
}

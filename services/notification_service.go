package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
)

type emailTemplate struct {
	subject string
	body    *template.Template
}

var funcs = template.FuncMap{
	"amount":  FormatAmount,
	"default": orDefault,
}

func orDefault(fallback, v string) string {
	if v == "" {
		return fallback
	}
	return v
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).Parse(strings.TrimLeft(text, "\n")))
}

var refundInitiated = emailTemplate{
	subject: "We Have Received Your Refund Request",
	body: mustTemplate("refund_initiated", `
Dear {{default "Customer" .CustomerName}},

We have received your refund request for order {{.OrderID}}.

Refund details:
- Request ID: {{.RequestID}}
- Amount: {{amount .Amount .Currency}}

Please send the items back using the return delivery we have arranged. We will email you again once the refund has been processed.

ByteMe Store Team
`),
}

var emailTemplates = map[string]emailTemplate{
	models.KeyEmailRefundInit: refundInitiated,
	models.KeyEmailRefund:     refundInitiated,
	models.KeyEmailRefundDone: {
		subject: "Your Refund Has Been Processed",
		body: mustTemplate("refund_processed", `
Dear {{default "Customer" .CustomerName}},

Good news! Your refund has been processed successfully.

Refund details:
- Refund ID: {{.RefundID}}
- Amount: {{amount .Amount .Currency}}
- Status: processed

The funds should appear in your account within 5-10 business days, depending on your bank's processing time.

Thank you for your patience!
ByteMe Store Team
`),
	},
	models.KeyEmailRefundFailed: {
		subject: "Issue with Your Refund Request",
		body: mustTemplate("refund_failed", `
Dear {{default "Customer" .CustomerName}},

We encountered an issue processing your refund request.

Refund request details:
- Request ID: {{.RequestID}}
- Payment ID: {{.PaymentIntentID}}
- Error: {{default "Unknown error" .Error}}

Our team has been notified and will review this issue. We will contact you shortly to resolve this matter.

Thank you for your understanding,
ByteMe Store Team
`),
	},
	models.KeyEmailOrderConfirm: {
		subject: "Your ByteMe Order Confirmation",
		body: mustTemplate("order_confirmed", `
Dear {{default "Customer" .CustomerName}},

Thank you for your order {{.OrderID}}.

- Total: {{amount .Amount .Currency}}
{{- if .CheckoutURL}}
- Complete your payment here: {{.CheckoutURL}}
{{- end}}

Unpaid orders are cancelled automatically after a short while.

ByteMe Store Team
`),
	},
}

// FormatAmount renders an amount in cents for display: "SGD $12.34" for
// Singapore dollars, "USD 12.34" style otherwise.
func FormatAmount(cents int64, currency string) string {
	if currency == "" {
		currency = "sgd"
	}
	value := decimal.New(cents, -2).StringFixed(2)
	if strings.EqualFold(currency, "sgd") {
		return "SGD $" + value
	}
	return strings.ToUpper(currency) + " " + value
}

// RenderNotification builds the email for a notification message.
func RenderNotification(n models.Notification) (Email, error) {
	tmpl, ok := emailTemplates[n.Type]
	if !ok {
		return Email{}, apperrors.NewValidationError(fmt.Sprintf("unhandled notification type %q", n.Type))
	}
	if n.Data.CustomerEmail == "" {
		return Email{}, apperrors.MissingField("customer_email")
	}

	var buf bytes.Buffer
	if err := tmpl.body.Execute(&buf, n.Data); err != nil {
		return Email{}, fmt.Errorf("rendering %s: %w", n.Type, err)
	}
	return Email{
		To:      n.Data.CustomerEmail,
		ToName:  n.Data.CustomerName,
		Subject: tmpl.subject,
		Text:    buf.String(),
	}, nil
}

type NotificationService struct {
	mailer Mailer
	logger *zap.Logger
	now    func() time.Time
}

func NewNotificationService(mailer Mailer, logger *zap.Logger) *NotificationService {
	return &NotificationService{mailer: mailer, logger: logger, now: time.Now}
}

func (s *NotificationService) MailerName() string {
	return s.mailer.Name()
}

// Notify renders and sends one notification. Rendering problems are
// validation errors; send failures are returned as they are.
func (s *NotificationService) Notify(ctx context.Context, n models.Notification) error {
	email, err := RenderNotification(n)
	if err != nil {
		return err
	}

	s.logger.Info("sending notification",
		zap.String("type", n.Type),
		zap.String("to", email.To),
		zap.String("orderId", n.Data.OrderID),
	)
	return s.mailer.Send(ctx, email)
}

func (s *NotificationService) SendTest(ctx context.Context, to string) error {
	if to == "" {
		return apperrors.MissingField("to")
	}
	return s.mailer.Send(ctx, Email{
		To:      to,
		Subject: "ByteMe Email Service Test",
		Text: fmt.Sprintf("Good news! Your email service is working correctly.\n\nTransport: %s\nTime: %s\n",
			s.mailer.Name(), s.now().Format("2006-01-02 15:04:05")),
	})
}

package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/DanielPopoola/travelpay/internal/config"
	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"gopkg.in/gomail.v2"
)

type mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<p>Hi {{if .Username}}{{.Username}}{{else}}there{{end}},</p>
<p>Your payment of {{.Amount}} {{.Currency}}{{if .BookingReference}} for booking <strong>{{.BookingReference}}</strong>{{end}} is complete.</p>
<p>Transaction: {{.TransactionID}}</p>
{{if .Cashback}}<p>{{.Cashback}} {{.Currency}} cashback has been added to your rewards.</p>{{end}}`))

// EmailSender mails the traveller a booking and payment confirmation.
type EmailSender struct {
	mailer mailer
	from   string
}

func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	return &EmailSender{
		mailer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (e *EmailSender) NotifyPaymentCompleted(ctx context.Context, notice domain.CompletionNotice) error {
	if notice.Email == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := renderConfirmation(notice)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", notice.Email)
	m.SetHeader("Subject", confirmationSubject(notice))
	m.SetBody("text/html", body)

	if err := e.mailer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send confirmation email: %w", err)
	}
	return nil
}

func confirmationSubject(n domain.CompletionNotice) string {
	if n.BookingReference != "" {
		return "Booking " + n.BookingReference + " confirmed"
	}
	return "Payment received"
}

func renderConfirmation(n domain.CompletionNotice) (string, error) {
	data := struct {
		Username         string
		Amount           string
		Currency         string
		BookingReference string
		TransactionID    string
		Cashback         string
	}{
		Username:         n.Username,
		Amount:           n.Amount.StringFixed(domain.AmountScale),
		Currency:         n.Currency,
		BookingReference: n.BookingReference,
		TransactionID:    n.TransactionID,
	}
	if n.Cashback.IsPositive() {
		data.Cashback = n.Cashback.StringFixed(domain.AmountScale)
	}

	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render confirmation: %w", err)
	}
	return buf.String(), nil
}

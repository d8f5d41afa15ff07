package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rookgm/flyem/internal/models"
)

const storeName = "FLYEM Store"

type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Mailer sends transactional emails through Resend
type Mailer struct {
	emails  emailSender
	from    string
	timeout time.Duration
}

// NewMailer creates new Mailer instance, every send is limited by timeout
func NewMailer(apiKey, from string, timeout time.Duration) *Mailer {
	client := resend.NewCustomClient(&http.Client{Timeout: timeout}, apiKey)
	return &Mailer{emails: client.Emails, from: from, timeout: timeout}
}

// SendOrderConfirmation emails the customer that a paid order was placed
func (m *Mailer) SendOrderConfirmation(ctx context.Context, order models.Order, customer models.Customer) error {
	if customer.Email == "" {
		return fmt.Errorf("order %s: customer has no email", order.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	subject, text := confirmationMessage(order, customer)

	_, err := m.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", storeName, m.from),
		To:      []string{customer.Email},
		Subject: subject,
		Text:    text,
		Html:    "<p>" + strings.ReplaceAll(html.EscapeString(text), "\n", "<br>") + "</p>",
	})
	if err != nil {
		return fmt.Errorf("send confirmation email: %w", err)
	}

	return nil
}

func confirmationMessage(order models.Order, customer models.Customer) (string, string) {
	name := customer.Name
	if name == "" {
		name = "Customer"
	}

	subject := "Order Confirmed: #" + strings.ToUpper(strings.TrimPrefix(order.Number(), "ORD"))
	text := fmt.Sprintf("Hi %s,\n\nThank you for your order!\n\nOrder ID: %s\nTotal Amount: ₹%s\n\n"+
		"We will notify you when it ships.\n\n- The FLYEM Team", name, order.ID, order.TotalPrice.StringFixed(2))

	return subject, text
}

// Nop discards notifications
type Nop struct{}

func (Nop) SendOrderConfirmation(context.Context, models.Order, models.Customer) error {
	return nil
}

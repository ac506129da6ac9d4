package service

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/shopspring/decimal"

	"returns-credit-backend/internal/config"
	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/logger"
)

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type sendGridNotifier struct {
	client    mailSender
	fromEmail string
	fromName  string
}

// NewNotifier returns a SendGrid notifier, or one that only logs when no API
// key is configured.
func NewNotifier(cfg config.SendGridConfig) Notifier {
	if cfg.APIKey == "" {
		return logNotifier{}
	}
	return &sendGridNotifier{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}
}

func (n *sendGridNotifier) ReturnRejected(ctx context.Context, customer *domain.Customer, req *domain.ReturnRequest) error {
	reason := ""
	if req.AdminNotes != nil {
		reason = *req.AdminNotes
	}
	body := fmt.Sprintf("Hello %s,\n\nYour return request %s could not be approved.\n\nReason: %s\n\nIf you have questions, reply to this email.",
		customer.Name, shortID(req), reason)
	return n.send(ctx, customer, "Your return request was not approved", body)
}

func (n *sendGridNotifier) PickupScheduled(ctx context.Context, customer *domain.Customer, req *domain.ReturnRequest) error {
	awb := ""
	if req.PickupAWB != nil {
		awb = *req.PickupAWB
	}
	body := fmt.Sprintf("Hello %s,\n\nA courier pickup has been scheduled for your return %s.\nTracking number (AWB): %s\n\nPlease keep the items packed and ready.",
		customer.Name, shortID(req), awb)
	return n.send(ctx, customer, "Pickup scheduled for your return", body)
}

func (n *sendGridNotifier) ReturnCredited(ctx context.Context, customer *domain.Customer, req *domain.ReturnRequest, amount, newBalance decimal.Decimal) error {
	body := fmt.Sprintf("Hello %s,\n\nWe received your return %s and added %s in store credit to your wallet.\nYour new balance is %s.\n\nStore credit is valid for 12 months.",
		customer.Name, shortID(req), amount.StringFixed(2), newBalance.StringFixed(2))
	return n.send(ctx, customer, "Store credit issued for your return", body)
}

func (n *sendGridNotifier) send(ctx context.Context, customer *domain.Customer, subject, plainText string) error {
	if customer == nil || customer.Email == "" {
		return nil
	}

	from := mail.NewEmail(n.fromName, n.fromEmail)
	to := mail.NewEmail(customer.Name, customer.Email)
	message := mail.NewSingleEmail(from, subject, to, plainText, "")

	logger.ExternalServiceCall("sendgrid", "send", "subject", subject)
	response, err := n.client.SendWithContext(ctx, message)
	if err != nil {
		logger.ExternalServiceResult("sendgrid", "send", err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		err := fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
		logger.ExternalServiceResult("sendgrid", "send", err)
		return err
	}

	logger.ExternalServiceResult("sendgrid", "send", nil)
	return nil
}

func shortID(req *domain.ReturnRequest) string {
	return req.ID.String()[:8]
}

type logNotifier struct{}

func (logNotifier) ReturnRejected(ctx context.Context, customer *domain.Customer, req *domain.ReturnRequest) error {
	logger.InfoContext(ctx, "Notification skipped: return rejected", "returnID", req.ID, "email", customer.Email)
	return nil
}

func (logNotifier) PickupScheduled(ctx context.Context, customer *domain.Customer, req *domain.ReturnRequest) error {
	logger.InfoContext(ctx, "Notification skipped: pickup scheduled", "returnID", req.ID, "email", customer.Email)
	return nil
}

func (logNotifier) ReturnCredited(ctx context.Context, customer *domain.Customer, req *domain.ReturnRequest, amount, newBalance decimal.Decimal) error {
	logger.InfoContext(ctx, "Notification skipped: return credited", "returnID", req.ID, "email", customer.Email, "amount", amount)
	return nil
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"returns-credit-backend/internal/config"
	"returns-credit-backend/internal/domain"
)

type fakeSender struct {
	sent     []*mail.SGMailV3
	response *rest.Response
	err      error
}

func (s *fakeSender) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	s.sent = append(s.sent, email)
	return s.response, s.err
}

func testNotifier(sender mailSender) *sendGridNotifier {
	return &sendGridNotifier{client: sender, fromEmail: "returns@shop.example", fromName: "Shop Returns"}
}

func TestSendGridNotifier_ReturnCredited(t *testing.T) {
	sender := &fakeSender{response: &rest.Response{StatusCode: 202}}
	n := testNotifier(sender)
	customer := &domain.Customer{ID: uuid.New(), Name: "Asha Rao", Email: "asha@example.com"}
	req := &domain.ReturnRequest{ID: uuid.New()}

	err := n.ReturnCredited(context.Background(), customer, req, dec("1100"), dec("1250.5"))
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "Store credit issued for your return", msg.Subject)
	assert.Equal(t, "returns@shop.example", msg.From.Address)
	require.Len(t, msg.Personalizations, 1)
	assert.Equal(t, "asha@example.com", msg.Personalizations[0].To[0].Address)
	require.NotEmpty(t, msg.Content)
	assert.Contains(t, msg.Content[0].Value, "1100.00")
	assert.Contains(t, msg.Content[0].Value, "1250.50")
}

func TestSendGridNotifier_Errors(t *testing.T) {
	customer := &domain.Customer{ID: uuid.New(), Name: "Asha Rao", Email: "asha@example.com"}
	notes := "Damaged"
	req := &domain.ReturnRequest{ID: uuid.New(), AdminNotes: &notes}

	t.Run("api error status", func(t *testing.T) {
		sender := &fakeSender{response: &rest.Response{StatusCode: 401, Body: "unauthorized"}}
		err := testNotifier(sender).ReturnRejected(context.Background(), customer, req)
		assert.ErrorContains(t, err, "status 401")
	})

	t.Run("transport error", func(t *testing.T) {
		sender := &fakeSender{err: errors.New("dial tcp: timeout")}
		err := testNotifier(sender).ReturnRejected(context.Background(), customer, req)
		assert.ErrorContains(t, err, "failed to send email")
	})

	t.Run("customer without email", func(t *testing.T) {
		sender := &fakeSender{response: &rest.Response{StatusCode: 202}}
		err := testNotifier(sender).PickupScheduled(context.Background(), &domain.Customer{Name: "No Mail"}, req)
		assert.NoError(t, err)
		assert.Empty(t, sender.sent)
	})
}

func TestNewNotifier_WithoutAPIKey(t *testing.T) {
	n := NewNotifier(config.SendGridConfig{})
	_, ok := n.(logNotifier)
	assert.True(t, ok)
	assert.NoError(t, n.ReturnRejected(context.Background(), &domain.Customer{}, &domain.ReturnRequest{ID: uuid.New()}))
}

package http

import (
	"bytes"
	"sort"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"returns-credit-backend/internal/cache"
	"returns-credit-backend/internal/config"
	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/repository"
	"returns-credit-backend/internal/repository/memory"
	"returns-credit-backend/internal/security"
	"returns-credit-backend/internal/service"
	"returns-credit-backend/internal/shipping"
)

const (
	testJWTSecret     = "0123456789abcdef0123456789abcdef"
	testWebhookSecret = "whsec-test"
)

type harness struct {
	router *mux.Router
	tokens security.TokenManager
	db     *memory.DB
	demo   memory.Demo

	admin    string
	super    string
	customer string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := memory.New()
	demo := memory.SeedDemo(db)
	tokens := security.NewTokenManager(testJWTSecret)

	svc := Services{
		Returns:  service.NewReturnService(db, shipping.OfflineClient{}, service.NewNotifier(config.SendGridConfig{})),
		Wallets:  service.NewWalletService(db, config.WalletConfig{CreditExpiryMonths: 12, ExpiringWindowDays: 30, TransactionsLimit: 50, MaxTransactionsPage: 200}),
		Audit:    service.NewAuditService(db),
		Webhooks: service.NewPickupWebhookService(db, cache.NewLocalDeduper(time.Hour), testWebhookSecret, 2),
	}

	h := &harness{
		router: NewServer(svc, tokens, false).Router(),
		tokens: tokens,
		db:     db,
		demo:   demo,
	}
	h.admin = h.token(t, uuid.New(), security.RoleAdmin)
	h.super = h.token(t, uuid.New(), security.RoleSuperAdmin)
	h.customer = h.token(t, demo.CustomerAuthID, security.RoleCustomer)
	return h
}

func (h *harness) token(t *testing.T, userID uuid.UUID, role security.Role) string {
	t.Helper()
	tok, err := h.tokens.GenerateAccessToken(userID, "user@example.com", role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var env map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (h *harness) orderItems(t *testing.T, orderID uuid.UUID) []domain.OrderItem {
	t.Helper()
	var items []domain.OrderItem
	err := h.db.AsSystem().WithinTx(context.Background(), func(tx repository.Tx) error {
		order, err := tx.Orders().GetByID(context.Background(), orderID)
		if err != nil {
			return err
		}
		items = order.Items
		return nil
	})
	require.NoError(t, err)
	return items
}

func data(t *testing.T, env map[string]any) map[string]any {
	t.Helper()
	d, ok := env["data"].(map[string]any)
	require.True(t, ok, "data is %T", env["data"])
	return d
}

func decimalField(t *testing.T, m map[string]any, key string) decimal.Decimal {
	t.Helper()
	raw, ok := m[key].(string)
	require.True(t, ok, "%s is %T", key, m[key])
	return decimal.RequireFromString(raw)
}

func TestRouter_ReturnToCreditFlow(t *testing.T) {
	h := newHarness(t)

	items := h.orderItems(t, h.demo.OrderID)
	createBody := map[string]any{
		"order_id": h.demo.OrderID,
		"reason":   "Too small",
		"items": []map[string]any{
			{"order_item_id": items[0].ID, "quantity": 1},
			{"order_item_id": items[1].ID, "quantity": 2},
		},
	}
	rec, env := h.do(t, http.MethodPost, "/api/returns", h.customer, createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, true, env["success"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	returnID := data(t, env)["id"].(string)

	rec, _ = h.do(t, http.MethodPost, "/api/admin/returns/approve", h.admin, map[string]any{"return_request_id": returnID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = h.do(t, http.MethodPost, "/api/admin/returns/trigger-pickup", h.admin, map[string]any{"return_request_id": returnID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	awb := data(t, env)["pickup_awb"].(string)
	require.NotEmpty(t, awb)

	payload := []byte(`{"awb":"` + awb + `","current_status":"PICKED UP","current_timestamp":"2026-10-10 10:00:00"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/shiprocket/returns", bytes.NewReader(payload))
	req.Header.Set("x-shiprocket-signature", security.SignPayload(testWebhookSecret, payload))
	webhookRec := httptest.NewRecorder()
	h.router.ServeHTTP(webhookRec, req)
	require.Equal(t, http.StatusOK, webhookRec.Code, webhookRec.Body.String())

	rec, env = h.do(t, http.MethodPost, "/api/admin/returns/confirm-received", h.admin, map[string]any{"return_request_id": returnID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decimal.NewFromInt(1100).Equal(decimalField(t, env, "credit_amount")))
	assert.True(t, decimal.NewFromInt(1100).Equal(decimalField(t, env, "new_balance")))

	rec, env = h.do(t, http.MethodGet, "/api/wallet", h.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decimal.NewFromInt(1100).Equal(decimalField(t, data(t, env), "balance")))

	rec, env = h.do(t, http.MethodGet, "/api/wallet/transactions?limit=5", h.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env["data"], 1)

	rec, _ = h.do(t, http.MethodPost, "/api/admin/returns/confirm-received", h.admin, map[string]any{"return_request_id": returnID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func topLevelKeys(env map[string]any) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestRouter_AdminReturnResponseShapes(t *testing.T) {
	h := newHarness(t)

	rec, env := h.do(t, http.MethodGet, "/api/admin/returns/list", h.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"returns", "success"}, topLevelKeys(env))
	assert.Equal(t, []any{}, env["returns"])

	items := h.orderItems(t, h.demo.OrderID)
	rec, env = h.do(t, http.MethodPost, "/api/admin/returns/create", h.admin, map[string]any{
		"order_id": h.demo.OrderID,
		"reason":   "Wrong colour",
		"items":    []map[string]any{{"order_item_id": items[0].ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	returnID := data(t, env)["id"].(string)

	rec, env = h.do(t, http.MethodGet, "/api/admin/returns/list?status=requested", h.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"returns", "success"}, topLevelKeys(env))
	assert.Len(t, env["returns"], 1)

	rec, env = h.do(t, http.MethodPost, "/api/admin/returns/approve", h.admin, map[string]any{"return_request_id": returnID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, env["success"])
	assert.Equal(t, "Return approved", env["message"])

	rec, env = h.do(t, http.MethodPost, "/api/admin/returns/trigger-pickup", h.admin, map[string]any{"return_request_id": returnID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, env["success"])
	assert.Contains(t, env, "message")

	h.setStatus(t, returnID, domain.ReturnStatusInTransit)
	rec, env = h.do(t, http.MethodPost, "/api/admin/returns/confirm-received", h.admin, map[string]any{"return_request_id": returnID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"credit_amount", "data", "message", "new_balance", "success"}, topLevelKeys(env))
	assert.True(t, decimal.NewFromInt(500).Equal(decimalField(t, env, "credit_amount")))
	assert.True(t, decimal.NewFromInt(500).Equal(decimalField(t, env, "new_balance")))

	rec, env = h.do(t, http.MethodPost, "/api/admin/returns/create", h.admin, map[string]any{
		"order_id": h.demo.OrderID,
		"reason":   "Changed mind",
		"items":    []map[string]any{{"order_item_id": items[1].ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec, env = h.do(t, http.MethodPost, "/api/admin/returns/reject", h.admin, map[string]any{"return_request_id": data(t, env)["id"], "admin_notes": "Worn"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, env["success"])
	assert.Equal(t, "Return rejected", env["message"])
}

func (h *harness) setStatus(t *testing.T, id string, status domain.ReturnStatus) {
	t.Helper()
	err := h.db.AsSystem().WithinTx(context.Background(), func(tx repository.Tx) error {
		r, err := tx.Returns().GetByIDForUpdate(context.Background(), uuid.MustParse(id))
		if err != nil {
			return err
		}
		r.Status = status
		return tx.Returns().Update(context.Background(), r)
	})
	require.NoError(t, err)
}

func TestRouter_Authorization(t *testing.T) {
	h := newHarness(t)

	rec, env := h.do(t, http.MethodGet, "/api/admin/returns/list", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, env["success"])

	rec, _ = h.do(t, http.MethodGet, "/api/admin/returns/list", "not-a-jwt", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/admin/returns/list", h.customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/admin/returns/list", h.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/admin/wallet/credit", h.admin, map[string]any{"user_id": uuid.New(), "amount": "10"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	other := NewServer(Services{}, security.NewTokenManager("another-secret-another-secret-xx"), false)
	forged, err := other.tokens.GenerateAccessToken(uuid.New(), "x@example.com", security.RoleSuperAdmin, time.Hour)
	require.NoError(t, err)
	rec, _ = h.do(t, http.MethodGet, "/api/admin/audit", forged, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_WalletAdjustments(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()

	rec, env := h.do(t, http.MethodPost, "/api/admin/wallet/credit", h.super, map[string]any{"user_id": userID, "amount": 100, "reference": "goodwill"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decimal.NewFromInt(100).Equal(decimalField(t, env, "new_balance")))

	rec, _ = h.do(t, http.MethodPost, "/api/admin/wallet/debit", h.super, map[string]any{"user_id": userID, "amount": "150"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/admin/wallet/debit", h.super, map[string]any{"user_id": userID, "amount": "-5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/admin/wallet/debit", h.super, map[string]any{"user_id": uuid.New(), "amount": "5"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/admin/wallet/credit", h.super, map[string]any{"user_id": "nope", "amount": "5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = h.do(t, http.MethodGet, "/api/admin/wallet/"+userID.String(), h.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := data(t, env)
	assert.True(t, decimal.NewFromInt(100).Equal(decimalField(t, view, "balance")))
	assert.Len(t, view["transactions"], 1)

	rec, _ = h.do(t, http.MethodGet, "/api/admin/wallet/not-a-uuid", h.admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_ReturnErrors(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodPost, "/api/admin/returns/approve", h.admin, []byte("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/admin/returns/approve", h.admin, map[string]any{"return_request_id": "bad"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/admin/returns/approve", h.admin, map[string]any{"return_request_id": uuid.New()})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	items := h.orderItems(t, h.demo.OrderID)
	rec, env := h.do(t, http.MethodPost, "/api/admin/returns/create", h.admin, map[string]any{
		"order_id": h.demo.OrderID,
		"reason":   "Damaged",
		"items":    []map[string]any{{"order_item_id": items[0].ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	returnID := data(t, env)["id"].(string)

	rec, env = h.do(t, http.MethodPost, "/api/admin/returns/reject", h.admin, map[string]any{"return_request_id": returnID, "admin_notes": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.ErrMissingReason.Error(), env["error"])

	rec, _ = h.do(t, http.MethodPost, "/api/admin/returns/trigger-pickup", h.admin, map[string]any{"return_request_id": returnID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/admin/returns/list?status=lost", h.admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/admin/returns/list?limit=abc", h.admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_Webhook(t *testing.T) {
	h := newHarness(t)
	payload := []byte(`{"awb":"AWB-404","current_status":"PICKED UP","current_timestamp":"t1"}`)

	post := func(body []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/shiprocket/returns", bytes.NewReader(body))
		if signature != "" {
			req.Header.Set("x-shiprocket-signature", signature)
		}
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post(payload, "").Code)
	assert.Equal(t, http.StatusUnauthorized, post(payload, "00ff").Code)
	assert.Equal(t, http.StatusNotFound, post(payload, security.SignPayload(testWebhookSecret, payload)).Code)

	junk := []byte(`{"current_status":"PICKED UP"}`)
	assert.Equal(t, http.StatusBadRequest, post(junk, security.SignPayload(testWebhookSecret, junk)).Code)
}

type brokenReturns struct {
	service.ReturnService
}

func (brokenReturns) List(ctx context.Context, session *security.Session, filter domain.ReturnFilter) ([]domain.ReturnRequest, error) {
	return nil, errors.New("pq: connection reset by peer")
}

func TestRouter_InternalErrorsHideDetailInProduction(t *testing.T) {
	tokens := security.NewTokenManager(testJWTSecret)
	admin, err := tokens.GenerateAccessToken(uuid.New(), "ops@example.com", security.RoleAdmin, time.Hour)
	require.NoError(t, err)

	for _, production := range []bool{true, false} {
		router := NewServer(Services{Returns: brokenReturns{}}, tokens, production).Router()
		req := httptest.NewRequest(http.MethodGet, "/api/admin/returns/list", nil)
		req.Header.Set("Authorization", "Bearer "+admin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		var env map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, "internal server error", env["error"])
		if production {
			assert.NotContains(t, rec.Body.String(), "connection reset")
		} else {
			assert.Contains(t, env["detail"], "connection reset")
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrInvalidSignature, http.StatusUnauthorized},
		{domain.ErrInsufficientCredits, http.StatusConflict},
		{&domain.TransitionError{From: domain.ReturnStatusCredited, Event: domain.EventIssueCredit}, http.StatusBadRequest},
		{domain.ErrGuestReturnUnsupported, http.StatusBadRequest},
		{domain.ErrCustomerNotFound, http.StatusNotFound},
		{badRequest("invalid limit"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
		{fmt.Errorf("tx: %w", domain.ErrPickupNotFound), http.StatusNotFound},
		{fmt.Errorf("schedule pickup: %w", shipping.ErrCarrier), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"returns-credit-backend/internal/config"
	"returns-credit-backend/internal/domain"
)

func testPickupRequest() PickupRequest {
	return PickupRequest{
		Return: &domain.ReturnRequest{ID: uuid.New(), CreatedAt: time.Now()},
		Order: &domain.Order{
			ID: uuid.New(),
			ShippingAddress: domain.Address{
				Name: "Asha", Phone: "9000000001", Line1: "12 MG Road",
				City: "Bengaluru", State: "Karnataka", Pincode: "560001", Country: "India",
			},
		},
		Items: []domain.ReturnItem{
			{ProductName: "Kurta", SKU: "K-1", Quantity: 1, UnitPrice: decimal.NewFromInt(500)},
			{ProductName: "Scarf", SKU: "S-1", Quantity: 2, UnitPrice: decimal.NewFromInt(300)},
		},
	}
}

func newTestClient(url string) *Client {
	return NewClient(config.ShiprocketConfig{
		BaseURL:        url,
		Email:          "ops@example.com",
		Password:       "secret",
		TimeoutSeconds: 5,
		Package:        config.PackageConfig{Length: 10, Breadth: 10, Height: 10, Weight: 0.5},
	})
}

func TestClient_SchedulePickup(t *testing.T) {
	var logins int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/external/auth/login", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&logins, 1)
		json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	})
	mux.HandleFunc("/v1/external/orders/create/return", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body returnOrderRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1100.00", body.SubTotal)
		assert.Len(t, body.OrderItems, 2)
		assert.Equal(t, "560001", body.PickupPincode)
		w.Write([]byte(`{"order_id": 991, "shipment_id": 12345, "status": "RETURN PENDING"}`))
	})
	mux.HandleFunc("/v1/external/courier/assign/awb", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 12345, body["shipment_id"])
		assert.EqualValues(t, 1, body["is_return"])
		w.Write([]byte(`{"awb_assign_status":1,"response":{"data":{"awb_code":"AWB777","courier_name":"Delhivery"}}}`))
	})
	mux.HandleFunc("/v1/external/courier/generate/pickup", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pickup_status":1,"response":{"pickup_scheduled_date":"2026-01-03"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	p, err := c.SchedulePickup(context.Background(), testPickupRequest())
	require.NoError(t, err)
	assert.Equal(t, "AWB777", p.AWB)
	assert.Equal(t, "12345", p.ShipmentID)
	assert.Equal(t, "Delhivery", p.CourierName)
	assert.Equal(t, "2026-01-03", p.ScheduledDate)

	// token is reused
	_, err = c.SchedulePickup(context.Background(), testPickupRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&logins))
}

func TestClient_SchedulePickup_AWBNotAssigned(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/external/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"tok"}`))
	})
	mux.HandleFunc("/v1/external/orders/create/return", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_id":1,"shipment_id":"55"}`))
	})
	mux.HandleFunc("/v1/external/courier/assign/awb", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"awb_assign_status":0,"response":{"data":{}}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestClient(srv.URL).SchedulePickup(context.Background(), testPickupRequest())
	assert.ErrorIs(t, err, ErrCarrier)
}

func TestClient_RetriesLoginOnUnauthorized(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/external/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"tok"}`))
	})
	mux.HandleFunc("/v1/external/courier/generate/pickup", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"pickup_status":1,"response":{"pickup_scheduled_date":"2026-01-04"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	date, err := newTestClient(srv.URL).generatePickup(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-04", date)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

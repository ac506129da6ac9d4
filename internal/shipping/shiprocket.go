package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"returns-credit-backend/internal/config"
	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/logger"
)

var ErrCarrier = errors.New("carrier request failed")

// PickupRequest carries what the carrier needs to book a reverse pickup.
// Customer is nil for guest orders; the pickup address then comes from the
// order alone.
type PickupRequest struct {
	Return   *domain.ReturnRequest
	Order    *domain.Order
	Customer *domain.Customer
	Items    []domain.ReturnItem
}

// Pickup is a booked reverse pickup.
type Pickup struct {
	AWB           string
	ShipmentID    string
	CourierName   string
	ScheduledDate string
}

// Token lifetime is ten days; refresh a day early.
const tokenTTL = 9 * 24 * time.Hour

type Client struct {
	cfg        config.ShiprocketConfig
	httpClient *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
	now      func() time.Time
}

func NewClient(cfg config.ShiprocketConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		now:        time.Now,
	}
}

// SchedulePickup creates a return order, assigns an AWB and requests pickup.
func (c *Client) SchedulePickup(ctx context.Context, req PickupRequest) (*Pickup, error) {
	logger.ExternalServiceCall("shiprocket", "SchedulePickup", "returnID", req.Return.ID)

	shipmentID, err := c.createReturnOrder(ctx, req)
	if err != nil {
		logger.ExternalServiceResult("shiprocket", "createReturnOrder", err)
		return nil, err
	}

	pickup, err := c.assignAWB(ctx, shipmentID)
	if err != nil {
		logger.ExternalServiceResult("shiprocket", "assignAWB", err, "shipmentID", shipmentID)
		return nil, err
	}

	if pickup.ScheduledDate, err = c.generatePickup(ctx, shipmentID); err != nil {
		logger.ExternalServiceResult("shiprocket", "generatePickup", err, "shipmentID", shipmentID)
		return nil, err
	}

	logger.ExternalServiceResult("shiprocket", "SchedulePickup", nil, "awb", pickup.AWB)
	return pickup, nil
}

type returnOrderItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice string `json:"selling_price"`
}

type returnOrderRequest struct {
	OrderID              string            `json:"order_id"`
	OrderDate            string            `json:"order_date"`
	PickupCustomerName   string            `json:"pickup_customer_name"`
	PickupAddress        string            `json:"pickup_address"`
	PickupCity           string            `json:"pickup_city"`
	PickupState          string            `json:"pickup_state"`
	PickupCountry        string            `json:"pickup_country"`
	PickupPincode        string            `json:"pickup_pincode"`
	PickupEmail          string            `json:"pickup_email"`
	PickupPhone          string            `json:"pickup_phone"`
	ShippingCustomerName string            `json:"shipping_customer_name"`
	ShippingAddress      string            `json:"shipping_address"`
	ShippingCity         string            `json:"shipping_city"`
	ShippingState        string            `json:"shipping_state"`
	ShippingCountry      string            `json:"shipping_country"`
	ShippingPincode      string            `json:"shipping_pincode"`
	ShippingPhone        string            `json:"shipping_phone"`
	OrderItems           []returnOrderItem `json:"order_items"`
	PaymentMethod        string            `json:"payment_method"`
	SubTotal             string            `json:"sub_total"`
	Length               float64           `json:"length"`
	Breadth              float64           `json:"breadth"`
	Height               float64           `json:"height"`
	Weight               float64           `json:"weight"`
}

type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	*f = flexID(s)
	return nil
}

func (c *Client) createReturnOrder(ctx context.Context, req PickupRequest) (string, error) {
	addr := req.Order.ShippingAddress
	name, email, phone := addr.Name, "", addr.Phone
	if req.Customer != nil {
		if name == "" {
			name = req.Customer.Name
		}
		email = req.Customer.Email
		if phone == "" {
			phone = req.Customer.Phone
		}
	}
	pickupAddress := addr.Line1
	if addr.Line2 != "" {
		pickupAddress += ", " + addr.Line2
	}

	wh := c.cfg.Warehouse
	body := returnOrderRequest{
		OrderID:              "RET-" + req.Return.ID.String(),
		OrderDate:            req.Return.CreatedAt.Format("2006-01-02 15:04"),
		PickupCustomerName:   name,
		PickupAddress:        pickupAddress,
		PickupCity:           addr.City,
		PickupState:          addr.State,
		PickupCountry:        addr.Country,
		PickupPincode:        addr.Pincode,
		PickupEmail:          email,
		PickupPhone:          phone,
		ShippingCustomerName: wh.Name,
		ShippingAddress:      wh.Address,
		ShippingCity:         wh.City,
		ShippingState:        wh.State,
		ShippingCountry:      wh.Country,
		ShippingPincode:      wh.Pincode,
		ShippingPhone:        wh.Phone,
		PaymentMethod:        "Prepaid",
		SubTotal:             domain.CreditAmount(req.Items).StringFixed(2),
		Length:               c.cfg.Package.Length,
		Breadth:              c.cfg.Package.Breadth,
		Height:               c.cfg.Package.Height,
		Weight:               c.cfg.Package.Weight,
	}
	for _, it := range req.Items {
		body.OrderItems = append(body.OrderItems, returnOrderItem{
			Name:         it.ProductName,
			SKU:          it.SKU,
			Units:        it.Quantity,
			SellingPrice: it.UnitPrice.StringFixed(2),
		})
	}

	var resp struct {
		OrderID    flexID `json:"order_id"`
		ShipmentID flexID `json:"shipment_id"`
		Status     string `json:"status"`
	}
	if err := c.post(ctx, "/v1/external/orders/create/return", body, &resp); err != nil {
		return "", err
	}
	if resp.ShipmentID == "" {
		return "", fmt.Errorf("%w: return order created without shipment id", ErrCarrier)
	}
	return string(resp.ShipmentID), nil
}

func (c *Client) assignAWB(ctx context.Context, shipmentID string) (*Pickup, error) {
	id, err := strconv.ParseInt(shipmentID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad shipment id %q", ErrCarrier, shipmentID)
	}

	var resp struct {
		AWBAssignStatus int `json:"awb_assign_status"`
		Response        struct {
			Data struct {
				AWBCode     flexID `json:"awb_code"`
				CourierName string `json:"courier_name"`
			} `json:"data"`
		} `json:"response"`
	}
	body := map[string]any{"shipment_id": id, "is_return": 1}
	if err := c.post(ctx, "/v1/external/courier/assign/awb", body, &resp); err != nil {
		return nil, err
	}
	if resp.AWBAssignStatus != 1 || resp.Response.Data.AWBCode == "" {
		return nil, fmt.Errorf("%w: awb not assigned for shipment %s", ErrCarrier, shipmentID)
	}
	return &Pickup{
		AWB:         string(resp.Response.Data.AWBCode),
		ShipmentID:  shipmentID,
		CourierName: resp.Response.Data.CourierName,
	}, nil
}

func (c *Client) generatePickup(ctx context.Context, shipmentID string) (string, error) {
	id, _ := strconv.ParseInt(shipmentID, 10, 64)

	var resp struct {
		PickupStatus int `json:"pickup_status"`
		Response     struct {
			PickupScheduledDate string `json:"pickup_scheduled_date"`
		} `json:"response"`
	}
	body := map[string]any{"shipment_id": []int64{id}}
	if err := c.post(ctx, "/v1/external/courier/generate/pickup", body, &resp); err != nil {
		return "", err
	}
	if resp.PickupStatus != 1 {
		return "", fmt.Errorf("%w: pickup not generated for shipment %s", ErrCarrier, shipmentID)
	}
	return resp.Response.PickupScheduledDate, nil
}

func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExp) {
		return c.token, nil
	}

	var resp struct {
		Token string `json:"token"`
	}
	creds := map[string]string{"email": c.cfg.Email, "password": c.cfg.Password}
	if err := c.do(ctx, "/v1/external/auth/login", "", creds, &resp); err != nil {
		return "", fmt.Errorf("shiprocket login: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: login returned no token", ErrCarrier)
	}

	c.token = resp.Token
	c.tokenExp = c.now().Add(tokenTTL)
	return c.token, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	token, err := c.authToken(ctx)
	if err != nil {
		return err
	}
	err = c.do(ctx, path, token, body, out)

	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusUnauthorized {
		// token revoked server side; log in once more
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		if token, err = c.authToken(ctx); err != nil {
			return err
		}
		err = c.do(ctx, path, token, body, out)
	}
	return err
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrCarrier, e.code, e.body)
}

func (e *statusError) Unwrap() error { return ErrCarrier }

func (c *Client) do(ctx context.Context, path, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCarrier, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrCarrier, err)
	}
	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrCarrier, err)
	}
	return nil
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReturnStatus string

const (
	ReturnStatusRequested       ReturnStatus = "requested"
	ReturnStatusApproved        ReturnStatus = "approved"
	ReturnStatusPickupScheduled ReturnStatus = "pickup_scheduled"
	ReturnStatusInTransit       ReturnStatus = "in_transit"
	ReturnStatusReceived        ReturnStatus = "received"
	ReturnStatusCredited        ReturnStatus = "credited"
	ReturnStatusRejected        ReturnStatus = "rejected"
	ReturnStatusCancelled       ReturnStatus = "cancelled"
)

// IsTerminal reports whether no further transition can leave s.
func (s ReturnStatus) IsTerminal() bool {
	switch s {
	case ReturnStatusCredited, ReturnStatusRejected, ReturnStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s ReturnStatus) Valid() bool {
	switch s {
	case ReturnStatusRequested, ReturnStatusApproved, ReturnStatusPickupScheduled,
		ReturnStatusInTransit, ReturnStatusReceived, ReturnStatusCredited,
		ReturnStatusRejected, ReturnStatusCancelled:
		return true
	}
	return false
}

type ReturnRequest struct {
	ID               uuid.UUID    `json:"id"`
	OrderID          uuid.UUID    `json:"order_id"`
	CustomerID       *uuid.UUID   `json:"customer_id"`
	Status           ReturnStatus `json:"status"`
	Reason           string       `json:"reason"`
	AdminNotes       *string      `json:"admin_notes"`
	PickupRetryCount int          `json:"pickup_retry_count"`
	PickupAWB        *string      `json:"pickup_awb,omitempty"`
	PickupShipmentID *string      `json:"pickup_shipment_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	ApprovedAt       *time.Time   `json:"approved_at"`
	ReceivedAt       *time.Time   `json:"received_at"`
	CancelledAt      *time.Time   `json:"cancelled_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	Items            []ReturnItem `json:"items,omitempty"`
}

// ReturnItem is one returned line. UnitPrice, ProductName and SKU are read
// from the referenced order item.
type ReturnItem struct {
	ID              uuid.UUID       `json:"id"`
	ReturnRequestID uuid.UUID       `json:"return_request_id"`
	OrderItemID     uuid.UUID       `json:"order_item_id"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	ProductName     string          `json:"product_name,omitempty"`
	SKU             string          `json:"sku,omitempty"`
}

// CreditAmount is the sum of price x quantity over the given items.
func CreditAmount(items []ReturnItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

type ReturnFilter struct {
	Status ReturnStatus
	Limit  int
}

type OrderStatus string

const (
	OrderStatusPlaced    OrderStatus = "placed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type Address struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

type Order struct {
	ID              uuid.UUID   `json:"id"`
	CustomerID      *uuid.UUID  `json:"customer_id"`
	Status          OrderStatus `json:"status"`
	ShippingAddress Address     `json:"shipping_address"`
	CreatedAt       time.Time   `json:"created_at"`
	Items           []OrderItem `json:"items"`
}

// Item returns the order line with the given id.
func (o *Order) Item(id uuid.UUID) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.ID == id {
			return it, true
		}
	}
	return OrderItem{}, false
}

type OrderItem struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

// Customer is the storefront customer record. AuthUserID links it to an
// identity that can hold a wallet.
type Customer struct {
	ID         uuid.UUID  `json:"id"`
	AuthUserID *uuid.UUID `json:"auth_user_id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone"`
}

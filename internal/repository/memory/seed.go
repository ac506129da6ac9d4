package memory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"returns-credit-backend/internal/domain"
)

// Demo identifies the fixtures created by SeedDemo.
type Demo struct {
	CustomerAuthID uuid.UUID
	OrderID        uuid.UUID
	GuestOrderID   uuid.UUID
}

// SeedDemo loads a delivered order for a registered customer and a delivered
// guest order, so the API can be exercised without a database.
func SeedDemo(d *DB) Demo {
	authID := uuid.New()
	customer := domain.Customer{
		ID:         uuid.New(),
		AuthUserID: &authID,
		Name:       "Asha Rao",
		Email:      "asha@example.com",
		Phone:      "9000000001",
	}
	address := domain.Address{
		Name:    customer.Name,
		Phone:   customer.Phone,
		Line1:   "12 MG Road",
		City:    "Bengaluru",
		State:   "Karnataka",
		Pincode: "560001",
		Country: "India",
	}

	orderID := uuid.New()
	d.AddOrder(domain.Order{
		ID:              orderID,
		CustomerID:      &customer.ID,
		Status:          domain.OrderStatusDelivered,
		ShippingAddress: address,
		CreatedAt:       time.Now().AddDate(0, 0, -10),
		Items: []domain.OrderItem{
			{ID: uuid.New(), ProductName: "Block Print Kurta", SKU: "KUR-01", Price: decimal.NewFromInt(500), Quantity: 1},
			{ID: uuid.New(), ProductName: "Silk Scarf", SKU: "SCF-02", Price: decimal.NewFromInt(300), Quantity: 2},
		},
	}, &customer)

	guestOrderID := uuid.New()
	d.AddOrder(domain.Order{
		ID:              guestOrderID,
		Status:          domain.OrderStatusDelivered,
		ShippingAddress: address,
		CreatedAt:       time.Now().AddDate(0, 0, -5),
		Items: []domain.OrderItem{
			{ID: uuid.New(), ProductName: "Cotton Dupatta", SKU: "DUP-03", Price: decimal.NewFromInt(250), Quantity: 1},
		},
	}, nil)

	return Demo{CustomerAuthID: authID, OrderID: orderID, GuestOrderID: guestOrderID}
}

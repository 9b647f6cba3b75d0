package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// BaseEvent contains common fields for all lifecycle events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent is published once an order and its items are committed.
// It carries everything the notification dispatcher needs so the dispatcher
// never reads order state back from the database.
type OrderCreatedEvent struct {
	BaseEvent
	OrderID         int64           `json:"order_id"`
	OrderNumber     string          `json:"order_number"`
	CustomerID      int64           `json:"customer_id"`
	CustomerPhone   string          `json:"customer_phone"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []OrderItemLine `json:"items"`
}

// OrderStatusChangedEvent is published after a committed status transition.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID         int64           `json:"order_id"`
	OrderNumber     string          `json:"order_number"`
	CustomerID      int64           `json:"customer_id"`
	CustomerPhone   string          `json:"customer_phone"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	OldStatus       string          `json:"old_status"`
	NewStatus       string          `json:"new_status"`
}

// OrderItemLine is the denormalized item view carried in events.
type OrderItemLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"savannah-commerce/internal/auth"
	"savannah-commerce/internal/errs"
	"savannah-commerce/internal/models"
	"savannah-commerce/internal/store"
	"savannah-commerce/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderStore is the persistence surface the engine needs.
type OrderStore interface {
	CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	TransitionStatus(ctx context.Context, orderID int64, newStatus string, allowed func(from, to string) bool) (*models.Order, string, error)
	ListOrders(ctx context.Context, filter store.OrderFilter, pageToken string, limit int) ([]models.Order, string, error)
}

// CatalogReader supplies product snapshots at order time.
type CatalogReader interface {
	GetProducts(ctx context.Context, ids []int64) ([]models.Product, error)
}

// CustomerReader resolves customer profiles for binding and notification.
type CustomerReader interface {
	GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error)
}

// Publisher emits lifecycle events after a mutation commits. A publish
// failure never fails the mutation.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// OrderEngine owns the order aggregate and its lifecycle.
type OrderEngine struct {
	store     OrderStore
	catalog   CatalogReader
	customers CustomerReader
	publisher Publisher
	guard     *auth.Guard
	logger    *zap.Logger
}

// NewOrderEngine creates a new order engine
func NewOrderEngine(
	store OrderStore,
	catalog CatalogReader,
	customers CustomerReader,
	publisher Publisher,
	guard *auth.Guard,
) *OrderEngine {
	return &OrderEngine{
		store:     store,
		catalog:   catalog,
		customers: customers,
		publisher: publisher,
		guard:     guard,
		logger:    util.GetLogger(),
	}
}

// CreateOrderRequest carries everything a customer submits for a new order.
// The order is always bound to the caller's own customer record; the request
// carries no customer id.
type CreateOrderRequest struct {
	Items              []OrderItemRequest `json:"items" binding:"required,min=1"`
	ShippingAddress    string             `json:"shipping_address" binding:"required"`
	ShippingCity       string             `json:"shipping_city" binding:"required"`
	ShippingCountry    string             `json:"shipping_country" binding:"required"`
	ShippingPostalCode string             `json:"shipping_postal_code" binding:"required"`
	Notes              string             `json:"notes,omitempty"`
}

// OrderItemRequest is one requested line. Price is optional; when the client
// supplies one it must match the current catalog price.
type OrderItemRequest struct {
	ProductID int64            `json:"product_id" binding:"required"`
	Quantity  int              `json:"quantity" binding:"required,min=1"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

// CreateOrder validates the request, snapshots prices, persists the order
// and its items atomically and publishes OrderCreated after commit.
func (e *OrderEngine) CreateOrder(ctx context.Context, p auth.Principal, req *CreateOrderRequest) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderEngine.CreateOrder")
	defer span.End()

	if err := e.guard.RequireCustomer(p); err != nil {
		return nil, nil, err
	}

	cust, err := e.customers.GetCustomerByID(ctx, p.CustomerID)
	if err != nil {
		return nil, nil, err
	}

	products, err := e.validateItems(ctx, req.Items)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("invalid_items").Inc()
		return nil, nil, err
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	lines := make([]models.OrderItemLine, 0, len(req.Items))
	total := decimal.Zero
	for _, ir := range req.Items {
		product := products[ir.ProductID]
		items = append(items, models.OrderItem{
			ProductID: ir.ProductID,
			Quantity:  ir.Quantity,
			Price:     product.Price,
		})
		lines = append(lines, models.OrderItemLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    ir.Quantity,
			UnitPrice:   product.Price,
		})
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(ir.Quantity))))
	}

	order := &models.Order{
		OrderNumber:        newOrderNumber(),
		CustomerID:         cust.ID,
		Status:             models.OrderStatusPending,
		TotalAmount:        total,
		ShippingAddress:    req.ShippingAddress,
		ShippingCity:       req.ShippingCity,
		ShippingCountry:    req.ShippingCountry,
		ShippingPostalCode: req.ShippingPostalCode,
		Notes:              req.Notes,
	}

	if err := e.store.CreateOrderTx(ctx, order, items); err != nil {
		util.OrdersRejectedTotal.WithLabelValues("db_error").Inc()
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	e.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("customer_id", cust.ID))

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		CustomerID:      cust.ID,
		CustomerPhone:   cust.Phone,
		TotalAmount:     order.TotalAmount,
		ShippingAddress: order.ShippingAddress,
		CreatedAt:       order.CreatedAt,
		Items:           lines,
	}
	if err := e.publisher.PublishOrderCreated(ctx, event); err != nil {
		e.logger.Error("Failed to publish OrderCreated event",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return order, items, nil
}

// UpdateStatus transitions an order to newStatus. Admin only. The transition
// check-and-set runs atomically in the store; two racers on the same order
// cannot both commit.
func (e *OrderEngine) UpdateStatus(ctx context.Context, p auth.Principal, orderID int64, newStatus string) (*models.Order, string, error) {
	ctx, span := util.StartSpan(ctx, "OrderEngine.UpdateStatus")
	defer span.End()

	if err := e.guard.RequireAdmin(p); err != nil {
		return nil, "", err
	}

	if !models.ValidStatus(newStatus) {
		return nil, "", fmt.Errorf("%q: %w", newStatus, errs.ErrInvalidStatus)
	}

	order, oldStatus, err := e.store.TransitionStatus(ctx, orderID, newStatus, CanTransition)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidTransition) {
			util.OrderTransitionConflicts.Inc()
		}
		return nil, "", err
	}

	util.OrderTransitionsTotal.WithLabelValues(oldStatus, newStatus).Inc()
	e.logger.Info("Order status updated",
		zap.Int64("order_id", order.ID),
		zap.String("old_status", oldStatus),
		zap.String("new_status", newStatus))

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		CustomerID:      order.CustomerID,
		TotalAmount:     order.TotalAmount,
		ShippingAddress: order.ShippingAddress,
		OldStatus:       oldStatus,
		NewStatus:       newStatus,
	}
	if cust, cerr := e.customers.GetCustomerByID(ctx, order.CustomerID); cerr == nil {
		event.CustomerPhone = cust.Phone
	} else {
		e.logger.Warn("Could not resolve customer phone for event",
			zap.Int64("order_id", order.ID), zap.Error(cerr))
	}

	if err := e.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		e.logger.Error("Failed to publish OrderStatusChanged event",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return order, oldStatus, nil
}

// GetOrder retrieves one order with its items, subject to the guard.
func (e *OrderEngine) GetOrder(ctx context.Context, p auth.Principal, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := e.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.guard.CanReadOrder(p, order); err != nil {
		return nil, nil, err
	}
	items, err := e.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// History returns one page of orders visible to the caller, newest first,
// optionally filtered to a single status.
func (e *OrderEngine) History(ctx context.Context, p auth.Principal, statusFilter, pageToken string, limit int) ([]models.Order, string, error) {
	ctx, span := util.StartSpan(ctx, "OrderEngine.History")
	defer span.End()

	if err := e.guard.RequireAuthenticated(p); err != nil {
		return nil, "", err
	}

	var filter store.OrderFilter
	switch p.Role {
	case auth.RoleAdmin:
		// sees everything
	case auth.RoleCustomer:
		id := p.CustomerID
		filter.CustomerID = &id
	default:
		return nil, "", errs.ErrForbidden
	}

	if statusFilter != "" {
		if !models.ValidStatus(statusFilter) {
			return nil, "", fmt.Errorf("%q: %w", statusFilter, errs.ErrInvalidStatus)
		}
		filter.Status = &statusFilter
	}

	return e.store.ListOrders(ctx, filter, pageToken, limit)
}

// newOrderNumber allocates the externally visible order identifier. UUID
// suffix keeps it collision resistant without coordination.
func newOrderNumber() string {
	return "ORD-" + uuid.New().String()
}

func (e *OrderEngine) validateItems(ctx context.Context, items []OrderItemRequest) (map[int64]*models.Product, error) {
	if len(items) == 0 {
		return nil, errs.Validation("items", "order must contain at least one item")
	}

	productIDs := make([]int64, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, errs.Validation("quantity", "must be at least 1")
		}
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			productIDs = append(productIDs, item.ProductID)
		}
	}

	products, err := e.catalog.GetProducts(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	productMap := make(map[int64]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}

	for _, item := range items {
		product, ok := productMap[item.ProductID]
		if !ok {
			return nil, errs.Validationf("unknown product %d", item.ProductID)
		}
		if !product.IsAvailable {
			return nil, errs.Validationf("product %d is not available", item.ProductID)
		}
		if item.Price != nil && !item.Price.Equal(product.Price) {
			return nil, errs.Validationf("price mismatch for product %d: got %s, current %s",
				item.ProductID, item.Price.String(), product.Price.String())
		}
	}

	return productMap, nil
}

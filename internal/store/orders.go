package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"savannah-commerce/internal/errs"
	"savannah-commerce/internal/models"
)

// CreateOrderTx inserts an order and all of its items in one transaction.
// On any failure nothing is persisted.
func (s *Store) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (order_number, customer_id, status, total_amount,
			shipping_address, shipping_city, shipping_country, shipping_postal_code, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	if err := tx.GetContext(ctx, order, query,
		order.OrderNumber, order.CustomerID, order.Status, order.TotalAmount,
		order.ShippingAddress, order.ShippingCity, order.ShippingCountry,
		order.ShippingPostalCode, order.Notes); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, quantity, price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	for i := range items {
		items[i].OrderID = order.ID
		if err := tx.GetContext(ctx, &items[i].ID, itemQuery,
			items[i].OrderID, items[i].ProductID, items[i].Quantity, items[i].Price); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("order", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// TransitionStatus performs the status check-and-set as one atomic unit:
// the current status is read under a row lock, validated with allowed, and
// rewritten before the lock is released. Two racers on the same order are
// serialized by the lock; the loser revalidates against the winner's
// committed status. Returns the updated order and the previous status.
func (s *Store) TransitionStatus(ctx context.Context, orderID int64, newStatus string, allowed func(from, to string) bool) (*models.Order, string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, "", err
	}
	defer tx.Rollback()

	var current string
	err = tx.GetContext(ctx, &current,
		"SELECT status FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, "", errs.NotFound("order", orderID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to lock order: %w", err)
	}

	if !allowed(current, newStatus) {
		return nil, "", fmt.Errorf("%s -> %s: %w", current, newStatus, errs.ErrInvalidTransition)
	}

	var order models.Order
	err = tx.GetContext(ctx, &order, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING *`, newStatus, orderID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to update order status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", err
	}
	return &order, current, nil
}

// OrderFilter narrows ListOrders. CustomerID nil means all customers
// (admin view); Status nil means any status.
type OrderFilter struct {
	CustomerID *int64
	Status     *string
}

// ListOrders returns one page of orders, newest first, using keyset
// pagination on (created_at, id). nextToken is empty on the last page.
func (s *Store) ListOrders(ctx context.Context, filter OrderFilter, pageToken string, limit int) (orders []models.Order, nextToken string, err error) {
	if limit <= 0 {
		limit = 20
	}

	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CustomerID != nil {
		conds = append(conds, "customer_id = "+arg(*filter.CustomerID))
	}
	if filter.Status != nil {
		conds = append(conds, "status = "+arg(*filter.Status))
	}
	if pageToken != "" {
		after, afterID, derr := decodePageToken(pageToken)
		if derr != nil {
			return nil, "", derr
		}
		conds = append(conds, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(after), arg(afterID)))
	}

	query := "SELECT * FROM orders"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// Fetch one extra row to learn whether another page exists.
	query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(limit+1)

	if err := s.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, "", err
	}

	if len(orders) > limit {
		orders = orders[:limit]
		last := orders[len(orders)-1]
		nextToken = encodePageToken(last.CreatedAt, last.ID)
	}
	return orders, nextToken, nil
}

func encodePageToken(createdAt time.Time, id int64) string {
	raw := fmt.Sprintf("%d:%d", createdAt.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodePageToken(token string) (time.Time, int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, 0, errs.Validation("page", "malformed page token")
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return time.Time{}, 0, errs.Validation("page", "malformed page token")
	}
	nanos, err1 := strconv.ParseInt(parts[0], 10, 64)
	id, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return time.Time{}, 0, errs.Validation("page", "malformed page token")
	}
	return time.Unix(0, nanos), id, nil
}

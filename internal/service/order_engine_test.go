package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"savannah-commerce/internal/auth"
	"savannah-commerce/internal/errs"
	"savannah-commerce/internal/models"
	"savannah-commerce/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockOrderStore struct {
	mock.Mock
}

func (m *mockOrderStore) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	args := m.Called(ctx, order, items)
	return args.Error(0)
}

func (m *mockOrderStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	args := m.Called(ctx, id)
	if o := args.Get(0); o != nil {
		return o.(*models.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOrderStore) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	args := m.Called(ctx, orderID)
	if items := args.Get(0); items != nil {
		return items.([]models.OrderItem), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOrderStore) TransitionStatus(ctx context.Context, orderID int64, newStatus string, allowed func(from, to string) bool) (*models.Order, string, error) {
	args := m.Called(ctx, orderID, newStatus)
	if o := args.Get(0); o != nil {
		return o.(*models.Order), args.String(1), args.Error(2)
	}
	return nil, args.String(1), args.Error(2)
}

func (m *mockOrderStore) ListOrders(ctx context.Context, filter store.OrderFilter, pageToken string, limit int) ([]models.Order, string, error) {
	args := m.Called(ctx, filter, pageToken, limit)
	if orders := args.Get(0); orders != nil {
		return orders.([]models.Order), args.String(1), args.Error(2)
	}
	return nil, args.String(1), args.Error(2)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) GetProducts(ctx context.Context, ids []int64) ([]models.Product, error) {
	args := m.Called(ctx, ids)
	if products := args.Get(0); products != nil {
		return products.([]models.Product), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockCustomers struct {
	mock.Mock
}

func (m *mockCustomers) GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error) {
	args := m.Called(ctx, id)
	if c := args.Get(0); c != nil {
		return c.(*models.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var (
	adminPrincipal    = auth.Principal{UserID: 1, Role: auth.RoleAdmin}
	customerPrincipal = auth.Principal{UserID: 2, Role: auth.RoleCustomer, CustomerID: 10}
)

func newTestEngine(st OrderStore, cat CatalogReader, cust CustomerReader, pub Publisher) *OrderEngine {
	return NewOrderEngine(st, cat, cust, pub, auth.NewGuard())
}

func testCustomer() *models.Customer {
	return &models.Customer{ID: 10, UserID: 2, Phone: "+254700000001", IsActive: true}
}

func availableProducts() []models.Product {
	return []models.Product{
		{ID: 1, Name: "Phone", Price: dec("199.99"), IsAvailable: true},
		{ID: 2, Name: "Charger", Price: dec("25.50"), IsAvailable: true},
	}
}

func validRequest() *CreateOrderRequest {
	return &CreateOrderRequest{
		Items: []OrderItemRequest{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 1},
		},
		ShippingAddress:    "123 Test St",
		ShippingCity:       "Nairobi",
		ShippingCountry:    "Kenya",
		ShippingPostalCode: "00100",
	}
}

func TestCreateOrder(t *testing.T) {
	st := new(mockOrderStore)
	cat := new(mockCatalog)
	cust := new(mockCustomers)
	pub := new(mockPublisher)

	cust.On("GetCustomerByID", mock.Anything, int64(10)).Return(testCustomer(), nil)
	cat.On("GetProducts", mock.Anything, []int64{1, 2}).Return(availableProducts(), nil)
	st.On("CreateOrderTx", mock.Anything, mock.AnythingOfType("*models.Order"), mock.Anything).
		Return(nil).
		Run(func(args mock.Arguments) {
			order := args.Get(1).(*models.Order)
			order.ID = 42
			order.CreatedAt = time.Now()
			order.UpdatedAt = order.CreatedAt
		})
	pub.On("PublishOrderCreated", mock.Anything, mock.AnythingOfType("*models.OrderCreatedEvent")).Return(nil)

	engine := newTestEngine(st, cat, cust, pub)
	order, items, err := engine.CreateOrder(context.Background(), customerPrincipal, validRequest())

	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, int64(10), order.CustomerID)
	assert.True(t, strings.HasPrefix(order.OrderNumber, "ORD-"))
	require.Len(t, items, 2)

	// total must equal the sum of snapshot price times quantity
	wantTotal := dec("199.99").Mul(decimal.NewFromInt(2)).Add(dec("25.50"))
	assert.True(t, order.TotalAmount.Equal(wantTotal),
		"total %s != %s", order.TotalAmount, wantTotal)
	assert.True(t, items[0].Price.Equal(dec("199.99")))

	st.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestCreateOrderIgnoresCallerSuppliedCustomer(t *testing.T) {
	// The engine binds the order to the caller's own customer record; the
	// request has no customer field at all, so another customer's id can
	// never be smuggled in. This asserts the binding.
	st := new(mockOrderStore)
	cat := new(mockCatalog)
	cust := new(mockCustomers)
	pub := new(mockPublisher)

	cust.On("GetCustomerByID", mock.Anything, int64(10)).Return(testCustomer(), nil)
	cat.On("GetProducts", mock.Anything, mock.Anything).Return(availableProducts(), nil)
	st.On("CreateOrderTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)

	engine := newTestEngine(st, cat, cust, pub)
	order, _, err := engine.CreateOrder(context.Background(), customerPrincipal, validRequest())

	require.NoError(t, err)
	assert.Equal(t, customerPrincipal.CustomerID, order.CustomerID)
}

func TestCreateOrderValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     *CreateOrderRequest
		setup   func(cat *mockCatalog)
		wantMsg string
	}{
		{
			name: "empty items",
			req: &CreateOrderRequest{
				ShippingAddress: "123 Test St",
			},
			setup:   func(cat *mockCatalog) {},
			wantMsg: "at least one item",
		},
		{
			name: "zero quantity",
			req: &CreateOrderRequest{
				Items: []OrderItemRequest{{ProductID: 1, Quantity: 0}},
			},
			setup:   func(cat *mockCatalog) {},
			wantMsg: "at least 1",
		},
		{
			name: "unknown product",
			req: &CreateOrderRequest{
				Items: []OrderItemRequest{{ProductID: 99, Quantity: 1}},
			},
			setup: func(cat *mockCatalog) {
				cat.On("GetProducts", mock.Anything, []int64{99}).Return([]models.Product{}, nil)
			},
			wantMsg: "unknown product 99",
		},
		{
			name: "unavailable product",
			req: &CreateOrderRequest{
				Items: []OrderItemRequest{{ProductID: 3, Quantity: 1}},
			},
			setup: func(cat *mockCatalog) {
				cat.On("GetProducts", mock.Anything, []int64{3}).Return([]models.Product{
					{ID: 3, Name: "Discontinued", Price: dec("5.00"), IsAvailable: false},
				}, nil)
			},
			wantMsg: "not available",
		},
		{
			name: "price mismatch",
			req: &CreateOrderRequest{
				Items: []OrderItemRequest{{ProductID: 1, Quantity: 1, Price: decPtr("1.00")}},
			},
			setup: func(cat *mockCatalog) {
				cat.On("GetProducts", mock.Anything, []int64{1}).Return(availableProducts()[:1], nil)
			},
			wantMsg: "price mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := new(mockOrderStore)
			cat := new(mockCatalog)
			cust := new(mockCustomers)
			pub := new(mockPublisher)

			cust.On("GetCustomerByID", mock.Anything, int64(10)).Return(testCustomer(), nil)
			tt.setup(cat)

			engine := newTestEngine(st, cat, cust, pub)
			order, items, err := engine.CreateOrder(context.Background(), customerPrincipal, tt.req)

			require.Error(t, err)
			assert.True(t, errs.IsValidation(err), "want ValidationError, got %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Nil(t, order)
			assert.Nil(t, items)

			// nothing may be persisted or published on a rejected create
			st.AssertNotCalled(t, "CreateOrderTx", mock.Anything, mock.Anything, mock.Anything)
			pub.AssertNotCalled(t, "PublishOrderCreated", mock.Anything, mock.Anything)
		})
	}
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestCreateOrderAuthorization(t *testing.T) {
	engine := newTestEngine(new(mockOrderStore), new(mockCatalog), new(mockCustomers), new(mockPublisher))

	_, _, err := engine.CreateOrder(context.Background(), auth.Anonymous, validRequest())
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)

	// admins have no customer record to bind the order to
	_, _, err = engine.CreateOrder(context.Background(), adminPrincipal, validRequest())
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

func TestCreateOrderSurvivesPublishFailure(t *testing.T) {
	st := new(mockOrderStore)
	cat := new(mockCatalog)
	cust := new(mockCustomers)
	pub := new(mockPublisher)

	cust.On("GetCustomerByID", mock.Anything, int64(10)).Return(testCustomer(), nil)
	cat.On("GetProducts", mock.Anything, mock.Anything).Return(availableProducts(), nil)
	st.On("CreateOrderTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishOrderCreated", mock.Anything, mock.Anything).
		Return(fmt.Errorf("broker unreachable"))

	engine := newTestEngine(st, cat, cust, pub)
	order, _, err := engine.CreateOrder(context.Background(), customerPrincipal, validRequest())

	// the committed order is the source of truth; a dead broker must not
	// surface to the caller
	require.NoError(t, err)
	assert.NotNil(t, order)
}

func TestUpdateStatus(t *testing.T) {
	st := new(mockOrderStore)
	cust := new(mockCustomers)
	pub := new(mockPublisher)

	updated := &models.Order{
		ID: 7, OrderNumber: "ORD-test", CustomerID: 10,
		Status: models.OrderStatusProcessing, TotalAmount: dec("10.00"),
	}
	st.On("TransitionStatus", mock.Anything, int64(7), models.OrderStatusProcessing).
		Return(updated, models.OrderStatusPending, nil)
	cust.On("GetCustomerByID", mock.Anything, int64(10)).Return(testCustomer(), nil)
	pub.On("PublishOrderStatusChanged", mock.Anything, mock.MatchedBy(func(ev *models.OrderStatusChangedEvent) bool {
		return ev.OldStatus == models.OrderStatusPending &&
			ev.NewStatus == models.OrderStatusProcessing &&
			ev.OrderNumber == "ORD-test"
	})).Return(nil)

	engine := newTestEngine(st, new(mockCatalog), cust, pub)
	order, oldStatus, err := engine.UpdateStatus(context.Background(), adminPrincipal, 7, models.OrderStatusProcessing)

	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, oldStatus)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
	pub.AssertExpectations(t)
}

func TestUpdateStatusAuthorization(t *testing.T) {
	engine := newTestEngine(new(mockOrderStore), new(mockCatalog), new(mockCustomers), new(mockPublisher))

	_, _, err := engine.UpdateStatus(context.Background(), customerPrincipal, 7, models.OrderStatusProcessing)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	_, _, err = engine.UpdateStatus(context.Background(), auth.Anonymous, 7, models.OrderStatusProcessing)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestUpdateStatusUnknownValue(t *testing.T) {
	engine := newTestEngine(new(mockOrderStore), new(mockCatalog), new(mockCustomers), new(mockPublisher))

	_, _, err := engine.UpdateStatus(context.Background(), adminPrincipal, 7, "in_transit")
	assert.ErrorIs(t, err, errs.ErrInvalidStatus)
}

func TestGetOrderVisibility(t *testing.T) {
	st := new(mockOrderStore)
	order := &models.Order{ID: 7, CustomerID: 999, Status: models.OrderStatusPending}
	st.On("GetOrderByID", mock.Anything, int64(7)).Return(order, nil)
	st.On("GetOrderItemsByOrderID", mock.Anything, int64(7)).
		Return([]models.OrderItem{{ID: 1, OrderID: 7}}, nil)

	engine := newTestEngine(st, new(mockCatalog), new(mockCustomers), new(mockPublisher))

	// someone else's order
	_, _, err := engine.GetOrder(context.Background(), customerPrincipal, 7)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	// admin sees everything
	got, items, err := engine.GetOrder(context.Background(), adminPrincipal, 7)
	require.NoError(t, err)
	assert.Equal(t, order, got)
	assert.Len(t, items, 1)
}

func TestHistoryScoping(t *testing.T) {
	st := new(mockOrderStore)
	st.On("ListOrders", mock.Anything, mock.MatchedBy(func(f store.OrderFilter) bool {
		return f.CustomerID != nil && *f.CustomerID == 10 && f.Status == nil
	}), "", 20).Return([]models.Order{{ID: 1, CustomerID: 10}}, "", nil)
	st.On("ListOrders", mock.Anything, mock.MatchedBy(func(f store.OrderFilter) bool {
		return f.CustomerID == nil && f.Status != nil && *f.Status == models.OrderStatusShipped
	}), "", 20).Return([]models.Order{{ID: 1}, {ID: 2}}, "tok", nil)

	engine := newTestEngine(st, new(mockCatalog), new(mockCustomers), new(mockPublisher))

	// a customer only ever queries their own orders
	orders, next, err := engine.History(context.Background(), customerPrincipal, "", "", 20)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Empty(t, next)

	// admin with a status filter sees all customers
	orders, next, err = engine.History(context.Background(), adminPrincipal, models.OrderStatusShipped, "", 20)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	assert.Equal(t, "tok", next)

	st.AssertExpectations(t)
}

func TestHistoryRejectsUnknownStatusFilter(t *testing.T) {
	engine := newTestEngine(new(mockOrderStore), new(mockCatalog), new(mockCustomers), new(mockPublisher))

	_, _, err := engine.History(context.Background(), adminPrincipal, "bogus", "", 20)
	assert.ErrorIs(t, err, errs.ErrInvalidStatus)
}

func TestOrderNumberUniqueness(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		n := newOrderNumber()
		assert.True(t, strings.HasPrefix(n, "ORD-"))
		assert.False(t, seen[n], "duplicate order number %s", n)
		seen[n] = true
	}
}

// memOrderStore is a mutex-guarded in-memory store; TransitionStatus holds
// the lock across read-validate-write exactly like the row lock in the SQL
// implementation.
type memOrderStore struct {
	mu    sync.Mutex
	order models.Order
}

func (s *memOrderStore) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	return nil
}

func (s *memOrderStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order.ID != id {
		return nil, errs.NotFound("order", id)
	}
	cp := s.order
	return &cp, nil
}

func (s *memOrderStore) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return nil, nil
}

func (s *memOrderStore) TransitionStatus(ctx context.Context, orderID int64, newStatus string, allowed func(from, to string) bool) (*models.Order, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order.ID != orderID {
		return nil, "", errs.NotFound("order", orderID)
	}
	old := s.order.Status
	if !allowed(old, newStatus) {
		return nil, "", fmt.Errorf("%s -> %s: %w", old, newStatus, errs.ErrInvalidTransition)
	}
	s.order.Status = newStatus
	s.order.UpdatedAt = time.Now()
	cp := s.order
	return &cp, old, nil
}

func (s *memOrderStore) ListOrders(ctx context.Context, filter store.OrderFilter, pageToken string, limit int) ([]models.Order, string, error) {
	return nil, "", nil
}

type stubCustomers struct{}

func (stubCustomers) GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error) {
	return &models.Customer{ID: id, Phone: "+254700000001"}, nil
}

type stubPublisher struct{}

func (stubPublisher) PublishOrderCreated(ctx context.Context, ev *models.OrderCreatedEvent) error {
	return nil
}

func (stubPublisher) PublishOrderStatusChanged(ctx context.Context, ev *models.OrderStatusChangedEvent) error {
	return nil
}

func TestConcurrentStatusUpdatesSingleWinner(t *testing.T) {
	st := &memOrderStore{order: models.Order{
		ID: 7, OrderNumber: "ORD-race", CustomerID: 10,
		Status: models.OrderStatusPending,
	}}
	engine := newTestEngine(st, new(mockCatalog), stubCustomers{}, stubPublisher{})

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := engine.UpdateStatus(context.Background(), adminPrincipal, 7, models.OrderStatusProcessing)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		default:
			require.ErrorIs(t, err, errs.ErrInvalidTransition)
			conflicts++
		}
	}

	assert.Equal(t, 1, wins, "exactly one racer may commit")
	assert.Equal(t, racers-1, conflicts)
	assert.Equal(t, models.OrderStatusProcessing, st.order.Status)
}

func TestLifecycleEndToEnd(t *testing.T) {
	st := &memOrderStore{order: models.Order{
		ID: 7, OrderNumber: "ORD-seq", CustomerID: 10,
		Status: models.OrderStatusPending,
	}}
	engine := newTestEngine(st, new(mockCatalog), stubCustomers{}, stubPublisher{})
	ctx := context.Background()

	for _, next := range []string{
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
	} {
		order, _, err := engine.UpdateStatus(ctx, adminPrincipal, 7, next)
		require.NoError(t, err)
		assert.Equal(t, next, order.Status)
	}

	// delivered is terminal
	for _, next := range []string{
		models.OrderStatusPending,
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusCancelled,
	} {
		_, _, err := engine.UpdateStatus(ctx, adminPrincipal, 7, next)
		assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	}
}

func TestCancelFromPendingAndProcessing(t *testing.T) {
	ctx := context.Background()

	st := &memOrderStore{order: models.Order{ID: 1, Status: models.OrderStatusPending}}
	engine := newTestEngine(st, new(mockCatalog), stubCustomers{}, stubPublisher{})
	order, _, err := engine.UpdateStatus(ctx, adminPrincipal, 1, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)

	st = &memOrderStore{order: models.Order{ID: 2, Status: models.OrderStatusProcessing}}
	engine = newTestEngine(st, new(mockCatalog), stubCustomers{}, stubPublisher{})
	order, _, err = engine.UpdateStatus(ctx, adminPrincipal, 2, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
}

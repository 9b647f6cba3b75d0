package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"savannah-commerce/internal/auth"
	"savannah-commerce/internal/errs"
	"savannah-commerce/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// maxCategoryDepth bounds the recursive subtree walk so malformed parent
// links cannot recurse forever.
const maxCategoryDepth = 32

// subtreeAvgQuery pools every product of the subtree into a single AVG:
// each product weighs equally regardless of which category holds it, so
// this is never a mean of per-category means.
const subtreeAvgQuery = `
	WITH RECURSIVE subtree(id, depth) AS (
		SELECT id, 0 FROM categories WHERE id = $1
		UNION ALL
		SELECT c.id, st.depth + 1
		FROM categories c
		JOIN subtree st ON c.parent_id = st.id
		WHERE st.depth < $2
	)
	SELECT AVG(p.price)
	FROM products p
	WHERE p.category_id IN (SELECT id FROM subtree)`

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// ResolveToken maps an API token to the caller's principal. Token issuance
// happens outside this service; we only read the mapping.
func (s *Store) ResolveToken(ctx context.Context, token string) (auth.Principal, error) {
	var row struct {
		UserID     int64         `db:"user_id"`
		IsStaff    bool          `db:"is_staff"`
		CustomerID sql.NullInt64 `db:"customer_id"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT u.id AS user_id, u.is_staff, c.id AS customer_id
		FROM users u
		LEFT JOIN customers c ON c.user_id = u.id
		WHERE u.api_token = $1 AND u.is_active`, token)
	if err == sql.ErrNoRows {
		return auth.Anonymous, errs.ErrUnauthenticated
	}
	if err != nil {
		return auth.Anonymous, err
	}

	p := auth.Principal{UserID: row.UserID}
	switch {
	case row.IsStaff:
		p.Role = auth.RoleAdmin
	case row.CustomerID.Valid:
		p.Role = auth.RoleCustomer
		p.CustomerID = row.CustomerID.Int64
	default:
		return auth.Anonymous, errs.ErrUnauthenticated
	}
	return p, nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("product", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// ListProducts retrieves products, optionally restricted to one category.
func (s *Store) ListProducts(ctx context.Context, categoryID *int64) ([]models.Product, error) {
	var products []models.Product
	if categoryID != nil {
		err := s.db.SelectContext(ctx, &products,
			"SELECT * FROM products WHERE category_id = $1 ORDER BY id", *categoryID)
		return products, err
	}
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id")
	return products, err
}

// CreateProduct inserts a new product
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (name, slug, description, price, category_id, stock, is_available)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, p, query,
		p.Name, p.Slug, p.Description, p.Price, p.CategoryID, p.Stock, p.IsAvailable)
}

// UpdateProduct updates mutable product fields
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $1, slug = $2, description = $3, price = $4,
		    category_id = $5, stock = $6, is_available = $7, updated_at = NOW()
		WHERE id = $8`,
		p.Name, p.Slug, p.Description, p.Price, p.CategoryID, p.Stock, p.IsAvailable, p.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NotFound("product", p.ID)
	}
	return nil
}

// GetCategoryByID retrieves a category by ID
func (s *Store) GetCategoryByID(ctx context.Context, id int64) (*models.Category, error) {
	var category models.Category
	err := s.db.GetContext(ctx, &category, "SELECT * FROM categories WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("category", id)
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// ListCategories retrieves all categories
func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	err := s.db.SelectContext(ctx, &categories, "SELECT * FROM categories ORDER BY id")
	return categories, err
}

// CreateCategory inserts a new category
func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	query := `
		INSERT INTO categories (name, slug, description, parent_id, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, c, query,
		c.Name, c.Slug, c.Description, c.ParentID, c.IsActive)
}

// UpdateCategory updates mutable category fields
func (s *Store) UpdateCategory(ctx context.Context, c *models.Category) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE categories
		SET name = $1, slug = $2, description = $3, parent_id = $4,
		    is_active = $5, updated_at = NOW()
		WHERE id = $6`,
		c.Name, c.Slug, c.Description, c.ParentID, c.IsActive, c.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NotFound("category", c.ID)
	}
	return nil
}

// SubtreeAveragePrice computes the pooled mean price over every product in
// the category and, when includeDescendants is set, its full subtree. The
// walk is depth-bounded so a corrupted parent link cannot loop. ok is false
// when the pooled set is empty.
func (s *Store) SubtreeAveragePrice(ctx context.Context, categoryID int64, includeDescendants bool) (avg decimal.Decimal, ok bool, err error) {
	if _, err = s.GetCategoryByID(ctx, categoryID); err != nil {
		return decimal.Zero, false, err
	}

	var result decimal.NullDecimal
	if includeDescendants {
		err = s.db.GetContext(ctx, &result, subtreeAvgQuery, categoryID, maxCategoryDepth)
	} else {
		err = s.db.GetContext(ctx, &result,
			"SELECT AVG(price) FROM products WHERE category_id = $1", categoryID)
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	if !result.Valid {
		return decimal.Zero, false, nil
	}
	return result.Decimal, true, nil
}

// GetCustomerByID retrieves a customer profile by ID
func (s *Store) GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.GetContext(ctx, &customer, "SELECT * FROM customers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("customer", id)
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetCustomerByUserID retrieves the customer linked to a user
func (s *Store) GetCustomerByUserID(ctx context.Context, userID int64) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.GetContext(ctx, &customer, "SELECT * FROM customers WHERE user_id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("customer for user", userID)
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// ListCustomers retrieves all customer profiles
func (s *Store) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	var customers []models.Customer
	err := s.db.SelectContext(ctx, &customers, "SELECT * FROM customers ORDER BY id")
	return customers, err
}

// UpdateCustomer updates a customer's contact fields
func (s *Store) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET phone = $1, address = $2, city = $3, country = $4,
		    postal_code = $5, is_active = $6, updated_at = NOW()
		WHERE id = $7`,
		c.Phone, c.Address, c.City, c.Country, c.PostalCode, c.IsActive, c.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NotFound("customer", c.ID)
	}
	return nil
}

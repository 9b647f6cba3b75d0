package catalog

import (
	"context"
	"time"

	"savannah-commerce/internal/auth"
	"savannah-commerce/internal/errs"
	"savannah-commerce/internal/models"
	"savannah-commerce/internal/redisclient"
	"savannah-commerce/internal/store"
	"savannah-commerce/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	productCacheTTL  = 5 * time.Minute
	avgPriceCacheTTL = 30 * time.Second
)

// Service is the catalog store: product and category reads for everyone,
// mutations for admins only.
type Service struct {
	store  *store.Store
	redis  *redisclient.Client
	guard  *auth.Guard
	logger *zap.Logger
}

// NewService creates a new catalog service. redis may be nil; lookups then
// always hit the database.
func NewService(store *store.Store, redis *redisclient.Client, guard *auth.Guard) *Service {
	return &Service{
		store:  store,
		redis:  redis,
		guard:  guard,
		logger: util.GetLogger(),
	}
}

// GetProduct retrieves a product, serving from cache when possible.
func (s *Service) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "Catalog.GetProduct")
	defer span.End()

	if s.redis != nil {
		cached, err := s.redis.GetProduct(ctx, id)
		if err != nil {
			s.logger.Warn("Product cache read failed", zap.Int64("product_id", id), zap.Error(err))
		} else if cached != nil {
			util.AvgPriceCacheHits.WithLabelValues("product", "hit").Inc()
			return cached, nil
		}
		util.AvgPriceCacheHits.WithLabelValues("product", "miss").Inc()
	}

	product, err := s.store.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		if err := s.redis.SetProduct(ctx, product, productCacheTTL); err != nil {
			s.logger.Warn("Product cache write failed", zap.Int64("product_id", id), zap.Error(err))
		}
	}
	return product, nil
}

// GetProducts retrieves several products at once, bypassing the cache.
// Used by order creation, which wants one consistent read.
func (s *Service) GetProducts(ctx context.Context, ids []int64) ([]models.Product, error) {
	return s.store.GetProductsByIDs(ctx, ids)
}

// ListProducts lists products, optionally by category.
func (s *Service) ListProducts(ctx context.Context, p auth.Principal, categoryID *int64) ([]models.Product, error) {
	if err := s.guard.RequireAuthenticated(p); err != nil {
		return nil, err
	}
	if categoryID != nil {
		if _, err := s.store.GetCategoryByID(ctx, *categoryID); err != nil {
			return nil, err
		}
	}
	return s.store.ListProducts(ctx, categoryID)
}

// CreateProduct inserts a product. Admin only.
func (s *Service) CreateProduct(ctx context.Context, p auth.Principal, product *models.Product) error {
	if err := s.guard.RequireAdmin(p); err != nil {
		return err
	}
	if err := validateProduct(product); err != nil {
		return err
	}
	if _, err := s.store.GetCategoryByID(ctx, product.CategoryID); err != nil {
		return err
	}
	return s.store.CreateProduct(ctx, product)
}

// UpdateProduct rewrites a product. Admin only.
func (s *Service) UpdateProduct(ctx context.Context, p auth.Principal, product *models.Product) error {
	if err := s.guard.RequireAdmin(p); err != nil {
		return err
	}
	if err := validateProduct(product); err != nil {
		return err
	}
	if _, err := s.store.GetCategoryByID(ctx, product.CategoryID); err != nil {
		return err
	}
	if err := s.store.UpdateProduct(ctx, product); err != nil {
		return err
	}
	if s.redis != nil {
		if err := s.redis.InvalidateProduct(ctx, product.ID); err != nil {
			s.logger.Warn("Product cache invalidation failed",
				zap.Int64("product_id", product.ID), zap.Error(err))
		}
	}
	return nil
}

// GetCategory retrieves one category.
func (s *Service) GetCategory(ctx context.Context, p auth.Principal, id int64) (*models.Category, error) {
	if err := s.guard.RequireAuthenticated(p); err != nil {
		return nil, err
	}
	return s.store.GetCategoryByID(ctx, id)
}

// ListCategories lists all categories.
func (s *Service) ListCategories(ctx context.Context, p auth.Principal) ([]models.Category, error) {
	if err := s.guard.RequireAuthenticated(p); err != nil {
		return nil, err
	}
	return s.store.ListCategories(ctx)
}

// CreateCategory inserts a category. Admin only.
func (s *Service) CreateCategory(ctx context.Context, p auth.Principal, category *models.Category) error {
	if err := s.guard.RequireAdmin(p); err != nil {
		return err
	}
	if err := validateCategory(category); err != nil {
		return err
	}
	if category.ParentID != nil {
		if _, err := s.store.GetCategoryByID(ctx, *category.ParentID); err != nil {
			return err
		}
	}
	return s.store.CreateCategory(ctx, category)
}

// UpdateCategory rewrites a category. Admin only. A category may not become
// its own parent.
func (s *Service) UpdateCategory(ctx context.Context, p auth.Principal, category *models.Category) error {
	if err := s.guard.RequireAdmin(p); err != nil {
		return err
	}
	if err := validateCategory(category); err != nil {
		return err
	}
	if category.ParentID != nil {
		if *category.ParentID == category.ID {
			return errs.Validation("parent", "category cannot be its own parent")
		}
		if _, err := s.store.GetCategoryByID(ctx, *category.ParentID); err != nil {
			return err
		}
	}
	return s.store.UpdateCategory(ctx, category)
}

// AveragePrice returns the pooled mean price over the category and, when
// includeDescendants is set, its whole subtree. The pointer is nil when no
// products exist in the pooled set; callers render that as zero.
func (s *Service) AveragePrice(ctx context.Context, p auth.Principal, categoryID int64, includeDescendants bool) (*decimal.Decimal, error) {
	ctx, span := util.StartSpan(ctx, "Catalog.AveragePrice")
	defer span.End()

	if err := s.guard.RequireAuthenticated(p); err != nil {
		return nil, err
	}

	if s.redis != nil {
		avg, empty, found, err := s.redis.GetAveragePrice(ctx, categoryID, includeDescendants)
		if err != nil {
			s.logger.Warn("Average price cache read failed",
				zap.Int64("category_id", categoryID), zap.Error(err))
		} else if found {
			util.AvgPriceCacheHits.WithLabelValues("avg_price", "hit").Inc()
			if empty {
				return nil, nil
			}
			return &avg, nil
		}
		util.AvgPriceCacheHits.WithLabelValues("avg_price", "miss").Inc()
	}

	avg, ok, err := s.store.SubtreeAveragePrice(ctx, categoryID, includeDescendants)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		if err := s.redis.SetAveragePrice(ctx, categoryID, includeDescendants, avg, !ok, avgPriceCacheTTL); err != nil {
			s.logger.Warn("Average price cache write failed",
				zap.Int64("category_id", categoryID), zap.Error(err))
		}
	}

	if !ok {
		return nil, nil
	}
	return &avg, nil
}

func validateProduct(p *models.Product) error {
	if p.Name == "" {
		return errs.Validation("name", "must not be empty")
	}
	if p.Slug == "" {
		return errs.Validation("slug", "must not be empty")
	}
	if p.Price.IsNegative() {
		return errs.Validation("price", "must not be negative")
	}
	if p.Stock < 0 {
		return errs.Validation("stock", "must not be negative")
	}
	return nil
}

func validateCategory(c *models.Category) error {
	if c.Name == "" {
		return errs.Validation("name", "must not be empty")
	}
	if c.Slug == "" {
		return errs.Validation("slug", "must not be empty")
	}
	return nil
}

package customer

import (
	"context"

	"savannah-commerce/internal/auth"
	"savannah-commerce/internal/errs"
	"savannah-commerce/internal/models"
	"savannah-commerce/internal/store"
	"savannah-commerce/internal/util"

	"go.uber.org/zap"
)

// Directory maps principals to customer profiles and guards profile access.
type Directory struct {
	store  *store.Store
	guard  *auth.Guard
	logger *zap.Logger
}

func NewDirectory(store *store.Store, guard *auth.Guard) *Directory {
	return &Directory{
		store:  store,
		guard:  guard,
		logger: util.GetLogger(),
	}
}

// ForPrincipal returns the caller's own customer profile.
func (d *Directory) ForPrincipal(ctx context.Context, p auth.Principal) (*models.Customer, error) {
	if err := d.guard.RequireCustomer(p); err != nil {
		return nil, err
	}
	return d.store.GetCustomerByID(ctx, p.CustomerID)
}

// Get retrieves a profile: admins any, customers only their own.
func (d *Directory) Get(ctx context.Context, p auth.Principal, customerID int64) (*models.Customer, error) {
	if err := d.guard.CanReadCustomer(p, customerID); err != nil {
		return nil, err
	}
	return d.store.GetCustomerByID(ctx, customerID)
}

// List retrieves every profile. Admin only.
func (d *Directory) List(ctx context.Context, p auth.Principal) ([]models.Customer, error) {
	if err := d.guard.RequireAdmin(p); err != nil {
		return nil, err
	}
	return d.store.ListCustomers(ctx)
}

// Update rewrites a profile's contact fields: admins any, customers only
// their own.
func (d *Directory) Update(ctx context.Context, p auth.Principal, c *models.Customer) error {
	if err := d.guard.CanMutateCustomer(p, c.ID); err != nil {
		return err
	}
	if c.Phone == "" {
		return errs.Validation("phone", "must not be empty")
	}
	if err := d.store.UpdateCustomer(ctx, c); err != nil {
		return err
	}
	d.logger.Info("Customer profile updated",
		zap.Int64("customer_id", c.ID),
		zap.String("updated_by", p.Role.String()))
	return nil
}

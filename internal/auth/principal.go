package auth

import (
	"savannah-commerce/internal/errs"
	"savannah-commerce/internal/models"
)

// Role is the capability tag of a principal.
type Role int

const (
	RoleAnonymous Role = iota
	RoleCustomer
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleCustomer:
		return "customer"
	default:
		return "anonymous"
	}
}

// Principal is the resolved caller of a request. CustomerID is set only for
// RoleCustomer; authorization decisions switch exhaustively on Role instead
// of probing attributes.
type Principal struct {
	UserID     int64
	Role       Role
	CustomerID int64
}

// Anonymous is the unauthenticated principal.
var Anonymous = Principal{Role: RoleAnonymous}

// Authenticated reports whether a principal was resolved at all.
func (p Principal) Authenticated() bool {
	return p.Role != RoleAnonymous
}

// Guard centralizes every authorization decision of the core.
type Guard struct{}

func NewGuard() *Guard {
	return &Guard{}
}

// RequireAuthenticated rejects anonymous callers.
func (g *Guard) RequireAuthenticated(p Principal) error {
	if !p.Authenticated() {
		return errs.ErrUnauthenticated
	}
	return nil
}

// RequireAdmin allows catalog mutation, status updates and customer
// administration.
func (g *Guard) RequireAdmin(p Principal) error {
	if err := g.RequireAuthenticated(p); err != nil {
		return err
	}
	if p.Role != RoleAdmin {
		return errs.ErrForbidden
	}
	return nil
}

// RequireCustomer allows operations that need a linked customer profile,
// such as creating an order.
func (g *Guard) RequireCustomer(p Principal) error {
	if err := g.RequireAuthenticated(p); err != nil {
		return err
	}
	if p.Role != RoleCustomer {
		return errs.ErrForbidden
	}
	return nil
}

// CanReadOrder grants admins everything and customers their own orders.
func (g *Guard) CanReadOrder(p Principal, order *models.Order) error {
	if err := g.RequireAuthenticated(p); err != nil {
		return err
	}
	switch p.Role {
	case RoleAdmin:
		return nil
	case RoleCustomer:
		if order.CustomerID == p.CustomerID {
			return nil
		}
		return errs.ErrForbidden
	default:
		return errs.ErrForbidden
	}
}

// CanReadCustomer grants admins every profile and customers their own.
func (g *Guard) CanReadCustomer(p Principal, customerID int64) error {
	if err := g.RequireAuthenticated(p); err != nil {
		return err
	}
	switch p.Role {
	case RoleAdmin:
		return nil
	case RoleCustomer:
		if customerID == p.CustomerID {
			return nil
		}
		return errs.ErrForbidden
	default:
		return errs.ErrForbidden
	}
}

// CanMutateCustomer mirrors CanReadCustomer: admins mutate any profile,
// customers only their own.
func (g *Guard) CanMutateCustomer(p Principal, customerID int64) error {
	return g.CanReadCustomer(p, customerID)
}

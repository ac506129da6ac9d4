package security

import (
	"github.com/google/uuid"

	"returns-credit-backend/internal/domain"
)

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

type Permission string

const (
	PermReturnsCreate Permission = "returns:create"
	PermReturnsView   Permission = "returns:view"
	PermReturnsManage Permission = "returns:manage"
	PermWalletViewOwn Permission = "wallet:view_own"
	PermWalletViewAny Permission = "wallet:view_any"
	PermWalletAdjust  Permission = "wallet:adjust"
	PermAuditView     Permission = "audit:view"
)

var rolePermissions = map[Role][]Permission{
	RoleCustomer: {
		PermReturnsCreate,
		PermWalletViewOwn,
	},
	RoleAdmin: {
		PermReturnsCreate,
		PermWalletViewOwn,
		PermReturnsView,
		PermReturnsManage,
		PermWalletViewAny,
		PermAuditView,
	},
	RoleSuperAdmin: {
		PermReturnsCreate,
		PermWalletViewOwn,
		PermReturnsView,
		PermReturnsManage,
		PermWalletViewAny,
		PermAuditView,
		PermWalletAdjust,
	},
}

// ParseRole maps a claim value onto the closed role set. Unknown values
// yield false.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := rolePermissions[r]
	return r, ok
}

// Has reports whether the role grants p.
func (r Role) Has(p Permission) bool {
	for _, granted := range rolePermissions[r] {
		if granted == p {
			return true
		}
	}
	return false
}

// IsStaff reports whether the role belongs to the back office.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Session is the verified caller of a request.
type Session struct {
	UserID uuid.UUID
	Email  string
	Role   Role
}

// Authorize is the single authorization predicate used by every operation.
func Authorize(s *Session, p Permission) error {
	if s == nil || s.UserID == uuid.Nil || !s.Role.Has(p) {
		return domain.ErrUnauthorized
	}
	return nil
}

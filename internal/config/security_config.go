// config/security_config.go
package config

import "returns-credit-backend/internal/security"

// Route names used by the HTTP router.
const (
	RouteHealth               = "health"
	RouteShiprocketWebhook    = "webhooks.shiprocket.returns"
	RouteAdminReturnsList     = "admin.returns.list"
	RouteAdminReturnsCreate   = "admin.returns.create"
	RouteAdminReturnsApprove  = "admin.returns.approve"
	RouteAdminReturnsReject   = "admin.returns.reject"
	RouteAdminReturnsPickup   = "admin.returns.trigger_pickup"
	RouteAdminReturnsReceived = "admin.returns.confirm_received"
	RouteAdminWalletGet       = "admin.wallet.get"
	RouteAdminWalletCredit    = "admin.wallet.credit"
	RouteAdminWalletDebit     = "admin.wallet.debit"
	RouteAdminAuditList       = "admin.audit.list"
	RouteReturnsCreate        = "returns.create"
	RouteWalletBalance        = "wallet.balance"
	RouteWalletTransactions   = "wallet.transactions"
)

// PublicRoutes skip session checks. The webhook authenticates by signature.
var PublicRoutes = map[string]bool{
	RouteHealth:            true,
	RouteShiprocketWebhook: true,
}

// EndpointPermissions maps each route to the permission it requires
var EndpointPermissions = map[string]security.Permission{
	// Admin returns
	RouteAdminReturnsList:     security.PermReturnsView,
	RouteAdminReturnsCreate:   security.PermReturnsManage,
	RouteAdminReturnsApprove:  security.PermReturnsManage,
	RouteAdminReturnsReject:   security.PermReturnsManage,
	RouteAdminReturnsPickup:   security.PermReturnsManage,
	RouteAdminReturnsReceived: security.PermReturnsManage,

	// Admin wallet
	RouteAdminWalletGet:    security.PermWalletViewAny,
	RouteAdminWalletCredit: security.PermWalletAdjust,
	RouteAdminWalletDebit:  security.PermWalletAdjust,

	// Admin audit
	RouteAdminAuditList: security.PermAuditView,

	// Customer
	RouteReturnsCreate:      security.PermReturnsCreate,
	RouteWalletBalance:      security.PermWalletViewOwn,
	RouteWalletTransactions: security.PermWalletViewOwn,
}

// GetRequiredPermission returns the permission for a route. Unknown routes
// require the most restrictive permission.
func GetRequiredPermission(route string) security.Permission {
	if perm, exists := EndpointPermissions[route]; exists {
		return perm
	}
	return security.PermWalletAdjust
}

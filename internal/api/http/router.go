package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"returns-credit-backend/internal/config"
	"returns-credit-backend/internal/security"
	"returns-credit-backend/internal/service"
)

// Services are the operations exposed over HTTP.
type Services struct {
	Returns  service.ReturnService
	Wallets  service.WalletService
	Audit    service.AuditService
	Webhooks service.PickupWebhookService
}

type Server struct {
	svc        Services
	tokens     security.TokenManager
	production bool
}

func NewServer(svc Services, tokens security.TokenManager, production bool) *Server {
	return &Server{svc: svc, tokens: tokens, production: production}
}

// Router registers every route. Route names key the permission table in
// config.EndpointPermissions.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(requestLogging, s.recoverPanics, s.authenticate)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet).Name(config.RouteHealth)
	router.HandleFunc("/api/webhooks/shiprocket/returns", s.handleShiprocketWebhook).Methods(http.MethodPost).Name(config.RouteShiprocketWebhook)

	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.HandleFunc("/returns/list", s.handleListReturns).Methods(http.MethodGet).Name(config.RouteAdminReturnsList)
	admin.HandleFunc("/returns/create", s.handleCreateReturn).Methods(http.MethodPost).Name(config.RouteAdminReturnsCreate)
	admin.HandleFunc("/returns/approve", s.handleApproveReturn).Methods(http.MethodPost).Name(config.RouteAdminReturnsApprove)
	admin.HandleFunc("/returns/reject", s.handleRejectReturn).Methods(http.MethodPost).Name(config.RouteAdminReturnsReject)
	admin.HandleFunc("/returns/trigger-pickup", s.handleTriggerPickup).Methods(http.MethodPost).Name(config.RouteAdminReturnsPickup)
	admin.HandleFunc("/returns/confirm-received", s.handleConfirmReceived).Methods(http.MethodPost).Name(config.RouteAdminReturnsReceived)
	admin.HandleFunc("/wallet/credit", s.handleCreditWallet).Methods(http.MethodPost).Name(config.RouteAdminWalletCredit)
	admin.HandleFunc("/wallet/debit", s.handleDebitWallet).Methods(http.MethodPost).Name(config.RouteAdminWalletDebit)
	admin.HandleFunc("/wallet/{user_id}", s.handleAdminGetWallet).Methods(http.MethodGet).Name(config.RouteAdminWalletGet)
	admin.HandleFunc("/audit", s.handleListAudit).Methods(http.MethodGet).Name(config.RouteAdminAuditList)

	router.HandleFunc("/api/returns", s.handleCreateReturn).Methods(http.MethodPost).Name(config.RouteReturnsCreate)
	router.HandleFunc("/api/wallet", s.handleGetOwnWallet).Methods(http.MethodGet).Name(config.RouteWalletBalance)
	router.HandleFunc("/api/wallet/transactions", s.handleOwnTransactions).Methods(http.MethodGet).Name(config.RouteWalletTransactions)

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "ok", nil)
}

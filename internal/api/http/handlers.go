package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/service"
)

const maxWebhookBody = 1 << 20

type returnActionRequest struct {
	ReturnRequestID string `json:"return_request_id"`
	AdminNotes      string `json:"admin_notes"`
}

type walletAdjustRequest struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference *string         `json:"reference"`
	Notes     *string         `json:"notes"`
}

type walletView struct {
	UserID       uuid.UUID                  `json:"user_id"`
	Balance      decimal.Decimal            `json:"balance"`
	ExpiringSoon decimal.Decimal            `json:"expiring_soon"`
	Transactions []domain.CreditTransaction `json:"transactions,omitempty"`
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return badRequest("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, badRequest("invalid " + field)
	}
	return id, nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, badRequest("invalid limit")
	}
	return limit, nil
}

// decodeReturnAction reads the body shared by the admin return actions.
func decodeReturnAction(r *http.Request) (uuid.UUID, string, error) {
	var req returnActionRequest
	if err := decodeJSON(r, &req); err != nil {
		return uuid.Nil, "", err
	}
	id, err := parseID(req.ReturnRequestID, "return_request_id")
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, req.AdminNotes, nil
}

func (s *Server) handleListReturns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := domain.ReturnFilter{
		Status: domain.ReturnStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	}

	returns, err := s.svc.Returns.List(r.Context(), SessionFromContext(r.Context()), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if returns == nil {
		returns = []domain.ReturnRequest{}
	}
	writeFields(w, http.StatusOK, map[string]any{"returns": returns})
}

func (s *Server) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	var in service.CreateReturnInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if in.OrderID == uuid.Nil {
		s.writeError(w, r, badRequest("order_id is required"))
		return
	}

	created, err := s.svc.Returns.Create(r.Context(), SessionFromContext(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Return request created", created)
}

func (s *Server) handleApproveReturn(w http.ResponseWriter, r *http.Request) {
	id, notes, err := decodeReturnAction(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.svc.Returns.Approve(r.Context(), SessionFromContext(r.Context()), id, notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Return approved", updated)
}

func (s *Server) handleRejectReturn(w http.ResponseWriter, r *http.Request) {
	id, notes, err := decodeReturnAction(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.svc.Returns.Reject(r.Context(), SessionFromContext(r.Context()), id, notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Return rejected", updated)
}

func (s *Server) handleTriggerPickup(w http.ResponseWriter, r *http.Request) {
	id, _, err := decodeReturnAction(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.svc.Returns.TriggerPickup(r.Context(), SessionFromContext(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Pickup scheduled", updated)
}

func (s *Server) handleConfirmReceived(w http.ResponseWriter, r *http.Request) {
	id, notes, err := decodeReturnAction(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Returns.ConfirmReceived(r.Context(), SessionFromContext(r.Context()), id, notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeFields(w, http.StatusOK, map[string]any{
		"message":       "Return received and credit issued",
		"credit_amount": res.CreditAmount,
		"new_balance":   res.NewBalance,
		"data":          res.Return,
	})
}

func (s *Server) handleAdminGetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(mux.Vars(r)["user_id"], "user_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeWallet(w, r, userID, limit, true)
}

func (s *Server) handleGetOwnWallet(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	s.writeWallet(w, r, session.UserID, 0, false)
}

func (s *Server) writeWallet(w http.ResponseWriter, r *http.Request, userID uuid.UUID, limit int, withTransactions bool) {
	session := SessionFromContext(r.Context())
	summary, err := s.svc.Wallets.GetBalance(r.Context(), session, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := walletView{UserID: userID, Balance: summary.Balance, ExpiringSoon: summary.ExpiringSoon}
	if withTransactions {
		if view.Transactions, err = s.svc.Wallets.GetTransactions(r.Context(), session, userID, limit); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeSuccess(w, http.StatusOK, "", view)
}

func (s *Server) handleOwnTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	session := SessionFromContext(r.Context())
	txs, err := s.svc.Wallets.GetTransactions(r.Context(), session, session.UserID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", txs)
}

func (s *Server) decodeAdjust(r *http.Request) (*walletAdjustRequest, uuid.UUID, error) {
	var req walletAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, uuid.Nil, err
	}
	userID, err := parseID(req.UserID, "user_id")
	if err != nil {
		return nil, uuid.Nil, err
	}
	return &req, userID, nil
}

func (s *Server) handleCreditWallet(w http.ResponseWriter, r *http.Request) {
	req, userID, err := s.decodeAdjust(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Wallets.AddCredits(r.Context(), SessionFromContext(r.Context()), service.CreditRequest{
		UserID:    userID,
		Amount:    req.Amount,
		Reference: req.Reference,
		Notes:     req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeFields(w, http.StatusOK, map[string]any{"message": "Credits added", "new_balance": res.NewBalance})
}

func (s *Server) handleDebitWallet(w http.ResponseWriter, r *http.Request) {
	req, userID, err := s.decodeAdjust(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Wallets.DeductCredits(r.Context(), SessionFromContext(r.Context()), service.DebitRequest{
		UserID:    userID,
		Amount:    req.Amount,
		Reference: req.Reference,
		Notes:     req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeFields(w, http.StatusOK, map[string]any{"message": "Credits deducted", "new_balance": res.NewBalance})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := domain.AuditFilter{
		TargetResource: r.URL.Query().Get("resource"),
		TargetID:       r.URL.Query().Get("target_id"),
		Limit:          limit,
	}
	entries, err := s.svc.Audit.List(r.Context(), SessionFromContext(r.Context()), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", entries)
}

// handleShiprocketWebhook needs the raw body; the signature covers its exact bytes.
func (s *Server) handleShiprocketWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, r, badRequest("unreadable body"))
		return
	}
	outcome, err := s.svc.Webhooks.HandleShiprocket(r.Context(), body, r.Header.Get("x-shiprocket-signature"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", outcome)
}

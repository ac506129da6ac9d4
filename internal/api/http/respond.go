package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/logger"
	"returns-credit-backend/internal/shipping"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// requestError is a malformed request caught by a handler before any
// service is called.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// writeFields writes a success body whose payload fields sit at the top
// level next to "success".
func writeFields(w http.ResponseWriter, status int, fields map[string]any) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	writeJSON(w, status, body)
}

var (
	badRequestErrors = []error{
		domain.ErrMissingReason,
		domain.ErrInvalidAmount,
		domain.ErrInvalidCreditAmount,
		domain.ErrInvalidState,
		domain.ErrGuestReturnUnsupported,
		domain.ErrInvalidQuantity,
		domain.ErrOrderNotReturnable,
		domain.ErrUnrecognizedPayload,
	}
	notFoundErrors = []error{
		domain.ErrReturnNotFound,
		domain.ErrCustomerNotFound,
		domain.ErrWalletNotFound,
		domain.ErrOrderNotFound,
		domain.ErrPickupNotFound,
	}
)

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// statusFor maps an error onto an HTTP status code.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInsufficientCredits):
		return http.StatusConflict
	case isAny(err, badRequestErrors):
		return http.StatusBadRequest
	case isAny(err, notFoundErrors):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := envelope{Success: false, Error: err.Error()}

	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("Request failed", "path", r.URL.Path, "error", err)
		body.Error = "internal server error"
		if errors.Is(err, shipping.ErrCarrier) {
			body.Error = "carrier request failed"
		}
		if !s.production {
			body.Detail = err.Error()
		}
	} else {
		logger.FromContext(r.Context()).Info("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	writeJSON(w, status, body)
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// envelope — общий формат ответа: {success, message, data} или {success:false, message, error}.
type envelope struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func respondData(w http.ResponseWriter, status int, message string, data any) {
	respondJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, envelope{Message: message, Error: &errorBody{Code: code}})
}

// Ошибки входных данных, которые возвращаются кассиру как 422.
var invalidRequestErrors = []error{
	domain.ErrCartEmpty,
	domain.ErrCartIDRequired,
	domain.ErrProductIDInvalid,
	domain.ErrItemQtyInvalid,
	domain.ErrItemPriceInvalid,
	domain.ErrPaymentModeConflict,
	domain.ErrPaymentMethodRequired,
	domain.ErrSplitPaymentsTooFew,
	domain.ErrPaymentAmountNegative,
	domain.ErrNotSplitMode,
	domain.ErrInvalidPaymentIndex,
	domain.ErrCustomerEmailRequired,
	domain.ErrDateRangeInvalid,
}

// writeError сводит ошибку к таксономии: валидация, авторизация, недоступность, not found.
func writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		message := verr.Message
		if message == "" {
			message = "validation failed"
		}
		respondJSON(w, http.StatusUnprocessableEntity, envelope{
			Message: message,
			Error:   &errorBody{Code: "validation_failed", Fields: verr.Fields},
		})
		return
	}

	for _, target := range invalidRequestErrors {
		if errors.Is(err, target) {
			respondError(w, http.StatusUnprocessableEntity, "invalid_request", err.Error())
			return
		}
	}

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "unauthorized", "backend session is not authorized")
	case errors.Is(err, domain.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", "operation is not allowed for this role")
	case domain.IsNotFound(err):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case domain.IsTransient(err):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "backend is temporarily unavailable")
	default:
		log.WithError(err).Error("unhandled api error")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

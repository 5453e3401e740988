package api

import (
	"context"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/boost"
	"github.com/martacalvinho/squares2/internal/payment"
)

type errorResponse struct {
	Error            string `json:"error"`
	Code             string `json:"code"`
	Field            string `json:"field,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
}

// statusFor maps a lifecycle error to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	var (
		validation  *boost.ValidationError
		persistence *boost.PersistenceError
		guard       *payment.GuardError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "invalid"
	case errors.As(err, &persistence):
		return http.StatusInternalServerError, "persistence"
	case errors.Is(err, boost.ErrPaymentTimeout):
		return http.StatusGatewayTimeout, "payment_timeout"
	case errors.As(err, &guard):
		return http.StatusServiceUnavailable, "payment_unavailable"
	case boost.IsPayment(err):
		return http.StatusPaymentRequired, "payment_failed"
	case errors.Is(err, boost.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded"
	case errors.Is(err, boost.ErrOccupantChanged):
		return http.StatusConflict, "occupant_changed"
	case errors.Is(err, boost.ErrClaimConflict):
		return http.StatusConflict, "claim_conflict"
	case errors.Is(err, boost.ErrSlotNotFound):
		return http.StatusNotFound, "slot_not_found"
	case errors.Is(err, boost.ErrSlotEmpty):
		return http.StatusNotFound, "slot_empty"
	case errors.Is(err, boost.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found"
	case errors.Is(err, boost.ErrNotOwner):
		return http.StatusForbidden, "not_owner"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	resp := errorResponse{Error: err.Error(), Code: code}

	var validation *boost.ValidationError
	if errors.As(err, &validation) {
		resp.Field = validation.Field
	}

	var persistence *boost.PersistenceError
	if errors.As(err, &persistence) {
		// The payment went through; the reference is what support needs.
		resp.Error = "payment received but the boost could not be recorded yet; it will be reconciled"
		resp.PaymentReference = persistence.PaymentReference
	} else if status == http.StatusInternalServerError {
		resp.Error = http.StatusText(status)
	}

	logger := h.logger.WithFields(log.Fields{"path": r.URL.Path, "status": status, "code": code})
	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
	} else {
		logger.WithError(err).Debug("request rejected")
	}
	writeJSON(w, status, resp)
}

// Package httpx holds the JSON envelope shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/access"
	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes the body into dst and rejects unknown fields.
func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// StatusFor maps a service error to an HTTP status and an error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, "TOKEN_EXPIRED"
	case errors.Is(err, common.ErrRefreshTokenExpired):
		return http.StatusUnauthorized, "REFRESH_TOKEN_EXPIRED"
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, common.ErrConflict), errors.Is(err, common.ErrVersionConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, common.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, common.ErrOwnerSetupRequired):
		return http.StatusConflict, "OWNER_SETUP_REQUIRED"
	case errors.Is(err, common.ErrProviderRejected):
		return http.StatusBadGateway, "PROVIDER_REJECTED"
	case errors.Is(err, common.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// WriteServiceError writes err using StatusFor. Internal errors are not
// echoed to the client. Access denials carry the gate's reason.
func WriteServiceError(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	var details any
	var deny *access.DenyError
	if errors.As(err, &deny) {
		details = map[string]any{"reason": deny.Reason}
	}
	WriteError(w, status, code, msg, details)
}

package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: rent", common.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR"},
		{common.ErrorUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{common.ErrInvalidToken, http.StatusUnauthorized, "UNAUTHORIZED"},
		{common.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{&access.DenyError{Action: "sign", Reason: access.ReasonBanned}, http.StatusForbidden, "FORBIDDEN"},
		{&access.DenyError{Action: "sign", Reason: access.ReasonUnauthenticated}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{fmt.Errorf("contract: %w", common.ErrorNotFound), http.StatusNotFound, "NOT_FOUND"},
		{common.ErrConflict, http.StatusConflict, "CONFLICT"},
		{common.ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
		{common.ErrOwnerSetupRequired, http.StatusConflict, "OWNER_SETUP_REQUIRED"},
		{common.ErrProviderUnavailable, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE"},
		{common.ErrProviderRejected, http.StatusBadGateway, "PROVIDER_REJECTED"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		status, code := StatusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestWriteServiceError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, &access.DenyError{Action: "sign contract", Reason: access.ReasonMuted})

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("content-type"))

	var body struct {
		RequestID string `json:"request_id"`
		Error     struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, strings.HasPrefix(body.RequestID, "req_"))
	assert.Equal(t, "FORBIDDEN", body.Error.Code)
	assert.Equal(t, "muted", body.Error.Details["reason"])

	rec = httptest.NewRecorder()
	WriteServiceError(rec, fmt.Errorf("dial tcp: secret host"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret host")
}

func TestReadJSON_RejectsUnknownFields(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c","admin":true}`))
	assert.Error(t, ReadJSON(r, &dst))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c"}`))
	require.NoError(t, ReadJSON(r, &dst))
	assert.Equal(t, "a@b.c", dst.Email)
}

package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/server/httpx"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/dmitrijs2005/studyrent/internal/server/services"
	"github.com/go-chi/chi/v5"
)

const maxJSONBody = 64 << 10

// decode reads a JSON body into dst and answers 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := httpx.ReadJSON(r, dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return false
	}
	return true
}

type credentialsRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role,omitempty"`
}

type tokenPairJSON struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, maxJSONBody, &req) {
		return
	}
	u, err := a.svc.Users.Register(r.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toUserJSON(u))
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, maxJSONBody, &req) {
		return
	}
	pair, err := a.svc.Users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenPairJSON{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decode(w, r, maxJSONBody, &req) {
		return
	}
	pair, err := a.svc.Users.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenPairJSON{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, toUserJSON(currentUser(r.Context())))
}

func (a *API) kycDocumentURL(w http.ResponseWriter, r *http.Request) {
	key, url, err := a.svc.KYC.DocumentUploadURL(r.Context(), currentUser(r.Context()))
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"document_key": key, "upload_url": url})
}

func (a *API) kycSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentKey string `json:"document_key"`
	}
	if !decode(w, r, maxJSONBody, &req) {
		return
	}
	u, err := a.svc.KYC.Submit(r.Context(), currentUser(r.Context()), req.DocumentKey)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserJSON(u))
}

func (a *API) kycReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approve bool   `json:"approve"`
		Reason  string `json:"reason"`
	}
	if !decode(w, r, maxJSONBody, &req) {
		return
	}
	u, err := a.svc.KYC.Review(r.Context(), currentUser(r.Context()), chi.URLParam(r, "userID"), req.Approve, req.Reason)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserJSON(u))
}

func (a *API) kycDocument(w http.ResponseWriter, r *http.Request) {
	url, err := a.svc.KYC.DocumentURL(r.Context(), currentUser(r.Context()), chi.URLParam(r, "userID"))
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (a *API) moderate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action services.ModerationAction `json:"action"`
		Until  *time.Time                `json:"until,omitempty"`
	}
	if !decode(w, r, maxJSONBody, &req) {
		return
	}
	u, err := a.svc.Users.Moderate(r.Context(), currentUser(r.Context()), chi.URLParam(r, "userID"), req.Action, req.Until)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserJSON(u))
}

func (a *API) createProperty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		Address string `json:"address"`
	}
	if !decode(w, r, maxJSONBody, &req) {
		return
	}
	p, err := a.svc.Properties.Create(r.Context(), currentUser(r.Context()), req.Title, req.Address)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toPropertyJSON(p))
}

func (a *API) getProperty(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.Properties.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toPropertyJSON(p))
}

package httpapi

import (
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/httpx"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/dmitrijs2005/studyrent/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Signature images travel base64 encoded inside JSON.
const maxSignatureBody = 4 << 20

var signatureTypes = map[string]bool{"image/png": true, "image/jpeg": true}

func (a *API) writeContract(w http.ResponseWriter, status int, c *models.Contract, err error) {
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, status, toContractJSON(c))
}

func (a *API) createContract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PropertyID string    `json:"property_id"`
		StudentID  string    `json:"student_id"`
		Terms      termsJSON `json:"terms"`
	}
	if !decode(w, r, maxJSONBody, &req) {
		return
	}
	terms, err := req.Terms.toTerms()
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	c, err := a.svc.Contracts.Create(r.Context(), currentUser(r.Context()), services.CreateContractInput{
		PropertyID: req.PropertyID,
		StudentID:  req.StudentID,
		Terms:      terms,
	})
	a.writeContract(w, http.StatusCreated, c, err)
}

func (a *API) listContracts(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Contracts.ListMine(r.Context(), currentUser(r.Context()))
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	out := make([]contractJSON, 0, len(list))
	for _, c := range list {
		out = append(out, toContractJSON(c))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (a *API) getContract(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.Contracts.Get(r.Context(), currentUser(r.Context()), chi.URLParam(r, "id"))
	a.writeContract(w, http.StatusOK, c, err)
}

func (a *API) updateTerms(w http.ResponseWriter, r *http.Request) {
	var req termsJSON
	if !decode(w, r, maxJSONBody, &req) {
		return
	}
	terms, err := req.toTerms()
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	c, err := a.svc.Contracts.UpdateTerms(r.Context(), currentUser(r.Context()), chi.URLParam(r, "id"), terms)
	a.writeContract(w, http.StatusOK, c, err)
}

func (a *API) setEditable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Editable bool `json:"editable"`
	}
	if !decode(w, r, maxJSONBody, &req) {
		return
	}
	c, err := a.svc.Contracts.SetEditable(r.Context(), currentUser(r.Context()), chi.URLParam(r, "id"), req.Editable)
	a.writeContract(w, http.StatusOK, c, err)
}

func (a *API) sign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role        models.SignerRole `json:"role"`
		Image       []byte            `json:"image"`
		ContentType string            `json:"content_type"`
	}
	if !decode(w, r, maxSignatureBody, &req) {
		return
	}
	if !signatureTypes[req.ContentType] {
		httpx.WriteServiceError(w, fmt.Errorf("%w: signature must be image/png or image/jpeg", common.ErrValidation))
		return
	}
	c, err := a.svc.Contracts.Sign(r.Context(), currentUser(r.Context()), chi.URLParam(r, "id"), req.Role, req.Image, req.ContentType)
	a.writeContract(w, http.StatusOK, c, err)
}

func (a *API) signatureURL(w http.ResponseWriter, r *http.Request) {
	role := models.SignerRole(chi.URLParam(r, "role"))
	url, err := a.svc.Contracts.SignatureURL(r.Context(), currentUser(r.Context()), chi.URLParam(r, "id"), role)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (a *API) cancel(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.Contracts.Cancel(r.Context(), currentUser(r.Context()), chi.URLParam(r, "id"))
	a.writeContract(w, http.StatusOK, c, err)
}

func (a *API) complete(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.Contracts.Complete(r.Context(), currentUser(r.Context()), chi.URLParam(r, "id"))
	a.writeContract(w, http.StatusOK, c, err)
}

func (a *API) paymentSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := a.svc.Payments.PaymentSummary(r.Context(), currentUser(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toPaymentSummaryJSON(sum))
}

func (a *API) attachSubscription(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.Payments.AttachSubscription(r.Context(), currentUser(r.Context()), chi.URLParam(r, "id"))
	a.writeContract(w, http.StatusOK, c, err)
}

func (a *API) recordDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		// Amount defaults to the contract deposit.
		Amount decimal.Decimal `json:"amount"`
	}
	if r.ContentLength != 0 && !decode(w, r, maxJSONBody, &req) {
		return
	}
	p, err := a.svc.Payments.RecordDepositIntent(r.Context(), currentUser(r.Context()), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toPaymentJSON(p))
}

func (a *API) startOnboarding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshURL string `json:"refresh_url"`
		ReturnURL  string `json:"return_url"`
	}
	if !decode(w, r, maxJSONBody, &req) {
		return
	}
	url, err := a.svc.Payments.StartOnboarding(r.Context(), currentUser(r.Context()), req.RefreshURL, req.ReturnURL)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

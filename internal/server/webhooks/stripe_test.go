package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/logging"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

type statusCall struct {
	ref    string
	status models.PaymentStatus
	reason *string
}

type invoiceCall struct {
	sub, invoice string
	amount       decimal.Decimal
}

type fakePayments struct {
	mu         sync.Mutex
	statusErr  error
	statuses   []statusCall
	invoices   []invoiceCall
	gone       []string
	onboarding map[string]bool
	accounts   map[string]bool
}

func (f *fakePayments) ApplyPaymentStatusEvent(_ context.Context, ref string, status models.PaymentStatus, reason *string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	f.statuses = append(f.statuses, statusCall{ref, status, reason})
	return &models.Payment{ProviderRef: ref, Status: status}, nil
}

func (f *fakePayments) RecordRentInvoice(_ context.Context, sub, invoice string, amount decimal.Decimal) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices = append(f.invoices, invoiceCall{sub, invoice, amount})
	return &models.Payment{ProviderRef: invoice}, nil
}

func (f *fakePayments) MarkSubscriptionGone(_ context.Context, sub string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gone = append(f.gone, sub)
	return nil
}

func (f *fakePayments) UpdateOwnerOnboarding(_ context.Context, account string, ready bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onboarding == nil {
		f.onboarding = map[string]bool{}
	}
	f.onboarding[account] = ready
	return f.accounts[account], nil
}

func sign(body []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func event(id, typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":"2020-08-27","data":{"object":%s}}`, id, typ, object))
}

func newHandler(p *fakePayments) *Handler {
	return NewHandler(p, memory.NewStore().WebhookEvents(nil), secret, 5*time.Minute, logging.Nop())
}

func post(h http.Handler, body []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RejectsBadSignatures(t *testing.T) {
	p := &fakePayments{}
	h := newHandler(p)
	body := event("evt_1", "payment_intent.succeeded", `{"id":"pi_1","object":"payment_intent"}`)

	assert.Equal(t, http.StatusBadRequest, post(h, body, "").Code)
	assert.Equal(t, http.StatusBadRequest, post(h, body, "t=1700000000,v1=deadbeef").Code)
	assert.Equal(t, http.StatusBadRequest, post(h, body, sign(body, time.Now().Add(-time.Hour))).Code)

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-3] = ' '
	assert.Equal(t, http.StatusBadRequest, post(h, tampered, sign(body, time.Now())).Code)
	assert.Empty(t, p.statuses)
}

func TestHandler_NotConfigured(t *testing.T) {
	h := NewHandler(&fakePayments{}, memory.NewStore().WebhookEvents(nil), "", time.Minute, logging.Nop())
	body := event("evt_1", "payment_intent.succeeded", `{"id":"pi_1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, post(h, body, sign(body, time.Now())).Code)
}

func TestHandler_PaymentIntentEventsAndDedup(t *testing.T) {
	p := &fakePayments{}
	h := newHandler(p)

	body := event("evt_ok", "payment_intent.succeeded", `{"id":"pi_1","object":"payment_intent","status":"succeeded"}`)
	rec := post(h, body, sign(body, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A redelivery is acknowledged without being applied again.
	rec = post(h, body, sign(body, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicate")

	body = event("evt_fail", "payment_intent.payment_failed",
		`{"id":"pi_2","object":"payment_intent","last_payment_error":{"message":"Your card was declined."}}`)
	require.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)

	body = event("evt_proc", "payment_intent.processing", `{"id":"pi_3","object":"payment_intent"}`)
	require.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)

	require.Len(t, p.statuses, 3)
	assert.Equal(t, statusCall{ref: "pi_1", status: models.PaymentSucceeded}, p.statuses[0])
	assert.Equal(t, models.PaymentFailed, p.statuses[1].status)
	require.NotNil(t, p.statuses[1].reason)
	assert.Equal(t, "Your card was declined.", *p.statuses[1].reason)
	assert.Equal(t, models.PaymentPending, p.statuses[2].status)
}

func TestHandler_FailedProcessingIsRetried(t *testing.T) {
	p := &fakePayments{statusErr: fmt.Errorf("db down")}
	h := newHandler(p)
	body := event("evt_retry", "payment_intent.succeeded", `{"id":"pi_1","object":"payment_intent"}`)

	assert.Equal(t, http.StatusInternalServerError, post(h, body, sign(body, time.Now())).Code)

	p.statusErr = nil
	assert.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)
	assert.Len(t, p.statuses, 1)
}

func TestHandler_UnknownReferencesAreAcknowledged(t *testing.T) {
	p := &fakePayments{statusErr: fmt.Errorf("payment: %w", common.ErrorNotFound)}
	h := newHandler(p)
	body := event("evt_unknown", "payment_intent.succeeded", `{"id":"pi_other","object":"payment_intent"}`)
	assert.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)

	body = event("evt_acct", "account.updated", `{"id":"acct_nobody","object":"account"}`)
	assert.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)
}

func TestHandler_ConflictingEventIsAcknowledged(t *testing.T) {
	p := &fakePayments{statusErr: fmt.Errorf("deposit already paid: %w", common.ErrConflict)}
	h := newHandler(p)
	body := event("evt_late", "payment_intent.succeeded", `{"id":"pi_late","object":"payment_intent"}`)

	assert.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)
	// Recorded as handled, so the provider stops redelivering it.
	rec := post(h, body, sign(body, time.Now()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicate")
}

func TestHandler_CanceledIntentFailsPayment(t *testing.T) {
	p := &fakePayments{}
	h := newHandler(p)
	body := event("evt_cancel", "payment_intent.canceled",
		`{"id":"pi_4","object":"payment_intent","status":"canceled","cancellation_reason":"abandoned"}`)
	require.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)

	require.Len(t, p.statuses, 1)
	assert.Equal(t, models.PaymentFailed, p.statuses[0].status)
	require.NotNil(t, p.statuses[0].reason)
	assert.Equal(t, "canceled: abandoned", *p.statuses[0].reason)
}

func TestProcess_Invoices(t *testing.T) {
	p := &fakePayments{}
	h := newHandler(p)

	body := event("evt_inv", "invoice.paid", `{"id":"in_1","object":"invoice","subscription":"sub_1","amount_paid":155000}`)
	require.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)

	body = event("evt_inv_fail", "invoice.payment_failed", `{"id":"in_2","object":"invoice","subscription":"sub_1","amount_due":155000}`)
	require.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)

	body = event("evt_inv_oneoff", "invoice.paid", `{"id":"in_3","object":"invoice","amount_paid":1000}`)
	require.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)

	require.Len(t, p.invoices, 2)
	assert.Equal(t, "sub_1", p.invoices[0].sub)
	assert.Equal(t, "in_1", p.invoices[0].invoice)
	assert.True(t, p.invoices[0].amount.Equal(decimal.NewFromInt(1550)))

	require.Len(t, p.statuses, 2)
	assert.Equal(t, models.PaymentSucceeded, p.statuses[0].status)
	assert.Equal(t, "in_2", p.statuses[1].ref)
	assert.Equal(t, models.PaymentFailed, p.statuses[1].status)
}

func TestProcess_SubscriptionAndAccount(t *testing.T) {
	p := &fakePayments{accounts: map[string]bool{"acct_owner": true}}
	h := newHandler(p)

	body := event("evt_sub", "customer.subscription.deleted", `{"id":"sub_9","object":"subscription"}`)
	require.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)
	assert.Equal(t, []string{"sub_9"}, p.gone)

	body = event("evt_acct_1", "account.updated",
		`{"id":"acct_owner","object":"account","charges_enabled":true,"payouts_enabled":true,"details_submitted":true}`)
	require.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)
	assert.True(t, p.onboarding["acct_owner"])

	body = event("evt_acct_2", "account.updated",
		`{"id":"acct_owner","object":"account","charges_enabled":true,"payouts_enabled":false,"details_submitted":true}`)
	require.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)
	assert.False(t, p.onboarding["acct_owner"])

	body = event("evt_other", "charge.refunded", `{"id":"ch_1","object":"charge"}`)
	assert.Equal(t, http.StatusOK, post(h, body, sign(body, time.Now())).Code)
}

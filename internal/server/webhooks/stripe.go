// Package webhooks receives the payment processor's event callbacks and
// feeds them into the payment service.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/logging"
	"github.com/dmitrijs2005/studyrent/internal/server/billing"
	"github.com/dmitrijs2005/studyrent/internal/server/httpx"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/webhookevents"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	signatureHeader = "Stripe-Signature"
	maxBodyBytes    = 1 << 20
)

// PaymentEvents is the part of the payment service driven by callbacks.
type PaymentEvents interface {
	ApplyPaymentStatusEvent(ctx context.Context, providerRef string, status models.PaymentStatus, failureReason *string) (*models.Payment, error)
	RecordRentInvoice(ctx context.Context, subscriptionRef, invoiceRef string, amount decimal.Decimal) (*models.Payment, error)
	MarkSubscriptionGone(ctx context.Context, subscriptionRef string) error
	UpdateOwnerOnboarding(ctx context.Context, accountID string, ready bool) (bool, error)
}

// Handler verifies, de-duplicates and dispatches Stripe events. Events are
// recorded as processed only after their effects are applied, so a failed
// event is retried by the sender.
type Handler struct {
	payments  PaymentEvents
	events    webhookevents.Repository
	secret    string
	tolerance time.Duration
	logger    logging.Logger
}

func NewHandler(payments PaymentEvents, events webhookevents.Repository, secret string, tolerance time.Duration, logger logging.Logger) *Handler {
	return &Handler{
		payments:  payments,
		events:    events,
		secret:    secret,
		tolerance: tolerance,
		logger:    logger.With("module", "webhooks"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.secret == "" {
		httpx.WriteError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "webhook secret is not configured", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "payload too large", nil)
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, "BAD_BODY", err.Error(), nil)
		return
	}

	evt, err := webhook.ConstructEventWithOptions(body, r.Header.Get(signatureHeader), h.secret, webhook.ConstructEventOptions{
		Tolerance:                h.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.logger.Warn(ctx, "webhook rejected", "error", err)
		httpx.WriteError(w, http.StatusBadRequest, "BAD_SIGNATURE", "signature verification failed", nil)
		return
	}

	seen, err := h.events.Seen(ctx, evt.ID)
	if err != nil {
		h.logger.Error(ctx, "webhook dedup lookup", "event_id", evt.ID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "internal error", nil)
		return
	}
	if seen {
		h.logger.Debug(ctx, "duplicate webhook", "event_id", evt.ID)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
		return
	}

	if err := h.Process(ctx, evt); err != nil {
		h.logger.Error(ctx, "webhook processing failed", "event_id", evt.ID, "type", evt.Type, "error", err)
		httpx.WriteServiceError(w, err)
		return
	}
	if _, err := h.events.MarkProcessed(ctx, evt.ID, string(evt.Type)); err != nil {
		// Effects are idempotent; a redelivery is harmless.
		h.logger.Warn(ctx, "mark webhook processed", "event_id", evt.ID, "error", err)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}

// Process applies one verified event. Events about objects this service
// does not track are acknowledged and logged. So are events that conflict
// with recorded state, since redelivering them cannot succeed either.
func (h *Handler) Process(ctx context.Context, evt stripe.Event) error {
	err := h.dispatch(ctx, evt)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		h.logger.Info(ctx, "webhook for unknown object ignored", "event_id", evt.ID, "type", evt.Type, "error", err)
		return nil
	case errors.Is(err, common.ErrConflict):
		h.logger.Error(ctx, "webhook conflicts with recorded state, needs manual review", "event_id", evt.ID, "type", evt.Type, "error", err)
		return nil
	}
	return err
}

func (h *Handler) dispatch(ctx context.Context, evt stripe.Event) error {
	if evt.Data == nil {
		return fmt.Errorf("%w: event %s has no data", common.ErrValidation, evt.ID)
	}
	raw := evt.Data.Raw

	switch string(evt.Type) {
	case "payment_intent.succeeded", "payment_intent.processing", "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return fmt.Errorf("%w: payment intent: %v", common.ErrValidation, err)
		}
		status, reason := intentStatus(string(evt.Type), &pi)
		_, err := h.payments.ApplyPaymentStatusEvent(ctx, pi.ID, status, reason)
		return err

	case "invoice.paid", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return fmt.Errorf("%w: invoice: %v", common.ErrValidation, err)
		}
		return h.invoice(ctx, string(evt.Type), &inv)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return fmt.Errorf("%w: subscription: %v", common.ErrValidation, err)
		}
		return h.payments.MarkSubscriptionGone(ctx, sub.ID)

	case "account.updated":
		var acct stripe.Account
		if err := json.Unmarshal(raw, &acct); err != nil {
			return fmt.Errorf("%w: account: %v", common.ErrValidation, err)
		}
		ready := acct.ChargesEnabled && acct.PayoutsEnabled && acct.DetailsSubmitted
		found, err := h.payments.UpdateOwnerOnboarding(ctx, acct.ID, ready)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("account %s: %w", acct.ID, common.ErrorNotFound)
		}
		h.logger.Info(ctx, "owner onboarding updated", "account_id", acct.ID, "ready", ready)
		return nil
	}

	h.logger.Debug(ctx, "webhook type not handled", "event_id", evt.ID, "type", evt.Type)
	return nil
}

func intentStatus(eventType string, pi *stripe.PaymentIntent) (models.PaymentStatus, *string) {
	switch eventType {
	case "payment_intent.succeeded":
		return models.PaymentSucceeded, nil
	case "payment_intent.payment_failed":
		reason := "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		return models.PaymentFailed, &reason
	case "payment_intent.canceled":
		reason := "canceled"
		if pi.CancellationReason != "" {
			reason = "canceled: " + string(pi.CancellationReason)
		}
		return models.PaymentFailed, &reason
	}
	return models.PaymentPending, nil
}

// invoice records a rent invoice of a linked subscription and applies its
// outcome. Invoices outside subscriptions or without an amount are skipped.
func (h *Handler) invoice(ctx context.Context, eventType string, inv *stripe.Invoice) error {
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil
	}

	amount, status := inv.AmountPaid, models.PaymentSucceeded
	var reason *string
	if eventType == "invoice.payment_failed" {
		amount, status = inv.AmountDue, models.PaymentFailed
		r := "invoice payment failed"
		reason = &r
	}
	if amount <= 0 {
		return nil
	}

	if _, err := h.payments.RecordRentInvoice(ctx, inv.Subscription.ID, inv.ID, billing.FromMinorUnits(amount)); err != nil {
		return err
	}
	_, err := h.payments.ApplyPaymentStatusEvent(ctx, inv.ID, status, reason)
	return err
}

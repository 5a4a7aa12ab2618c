package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Stripe implements Provider on top of stripe-go. Subscriptions and deposits
// are created as destination charges towards the owner's connected account.
type Stripe struct {
	api *client.API
}

// NewStripe builds a client whose HTTP calls are bounded by timeout.
func NewStripe(secretKey string, timeout time.Duration) *Stripe {
	return newStripe(secretKey, timeout, nil)
}

func newStripe(secretKey string, timeout time.Duration, baseURL *string) *Stripe {
	httpClient := &http.Client{Timeout: timeout}
	cfg := func() *stripe.BackendConfig {
		return &stripe.BackendConfig{
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripe.Int64(0),
			URL:               baseURL,
		}
	}

	api := &client.API{}
	api.Init(secretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg()),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg()),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg()),
	})
	return &Stripe{api: api}
}

func (s *Stripe) EnsureCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	params.SetIdempotencyKey("customer-" + userID)

	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", mapError("create customer", err)
	}
	return c.ID, nil
}

func (s *Stripe) CreateConnectedAccount(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.AccountParams{
		Type:  stripe.String("express"),
		Email: stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	params.SetIdempotencyKey("account-" + userID)

	a, err := s.api.Accounts.New(params)
	if err != nil {
		return "", mapError("create account", err)
	}
	return a.ID, nil
}

func (s *Stripe) OnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := s.api.AccountLinks.New(params)
	if err != nil {
		return "", mapError("create account link", err)
	}
	return link.URL, nil
}

func (s *Stripe) CreateSubscription(ctx context.Context, req SubscriptionRequest) (string, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{{
			PriceData: &stripe.SubscriptionItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				Product:    stripe.String(req.ProductID),
				UnitAmount: stripe.Int64(ToMinorUnits(req.MonthlyAmount)),
				Recurring: &stripe.SubscriptionItemPriceDataRecurringParams{
					Interval: stripe.String("month"),
				},
			},
		}},
		PaymentBehavior: stripe.String("default_incomplete"),
		TransferData: &stripe.SubscriptionTransferDataParams{
			Destination: stripe.String(req.DestinationAccount),
		},
	}
	params.Context = ctx
	params.AddMetadata("contract_id", req.ContractID)
	key := "subscription-" + req.ContractID
	if req.Attempt != "" {
		key += "-" + req.Attempt
	}
	params.SetIdempotencyKey(key)

	sub, err := s.api.Subscriptions.New(params)
	if err != nil {
		return "", mapError("create subscription", err)
	}
	return sub.ID, nil
}

func (s *Stripe) CancelSubscription(ctx context.Context, ref string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := s.api.Subscriptions.Cancel(ref, params); err != nil {
		return mapError("cancel subscription", err)
	}
	return nil
}

func (s *Stripe) CreateDepositIntent(ctx context.Context, req DepositRequest) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(ToMinorUnits(req.Amount)),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.DestinationAccount),
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	params.Context = ctx
	params.AddMetadata("contract_id", req.ContractID)
	params.AddMetadata("payment_id", req.PaymentID)
	params.SetIdempotencyKey("deposit-" + req.PaymentID)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return "", mapError("create deposit intent", err)
	}
	return pi.ID, nil
}

func (s *Stripe) CancelDepositIntent(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	if _, err := s.api.PaymentIntents.Cancel(ref, params); err != nil {
		return mapError("cancel deposit intent", err)
	}
	return nil
}

// mapError folds stripe-go errors into the provider error taxonomy.
func mapError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("stripe %s: %w: %s", op, common.ErrorNotFound, se.Msg)
		case se.HTTPStatusCode == http.StatusTooManyRequests,
			se.HTTPStatusCode >= http.StatusInternalServerError,
			se.Type == stripe.ErrorTypeAPI:
			return fmt.Errorf("stripe %s: %w: %s", op, common.ErrProviderUnavailable, se.Msg)
		default:
			return fmt.Errorf("stripe %s: %w: %s", op, common.ErrProviderRejected, se.Msg)
		}
	}

	// transport failures and timeouts never reached a decision at the provider
	return fmt.Errorf("stripe %s: %w: %v", op, common.ErrProviderUnavailable, err)
}

package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/logging"
	"github.com/dmitrijs2005/studyrent/internal/server/access"
	"github.com/dmitrijs2005/studyrent/internal/server/billing"
	"github.com/dmitrijs2005/studyrent/internal/server/config"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/memory"
	"github.com/dmitrijs2005/studyrent/internal/server/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fakeProvider records calls and returns errors configured per method.
type fakeProvider struct {
	mu sync.Mutex

	customerErr     error
	subscriptionErr error
	cancelErr       error
	depositErr      error
	accountErr      error

	customers         int
	subscriptions     []billing.SubscriptionRequest
	cancelled         []string
	deposits          []billing.DepositRequest
	cancelledDeposits []string
	accounts          int

	// onDeposit runs after a deposit intent is created, outside the lock.
	onDeposit func(ref string)
}

func (f *fakeProvider) EnsureCustomer(_ context.Context, userID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.customerErr != nil {
		return "", f.customerErr
	}
	f.customers++
	return "cus_" + userID, nil
}

func (f *fakeProvider) CreateSubscription(_ context.Context, req billing.SubscriptionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscriptionErr != nil {
		return "", f.subscriptionErr
	}
	f.subscriptions = append(f.subscriptions, req)
	return fmt.Sprintf("sub_%d", len(f.subscriptions)), nil
}

func (f *fakeProvider) CancelSubscription(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, ref)
	return f.cancelErr
}

func (f *fakeProvider) CreateDepositIntent(_ context.Context, req billing.DepositRequest) (string, error) {
	f.mu.Lock()
	if f.depositErr != nil {
		f.mu.Unlock()
		return "", f.depositErr
	}
	f.deposits = append(f.deposits, req)
	ref := fmt.Sprintf("pi_%d", len(f.deposits))
	hook := f.onDeposit
	f.mu.Unlock()

	if hook != nil {
		hook(ref)
	}
	return ref, nil
}

func (f *fakeProvider) CancelDepositIntent(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledDeposits = append(f.cancelledDeposits, ref)
	return nil
}

func (f *fakeProvider) CreateConnectedAccount(_ context.Context, userID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return "", f.accountErr
	}
	f.accounts++
	return "acct_" + userID, nil
}

func (f *fakeProvider) OnboardingLink(_ context.Context, accountID, _, _ string) (string, error) {
	return "https://connect.example/" + accountID, nil
}

func (f *fakeProvider) setCancelErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelErr = err
}

var unavailable = fmt.Errorf("%w: simulated outage", common.ErrProviderUnavailable)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	mem       *memory.Store
	blobs     *storage.MemoryStore
	provider  *fakeProvider
	gate      *access.Gate
	users     *UserService
	kyc       *KYCService
	props     *PropertyService
	contracts *ContractService
	payments  *PaymentService

	owner   *models.User
	student *models.User
	admin   *models.User
	prop    *models.Property
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.ProviderTimeout = time.Second
	return cfg
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := memory.NewStore()
	mem.Now = func() time.Time { return testNow }
	st := Store{Tx: mem, Repos: mem}
	gate := &access.Gate{Now: func() time.Time { return testNow }}
	cfg := testConfig()
	log := logging.Nop()

	e := &env{mem: mem, blobs: storage.NewMemoryStore(), provider: &fakeProvider{}, gate: gate}
	e.users = NewUserService(st, gate, log, cfg)
	e.users.bcryptCost = bcrypt.MinCost
	e.users.now = func() time.Time { return testNow }
	e.kyc = NewKYCService(st, gate, e.blobs, log)
	e.kyc.now = func() time.Time { return testNow }
	e.props = NewPropertyService(st, gate, log)
	e.payments = NewPaymentService(st, gate, e.provider, log, cfg)
	e.payments.now = func() time.Time { return testNow }
	e.contracts = NewContractService(st, gate, e.blobs, e.payments, log)
	e.contracts.now = func() time.Time { return testNow }

	ctx := context.Background()
	e.owner = e.seedUser(t, "owner@example.com", models.RoleOwner)
	users := mem.Users(nil)
	require.NoError(t, users.SetKYC(ctx, e.owner.ID, models.KYCVerified, "", ""))
	e.student = e.seedUser(t, "student@example.com", models.RoleStudent)
	e.admin = e.seedUser(t, "admin@example.com", models.RoleAdmin)
	e.owner = e.reloadUser(t, e.owner.ID)

	p, err := e.props.Create(ctx, e.owner, "Studio near campus", "1 University Ave")
	require.NoError(t, err)
	e.prop = p
	return e
}

func (e *env) seedUser(t *testing.T, email string, role models.Role) *models.User {
	t.Helper()
	u, err := e.mem.Users(nil).Create(context.Background(), &models.User{Email: email, Role: role})
	require.NoError(t, err)
	return u
}

func (e *env) reloadUser(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := e.mem.Users(nil).GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

// makeOwnerPaymentReady finishes payout onboarding for the owner.
func (e *env) makeOwnerPaymentReady(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.mem.Users(nil).SetStripeAccountID(ctx, e.owner.ID, "acct_owner"))
	found, err := e.payments.UpdateOwnerOnboarding(ctx, "acct_owner", true)
	require.NoError(t, err)
	require.True(t, found)
	e.owner = e.reloadUser(t, e.owner.ID)
}

func terms(rent, deposit int64) models.Terms {
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	return models.Terms{
		MonthlyRent:   decimal.NewFromInt(rent),
		Charges:       decimal.NewFromInt(50),
		DepositAmount: decimal.NewFromInt(deposit),
		StartDate:     start,
		EndDate:       start.AddDate(1, 0, 0),
	}
}

func (e *env) newContract(t *testing.T) *models.Contract {
	t.Helper()
	c, err := e.contracts.Create(context.Background(), e.owner, CreateContractInput{
		PropertyID: e.prop.ID,
		StudentID:  e.student.ID,
		Terms:      terms(1500, 4500),
	})
	require.NoError(t, err)
	return c
}

var png = []byte{0x89, 'P', 'N', 'G'}

func (e *env) activeContract(t *testing.T) *models.Contract {
	t.Helper()
	ctx := context.Background()
	c := e.newContract(t)
	_, err := e.contracts.Sign(ctx, e.student, c.ID, models.SignerStudent, png, "image/png")
	require.NoError(t, err)
	c, err = e.contracts.Sign(ctx, e.owner, c.ID, models.SignerOwner, png, "image/png")
	require.NoError(t, err)
	require.Equal(t, models.ContractActive, c.Status)
	return c
}

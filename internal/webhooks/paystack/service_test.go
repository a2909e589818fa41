package paystackwebhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coachly/fitcoach-backend/internal/coupons"
	"github.com/coachly/fitcoach-backend/internal/ledger"
	"github.com/coachly/fitcoach-backend/internal/notifications"
	"github.com/coachly/fitcoach-backend/internal/orders"
	"github.com/coachly/fitcoach-backend/internal/subscriptions"
	"github.com/coachly/fitcoach-backend/pkg/db"
	"github.com/coachly/fitcoach-backend/pkg/db/dbtest"
	"github.com/coachly/fitcoach-backend/pkg/db/models"
	"github.com/coachly/fitcoach-backend/pkg/enums"
	pkgerrors "github.com/coachly/fitcoach-backend/pkg/errors"
	"github.com/coachly/fitcoach-backend/pkg/logger"
	"github.com/coachly/fitcoach-backend/pkg/paystack"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var now = time.Date(2026, 10, 10, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu        sync.Mutex
	creates   int
	disabled  []string
	createErr error
}

func (f *fakeProvider) CreateSubscription(context.Context, paystack.CreateSubscriptionParams) (*paystack.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.creates++
	next := now.AddDate(0, 1, 0)
	return &paystack.Subscription{SubscriptionCode: "SUB_" + uuid.NewString()[:8], Status: "active", NextPaymentDate: &next}, nil
}

func (f *fakeProvider) FetchSubscription(context.Context, string) (*paystack.Subscription, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) ListSubscriptions(context.Context, string, string) ([]paystack.Subscription, error) {
	return nil, nil
}

func (f *fakeProvider) DisableSubscription(_ context.Context, code, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = append(f.disabled, code)
	return nil
}

type capturingNotifier struct {
	mu   sync.Mutex
	msgs []notifications.Message
}

func (c *capturingNotifier) Dispatch(_ context.Context, msg notifications.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

type harness struct {
	svc      *Service
	subs     *subscriptions.Service
	conn     *gorm.DB
	provider *fakeProvider
	notifier *capturingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithRepo(t, nil)
}

// newHarnessWithRepo lets a test wrap the subscription repository.
func newHarnessWithRepo(t *testing.T, wrap func(subscriptions.Repository) subscriptions.Repository) *harness {
	t.Helper()
	conn := dbtest.Open(t, &models.PaymentEvent{}, &models.Subscription{}, &models.Coupon{}, &models.Order{})
	logg := logger.Nop()
	clock := func() time.Time { return now }
	provider := &fakeProvider{}

	repo := subscriptions.NewRepository(conn)
	if wrap != nil {
		repo = wrap(repo)
	}
	subs, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo: repo, Provider: provider, Logger: logg, Now: clock,
	})
	require.NoError(t, err)
	issuer, err := coupons.NewIssuer(coupons.IssuerParams{Repo: coupons.NewRepository(conn), Logger: logg, Now: clock})
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.ServiceParams{Repo: orders.NewRepository(conn), Logger: logg, Now: clock})
	require.NoError(t, err)

	notifier := &capturingNotifier{}
	svc, err := NewService(ServiceParams{
		Ledger:            ledger.NewRepository(conn),
		Subscriptions:     subs,
		Coupons:           issuer,
		Orders:            orderSvc,
		Notifier:          notifier,
		TransactionRunner: db.FromGorm(conn),
		Logger:            logg,
		Now:               clock,
	})
	require.NoError(t, err)
	return &harness{svc: svc, subs: subs, conn: conn, provider: provider, notifier: notifier}
}

func (h *harness) handle(t *testing.T, event string, data map[string]any) (Outcome, error) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	ev, err := Decode(payload)
	require.NoError(t, err)
	return h.svc.HandleEvent(context.Background(), ev)
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(model).Count(&n).Error)
	return n
}

func subscriptionCharge(reference string) map[string]any {
	return map[string]any{
		"reference": reference,
		"amount":    500000,
		"currency":  "NGN",
		"channel":   "card",
		"paid_at":   now.Format(time.RFC3339),
		"customer":  map[string]any{"id": 42, "customer_code": "CUS_1", "email": "u1@example.com"},
		"authorization": map[string]any{
			"authorization_code": "AUTH_1",
			"reusable":           true,
		},
		"metadata": map[string]any{
			"type":       "subscription",
			"userId":     "u1",
			"planId":     "PLN_monthly",
			"categoryId": "cat-1",
			"coachId":    "coach-1",
			"isGift":     false,
		},
	}
}

func TestOrderPaymentIsIdempotent(t *testing.T) {
	h := newHarness(t)
	order := models.Order{ID: uuid.New(), UserID: "u1", TotalAmount: decimal.NewFromInt(2500), PaymentStatus: enums.OrderPaymentStatusPending}
	require.NoError(t, h.conn.Create(&order).Error)

	data := map[string]any{
		"reference": "R1",
		"amount":    250000,
		"channel":   "card",
		"metadata":  map[string]any{"type": "order", "orderId": order.ID.String(), "userId": "u1"},
	}
	outcome, err := h.handle(t, EventChargeSuccess, data)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	outcome, err = h.handle(t, EventChargeSuccess, data)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	var reloaded models.Order
	require.NoError(t, h.conn.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderPaymentStatusSuccess, reloaded.PaymentStatus)
	assert.EqualValues(t, 1, h.count(t, &models.PaymentEvent{}))
	assert.Len(t, h.notifier.msgs, 1)
}

func TestSecondOrderReferenceDoesNotRenotify(t *testing.T) {
	h := newHarness(t)
	order := models.Order{ID: uuid.New(), UserID: "u1", TotalAmount: decimal.NewFromInt(10), PaymentStatus: enums.OrderPaymentStatusPending}
	require.NoError(t, h.conn.Create(&order).Error)
	md := map[string]any{"type": "order", "orderId": order.ID.String()}

	_, err := h.handle(t, EventChargeSuccess, map[string]any{"reference": "R1", "metadata": md})
	require.NoError(t, err)
	outcome, err := h.handle(t, EventChargeSuccess, map[string]any{"reference": "R2", "metadata": md})
	require.NoError(t, err)
	assert.Equal(t, OutcomePrecondition, outcome)
	assert.Len(t, h.notifier.msgs, 1)

	var reloaded models.Order
	require.NoError(t, h.conn.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, "R1", *reloaded.PaymentReference)
}

func TestMissingOrderIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	outcome, err := h.handle(t, EventChargeSuccess, map[string]any{
		"reference": "R1",
		"metadata":  map[string]any{"type": "order", "orderId": uuid.NewString()},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
	assert.EqualValues(t, 1, h.count(t, &models.PaymentEvent{}))
}

func TestFirstSubscriptionChargeCreatesOneActive(t *testing.T) {
	h := newHarness(t)

	outcome, err := h.handle(t, EventChargeSuccess, subscriptionCharge("R1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	// a second first-charge for the same user and plan under a new reference
	outcome, err = h.handle(t, EventChargeSuccess, subscriptionCharge("R2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePrecondition, outcome)

	var active int64
	require.NoError(t, h.conn.Model(&models.Subscription{}).Where("status = ?", enums.SubscriptionStatusActive).Count(&active).Error)
	assert.EqualValues(t, 1, active)
	assert.Equal(t, 1, h.provider.creates)
	assert.EqualValues(t, 2, h.count(t, &models.PaymentEvent{}))
}

func (h *harness) activeCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(&models.Subscription{}).Where("status = ?", enums.SubscriptionStatusActive).Count(&n).Error)
	return n
}

func handleConcurrently(t *testing.T, h *harness, references []string) []Outcome {
	t.Helper()
	outcomes := make([]Outcome, len(references))
	errs := make([]error, len(references))
	var wg sync.WaitGroup
	for i, ref := range references {
		payload, err := json.Marshal(map[string]any{"event": EventChargeSuccess, "data": subscriptionCharge(ref)})
		require.NoError(t, err)
		ev, err := Decode(payload)
		require.NoError(t, err)
		wg.Add(1)
		go func(i int, ev *Event) {
			defer wg.Done()
			outcomes[i], errs[i] = h.svc.HandleEvent(context.Background(), ev)
		}(i, ev)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "delivery %d", i)
	}
	return outcomes
}

func countOutcomes(outcomes []Outcome) map[Outcome]int {
	counts := map[Outcome]int{}
	for _, o := range outcomes {
		counts[o]++
	}
	return counts
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	h := newHarness(t)

	outcomes := handleConcurrently(t, h, []string{"R1", "R1", "R1", "R1"})

	assert.Equal(t, map[Outcome]int{OutcomeProcessed: 1, OutcomeDuplicate: 3}, countOutcomes(outcomes))
	assert.EqualValues(t, 1, h.count(t, &models.Subscription{}))
	assert.EqualValues(t, 1, h.count(t, &models.PaymentEvent{}))
	assert.Len(t, h.notifier.msgs, 1)
}

func TestConcurrentFirstChargesWithDistinctReferences(t *testing.T) {
	h := newHarness(t)
	_, err := h.subs.EnsurePending(context.Background(), subscriptions.PendingInput{
		UserID: "u1", PlanID: "PLN_monthly", CoachID: "coach-1", CategoryID: "cat-1",
	})
	require.NoError(t, err)

	outcomes := handleConcurrently(t, h, []string{"R1", "R2", "R3"})

	assert.Equal(t, map[Outcome]int{OutcomeProcessed: 1, OutcomePrecondition: 2}, countOutcomes(outcomes))
	assert.EqualValues(t, 1, h.activeCount(t))
	assert.EqualValues(t, 1, h.count(t, &models.Subscription{}))
	assert.EqualValues(t, 3, h.count(t, &models.PaymentEvent{}))
}

// lateRepo hands the next Activate the reads it would have made before a
// concurrent first charge committed: no active row, the row still pending.
type lateRepo struct {
	subscriptions.Repository
	snap *lateSnapshot
}

type lateSnapshot struct {
	armed   bool
	pending models.Subscription
}

func (r lateRepo) WithTx(tx *gorm.DB) subscriptions.Repository {
	return lateRepo{Repository: r.Repository.WithTx(tx), snap: r.snap}
}

func (r lateRepo) FindActive(ctx context.Context, userID, planID string) (*models.Subscription, error) {
	if r.snap.armed {
		return nil, nil
	}
	return r.Repository.FindActive(ctx, userID, planID)
}

func (r lateRepo) FindRetryable(ctx context.Context, userID, planID string) (*models.Subscription, error) {
	if r.snap.armed {
		r.snap.armed = false
		pending := r.snap.pending
		return &pending, nil
	}
	return r.Repository.FindRetryable(ctx, userID, planID)
}

func TestLosingPendingRowRaceIsPrecondition(t *testing.T) {
	snap := &lateSnapshot{}
	h := newHarnessWithRepo(t, func(repo subscriptions.Repository) subscriptions.Repository {
		return lateRepo{Repository: repo, snap: snap}
	})
	pending, err := h.subs.EnsurePending(context.Background(), subscriptions.PendingInput{
		UserID: "u1", PlanID: "PLN_monthly", CoachID: "coach-1", CategoryID: "cat-1",
	})
	require.NoError(t, err)

	outcome, err := h.handle(t, EventChargeSuccess, subscriptionCharge("R1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	snap.pending = *pending
	snap.armed = true
	outcome, err = h.handle(t, EventChargeSuccess, subscriptionCharge("R2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePrecondition, outcome)

	assert.EqualValues(t, 1, h.activeCount(t))
	assert.EqualValues(t, 2, h.count(t, &models.PaymentEvent{}))
	// the remote subscription created for the losing charge is disabled
	assert.Equal(t, 2, h.provider.creates)
	assert.Len(t, h.provider.disabled, 1)
	assert.Len(t, h.notifier.msgs, 1)
}

func TestProviderFailureRollsBackLedger(t *testing.T) {
	h := newHarness(t)
	h.provider.createErr = errors.New("paystack down")

	_, err := h.handle(t, EventChargeSuccess, subscriptionCharge("R1"))
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
	assert.Zero(t, h.count(t, &models.PaymentEvent{}))
	assert.Zero(t, h.count(t, &models.Subscription{}))
	assert.Empty(t, h.notifier.msgs)

	// the retry succeeds once the provider recovers
	h.provider.createErr = nil
	outcome, err := h.handle(t, EventChargeSuccess, subscriptionCharge("R1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
}

func TestMissingPlanMetadataIsValidationError(t *testing.T) {
	h := newHarness(t)
	data := subscriptionCharge("R1")
	md := data["metadata"].(map[string]any)
	delete(md, "planId")
	delete(md, "categoryId")

	_, err := h.handle(t, EventChargeSuccess, data)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	assert.Zero(t, h.count(t, &models.PaymentEvent{}))
}

func TestNonReusableAuthorizationIsRecordedOnly(t *testing.T) {
	h := newHarness(t)
	data := subscriptionCharge("R1")
	data["authorization"] = map[string]any{"authorization_code": "AUTH_1", "reusable": false}

	outcome, err := h.handle(t, EventChargeSuccess, data)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)
	assert.Zero(t, h.count(t, &models.Subscription{}))
	assert.EqualValues(t, 1, h.count(t, &models.PaymentEvent{}))
}

func TestGiftChargeIssuesCouponOnly(t *testing.T) {
	h := newHarness(t)
	data := subscriptionCharge("G1")
	md := data["metadata"].(map[string]any)
	md["isGift"] = true
	md["gift"] = map[string]any{"recipientEmail": "a@b.com", "duration": "yearly"}

	outcome, err := h.handle(t, EventChargeSuccess, data)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	assert.Zero(t, h.count(t, &models.Subscription{}))
	var coupon models.Coupon
	require.NoError(t, h.conn.First(&coupon).Error)
	assert.False(t, coupon.Used)
	assert.Equal(t, "AUTH_1", coupon.AuthorizationCode)
	assert.True(t, coupon.ExpiresAt.Equal(now.AddDate(1, 0, 0)))
	require.Len(t, h.notifier.msgs, 1)
	assert.Equal(t, "a@b.com", h.notifier.msgs[0].Email)
	assert.Zero(t, h.provider.creates)

	var event models.PaymentEvent
	require.NoError(t, h.conn.First(&event).Error)
	require.NotNil(t, event.Type)
	assert.Equal(t, enums.PaymentEventTypeGiftSubscription, *event.Type)
}

func TestSubscriptionLifecycleEvents(t *testing.T) {
	h := newHarness(t)
	_, err := h.handle(t, EventChargeSuccess, subscriptionCharge("R1"))
	require.NoError(t, err)
	var sub models.Subscription
	require.NoError(t, h.conn.First(&sub).Error)
	code := *sub.SubscriptionCode

	next := now.AddDate(0, 2, 0).Format(time.RFC3339)
	outcome, err := h.handle(t, EventChargeSuccess, map[string]any{
		"reference":    "R2",
		"subscription": map[string]any{"subscription_code": code, "next_payment_date": next},
		"metadata":     map[string]any{"type": "subscription", "userId": "u1"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	require.NoError(t, h.conn.First(&sub, "id = ?", sub.ID).Error)
	assert.Equal(t, next, sub.CurrentPeriodEnd.UTC().Format(time.RFC3339))

	outcome, err = h.handle(t, EventInvoicePaymentFailed, map[string]any{
		"subscription": map[string]any{"subscription_code": code},
		"transaction":  map[string]any{"reference": "INV1"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	require.NoError(t, h.conn.First(&sub, "id = ?", sub.ID).Error)
	assert.Equal(t, enums.SubscriptionStatusFailed, sub.Status)

	outcome, err = h.handle(t, EventSubscriptionDisable, map[string]any{"subscription_code": code, "status": "complete"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	require.NoError(t, h.conn.First(&sub, "id = ?", sub.ID).Error)
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
	require.NotNil(t, sub.CancelledAt)

	// cancelled is terminal: a stray renewal is acknowledged but changes nothing
	outcome, err = h.handle(t, EventSubscriptionChargeSuccess, map[string]any{
		"reference":    "R3",
		"subscription": map[string]any{"subscription_code": code},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomePrecondition, outcome)
	require.NoError(t, h.conn.First(&sub, "id = ?", sub.ID).Error)
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
}

func TestUnknownEventIsIgnoredWithoutLedger(t *testing.T) {
	h := newHarness(t)
	outcome, err := h.handle(t, "transfer.success", map[string]any{"reference": "T1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Zero(t, h.count(t, &models.PaymentEvent{}))
}

func TestDisableUnknownSubscriptionIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	outcome, err := h.handle(t, EventSubscriptionDisable, map[string]any{"subscription_code": "SUB_missing"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
}

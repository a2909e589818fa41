package subscriptions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/db/dbtest"
	"github.com/coachly/fitcoach-backend/pkg/db/models"
	"github.com/coachly/fitcoach-backend/pkg/enums"
	pkgerrors "github.com/coachly/fitcoach-backend/pkg/errors"
	"github.com/coachly/fitcoach-backend/pkg/logger"
	"github.com/coachly/fitcoach-backend/pkg/paystack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, 10, 10, 2, 0, 0, 0, time.UTC)

type stubProvider struct {
	created   []paystack.CreateSubscriptionParams
	disabled  []string
	createErr error
	listed    []paystack.Subscription
	fetched   map[string]*paystack.Subscription
	fetchErr  map[string]error
	nextCode  string
}

func (s *stubProvider) CreateSubscription(_ context.Context, params paystack.CreateSubscriptionParams) (*paystack.Subscription, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, params)
	code := s.nextCode
	if code == "" {
		code = "SUB_new"
	}
	next := fixedNow.AddDate(0, 1, 0)
	return &paystack.Subscription{SubscriptionCode: code, EmailToken: "tok", Status: "active", NextPaymentDate: &next}, nil
}

func (s *stubProvider) FetchSubscription(_ context.Context, code string) (*paystack.Subscription, error) {
	if err := s.fetchErr[code]; err != nil {
		return nil, err
	}
	if sub, ok := s.fetched[code]; ok {
		return sub, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "not found")
}

func (s *stubProvider) ListSubscriptions(context.Context, string, string) ([]paystack.Subscription, error) {
	return s.listed, nil
}

func (s *stubProvider) DisableSubscription(_ context.Context, code, _ string) error {
	s.disabled = append(s.disabled, code)
	return nil
}

func newTestService(t *testing.T, provider *stubProvider) (*Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t, &models.Subscription{})
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Provider: provider,
		Logger:   logger.Nop(),
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return svc, conn
}

func activateInput() ActivateInput {
	return ActivateInput{
		UserID:            "user-1",
		PlanID:            "PLN_monthly",
		CoachID:           "coach-1",
		CategoryID:        "cat-1",
		Interval:          enums.BillingIntervalMonthly,
		CustomerCode:      "CUS_1",
		AuthorizationCode: "AUTH_1",
		Reference:         "R1",
		PaidAt:            fixedNow,
	}
}

func countActive(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&models.Subscription{}).
		Where("user_id = ? AND plan_id = ? AND status = ?", "user-1", "PLN_monthly", enums.SubscriptionStatusActive).
		Count(&n).Error)
	return n
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Repo: NewRepository(nil)})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Repo: NewRepository(nil), Provider: &stubProvider{}})
	require.Error(t, err)
}

func TestActivateCreatesRemoteAndLocal(t *testing.T) {
	provider := &stubProvider{nextCode: "SUB_abc"}
	svc, conn := newTestService(t, provider)

	sub, outcome, err := svc.Activate(context.Background(), nil, activateInput())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	require.NotNil(t, sub.SubscriptionCode)
	assert.Equal(t, "SUB_abc", *sub.SubscriptionCode)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.Len(t, provider.created, 1)
	assert.Equal(t, paystack.CreateSubscriptionParams{Customer: "CUS_1", Plan: "PLN_monthly", Authorization: "AUTH_1"}, provider.created[0])
	assert.EqualValues(t, 1, countActive(t, conn))
}

func TestActivateTwiceIsNoOp(t *testing.T) {
	provider := &stubProvider{}
	svc, conn := newTestService(t, provider)
	ctx := context.Background()

	_, _, err := svc.Activate(ctx, nil, activateInput())
	require.NoError(t, err)
	_, outcome, err := svc.Activate(ctx, nil, activateInput())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyActive, outcome)
	assert.Len(t, provider.created, 1)
	assert.EqualValues(t, 1, countActive(t, conn))
}

func TestActivateProviderFailureLeavesNoRow(t *testing.T) {
	provider := &stubProvider{createErr: errors.New("boom")}
	svc, conn := newTestService(t, provider)

	_, _, err := svc.Activate(context.Background(), nil, activateInput())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))

	var n int64
	require.NoError(t, conn.Model(&models.Subscription{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestActivateRequiresMetadata(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{})
	in := activateInput()
	in.PlanID = ""
	in.CategoryID = ""

	_, _, err := svc.Activate(context.Background(), nil, in)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestActivateAdoptsExistingRemote(t *testing.T) {
	provider := &stubProvider{listed: []paystack.Subscription{
		{SubscriptionCode: "SUB_old", Status: paystack.SubscriptionStatusCancelled},
		{SubscriptionCode: "SUB_live", Status: paystack.SubscriptionStatusActive, Plan: &paystack.Plan{PlanCode: "PLN_monthly"}},
	}}
	svc, _ := newTestService(t, provider)

	sub, outcome, err := svc.Activate(context.Background(), nil, activateInput())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, "SUB_live", *sub.SubscriptionCode)
	assert.Empty(t, provider.created)
}

func TestActivateRevivesPendingRow(t *testing.T) {
	provider := &stubProvider{nextCode: "SUB_rev"}
	svc, conn := newTestService(t, provider)
	ctx := context.Background()

	pending, err := svc.EnsurePending(ctx, PendingInput{UserID: "user-1", PlanID: "PLN_monthly", CoachID: "coach-1", CategoryID: "cat-1"})
	require.NoError(t, err)

	var sub *models.Subscription
	var outcome Outcome
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		sub, outcome, err = svc.Activate(ctx, tx, activateInput())
		return err
	}))
	assert.Equal(t, OutcomeReactivated, outcome)
	assert.Equal(t, pending.ID, sub.ID)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "AUTH_1", sub.AuthorizationCode)
}

// staleReads answers the first lookups with a snapshot taken before a
// concurrent first charge committed.
type staleReads struct {
	Repository
	state *staleSnapshot
}

type staleSnapshot struct {
	activeMisses int
	retry        *models.Subscription
}

func (r staleReads) WithTx(tx *gorm.DB) Repository {
	return staleReads{Repository: r.Repository.WithTx(tx), state: r.state}
}

func (r staleReads) FindActive(ctx context.Context, userID, planID string) (*models.Subscription, error) {
	if r.state.activeMisses > 0 {
		r.state.activeMisses--
		return nil, nil
	}
	return r.Repository.FindActive(ctx, userID, planID)
}

func (r staleReads) FindRetryable(ctx context.Context, userID, planID string) (*models.Subscription, error) {
	if r.state.retry != nil {
		snap := *r.state.retry
		r.state.retry = nil
		return &snap, nil
	}
	return r.Repository.FindRetryable(ctx, userID, planID)
}

func TestActivateLosingPendingRaceIsAlreadyActive(t *testing.T) {
	winnerProvider := &stubProvider{nextCode: "SUB_a"}
	winner, conn := newTestService(t, winnerProvider)
	ctx := context.Background()

	pending, err := winner.EnsurePending(ctx, PendingInput{UserID: "user-1", PlanID: "PLN_monthly", CoachID: "coach-1", CategoryID: "cat-1"})
	require.NoError(t, err)

	loserProvider := &stubProvider{nextCode: "SUB_b"}
	loser, err := NewService(ServiceParams{
		Repo:     staleReads{Repository: NewRepository(conn), state: &staleSnapshot{activeMisses: 1, retry: pending}},
		Provider: loserProvider,
		Logger:   logger.Nop(),
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		_, outcome, err := winner.Activate(ctx, tx, activateInput())
		assert.Equal(t, OutcomeReactivated, outcome)
		return err
	}))

	second := activateInput()
	second.Reference = "R2"
	var sub *models.Subscription
	var outcome Outcome
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		sub, outcome, err = loser.Activate(ctx, tx, second)
		return err
	}))

	assert.Equal(t, OutcomeAlreadyActive, outcome)
	require.NotNil(t, sub)
	assert.Equal(t, pending.ID, sub.ID)
	assert.Equal(t, "SUB_a", *sub.SubscriptionCode)
	assert.Equal(t, []string{"SUB_b"}, loserProvider.disabled)
	assert.EqualValues(t, 1, countActive(t, conn))
}

func TestEnsurePendingRejectsActive(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{})
	ctx := context.Background()
	_, _, err := svc.Activate(ctx, nil, activateInput())
	require.NoError(t, err)

	_, err = svc.EnsurePending(ctx, PendingInput{UserID: "user-1", PlanID: "PLN_monthly"})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
}

func TestEnsurePendingReusesRow(t *testing.T) {
	svc, conn := newTestService(t, &stubProvider{})
	ctx := context.Background()
	in := PendingInput{UserID: "user-1", PlanID: "PLN_monthly", CoachID: "coach-1", CategoryID: "cat-1"}

	first, err := svc.EnsurePending(ctx, in)
	require.NoError(t, err)
	second, err := svc.EnsurePending(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var n int64
	require.NoError(t, conn.Model(&models.Subscription{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestRenewExtendsPeriod(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{nextCode: "SUB_r"})
	ctx := context.Background()
	created, _, err := svc.Activate(ctx, nil, activateInput())
	require.NoError(t, err)

	next := fixedNow.AddDate(0, 2, 0)
	sub, outcome, err := svc.Renew(ctx, nil, RenewInput{SubscriptionCode: "SUB_r", Reference: "R2", NextPaymentDate: &next})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRenewed, outcome)
	assert.Equal(t, created.ID, sub.ID)
	assert.True(t, sub.CurrentPeriodEnd.Equal(next))
}

func TestRenewWithoutDateUsesInterval(t *testing.T) {
	end := fixedNow.AddDate(0, 0, 5)
	sub := &models.Subscription{Interval: enums.BillingIntervalMonthly, CurrentPeriodEnd: &end}
	assert.True(t, nextPeriodEnd(sub, fixedNow, nil).Equal(end.AddDate(0, 1, 0)))

	past := fixedNow.AddDate(0, 0, -10)
	sub.CurrentPeriodEnd = &past
	assert.True(t, nextPeriodEnd(sub, fixedNow, nil).Equal(fixedNow.AddDate(0, 1, 0)))
}

func TestRenewUnknownCodeIsNotFound(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{})
	_, outcome, err := svc.Renew(context.Background(), nil, RenewInput{SubscriptionCode: "SUB_missing"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
}

func TestRenewExpiredIsRejected(t *testing.T) {
	svc, conn := newTestService(t, &stubProvider{nextCode: "SUB_x"})
	ctx := context.Background()
	_, _, err := svc.Activate(ctx, nil, activateInput())
	require.NoError(t, err)
	require.NoError(t, conn.Model(&models.Subscription{}).Where("subscription_code = ?", "SUB_x").
		Update("status", enums.SubscriptionStatusExpired).Error)

	sub, outcome, err := svc.Renew(ctx, nil, RenewInput{SubscriptionCode: "SUB_x"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, enums.SubscriptionStatusExpired, sub.Status)
}

func TestDisableThenFailIsRejected(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{nextCode: "SUB_d"})
	ctx := context.Background()
	_, _, err := svc.Activate(ctx, nil, activateInput())
	require.NoError(t, err)

	sub, outcome, err := svc.Disable(ctx, nil, "SUB_d", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, outcome)
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)

	_, outcome, err = svc.Fail(ctx, nil, "SUB_d", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
}

func TestFailThenRenewRecovers(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{nextCode: "SUB_f"})
	ctx := context.Background()
	_, _, err := svc.Activate(ctx, nil, activateInput())
	require.NoError(t, err)

	sub, outcome, err := svc.Fail(ctx, nil, "SUB_f", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, enums.SubscriptionStatusFailed, sub.Status)

	sub, outcome, err = svc.Renew(ctx, nil, RenewInput{SubscriptionCode: "SUB_f"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRenewed, outcome)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
}

func TestSetNextPaymentDateKeepsStatus(t *testing.T) {
	svc, conn := newTestService(t, &stubProvider{nextCode: "SUB_n"})
	ctx := context.Background()
	_, _, err := svc.Activate(ctx, nil, activateInput())
	require.NoError(t, err)

	next := fixedNow.AddDate(0, 3, 0)
	outcome, err := svc.SetNextPaymentDate(ctx, nil, "SUB_n", &next)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	var got models.Subscription
	require.NoError(t, conn.Where("subscription_code = ?", "SUB_n").First(&got).Error)
	assert.Equal(t, enums.SubscriptionStatusActive, got.Status)
	require.NotNil(t, got.NextPaymentDate)
	assert.True(t, got.NextPaymentDate.Equal(next))
}

func TestSyncOnlyRaisesToActive(t *testing.T) {
	provider := &stubProvider{nextCode: "SUB_s"}
	svc, conn := newTestService(t, provider)
	ctx := context.Background()
	_, _, err := svc.Activate(ctx, nil, activateInput())
	require.NoError(t, err)
	_, _, err = svc.Fail(ctx, nil, "SUB_s", fixedNow)
	require.NoError(t, err)

	next := fixedNow.AddDate(0, 1, 5)
	provider.fetched = map[string]*paystack.Subscription{
		"SUB_s": {SubscriptionCode: "SUB_s", Status: paystack.SubscriptionStatusNonRenewing, NextPaymentDate: &next},
	}
	var sub models.Subscription
	require.NoError(t, conn.Where("subscription_code = ?", "SUB_s").First(&sub).Error)
	res, err := svc.Sync(ctx, sub)
	require.NoError(t, err)
	assert.False(t, res.StatusChanged)
	assert.True(t, res.DatesChanged)

	provider.fetched["SUB_s"].Status = paystack.SubscriptionStatusActive
	require.NoError(t, conn.Where("subscription_code = ?", "SUB_s").First(&sub).Error)
	res, err = svc.Sync(ctx, sub)
	require.NoError(t, err)
	assert.True(t, res.StatusChanged)

	require.NoError(t, conn.Where("subscription_code = ?", "SUB_s").First(&sub).Error)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.LastSyncedAt)
}

func TestSyncRefreshesDatesOnTerminalRows(t *testing.T) {
	provider := &stubProvider{nextCode: "SUB_t"}
	svc, conn := newTestService(t, provider)
	ctx := context.Background()
	_, _, err := svc.Activate(ctx, nil, activateInput())
	require.NoError(t, err)
	require.NoError(t, conn.Model(&models.Subscription{}).
		Where("subscription_code = ?", "SUB_t").
		Update("status", enums.SubscriptionStatusExpired).Error)

	next := fixedNow.AddDate(0, 2, 0)
	provider.fetched = map[string]*paystack.Subscription{
		"SUB_t": {SubscriptionCode: "SUB_t", Status: paystack.SubscriptionStatusActive, NextPaymentDate: &next},
	}
	var sub models.Subscription
	require.NoError(t, conn.Where("subscription_code = ?", "SUB_t").First(&sub).Error)

	res, err := svc.Sync(ctx, sub)
	require.NoError(t, err)
	assert.False(t, res.StatusChanged)
	assert.True(t, res.DatesChanged)

	require.NoError(t, conn.Where("subscription_code = ?", "SUB_t").First(&sub).Error)
	assert.Equal(t, enums.SubscriptionStatusExpired, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(next))
}

func TestExpireOverdueHonoursGrace(t *testing.T) {
	svc, conn := newTestService(t, &stubProvider{})
	ctx := context.Background()

	fourDays := fixedNow.AddDate(0, 0, -4)
	twoDays := fixedNow.AddDate(0, 0, -2)
	seed := []models.Subscription{
		{UserID: "u-old", PlanID: "p", Status: enums.SubscriptionStatusActive, StartDate: fixedNow, CurrentPeriodEnd: &fourDays},
		{UserID: "u-new", PlanID: "p", Status: enums.SubscriptionStatusActive, StartDate: fixedNow, CurrentPeriodEnd: &twoDays},
		{UserID: "u-fail", PlanID: "p", Status: enums.SubscriptionStatusFailed, StartDate: fixedNow, CurrentPeriodEnd: &fourDays},
	}
	require.NoError(t, conn.Create(&seed).Error)

	n, err := svc.ExpireOverdue(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	statuses := map[string]enums.SubscriptionStatus{}
	var rows []models.Subscription
	require.NoError(t, conn.Find(&rows).Error)
	for _, r := range rows {
		statuses[r.UserID] = r.Status
	}
	assert.Equal(t, enums.SubscriptionStatusExpired, statuses["u-old"])
	assert.Equal(t, enums.SubscriptionStatusActive, statuses["u-new"])
	assert.Equal(t, enums.SubscriptionStatusFailed, statuses["u-fail"])
}

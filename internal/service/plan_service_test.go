package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"quotaledger/internal/lock"
	"quotaledger/internal/model"
	"quotaledger/internal/pubsub"
	"quotaledger/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type planFixture struct {
	store     *repository.MemoryStore
	verifier  *fakeVerifier
	locker    *lock.LocalLocker
	publisher *fakePublisher
	svc       *planService
}

func newPlanFixture(t *testing.T) *planFixture {
	t.Helper()
	f := &planFixture{
		store:     repository.NewMemoryStore(),
		verifier:  &fakeVerifier{sessions: map[string]*PaymentConfirmation{}},
		locker:    lock.NewLocalLocker(),
		publisher: &fakePublisher{},
	}
	opts := PlanOptions{
		FreeLimits:      testFreeLimits,
		Currency:        "usd",
		VerifyTimeout:   50 * time.Millisecond,
		LockTTL:         time.Second,
		LockWait:        500 * time.Millisecond,
		ExpiryGrace:     6 * time.Hour,
		ConversionTopic: "plan-conversions",
	}
	f.svc = NewPlanService(f.store, f.verifier, f.locker, f.publisher, nil, opts, zerolog.Nop()).(*planService)
	f.svc.now = fixedClock(testNow)
	return f
}

func requireRejected(t *testing.T, err error, reason RejectReason) {
	t.Helper()
	re, ok := AsRejected(err)
	require.True(t, ok, "expected RejectedError, got %v", err)
	assert.Equal(t, reason, re.Reason)
}

func TestPlanService_UpgradeRecordsZeroDecimalCurrency(t *testing.T) {
	ctx := context.Background()
	f := newPlanFixture(t)
	seedFree(f.store, "u1", 0, 0)
	conf := paidSession("cs_jp", "u1")
	conf.AmountTotal = 1500
	conf.Currency = "jpy"
	f.verifier.sessions["cs_jp"] = conf

	res, err := f.svc.Upgrade(ctx, "u1", "cs_jp")
	require.NoError(t, err)
	require.NotNil(t, res.Conversion)
	assert.Equal(t, "1500", res.Conversion.AmountPaid.String())
	assert.Equal(t, "jpy", res.Conversion.Currency)
}

func TestPlanService_UpgradeCommits(t *testing.T) {
	ctx := context.Background()
	f := newPlanFixture(t)
	seedFree(f.store, "u1", 100, 10)
	f.verifier.sessions["cs_1"] = paidSession("cs_1", "u1")

	res, err := f.svc.Upgrade(ctx, "u1", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	require.NotNil(t, res.Conversion)
	assert.Equal(t, model.PlanFree, res.Conversion.PlanBefore)
	assert.Equal(t, model.PlanPremium, res.Conversion.PlanAfter)
	assert.Equal(t, "9.99", res.Conversion.AmountPaid.String())
	assert.Equal(t, "cs_1", res.Conversion.ExternalSessionID)

	u, err := f.store.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.PlanPremium, u.Plan)
	assert.Equal(t, model.UnlimitedLimits, u.Limits)
	assert.Equal(t, testNow, u.PlanChangedAt)
	assert.Equal(t, int64(100), u.MessagesSent)
	assert.True(t, CanPerform(u, model.ActionMessage).Allowed)

	require.Len(t, f.publisher.messages["plan-conversions"], 1)
	var notice ConversionNotice
	require.NoError(t, json.Unmarshal(f.publisher.messages["plan-conversions"][0], &notice))
	assert.Equal(t, "u1", notice.UserID)
	assert.Equal(t, res.Conversion.ID, notice.ConversionID)
}

func TestPlanService_UpgradeReplayIsDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newPlanFixture(t)
	seedFree(f.store, "u1", 0, 0)
	f.verifier.sessions["cs_1"] = paidSession("cs_1", "u1")

	_, err := f.svc.Upgrade(ctx, "u1", "cs_1")
	require.NoError(t, err)
	res, err := f.svc.Upgrade(ctx, "u1", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Nil(t, res.Conversion)
	assert.Equal(t, 1, f.verifier.callCount())

	convs, err := f.store.ListConversions(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestPlanService_ConcurrentConfirmationsCommitOnce(t *testing.T) {
	ctx := context.Background()
	f := newPlanFixture(t)
	f.svc.opts.LockWait = 2 * time.Second
	seedFree(f.store, "u1", 0, 0)
	f.verifier.sessions["cs_1"] = paidSession("cs_1", "u1")

	const n = 8
	results := make([]*TransitionResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Upgrade(ctx, "u1", "cs_1")
		}(i)
	}
	wg.Wait()

	committed := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Outcome == OutcomeCommitted {
			committed++
		}
	}
	assert.Equal(t, 1, committed)
	convs, _ := f.store.ListConversions(ctx, nil)
	assert.Len(t, convs, 1)
}

func TestPlanService_UpgradeRejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *planFixture)
		user   string
		reason RejectReason
	}{
		{
			name: "unpaid session",
			setup: func(f *planFixture) {
				conf := paidSession("cs_1", "u1")
				conf.Paid = false
				f.verifier.sessions["cs_1"] = conf
			},
			user:   "u1",
			reason: RejectPaymentUnverified,
		},
		{
			name:   "session paid by another user",
			setup:  func(f *planFixture) { f.verifier.sessions["cs_1"] = paidSession("cs_1", "someone-else") },
			user:   "u1",
			reason: RejectUserMismatch,
		},
		{
			name:   "provider timeout",
			setup:  func(f *planFixture) { f.verifier.block = true },
			user:   "u1",
			reason: RejectTimeout,
		},
		{
			name:   "provider error",
			setup:  func(f *planFixture) { f.verifier.err = errors.New("stripe: 500") },
			user:   "u1",
			reason: RejectVerificationFailed,
		},
		{
			name:   "unknown account",
			setup:  func(f *planFixture) { f.verifier.sessions["cs_1"] = paidSession("cs_1", "ghost") },
			user:   "ghost",
			reason: RejectAccountNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newPlanFixture(t)
			seedFree(f.store, "u1", 7, 0)
			tt.setup(f)

			res, err := f.svc.Upgrade(ctx, tt.user, "cs_1")
			assert.Nil(t, res)
			requireRejected(t, err, tt.reason)

			u, err := f.store.GetAccount(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, model.PlanFree, u.Plan)
			assert.Equal(t, testFreeLimits, u.Limits)
			assert.Empty(t, f.publisher.messages)
		})
	}
}

func TestPlanService_UpgradeWhileTransitionInProgress(t *testing.T) {
	ctx := context.Background()
	f := newPlanFixture(t)
	f.svc.opts.LockWait = 0
	seedFree(f.store, "u1", 0, 0)
	f.verifier.sessions["cs_1"] = paidSession("cs_1", "u1")

	release, err := f.locker.Acquire(ctx, "transition:u1", time.Minute, 0)
	require.NoError(t, err)
	defer release()

	_, err = f.svc.Upgrade(ctx, "u1", "cs_1")
	requireRejected(t, err, RejectInProgress)
	assert.Equal(t, 0, f.verifier.callCount())
}

func TestPlanService_UpgradePremiumKeepsPlanChangedAt(t *testing.T) {
	ctx := context.Background()
	f := newPlanFixture(t)
	seedPremium(f.store, "u1", nil)
	before, _ := f.store.GetAccount(ctx, "u1")
	f.verifier.sessions["cs_2"] = paidSession("cs_2", "u1")

	res, err := f.svc.Upgrade(ctx, "u1", "cs_2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	after, _ := f.store.GetAccount(ctx, "u1")
	assert.Equal(t, before.PlanChangedAt, after.PlanChangedAt)
	assert.Equal(t, model.PlanPremium, after.Plan)
}

func TestPlanService_UpgradeValidatesInput(t *testing.T) {
	f := newPlanFixture(t)
	_, err := f.svc.Upgrade(context.Background(), "u1", " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPlanService_DowngradePreservesCounters(t *testing.T) {
	ctx := context.Background()
	f := newPlanFixture(t)
	seedPremium(f.store, "u1", nil)
	require.NoError(t, f.store.RecordUsage(ctx, "u1", model.ActionMessage, testNow))

	changed, err := f.svc.Downgrade(ctx, "u1", model.SubscriptionCanceled)
	require.NoError(t, err)
	assert.True(t, changed)

	u, _ := f.store.GetAccount(ctx, "u1")
	assert.Equal(t, model.PlanFree, u.Plan)
	assert.Equal(t, testFreeLimits, u.Limits)
	assert.Equal(t, int64(1), u.MessagesSent)
	assert.Equal(t, model.SubscriptionCanceled, u.Subscription.Status)
	assert.Empty(t, u.Subscription.ExternalSubscriptionID)

	changed, err = f.svc.Downgrade(ctx, "u1", model.SubscriptionCanceled)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = f.svc.Downgrade(ctx, "ghost", model.SubscriptionCanceled)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPlanService_SweepExpired(t *testing.T) {
	ctx := context.Background()
	f := newPlanFixture(t)
	longGone := testNow.Add(-72 * time.Hour)
	withinGrace := testNow.Add(-time.Hour)
	future := testNow.Add(10 * 24 * time.Hour)
	seedPremium(f.store, "expired", &longGone)
	seedPremium(f.store, "grace", &withinGrace)
	seedPremium(f.store, "current", &future)
	seedPremium(f.store, "open-ended", nil)
	seedFree(f.store, "free", 0, 0)

	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[string]model.Plan{
		"expired":    model.PlanFree,
		"grace":      model.PlanPremium,
		"current":    model.PlanPremium,
		"open-ended": model.PlanPremium,
	} {
		u, _ := f.store.GetAccount(ctx, id)
		assert.Equal(t, want, u.Plan, id)
	}
	u, _ := f.store.GetAccount(ctx, "expired")
	assert.Equal(t, model.SubscriptionExpired, u.Subscription.Status)
}

func TestPlanService_PublishesNothingWithoutPublisher(t *testing.T) {
	store := repository.NewMemoryStore()
	seedFree(store, "u1", 0, 0)
	v := &fakeVerifier{sessions: map[string]*PaymentConfirmation{"cs_1": paidSession("cs_1", "u1")}}
	var pub pubsub.Publisher
	svc := NewPlanService(store, v, nil, pub, nil, PlanOptions{FreeLimits: testFreeLimits}, zerolog.Nop())

	res, err := svc.Upgrade(context.Background(), "u1", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
}

type deadlinePublisher struct {
	fakePublisher
	budget time.Duration
}

func (p *deadlinePublisher) Publish(ctx context.Context, topic string, payload []byte, attrs map[string]string) (string, error) {
	if dl, ok := ctx.Deadline(); ok {
		p.budget = time.Until(dl)
	}
	return p.fakePublisher.Publish(ctx, topic, payload, attrs)
}

func TestNewPlanService_OptionFloors(t *testing.T) {
	svc := NewPlanService(repository.NewMemoryStore(), &fakeVerifier{}, lock.NewLocalLocker(), nil, nil, PlanOptions{}, zerolog.Nop()).(*planService)
	assert.Equal(t, minLockTTL, svc.opts.LockTTL)
	assert.Equal(t, 5*time.Second, svc.opts.PublishTimeout)
	assert.Equal(t, 10*time.Second, svc.opts.VerifyTimeout)
}

func TestPlanService_PublishUsesConfiguredTimeout(t *testing.T) {
	store := repository.NewMemoryStore()
	seedFree(store, "u1", 0, 0)
	v := &fakeVerifier{sessions: map[string]*PaymentConfirmation{"cs_1": paidSession("cs_1", "u1")}}
	pub := &deadlinePublisher{}
	svc := NewPlanService(store, v, lock.NewLocalLocker(), pub, nil, PlanOptions{
		FreeLimits:      testFreeLimits,
		ConversionTopic: "plan-conversions",
		PublishTimeout:  250 * time.Millisecond,
	}, zerolog.Nop())

	_, err := svc.Upgrade(context.Background(), "u1", "cs_1")
	require.NoError(t, err)
	require.Len(t, pub.messages["plan-conversions"], 1)
	assert.Greater(t, pub.budget, time.Duration(0))
	assert.LessOrEqual(t, pub.budget, 250*time.Millisecond)
}

package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"quotaledger/internal/model"
	"quotaledger/internal/repository"
)

var (
	testFreeLimits = model.Limits{MessageLimit: 100, DocumentLimit: 10}
	testNow        = time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func seedFree(store *repository.MemoryStore, id string, messages, documents int64) {
	u := model.NewFreeAccount(id, id+"@example.com", "", testFreeLimits, testNow.Add(-48*time.Hour))
	u.MessagesSent = messages
	u.DocumentsUploaded = documents
	store.PutAccount(*u)
}

func seedPremium(store *repository.MemoryStore, id string, periodEnd *time.Time) {
	u := model.NewFreeAccount(id, id+"@example.com", "", testFreeLimits, testNow.Add(-48*time.Hour))
	u.Plan = model.PlanPremium
	u.Limits = model.UnlimitedLimits
	u.PlanChangedAt = testNow.Add(-24 * time.Hour)
	u.Subscription = &model.Subscription{
		ExternalCustomerID:     "cus_" + id,
		ExternalSubscriptionID: "sub_" + id,
		Status:                 model.SubscriptionActive,
		CurrentPeriodEnd:       periodEnd,
	}
	store.PutAccount(*u)
}

// flakyUsageRepo fails the first failures writes, then delegates.
type flakyUsageRepo struct {
	repository.UsageRepository
	failures int32
	calls    atomic.Int32
}

var errStorageDown = errors.New("storage unavailable")

func (r *flakyUsageRepo) RecordUsage(ctx context.Context, userID string, action model.ActionType, at time.Time) error {
	if r.calls.Add(1) <= r.failures {
		return errStorageDown
	}
	return r.UsageRepository.RecordUsage(ctx, userID, action, at)
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []model.UsageRetryJob
	err  error
}

func (q *fakeQueue) SendJSON(_ context.Context, _ string, v any) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, q.err
	}
	q.jobs = append(q.jobs, v.(model.UsageRetryJob))
	return int64(len(q.jobs)), nil
}

type fakeVerifier struct {
	mu       sync.Mutex
	sessions map[string]*PaymentConfirmation
	err      error
	block    bool
	calls    int
}

func (v *fakeVerifier) VerifyCheckoutSession(ctx context.Context, sessionRef string) (*PaymentConfirmation, error) {
	v.mu.Lock()
	v.calls++
	conf, err, block := v.sessions[sessionRef], v.err, v.block
	v.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if conf == nil {
		return nil, errors.New("no such session")
	}
	return conf, nil
}

func (v *fakeVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func paidSession(ref, userID string) *PaymentConfirmation {
	end := testNow.Add(30 * 24 * time.Hour)
	return &PaymentConfirmation{
		SessionRef:     ref,
		UserID:         userID,
		CustomerID:     "cus_" + userID,
		SubscriptionID: "sub_" + ref,
		Paid:           true,
		AmountTotal:    999,
		Currency:       "usd",
		PeriodEnd:      &end,
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte, _ map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.messages == nil {
		p.messages = make(map[string][][]byte)
	}
	p.messages[topic] = append(p.messages[topic], payload)
	return "msg-1", nil
}

package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"quotaledger/internal/model"

	"github.com/google/uuid"
)

// MemoryStore keeps the whole ledger in-process. It backs local runs with
// STORAGE_BACKEND=memory and the service tests.
type MemoryStore struct {
	mu          sync.RWMutex
	accounts    map[string]model.UserAccount
	order       []string
	usage       []model.UsageEvent
	performance []model.PerformanceRecord
	ratings     []model.RatingEvent
	conversions map[string]model.ConversionRecord // key: external session id
	convOrder   []string
	payments    map[string]model.PaymentEvent
}

var (
	_ AccountRepository      = (*MemoryStore)(nil)
	_ UsageRepository        = (*MemoryStore)(nil)
	_ FeedbackRepository     = (*MemoryStore)(nil)
	_ PlanRepository         = (*MemoryStore)(nil)
	_ PaymentEventRepository = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]model.UserAccount),
		conversions: make(map[string]model.ConversionRecord),
		payments:    make(map[string]model.PaymentEvent),
	}
}

// PutAccount stores or replaces u as is. Used to seed fixtures.
func (m *MemoryStore) PutAccount(u model.UserAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[u.ID]; !ok {
		m.order = append(m.order, u.ID)
	}
	m.accounts[u.ID] = cloneAccount(u)
}

func (m *MemoryStore) CreateAccount(_ context.Context, u *model.UserAccount) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[u.ID]; ok {
		return false, nil
	}
	m.accounts[u.ID] = cloneAccount(*u)
	m.order = append(m.order, u.ID)
	return true, nil
}

func (m *MemoryStore) GetAccount(_ context.Context, id string) (*model.UserAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	c := cloneAccount(u)
	return &c, nil
}

func (m *MemoryStore) GetAccountByCustomerID(_ context.Context, customerID string) (*model.UserAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		u := m.accounts[id]
		if u.Subscription != nil && u.Subscription.ExternalCustomerID == customerID {
			c := cloneAccount(u)
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListAccounts(_ context.Context) ([]model.UserAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.UserAccount, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, cloneAccount(m.accounts[id]))
	}
	return out, nil
}

func (m *MemoryStore) RecordUsage(_ context.Context, userID string, action model.ActionType, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	if action == model.ActionDocument {
		u.DocumentsUploaded++
	} else {
		u.MessagesSent++
	}
	if at.After(u.LastActiveAt) {
		u.LastActiveAt = at
	}
	m.accounts[userID] = u
	m.usage = append(m.usage, model.UsageEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		EventType: action.EventType(),
		Timestamp: at,
	})
	return nil
}

func (m *MemoryStore) ListUsageEvents(_ context.Context, since *time.Time) ([]model.UsageEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.UsageEvent
	for _, ev := range m.usage {
		if since == nil || !ev.Timestamp.Before(*since) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) AppendPerformance(_ context.Context, rec model.PerformanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.performance = append(m.performance, rec)
	return nil
}

func (m *MemoryStore) AppendRating(_ context.Context, ev model.RatingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings = append(m.ratings, ev)
	return nil
}

func (m *MemoryStore) ListPerformance(_ context.Context, since *time.Time) ([]model.PerformanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.PerformanceRecord
	for _, rec := range m.performance {
		if since == nil || !rec.Timestamp.Before(*since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListRatings(_ context.Context, since *time.Time) ([]model.RatingEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.RatingEvent
	for _, ev := range m.ratings {
		if since == nil || !ev.Timestamp.Before(*since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MemoryStore) ConversionExists(_ context.Context, sessionRef string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conversions[sessionRef]
	return ok, nil
}

func (m *MemoryStore) ApplyUpgrade(_ context.Context, p model.UpgradeParams) (*model.ConversionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.accounts[p.UserID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if _, seen := m.conversions[p.SessionRef]; seen {
		return nil, ErrDuplicateTransition
	}
	if u.Subscription == nil {
		u.Subscription = &model.Subscription{}
	}
	if u.Plan == model.PlanPremium {
		if p.SubscriptionID != "" && p.SubscriptionID != u.Subscription.ExternalSubscriptionID {
			linkSubscription(u.Subscription, p)
			m.accounts[p.UserID] = u
		}
		return nil, ErrDuplicateTransition
	}

	before := u.Plan
	u.Plan = model.PlanPremium
	u.Limits = model.UnlimitedLimits
	linkSubscription(u.Subscription, p)
	u.Subscription.CurrentPeriodEnd = copyTime(p.PeriodEnd)
	u.PlanChangedAt = p.At
	m.accounts[p.UserID] = u

	rec := model.ConversionRecord{
		ID:                p.ConversionID,
		UserID:            p.UserID,
		ConvertedAt:       p.At,
		PlanBefore:        before,
		PlanAfter:         model.PlanPremium,
		ExternalSessionID: p.SessionRef,
		AmountPaid:        p.AmountPaid,
		Currency:          p.Currency,
	}
	m.conversions[p.SessionRef] = rec
	m.convOrder = append(m.convOrder, p.SessionRef)
	return &rec, nil
}

func (m *MemoryStore) ApplyDowngrade(_ context.Context, userID string, limits model.Limits, status model.SubscriptionStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.accounts[userID]
	if !ok {
		return false, ErrAccountNotFound
	}
	if u.Plan != model.PlanPremium {
		return false, nil
	}
	u.Plan = model.PlanFree
	u.Limits = limits
	if u.Subscription == nil {
		u.Subscription = &model.Subscription{}
	}
	u.Subscription.ExternalSubscriptionID = ""
	u.Subscription.Status = status
	u.Subscription.CurrentPeriodEnd = nil
	u.PlanChangedAt = at
	m.accounts[userID] = u
	return true, nil
}

func (m *MemoryStore) UpdateSubscriptionState(_ context.Context, userID string, status model.SubscriptionStatus, periodEnd *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	if u.Subscription == nil {
		u.Subscription = &model.Subscription{}
	}
	u.Subscription.Status = status
	if periodEnd != nil {
		u.Subscription.CurrentPeriodEnd = copyTime(periodEnd)
	}
	m.accounts[userID] = u
	return nil
}

func (m *MemoryStore) ListExpiredPremium(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, id := range m.order {
		u := m.accounts[id]
		if u.Plan != model.PlanPremium || u.Subscription == nil || u.Subscription.CurrentPeriodEnd == nil {
			continue
		}
		if u.Subscription.CurrentPeriodEnd.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) ListConversions(_ context.Context, since *time.Time) ([]model.ConversionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ConversionRecord
	for _, ref := range m.convOrder {
		rec := m.conversions[ref]
		if since == nil || !rec.ConvertedAt.Before(*since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) SavePaymentEvent(_ context.Context, ev *model.PaymentEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.payments[ev.EventID]; ok && prev.ProcessedAt != nil && prev.ProcessingError == nil {
		return false, nil
	}
	m.payments[ev.EventID] = *ev
	return true, nil
}

func (m *MemoryStore) MarkPaymentEventProcessed(_ context.Context, eventID string, procErr error, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.payments[eventID]
	if !ok {
		return nil
	}
	ev.ProcessedAt = &at
	ev.ProcessingError = nil
	if procErr != nil {
		msg := procErr.Error()
		ev.ProcessingError = &msg
	}
	m.payments[eventID] = ev
	return nil
}

func linkSubscription(sub *model.Subscription, p model.UpgradeParams) {
	if p.CustomerID != "" {
		sub.ExternalCustomerID = p.CustomerID
	}
	sub.ExternalSubscriptionID = p.SubscriptionID
	sub.Status = model.SubscriptionActive
	if p.PeriodEnd != nil {
		sub.CurrentPeriodEnd = copyTime(p.PeriodEnd)
	}
}

func cloneAccount(u model.UserAccount) model.UserAccount {
	if u.Subscription != nil {
		sub := *u.Subscription
		sub.CurrentPeriodEnd = copyTime(u.Subscription.CurrentPeriodEnd)
		u.Subscription = &sub
	}
	return u
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

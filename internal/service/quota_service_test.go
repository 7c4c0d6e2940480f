package service

import (
	"context"
	"errors"
	"testing"

	"quotaledger/internal/model"
	"quotaledger/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanPerform(t *testing.T) {
	free := func(msgs, docs int64) *model.UserAccount {
		u := model.NewFreeAccount("u", "", "", testFreeLimits, testNow)
		u.MessagesSent, u.DocumentsUploaded = msgs, docs
		return u
	}
	premium := free(5000, 900)
	premium.Plan = model.PlanPremium

	tests := []struct {
		name   string
		user   *model.UserAccount
		action model.ActionType
		want   Entitlement
	}{
		{"missing user is denied", nil, model.ActionMessage, Entitlement{}},
		{"fresh free account", free(0, 0), model.ActionMessage, Entitlement{Allowed: true, Remaining: 100, Limit: 100}},
		{"last message allowed", free(99, 0), model.ActionMessage, Entitlement{Allowed: true, Remaining: 1, Limit: 100}},
		{"message limit reached", free(100, 0), model.ActionMessage, Entitlement{Allowed: false, Remaining: 0, Limit: 100}},
		{"overshoot reported as negative", free(103, 0), model.ActionMessage, Entitlement{Allowed: false, Remaining: -3, Limit: 100}},
		{"documents use their own counter", free(100, 4), model.ActionDocument, Entitlement{Allowed: true, Remaining: 6, Limit: 10}},
		{"premium ignores counters", premium, model.ActionDocument, Entitlement{Allowed: true, Remaining: -1, Limit: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanPerform(tt.user, tt.action))
		})
	}
}

func TestCanPerform_PremiumWithStaleStoredLimits(t *testing.T) {
	u := model.NewFreeAccount("u", "", "", testFreeLimits, testNow)
	u.Plan = model.PlanPremium
	u.MessagesSent = 100

	got := CanPerform(u, model.ActionMessage)
	assert.True(t, got.Allowed)
	assert.Equal(t, int64(model.Unlimited), got.Remaining)
}

func TestQuotaService_Require(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seedFree(store, "u-free", 100, 3)
	svc := NewQuotaService(store, nil, zerolog.Nop())

	_, err := svc.Require(ctx, "u-free", model.ActionMessage)
	var qe *QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, model.ActionMessage, qe.Action)
	assert.Equal(t, int64(100), qe.Used)
	assert.Equal(t, 100, qe.Limit)
	assert.True(t, IsQuotaExceeded(err))

	ent, err := svc.Require(ctx, "u-free", model.ActionDocument)
	require.NoError(t, err)
	assert.Equal(t, Entitlement{Allowed: true, Remaining: 7, Limit: 10}, ent)
}

func TestQuotaService_CheckUnknownUserFailsClosed(t *testing.T) {
	svc := NewQuotaService(repository.NewMemoryStore(), nil, zerolog.Nop())

	ent, err := svc.Check(context.Background(), "ghost", model.ActionMessage)
	require.NoError(t, err)
	assert.False(t, ent.Allowed)
	_, err = svc.Require(context.Background(), "ghost", model.ActionMessage)
	assert.True(t, IsQuotaExceeded(err))
}

type failingAccounts struct {
	repository.AccountRepository
}

func (failingAccounts) GetAccount(context.Context, string) (*model.UserAccount, error) {
	return nil, errStorageDown
}

func TestQuotaService_CheckStorageErrorDenies(t *testing.T) {
	svc := NewQuotaService(failingAccounts{}, nil, zerolog.Nop())

	ent, err := svc.Check(context.Background(), "u1", model.ActionMessage)
	assert.ErrorIs(t, err, errStorageDown)
	assert.False(t, ent.Allowed)
}

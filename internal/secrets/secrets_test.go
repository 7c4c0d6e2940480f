package secrets

import (
	"context"
	"errors"
	"testing"

	"quotaledger/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	values map[string]string
	calls  int
}

func (f *fakeSource) Access(_ context.Context, name string) (string, error) {
	f.calls++
	v, ok := f.values[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestResolveStripeSecrets_FromSecretName(t *testing.T) {
	cfg := &config.Config{StripeWebhookSecretName: "stripe-webhook"}
	src := &fakeSource{values: map[string]string{"stripe-webhook": "whsec_123"}}

	require.NoError(t, ResolveStripeSecrets(context.Background(), cfg, src))
	assert.Equal(t, "whsec_123", cfg.StripeWebhookSecret)
}

func TestResolveStripeSecrets_ExplicitValueWins(t *testing.T) {
	cfg := &config.Config{StripeWebhookSecret: "whsec_env", StripeWebhookSecretName: "stripe-webhook"}
	src := &fakeSource{}

	require.NoError(t, ResolveStripeSecrets(context.Background(), cfg, src))
	assert.Equal(t, "whsec_env", cfg.StripeWebhookSecret)
	assert.Zero(t, src.calls)
}

func TestResolveStripeSecrets_MissingSecret(t *testing.T) {
	cfg := &config.Config{StripeWebhookSecretName: "missing"}

	err := ResolveStripeSecrets(context.Background(), cfg, &fakeSource{})
	assert.Error(t, err)
	assert.Empty(t, cfg.StripeWebhookSecret)
}

func TestNewSecretManagerSourceRequiresProject(t *testing.T) {
	_, _, err := NewSecretManagerSource(context.Background(), &config.Config{})
	assert.Error(t, err)
}

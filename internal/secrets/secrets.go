// Package secrets resolves payment provider credentials from GCP Secret Manager.
package secrets

import (
	"context"
	"fmt"
	"strings"

	"quotaledger/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// Source reads the latest value of a named secret.
type Source interface {
	Access(ctx context.Context, name string) (string, error)
}

type secretManagerSource struct {
	client    *secretmanager.Client
	projectID string
}

// NewSecretManagerSource returns a Source backed by Secret Manager in the configured project.
func NewSecretManagerSource(ctx context.Context, cfg *config.Config) (Source, func() error, error) {
	projectID := cfg.GetGCPProjectID()
	if projectID == "" {
		return nil, nil, fmt.Errorf("GCP Project ID is not set for the current environment")
	}

	var opts []option.ClientOption
	if cfg.GCPCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCPCredentialsFile))
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &secretManagerSource{client: client, projectID: projectID}, client.Close, nil
}

func (s *secretManagerSource) Access(ctx context.Context, name string) (string, error) {
	resourceName := name
	if !strings.HasPrefix(name, "projects/") {
		resourceName = fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, name)
	}
	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resourceName})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version %s: %w", name, err)
	}
	return strings.TrimSpace(string(result.Payload.GetData())), nil
}

// ResolveStripeSecrets fills the webhook secret from src when only its secret name is configured.
func ResolveStripeSecrets(ctx context.Context, cfg *config.Config, src Source) error {
	if cfg.StripeWebhookSecret != "" || cfg.StripeWebhookSecretName == "" {
		return nil
	}
	secret, err := src.Access(ctx, cfg.StripeWebhookSecretName)
	if err != nil {
		return fmt.Errorf("resolve stripe webhook secret: %w", err)
	}
	if secret == "" {
		return fmt.Errorf("resolve stripe webhook secret: secret %s is empty", cfg.StripeWebhookSecretName)
	}
	cfg.StripeWebhookSecret = secret
	return nil
}

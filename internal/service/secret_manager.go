package service

import (
	"context"
	"errors"
	"fmt"

	"norvis/internal/crypto"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/rs/zerolog"
)

var ErrProviderKeyMissing = errors.New("provider api key not configured")

// ProviderKeySource resolves the API key for an AI vendor ("openai", "anthropic").
type ProviderKeySource interface {
	ProviderKey(ctx context.Context, provider string) (string, error)
}

type envKeySource struct {
	keys   map[string]string
	cipher *crypto.KeyCipher
}

// NewEnvKeySource serves keys from configuration. Values sealed with the
// configured KeyCipher are opened on read.
func NewEnvKeySource(keys map[string]string, cipher *crypto.KeyCipher) ProviderKeySource {
	return &envKeySource{keys: keys, cipher: cipher}
}

func (s *envKeySource) ProviderKey(_ context.Context, provider string) (string, error) {
	v := s.keys[provider]
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrProviderKeyMissing, provider)
	}
	key, err := s.cipher.Open(v)
	if err != nil {
		return "", fmt.Errorf("opening %s key: %w", provider, err)
	}
	return key, nil
}

type secretManagerKeySource struct {
	client    *secretmanager.Client
	projectID string
	cipher    *crypto.KeyCipher
	fallback  ProviderKeySource
	logger    zerolog.Logger
}

// NewSecretManagerKeySource reads keys from GCP Secret Manager secrets named
// "norvis-<provider>-api-key", falling back to fallback when a secret cannot
// be read.
func NewSecretManagerKeySource(ctx context.Context, projectID string, cipher *crypto.KeyCipher, fallback ProviderKeySource, logger zerolog.Logger) (ProviderKeySource, func() error, error) {
	if projectID == "" {
		return nil, nil, fmt.Errorf("GCP Project ID is not set")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	src := &secretManagerKeySource{
		client:    client,
		projectID: projectID,
		cipher:    cipher,
		fallback:  fallback,
		logger:    logger.With().Str("service", "SecretManager").Logger(),
	}
	return src, client.Close, nil
}

func secretResourceName(projectID, provider string) string {
	return fmt.Sprintf("projects/%s/secrets/norvis-%s-api-key/versions/latest", projectID, provider)
}

func (s *secretManagerKeySource) ProviderKey(ctx context.Context, provider string) (string, error) {
	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretResourceName(s.projectID, provider),
	})
	if err != nil {
		if s.fallback != nil {
			s.logger.Warn().Err(err).Str("provider", provider).Msg("Secret Manager lookup failed, using configured key")
			return s.fallback.ProviderKey(ctx, provider)
		}
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}
	return s.cipher.Open(string(result.Payload.Data))
}

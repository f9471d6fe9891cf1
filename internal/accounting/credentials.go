package accounting

import (
	"context"
	"os"
	"strings"
	"sync"
)

// CredentialStore supplies the bearer credential for provider API calls.
// Token acquisition and refresh are an external collaborator's concern; this
// interface only promises that a valid credential string comes back.
type CredentialStore interface {
	AccessToken(ctx context.Context) (string, error)
	SetAccessToken(ctx context.Context, token string) error
}

// EnvCredentialStore reads the token from the environment once and keeps
// subsequent updates in memory. Stands in for a real credential store.
type EnvCredentialStore struct {
	mu    sync.RWMutex
	token string
}

func NewEnvCredentialStore() *EnvCredentialStore {
	return &EnvCredentialStore{
		token: strings.TrimSpace(os.Getenv("ACCOUNTING_ACCESS_TOKEN")),
	}
}

func (s *EnvCredentialStore) AccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNotConnected
	}
	return s.token, nil
}

func (s *EnvCredentialStore) SetAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = strings.TrimSpace(token)
	return nil
}

// StaticCredentials returns a store holding a fixed token; used in tests and
// for providers authenticated with a long-lived key.
func StaticCredentials(token string) *EnvCredentialStore {
	return &EnvCredentialStore{token: token}
}

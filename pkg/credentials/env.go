package credentials

import (
	"os"
	"time"
)

// EnvironmentStore serves one credential pair for every proxy host from
// MOONFETCH_PROXY_USER and MOONFETCH_PROXY_PASS. It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *ProxyCredential) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Retrieve(host string) (*ProxyCredential, error) {
	user := os.Getenv("MOONFETCH_PROXY_USER")
	if user == "" {
		return nil, ErrCredentialsNotFound
	}
	if host == "" {
		host = "*"
	}
	return &ProxyCredential{
		Host:         host,
		Username:     user,
		Password:     os.Getenv("MOONFETCH_PROXY_PASS"),
		LastModified: time.Time{},
	}, nil
}

func (e *EnvironmentStore) List() ([]*ProxyCredential, error) {
	cred, err := e.Retrieve("")
	if err != nil {
		return []*ProxyCredential{}, nil
	}
	return []*ProxyCredential{cred}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(host string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(host string) bool {
	return os.Getenv("MOONFETCH_PROXY_USER") != ""
}

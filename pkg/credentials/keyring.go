package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService  = "moonfetch"
	keyringPrefix   = "proxy_"
	keyringIndexKey = "proxy_index"
)

// KeyringStore keeps credentials in the system keychain. The keychain cannot
// enumerate entries, so the set of stored hosts is kept under a separate
// index item.
type KeyringStore struct {
	mu sync.Mutex
}

// NewKeyringStore checks the keychain and fails if it is unusable
func NewKeyringStore() (*KeyringStore, error) {
	const sentinel = "availability_check"
	if err := keyring.Set(keyringService, sentinel, "ok"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	_ = keyring.Delete(keyringService, sentinel)
	return &KeyringStore{}, nil
}

func (k *KeyringStore) Store(cred *ProxyCredential) error {
	if cred == nil || cred.Host == "" {
		return ErrInvalidCredentials
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Set(keyringService, keyringPrefix+cred.Host, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	hosts := k.index()
	if !contains(hosts, cred.Host) {
		hosts = append(hosts, cred.Host)
		sort.Strings(hosts)
		return k.saveIndex(hosts)
	}
	return nil
}

func (k *KeyringStore) Retrieve(host string) (*ProxyCredential, error) {
	if host == "" {
		return nil, ErrInvalidCredentials
	}
	data, err := keyring.Get(keyringService, keyringPrefix+host)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var cred ProxyCredential
	if err := json.Unmarshal([]byte(data), &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

func (k *KeyringStore) List() ([]*ProxyCredential, error) {
	k.mu.Lock()
	hosts := k.index()
	k.mu.Unlock()

	var creds []*ProxyCredential
	for _, h := range hosts {
		if c, err := k.Retrieve(h); err == nil {
			creds = append(creds, c)
		}
	}
	return creds, nil
}

func (k *KeyringStore) Delete(host string) error {
	if host == "" {
		return ErrInvalidCredentials
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	err := keyring.Delete(keyringService, keyringPrefix+host)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}

	hosts := k.index()
	kept := hosts[:0]
	for _, h := range hosts {
		if h != host {
			kept = append(kept, h)
		}
	}
	return k.saveIndex(kept)
}

func (k *KeyringStore) Exists(host string) bool {
	if host == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringPrefix+host)
	return err == nil
}

func (k *KeyringStore) index() []string {
	data, err := keyring.Get(keyringService, keyringIndexKey)
	if err != nil {
		return nil
	}
	var hosts []string
	if err := json.Unmarshal([]byte(data), &hosts); err != nil {
		return nil
	}
	return hosts
}

func (k *KeyringStore) saveIndex(hosts []string) error {
	data, err := json.Marshal(hosts)
	if err != nil {
		return err
	}
	return keyring.Set(keyringService, keyringIndexKey, string(data))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// ProxyCredential is the login for one upstream proxy, keyed by host:port
type ProxyCredential struct {
	Host         string    `json:"host"`
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	LastModified time.Time `json:"last_modified"`
}

// Store is the interface for storing and retrieving proxy credentials
type Store interface {
	Store(cred *ProxyCredential) error
	Retrieve(host string) (*ProxyCredential, error)
	List() ([]*ProxyCredential, error)
	Delete(host string) error
	Exists(host string) bool
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)

// Manager reads through an ordered list of stores and writes to the first
// one that accepts.
type Manager struct {
	stores []Store
}

// NewManager builds the store chain for a configured source:
//   - keyring: system keychain, falling back to the encrypted file
//   - file: encrypted file only
//   - env: MOONFETCH_PROXY_USER / MOONFETCH_PROXY_PASS
//   - none: no stores; proxies only use inline userinfo
func NewManager(source string) (*Manager, error) {
	var stores []Store

	switch source {
	case "none", "":
		return &Manager{}, nil
	case "env":
		return NewManagerWithStores(NewEnvironmentStore()), nil
	case "keyring":
		if ks, err := NewKeyringStore(); err == nil {
			stores = append(stores, ks)
		}
		fallthrough
	case "file":
		configDir, err := configDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		fs, err := NewEncryptedFileStore(filepath.Join(configDir, "proxy-credentials.enc"))
		if err != nil {
			return nil, fmt.Errorf("failed to create encrypted store: %w", err)
		}
		stores = append(stores, fs)
	default:
		return nil, fmt.Errorf("unknown credential source %q", source)
	}

	stores = append(stores, NewEnvironmentStore())
	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over explicit stores
func NewManagerWithStores(stores ...Store) *Manager {
	return &Manager{stores: stores}
}

// Store saves credentials using the first store that accepts them
func (m *Manager) Store(cred *ProxyCredential) error {
	if cred == nil || cred.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidCredentials)
	}
	if cred.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidCredentials)
	}
	cred.Host = strings.ToLower(cred.Host)
	cred.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(cred)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(host string) (*ProxyCredential, error) {
	host = strings.ToLower(host)
	for _, store := range m.stores {
		if cred, err := store.Retrieve(host); err == nil && cred != nil {
			return cred, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, host)
}

// Lookup returns the username and password for host
func (m *Manager) Lookup(host string) (string, string, bool) {
	cred, err := m.Retrieve(host)
	if err != nil {
		return "", "", false
	}
	return cred.Username, cred.Password, true
}

// List returns the newest credential per host across all stores, sorted by host
func (m *Manager) List() ([]*ProxyCredential, error) {
	byHost := make(map[string]*ProxyCredential)
	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, c := range creds {
			if existing, ok := byHost[c.Host]; !ok || c.LastModified.After(existing.LastModified) {
				byHost[c.Host] = c
			}
		}
	}

	result := make([]*ProxyCredential, 0, len(byHost))
	for _, c := range byHost {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Host < result[j].Host })
	return result, nil
}

// Delete removes credentials from every store that has them
func (m *Manager) Delete(host string) error {
	host = strings.ToLower(host)
	deleted := false
	var lastErr error

	for _, store := range m.stores {
		err := store.Delete(host)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrCredentialsNotFound), errors.Is(err, ErrStoreUnavailable):
		default:
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrCredentialsNotFound, host)
	}
	return nil
}

// Sanitize returns a copy with the password masked
func Sanitize(cred *ProxyCredential) *ProxyCredential {
	if cred == nil {
		return nil
	}
	cp := *cred
	cp.Password = maskString(cred.Password)
	return &cp
}

// maskString masks all but the first and last 2 characters of a string
func maskString(s string) string {
	if len(s) <= 6 {
		return "******"
	}
	return s[:2] + "..." + s[len(s)-2:]
}

// configDir returns the per-user configuration directory, creating it if needed
func configDir() (string, error) {
	var dir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support", "moonfetch")
	case "windows":
		dir = filepath.Join(os.Getenv("APPDATA"), "moonfetch")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "moonfetch")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dir = filepath.Join(home, ".config", "moonfetch")
		}
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

package secret

import (
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

// DefaultServiceName groups every entry written by mailsetup in the vault.
const DefaultServiceName = "mailsetup"

// DefaultBackends are the native vaults tried in order. The encrypted file backend
// is left out: it is not an OS vault and would need its own passphrase prompt.
var DefaultBackends = []string{
	string(keyring.KeychainBackend),
	string(keyring.WinCredBackend),
	string(keyring.SecretServiceBackend),
	string(keyring.KWalletBackend),
	string(keyring.PassBackend),
}

// Vault is the contract against the OS credential vault.
type Vault interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// KeyringVault is a Vault backed by github.com/99designs/keyring. The underlying
// keyring is opened lazily on first use.
type KeyringVault struct {
	config keyring.Config

	mu   sync.Mutex
	ring keyring.Keyring
}

// NewKeyringVault returns a vault restricted to the named backends.
// An empty serviceName or backend list uses the defaults.
func NewKeyringVault(serviceName string, backends []string) *KeyringVault {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	if len(backends) == 0 {
		backends = DefaultBackends
	}
	allowed := make([]keyring.BackendType, 0, len(backends))
	for _, b := range backends {
		allowed = append(allowed, keyring.BackendType(b))
	}
	return &KeyringVault{
		config: keyring.Config{
			ServiceName:              serviceName,
			AllowedBackends:          allowed,
			KeychainTrustApplication: true,
			LibSecretCollectionName:  "login",
			KWalletAppID:             serviceName,
			KWalletFolder:            serviceName,
			WinCredPrefix:            serviceName,
			PassPrefix:               serviceName,
		},
	}
}

// NewKeyringVaultWith wraps an already opened keyring.
func NewKeyringVaultWith(ring keyring.Keyring) *KeyringVault {
	return &KeyringVault{ring: ring}
}

// openKeyring returns the shared keyring, opening it on first use.
// Failures are not cached so a later call may succeed once a vault is available.
func (v *KeyringVault) openKeyring() (keyring.Keyring, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.ring != nil {
		return v.ring, nil
	}
	ring, err := keyring.Open(v.config)
	if err != nil {
		return nil, fmt.Errorf("%w: opening keyring: %v", ErrBackendUnavailable, err)
	}
	v.ring = ring
	return ring, nil
}

// Get retrieves a credential value by key.
func (v *KeyringVault) Get(key string) (string, error) {
	ring, err := v.openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("getting credential: %w", err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (v *KeyringVault) Set(key, value string) error {
	ring, err := v.openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(value),
		Label:       key,
		Description: "mail account secret",
	})
	if err != nil {
		return fmt.Errorf("setting credential: %w", err)
	}
	return nil
}

// Remove deletes a credential by key. Removing a missing entry is not an error.
func (v *KeyringVault) Remove(key string) error {
	ring, err := v.openKeyring()
	if err != nil {
		return err
	}

	if err = ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}

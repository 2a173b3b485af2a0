package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name docsync tokens are stored under.
// The keyring user is the remote URL, so each remote has its own token.
const KeyringService = "docsync"

// KeyringTimeout bounds every keyring call; some backends block on a locked keychain.
const KeyringTimeout = 3 * time.Second

// ErrTokenNotFound is returned when no token is stored for a remote.
var ErrTokenNotFound = errors.New("access token not found in keyring")

// ErrKeyringTimeout is returned when a keyring call exceeds KeyringTimeout.
var ErrKeyringTimeout = errors.New("keyring operation timed out")

// TokenStore reads and writes access tokens keyed by remote URL.
type TokenStore interface {
	Get(remoteURL string) (string, error)
	Set(remoteURL, token string) error
	Delete(remoteURL string) error
}

// KeyringStore implements TokenStore on the OS keyring.
type KeyringStore struct {
	timeout time.Duration
}

var _ TokenStore = (*KeyringStore)(nil)

// NewKeyringStore creates a store using KeyringTimeout.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{timeout: KeyringTimeout}
}

// Get returns the token stored for remoteURL.
func (k *KeyringStore) Get(remoteURL string) (string, error) {
	var token string
	err := k.do("get", func() error {
		var err error
		token, err = keyring.Get(KeyringService, remoteURL)
		return err
	})
	return token, err
}

// Set stores token for remoteURL.
func (k *KeyringStore) Set(remoteURL, token string) error {
	return k.do("set", func() error {
		return keyring.Set(KeyringService, remoteURL, token)
	})
}

// Delete removes the token stored for remoteURL.
func (k *KeyringStore) Delete(remoteURL string) error {
	return k.do("delete", func() error {
		return keyring.Delete(KeyringService, remoteURL)
	})
}

func (k *KeyringStore) do(op string, fn func() error) error {
	ch := make(chan error, 1)
	go func() {
		ch <- fn()
	}()

	select {
	case err := <-ch:
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("keyring %s: %w", op, err)
		}
		return nil
	case <-time.After(k.timeout):
		return fmt.Errorf("%w: %s", ErrKeyringTimeout, op)
	}
}

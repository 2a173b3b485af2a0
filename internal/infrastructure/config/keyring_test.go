package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeyringStore_RoundTrip(t *testing.T) {
	keyring.MockInit()
	store := NewKeyringStore()
	remote := "https://git.example.com/team/notes.git"

	_, err := store.Get(remote)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, store.Set(remote, "s3cret"))
	token, err := store.Get(remote)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", token)

	_, err = store.Get("https://git.example.com/team/other.git")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, store.Delete(remote))
	_, err = store.Get(remote)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestKeyringStore_BackendError(t *testing.T) {
	keyring.MockInitWithError(errors.New("keychain locked"))
	t.Cleanup(keyring.MockInit)
	store := NewKeyringStore()

	_, err := store.Get("https://git.example.com/team/notes.git")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenNotFound)
	assert.Contains(t, err.Error(), "keychain locked")
}

func TestKeyringStore_Timeout(t *testing.T) {
	store := &KeyringStore{timeout: 20 * time.Millisecond}
	release := make(chan struct{})
	defer close(release)

	err := store.do("get", func() error {
		<-release
		return nil
	})

	assert.ErrorIs(t, err, ErrKeyringTimeout)
}

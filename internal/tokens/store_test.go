package tokens

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCredentials(clientID string) *Credentials {
	return &Credentials{
		AccessToken:     "AQX-access-token-value",
		TokenType:       "Bearer",
		Scope:           "openid profile email w_member_social",
		ExpiresAt:       time.Now().Add(time.Hour).Truncate(time.Second),
		ClientID:        clientID,
		Subject:         "abc123",
		Name:            "Ada Lovelace",
		Email:           "ada@example.com",
		AuthenticatedAt: time.Now().Truncate(time.Second),
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	store := NewStore(path, "client-a")

	want := sampleCredentials("")
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "client-a", got.ClientID, "Save fills in the store's client id")
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.Subject, got.Subject)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	assert.True(t, locked, "lock must be released after Save")
	require.NoError(t, other.Unlock())
}

func TestSave_WaitsForLockHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := NewStore(path, "client-a")
	store.lockTimeout = 100 * time.Millisecond

	holder := flock.New(path + ".lock")
	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	err = store.Save(sampleCredentials("client-a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to acquire lock")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	store.lockTimeout = 2 * time.Second
	done := make(chan error, 1)
	go func() { done <- store.Save(sampleCredentials("client-a")) }()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, holder.Unlock())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Save did not take the released lock")
	}
	_, err = store.Load()
	require.NoError(t, err)
}

func TestMultipleClients(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	a := NewStore(path, "client-a")
	b := NewStore(path, "client-b")

	require.NoError(t, a.Save(sampleCredentials("client-a")))
	credsB := sampleCredentials("client-b")
	credsB.Name = "Grace Hopper"
	require.NoError(t, b.Save(credsB))

	gotA, err := a.Load()
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", gotA.Name)

	gotB, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", gotB.Name)

	require.NoError(t, a.Clear())
	_, err = a.Load()
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = b.Load()
	assert.NoError(t, err, "clearing one client keeps the other")
}

func TestLoad_Missing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "tokens.json"), "client-a")
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewStore(path, "client-a")
	_, err := store.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	// Saving over a corrupt file replaces it.
	require.NoError(t, store.Save(sampleCredentials("client-a")))
	_, err = store.Load()
	assert.NoError(t, err)
}

func TestClear_Idempotent(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "tokens.json"), "client-a")
	assert.NoError(t, store.Clear())
	assert.NoError(t, store.Clear())
}

func TestConcurrentSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	var wg sync.WaitGroup
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, NewStore(path, id).Save(sampleCredentials(id)))
		}()
	}
	wg.Wait()

	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		_, err := NewStore(path, id).Load()
		assert.NoError(t, err, "client %s lost by a concurrent write", id)
	}
}

func TestCredentialsValidity(t *testing.T) {
	c := sampleCredentials("x")
	assert.True(t, c.Valid())

	c.ExpiresAt = time.Now().Add(10 * time.Second)
	assert.True(t, c.Expired(), "tokens inside the skew window count as expired")
	assert.False(t, c.Valid())

	c = sampleCredentials("x")
	c.Subject = ""
	assert.False(t, c.Valid())

	var nilCreds *Credentials
	assert.False(t, nilCreds.Valid())
}

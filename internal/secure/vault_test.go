package secure

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaultRoundTrip(t *testing.T) {
	t.Parallel()

	v := NewVault()
	v.Put("root", []byte("Xk3!abcDEF1234"))

	var seen string
	err := v.Use("root", func(password string) error {
		seen = password
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Xk3!abcDEF1234", seen)
}

// The callback receives an owned string, not a view into the locked
// buffer. Reading it after Use returns (and after Destroy) must be safe.
func TestVaultPasswordOutlivesCallback(t *testing.T) {
	t.Parallel()

	v := NewVault()
	v.Put("root", []byte("Xk3!abcDEF1234"))

	var retained string
	require.NoError(t, v.Use("root", func(password string) error {
		retained = password
		return nil
	}))
	v.Destroy()

	assert.Equal(t, "Xk3!abcDEF1234", retained)
	assert.Equal(t, 14, len(retained))
}

func TestVaultUnknownAccount(t *testing.T) {
	t.Parallel()

	v := NewVault()
	err := v.Use("ghost", func(string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestVaultCallbackErrorPropagates(t *testing.T) {
	t.Parallel()

	v := NewVault()
	v.Put("admin", []byte("pw"))

	wantErr := errors.New("chpasswd exploded")
	err := v.Use("admin", func(string) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
}

func TestVaultAccounts(t *testing.T) {
	t.Parallel()

	v := NewVault()
	v.Put("root", []byte("a"))
	v.Put("admin", []byte("b"))

	assert.ElementsMatch(t, []string{"root", "admin"}, v.Accounts())
}

func TestVaultDestroy(t *testing.T) {
	t.Parallel()

	v := NewVault()
	v.Put("root", []byte("a"))
	v.Destroy()
	v.Destroy() // idempotent

	assert.Empty(t, v.Accounts())
	err := v.Use("root", func(string) error { return nil })
	assert.Error(t, err)
}

func TestVaultOverwrite(t *testing.T) {
	t.Parallel()

	v := NewVault()
	v.Put("root", []byte("old"))
	v.Put("root", []byte("new"))

	err := v.Use("root", func(password string) error {
		assert.Equal(t, "new", password)
		return nil
	})
	require.NoError(t, err)
}

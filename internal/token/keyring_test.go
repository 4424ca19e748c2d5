package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeyringRoundTrip(t *testing.T) {
	keyring.MockInit()

	require.NoError(t, Store("44F011D4-9D03-4FFB-BB20-C1EA81A471D9"))

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "44F011D4-9D03-4FFB-BB20-C1EA81A471D9", got)

	require.NoError(t, Delete())
	_, err = Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreEmptyToken(t *testing.T) {
	keyring.MockInit()
	assert.Error(t, Store(""))
}

func TestDeleteMissingTokenIsNoop(t *testing.T) {
	keyring.MockInit()
	assert.NoError(t, Delete())
}

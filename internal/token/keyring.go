// Package token stores the PAM360 REST API token in the operating
// system's keyring (Secret Service on Linux) so it does not have to sit in
// plaintext unit files. Headless hosts without a keyring daemon fall back
// to the PAM_TOKEN environment variable or the config file.
package token

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "pamsync"
	keyringUser    = "pam360-api-token"
)

// ErrNotFound indicates no token is stored in the keyring.
var ErrNotFound = errors.New("no PAM360 token in keyring")

// Store saves the token in the system keyring.
func Store(value string) error {
	if value == "" {
		return fmt.Errorf("token: refusing to store an empty token")
	}
	if err := keyring.Set(keyringService, keyringUser, value); err != nil {
		return fmt.Errorf("token: store in keyring: %w", err)
	}
	return nil
}

// Load retrieves the token from the system keyring.
func Load() (string, error) {
	value, err := keyring.Get(keyringService, keyringUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("token: read from keyring: %w", err)
	}
	return value, nil
}

// Delete removes the token from the system keyring. Deleting a missing
// token is not an error.
func Delete() error {
	if err := keyring.Delete(keyringService, keyringUser); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("token: delete from keyring: %w", err)
	}
	return nil
}

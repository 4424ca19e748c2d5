package secure

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// Vault holds the generated passwords for one rotation run, keyed by
// account name. Values live in memguard enclaves so they are encrypted at
// rest in memory and kept off swap; plaintext only exists inside Use
// callbacks, in locked buffers that are wiped on return.
//
// The vault is the only place a generated password is allowed to live
// between the generation stage and the PAM/local rotation stages. For
// complete cleanup of all memguard data at process exit, main() defers
// memguard.Purge().
type Vault struct {
	mu       sync.RWMutex
	enclaves map[string]*memguard.Enclave
}

// NewVault creates an empty password vault.
func NewVault() *Vault {
	return &Vault{enclaves: make(map[string]*memguard.Enclave)}
}

// Put stores a password for the named account. The input slice is consumed:
// memguard wipes it as part of enclave construction, so callers must not
// reuse it afterwards.
func (v *Vault) Put(account string, password []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enclaves[account] = memguard.NewEnclave(password)
}

// Use decrypts the password for the named account and passes it to fn as
// an owned copy. The locked buffer is wiped when fn returns; the copy is
// ordinary garbage-collected memory, so callers should still keep its
// lifetime short (an HTTP request body or a chpasswd stdin pipe).
func (v *Vault) Use(account string, fn func(password string) error) error {
	v.mu.RLock()
	enclave, ok := v.enclaves[account]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no password held for account %q", account)
	}

	locked, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("open password enclave for %q: %w", account, err)
	}
	defer locked.Destroy()

	// The string handed to fn must not alias the locked buffer: Destroy
	// unmaps that memory, and a retained alias would fault later.
	return fn(string(locked.Bytes()))
}

// Accounts returns the account names with a stored password.
func (v *Vault) Accounts() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, 0, len(v.enclaves))
	for name := range v.enclaves {
		names = append(names, name)
	}
	return names
}

// Destroy drops all enclaves. Idempotent; Use after Destroy reports a
// missing account.
func (v *Vault) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enclaves = make(map[string]*memguard.Enclave)
}

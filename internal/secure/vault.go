// Package secure provides memory-safe handling of plaintext secret values
// while a rotation is in flight.
//
// Decrypted variable values are held in memguard enclaves: encrypted at
// rest in memory (XSalsa20Poly1305), protected from swapping via mlock,
// and wiped on destruction. If mlock is unavailable memguard degrades
// gracefully to standard memory.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Vault holds decrypted variable values for the duration of a rotation.
// It must be destroyed in the rotation's cleanup path so plaintext never
// outlives the operation.
type Vault struct {
	mu        sync.RWMutex
	entries   map[string]*memguard.Enclave
	destroyed bool
}

// NewVault creates an empty plaintext vault.
func NewVault() *Vault {
	return &Vault{entries: make(map[string]*memguard.Enclave)}
}

// Put stores a variable's plaintext in a protected enclave. The caller's
// copy of the value remains untouched.
func (v *Vault) Put(name, plaintext string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.destroyed {
		return
	}
	v.entries[name] = memguard.NewEnclave([]byte(plaintext))
}

// Get opens the enclave for a variable and returns its plaintext. ok is
// false when the variable is not held or the vault was destroyed.
func (v *Vault) Get(name string) (string, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.destroyed {
		return "", false, nil
	}
	enclave, ok := v.entries[name]
	if !ok {
		return "", false, nil
	}

	locked, err := enclave.Open()
	if err != nil {
		return "", false, err
	}
	defer locked.Destroy()
	// Copy out: the locked buffer's memory is wiped on Destroy.
	return string(locked.Bytes()), true, nil
}

// Names returns the variable names currently held.
func (v *Vault) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	names := make([]string, 0, len(v.entries))
	for name := range v.entries {
		names = append(names, name)
	}
	return names
}

// Len returns the number of held variables.
func (v *Vault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Destroy drops every enclave and marks the vault unusable. Idempotent.
// The enclaves' encrypted pages are reclaimed by the runtime; callers that
// want a hard purge of all memguard state at process exit should defer
// memguard.Purge() in main.
func (v *Vault) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.destroyed {
		return
	}
	v.entries = nil
	v.destroyed = true
}

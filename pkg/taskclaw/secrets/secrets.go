// Package secrets resolves named secrets for proxy: template tags.
//
// Priority for resolving a secret:
//  1. secrets document (secrets.yaml, loaded once at startup)
//  2. OS keyring (Linux: Secret Service/GNOME Keyring, macOS: Keychain,
//     Windows: Credential Manager)
//
// Resolved values live only in the rendered string for the duration of a
// run. They are never logged, never enumerated, and Redact strips them
// from anything headed for persistence.
package secrets

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "taskclaw"

// ErrNotFound reports a secret name with no value in any tier.
var ErrNotFound = fmt.Errorf("secret not found")

// Resolver maps secret names to values. Every value Resolve hands out is
// remembered so Redact can strip it later, including keyring hits that
// never appeared in the secrets document.
type Resolver struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewResolver builds a resolver over the secrets document contents.
// The map is copied; the caller's map is not retained.
func NewResolver(values map[string]string) *Resolver {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Resolver{values: copied}
}

// Resolve returns the value for name, consulting the document first and
// the OS keyring second. Returns ErrNotFound when neither has it.
func (r *Resolver) Resolve(name string) (string, error) {
	r.mu.RLock()
	val, ok := r.values[name]
	r.mu.RUnlock()
	if ok && val != "" {
		return val, nil
	}

	if val := getKeyring(name); val != "" {
		// Cache the hit so Redact knows this value from now on.
		r.mu.Lock()
		r.values[name] = val
		r.mu.Unlock()
		return val, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Redact replaces every known secret value occurring in s with a fixed
// placeholder. Called before any result is persisted or dispatched to a
// sink that survives the run.
func (r *Resolver) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, val := range r.values {
		if val == "" {
			continue
		}
		s = strings.ReplaceAll(s, val, "[redacted]")
	}
	return s
}

// ---------- OS keyring ----------

// Set saves a secret to the OS keyring.
func Set(name, value string) error {
	return keyring.Set(keyringService, name, value)
}

// Delete removes a secret from the OS keyring.
func Delete(name string) error {
	return keyring.Delete(keyringService, name)
}

// Available checks if the OS keyring is accessible.
func Available() bool {
	testKey := "__taskclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// getKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func getKeyring(name string) string {
	val, err := keyring.Get(keyringService, name)
	if err != nil {
		return ""
	}
	return val
}

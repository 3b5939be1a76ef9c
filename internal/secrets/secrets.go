// Package secrets resolves configuration values that point at the OS
// keychain or the environment instead of holding the secret inline.
//
// Supported forms:
//
//	keyring:<service>/<key>   read from the OS keychain
//	env:<VAR>                 read from the environment
//	anything else             used literally
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringPrefix = "keyring:"
	envPrefix     = "env:"
)

// ErrNotFound is returned when a referenced secret does not exist.
var ErrNotFound = errors.New("secret not found")

// Resolver looks up secret references. When the OS keychain is unavailable
// (headless servers, containers) it falls back to a JSON file of the form
// {"service": {"key": "value"}}.
type Resolver struct {
	fallbackPath string
	mu           sync.Mutex
}

// NewResolver creates a Resolver. fallbackPath may be empty.
func NewResolver(fallbackPath string) *Resolver {
	return &Resolver{fallbackPath: fallbackPath}
}

// IsReference reports whether value names a secret rather than holding one.
func IsReference(value string) bool {
	return strings.HasPrefix(value, keyringPrefix) || strings.HasPrefix(value, envPrefix)
}

// Resolve returns the secret value for ref.
func (r *Resolver) Resolve(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, envPrefix):
		name := strings.TrimPrefix(ref, envPrefix)
		val, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("%w: environment variable %s", ErrNotFound, name)
		}
		return val, nil
	case strings.HasPrefix(ref, keyringPrefix):
		service, key, err := ParseKeyringRef(ref)
		if err != nil {
			return "", err
		}
		return r.get(service, key)
	default:
		return ref, nil
	}
}

// Set stores value in the keychain under service/key, or in the fallback
// file when the keychain is unavailable.
func (r *Resolver) Set(service, key, value string) error {
	if strings.TrimSpace(service) == "" || strings.TrimSpace(key) == "" {
		return fmt.Errorf("secrets: service and key are required")
	}
	err := keyring.Set(service, key, value)
	if err == nil {
		return nil
	}
	if !isKeyringUnavailable(err) {
		return fmt.Errorf("secrets: keyring set %s/%s: %w", service, key, err)
	}
	return r.setFallback(service, key, value)
}

// Delete removes service/key from the keychain and the fallback file.
func (r *Resolver) Delete(service, key string) error {
	err := keyring.Delete(service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) && !isKeyringUnavailable(err) {
		return fmt.Errorf("secrets: keyring delete %s/%s: %w", service, key, err)
	}
	return r.deleteFallback(service, key)
}

// ParseKeyringRef splits keyring:<service>/<key> into its parts.
func ParseKeyringRef(ref string) (string, string, error) {
	if !strings.HasPrefix(ref, keyringPrefix) {
		return "", "", fmt.Errorf("secrets: %q is not a keyring reference", ref)
	}
	body := strings.TrimPrefix(ref, keyringPrefix)
	service, key, ok := strings.Cut(body, "/")
	if !ok || service == "" || key == "" {
		return "", "", fmt.Errorf("secrets: malformed keyring reference %q, want keyring:<service>/<key>", ref)
	}
	return service, key, nil
}

func (r *Resolver) get(service, key string) (string, error) {
	val, err := keyring.Get(service, key)
	if err == nil {
		return val, nil
	}
	if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("secrets: keyring get %s/%s: %w", service, key, err)
	}

	fallback, ferr := r.getFallback(service, key)
	if ferr == nil {
		return fallback, nil
	}
	if errors.Is(ferr, ErrNotFound) || errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: keyring %s/%s", ErrNotFound, service, key)
	}
	return "", ferr
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

type fallbackSecrets map[string]map[string]string

func (r *Resolver) getFallback(service, key string) (string, error) {
	if strings.TrimSpace(r.fallbackPath) == "" {
		return "", ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.readFallbackUnlocked()
	if err != nil {
		return "", err
	}
	val, ok := data[service][key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (r *Resolver) setFallback(service, key, value string) error {
	if strings.TrimSpace(r.fallbackPath) == "" {
		return fmt.Errorf("secrets: keyring unavailable and no fallback path configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.readFallbackUnlocked()
	if err != nil {
		return err
	}
	if data[service] == nil {
		data[service] = map[string]string{}
	}
	data[service][key] = value
	return r.writeFallbackUnlocked(data)
}

func (r *Resolver) deleteFallback(service, key string) error {
	if strings.TrimSpace(r.fallbackPath) == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.readFallbackUnlocked()
	if err != nil {
		return err
	}
	delete(data[service], key)
	return r.writeFallbackUnlocked(data)
}

func (r *Resolver) readFallbackUnlocked() (fallbackSecrets, error) {
	out := fallbackSecrets{}
	raw, err := os.ReadFile(r.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("secrets: read fallback file: %w", err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("secrets: decode fallback file: %w", err)
	}
	return out, nil
}

func (r *Resolver) writeFallbackUnlocked(data fallbackSecrets) error {
	if err := os.MkdirAll(filepath.Dir(r.fallbackPath), 0o700); err != nil {
		return fmt.Errorf("secrets: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("secrets: encode fallback file: %w", err)
	}
	if err := os.WriteFile(r.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("secrets: write fallback file: %w", err)
	}
	return nil
}

// Package keystore manages the vault encryption key.
//
// The key is a 256-bit random value generated on first use and stored in the
// operating system keychain (Keychain on macOS, Secret Service on Linux,
// Credential Manager on Windows). It never touches the vault files. Between
// calls the key is cached inside a memguard enclave, which keeps it encrypted
// in process memory and mlocked against swapping; callers receive a plain
// copy that they must wipe after the cryptographic call completes.
package keystore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/zalando/go-keyring"
)

// KeyLength is the vault key length in bytes (256 bits).
const KeyLength = 32

// Default keychain coordinates.
const (
	DefaultService = "credguard"
	DefaultAccount = "vault-key"
)

// ErrKeychainUnavailable indicates the OS keychain could not be reached.
var ErrKeychainUnavailable = errors.New("keystore: OS keychain unavailable")

// Store provides the vault key, creating it in the OS keychain on first use.
// Store is safe for concurrent use.
type Store struct {
	service string
	account string

	mu      sync.Mutex
	enclave *memguard.Enclave
}

// New creates a Store using the default keychain coordinates.
func New() *Store {
	return NewWithTarget(DefaultService, DefaultAccount)
}

// NewWithTarget creates a Store bound to an explicit keychain service/account
// pair. Used by tests and by multi-profile installations.
func NewWithTarget(service, account string) *Store {
	return &Store{service: service, account: account}
}

// Key returns a copy of the vault key, generating and persisting a new key if
// none exists yet. The caller must wipe the returned slice after use.
func (s *Store) Key() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enclave == nil {
		key, err := s.loadOrCreate()
		if err != nil {
			return nil, err
		}
		// NewEnclave wipes the input buffer after sealing it.
		s.enclave = memguard.NewEnclave(key)
	}

	locked, err := s.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to open key enclave: %w", err)
	}
	defer locked.Destroy()

	out := make([]byte, KeyLength)
	copy(out, locked.Bytes())
	return out, nil
}

// Reset deletes the key from the OS keychain and drops the cached enclave.
// All data sealed under the old key becomes unrecoverable.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = nil
	err := keyring.Delete(s.service, s.account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrKeychainUnavailable, err)
	}
	return nil
}

// Forget drops the in-memory enclave without touching the keychain entry.
// Called on backgrounding so the next operation re-fetches from the keychain.
func (s *Store) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
}

func (s *Store) loadOrCreate() ([]byte, error) {
	encoded, err := keyring.Get(s.service, s.account)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(encoded)
		if decErr != nil || len(key) != KeyLength {
			return nil, fmt.Errorf("keystore: stored key is malformed")
		}
		return key, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrKeychainUnavailable, err)
	}

	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("keystore: failed to generate key: %w", err)
	}
	if err := keyring.Set(s.service, s.account, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeychainUnavailable, err)
	}
	return key, nil
}

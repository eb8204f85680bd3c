// Package pin implements the secondary-factor PIN authenticator.
//
// The PIN is never stored; a salted, versioned key derivation of it is. The
// current scheme is PBKDF2-HMAC-SHA256. A weaker legacy scheme (salted
// SHA-256) is accepted for verification only and transparently re-derived
// under the current scheme on first successful match.
package pin

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/credguard/credguard/pkg/kvstore"
)

// KDF scheme versions.
const (
	// KDFLegacySHA256 is the verify-only legacy scheme: SHA-256(salt||pin).
	KDFLegacySHA256 = 1

	// KDFPBKDF2 is the current scheme: PBKDF2-HMAC-SHA256.
	KDFPBKDF2 = 2
)

// Derivation parameters.
const (
	SaltLength = 16
	HashLength = 32

	// DefaultIterations is the PBKDF2 iteration count for new writes.
	DefaultIterations = 120_000

	// MinIterations and MaxIterations clamp the stored iteration count on
	// read. Values outside the range indicate corruption or tampering, but
	// older installs with lower configured counts remain verifiable.
	MinIterations = 40_000
	MaxIterations = 500_000
)

// PIN format limits: 4 to 10 ASCII digits.
const (
	MinPINLength = 4
	MaxPINLength = 10
)

const recordName = "pin"

// Errors returned by the authenticator.
var (
	ErrInvalidFormat = errors.New("pin: must be 4-10 ASCII digits")
	ErrNotConfigured = errors.New("pin: no PIN configured")
)

// credential is the stored derivation record.
type credential struct {
	KDFVersion  int    `json:"kdf_version"`
	Iterations  int    `json:"iterations"`
	Salt        []byte `json:"salt"`
	DerivedHash []byte `json:"derived_hash"`
	UpdatedAtMs int64  `json:"updated_at_ms"`
}

// Authenticator verifies and manages the installation PIN.
type Authenticator struct {
	store *kvstore.Store
	now   func() time.Time
}

// New creates an Authenticator over the given record store.
func New(store *kvstore.Store) *Authenticator {
	return &Authenticator{store: store, now: time.Now}
}

// IsConfigured reports whether a PIN credential exists.
func (a *Authenticator) IsConfigured() bool {
	_, err := a.store.Get(recordName)
	return err == nil
}

// IsValidFormat reports whether pin is 4-10 ASCII digits.
func IsValidFormat(pin string) bool {
	if len(pin) < MinPINLength || len(pin) > MaxPINLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}

// Save derives and persists the PIN under the current scheme. Malformed PINs
// are rejected without touching stored state.
func (a *Authenticator) Save(pin string) error {
	if !IsValidFormat(pin) {
		return ErrInvalidFormat
	}
	return a.persist(pin)
}

// Verify checks the PIN against the stored credential using a constant-time
// comparison. A successful match against the legacy scheme re-derives and
// persists the credential under the current scheme before returning.
func (a *Authenticator) Verify(pin string) (bool, error) {
	cred, err := a.load()
	if err != nil {
		return false, err
	}

	matched, shouldMigrate := verifyStored(pin, cred)
	if !matched {
		return false, nil
	}
	if shouldMigrate {
		if err := a.persist(pin); err != nil {
			return false, fmt.Errorf("pin: migration failed: %w", err)
		}
	}
	return true, nil
}

// Clear removes the stored PIN credential.
func (a *Authenticator) Clear() error {
	return a.store.Delete(recordName)
}

// verifyStored dispatches derivation by the stored scheme version and returns
// whether the PIN matched and whether the credential should be rewritten
// under the current scheme. Verification itself has no side effects.
func verifyStored(pin string, cred *credential) (matched, shouldMigrate bool) {
	var derived []byte
	switch cred.KDFVersion {
	case KDFLegacySHA256:
		h := sha256.New()
		h.Write(cred.Salt)
		h.Write([]byte(pin))
		derived = h.Sum(nil)
		shouldMigrate = true
	case KDFPBKDF2:
		iterations := clampIterations(cred.Iterations)
		derived = pbkdf2.Key([]byte(pin), cred.Salt, iterations, HashLength, sha256.New)
	default:
		return false, false
	}

	matched = subtle.ConstantTimeCompare(derived, cred.DerivedHash) == 1
	if !matched {
		shouldMigrate = false
	}
	return matched, shouldMigrate
}

func clampIterations(n int) int {
	if n < MinIterations {
		return MinIterations
	}
	if n > MaxIterations {
		return MaxIterations
	}
	return n
}

func (a *Authenticator) persist(pin string) error {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("pin: failed to generate salt: %w", err)
	}

	cred := credential{
		KDFVersion:  KDFPBKDF2,
		Iterations:  DefaultIterations,
		Salt:        salt,
		DerivedHash: pbkdf2.Key([]byte(pin), salt, DefaultIterations, HashLength, sha256.New),
		UpdatedAtMs: a.now().UnixMilli(),
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("pin: failed to marshal credential: %w", err)
	}
	return a.store.Put(recordName, data)
}

func (a *Authenticator) load() (*credential, error) {
	data, err := a.store.Get(recordName)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, err
	}

	var cred credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("pin: stored credential is malformed: %w", err)
	}
	return &cred, nil
}

// Package envelope implements the authenticated encryption envelope used for
// everything credguard persists as a secret.
//
// An envelope is a self-describing byte layout:
//
//	[4-byte big-endian nonce length][nonce][ciphertext||tag]
//
// Encryption is AES-256-GCM with a fresh random 96-bit nonce per call and a
// 128-bit authentication tag. The key is never owned by this package: it is
// fetched from a KeyProvider for the duration of a single call and wiped
// before returning.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
)

const (
	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// MaxNonceLength is the largest nonce length Open accepts from an
	// envelope header. Anything above this is a malformed envelope.
	MaxNonceLength = 32

	// headerLength is the size of the nonce-length prefix.
	headerLength = 4
)

// Sentinel errors returned by envelope operations.
var (
	// ErrIntegrity indicates the authentication tag did not verify.
	// The payload is discarded; there is no partial plaintext.
	ErrIntegrity = errors.New("envelope: authentication tag verification failed")

	// ErrFormat indicates a malformed envelope: truncated buffer or a
	// declared nonce length outside (0, 32] bytes.
	ErrFormat = errors.New("envelope: malformed envelope")

	// ErrInvalidKeyLength indicates the provided key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("envelope: invalid key length, must be 32 bytes")
)

// KeyProvider supplies the symmetric key for seal/open calls. Implementations
// return a fresh copy on every call; the sealer wipes it before returning.
type KeyProvider interface {
	Key() ([]byte, error)
}

// Sealer seals and opens envelopes with a key from the given provider.
// A Sealer is safe for concurrent use when its KeyProvider is.
type Sealer struct {
	keys KeyProvider
}

// NewSealer creates a Sealer backed by the given key provider.
func NewSealer(keys KeyProvider) *Sealer {
	return &Sealer{keys: keys}
}

// Seal encrypts plaintext into an envelope.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	key, err := s.keys.Key()
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to obtain key: %w", err)
	}
	defer Wipe(key)

	return SealWithKey(key, plaintext)
}

// Open decrypts an envelope back into plaintext.
func (s *Sealer) Open(env []byte) ([]byte, error) {
	key, err := s.keys.Key()
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to obtain key: %w", err)
	}
	defer Wipe(key)

	return OpenWithKey(key, env)
}

// SealWithKey encrypts plaintext into an envelope using an explicit key.
func SealWithKey(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("envelope: failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	env := make([]byte, headerLength+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint32(env[:headerLength], uint32(len(nonce)))
	copy(env[headerLength:], nonce)
	copy(env[headerLength+len(nonce):], ciphertext)
	return env, nil
}

// OpenWithKey decrypts an envelope using an explicit key.
func OpenWithKey(key, env []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(env) < headerLength {
		return nil, ErrFormat
	}
	nonceLen := binary.BigEndian.Uint32(env[:headerLength])
	if nonceLen == 0 || nonceLen > MaxNonceLength {
		return nil, ErrFormat
	}
	if uint32(len(env)-headerLength) < nonceLen {
		return nil, ErrFormat
	}

	nonce := env[headerLength : headerLength+int(nonceLen)]
	ciphertext := env[headerLength+int(nonceLen):]
	if int(nonceLen) != gcm.NonceSize() {
		return nil, ErrFormat
	}
	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrFormat
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Wipe overwrites a byte slice with zeros in a way that prevents the compiler
// from optimizing the writes away. Used to destroy key material after a call.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

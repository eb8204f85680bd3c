// Package export writes and reads encrypted vault export files.
//
// Layout: magic, big-endian header length, JSON header, big-endian payload
// length, sealed payload, trailing HMAC-SHA256 over header and payload. The
// encryption and MAC keys are derived independently from the vault key via
// HKDF, so tampering with either the header or the payload fails closed.
package export

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/credguard/credguard/pkg/envelope"
	"github.com/credguard/credguard/pkg/vault"
)

// Magic identifies an export file: "CGRD_EXP".
var Magic = [8]byte{'C', 'G', 'R', 'D', '_', 'E', 'X', 'P'}

// FormatVersion is the current export format version.
const FormatVersion = 1

const (
	hkdfInfoEncryption = "credguard-export-encryption"
	hkdfInfoMAC        = "credguard-export-mac"

	maxHeaderLen  = 1024 * 1024
	maxPayloadLen = 64 * 1024 * 1024
)

// Errors returned by Read.
var (
	ErrInvalidMagic       = errors.New("export: not an export file")
	ErrUnsupportedVersion = errors.New("export: unsupported format version")
	ErrMACMismatch        = errors.New("export: HMAC verification failed, file may be tampered")
)

// Header carries export metadata outside the sealed payload.
type Header struct {
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	RecordCount int       `json:"record_count"`
}

type payload struct {
	Records []vault.CredentialRecord `json:"records"`
}

// Write serializes records to w, sealed under keys derived from vaultKey.
func Write(w io.Writer, records []vault.CredentialRecord, vaultKey []byte) error {
	encKey, macKey, err := deriveKeys(vaultKey)
	if err != nil {
		return err
	}
	defer envelope.Wipe(encKey)
	defer envelope.Wipe(macKey)

	headerJSON, err := json.Marshal(Header{
		Version:     FormatVersion,
		CreatedAt:   time.Now().UTC(),
		RecordCount: len(records),
	})
	if err != nil {
		return fmt.Errorf("export: failed to marshal header: %w", err)
	}

	plaintext, err := json.Marshal(payload{Records: records})
	if err != nil {
		return fmt.Errorf("export: failed to marshal payload: %w", err)
	}
	defer envelope.Wipe(plaintext)

	sealed, err := envelope.SealWithKey(encKey, plaintext)
	if err != nil {
		return fmt.Errorf("export: failed to seal payload: %w", err)
	}

	if _, err := w.Write(Magic[:]); err != nil {
		return fmt.Errorf("export: failed to write magic: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("export: failed to write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("export: failed to write header: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(sealed))); err != nil {
		return fmt.Errorf("export: failed to write payload length: %w", err)
	}
	if _, err := w.Write(sealed); err != nil {
		return fmt.Errorf("export: failed to write payload: %w", err)
	}

	mac := computeMAC(headerJSON, sealed, macKey)
	if _, err := w.Write(mac); err != nil {
		return fmt.Errorf("export: failed to write HMAC: %w", err)
	}
	return nil
}

// Read parses an export file, verifying the trailing HMAC before any
// decryption, and returns the header and records.
func Read(r io.Reader, vaultKey []byte) (*Header, []vault.CredentialRecord, error) {
	encKey, macKey, err := deriveKeys(vaultKey)
	if err != nil {
		return nil, nil, err
	}
	defer envelope.Wipe(encKey)
	defer envelope.Wipe(macKey)

	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, nil, fmt.Errorf("export: failed to read magic: %w", err)
	}
	if magic != Magic {
		return nil, nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, nil, fmt.Errorf("export: failed to read header length: %w", err)
	}
	if headerLen > maxHeaderLen {
		return nil, nil, fmt.Errorf("export: header too large: %d bytes", headerLen)
	}
	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, nil, fmt.Errorf("export: failed to read header: %w", err)
	}

	var payloadLen uint32
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return nil, nil, fmt.Errorf("export: failed to read payload length: %w", err)
	}
	if payloadLen > maxPayloadLen {
		return nil, nil, fmt.Errorf("export: payload too large: %d bytes", payloadLen)
	}
	sealed := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, sealed); err != nil {
		return nil, nil, fmt.Errorf("export: failed to read payload: %w", err)
	}

	storedMAC := make([]byte, sha256.Size)
	if _, err := io.ReadFull(r, storedMAC); err != nil {
		return nil, nil, fmt.Errorf("export: failed to read HMAC: %w", err)
	}
	if !hmac.Equal(storedMAC, computeMAC(headerJSON, sealed, macKey)) {
		return nil, nil, ErrMACMismatch
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, nil, fmt.Errorf("export: failed to unmarshal header: %w", err)
	}
	if header.Version > FormatVersion {
		return nil, nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}

	plaintext, err := envelope.OpenWithKey(encKey, sealed)
	if err != nil {
		return nil, nil, fmt.Errorf("export: failed to open payload: %w", err)
	}
	defer envelope.Wipe(plaintext)

	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, nil, fmt.Errorf("export: failed to unmarshal payload: %w", err)
	}
	return &header, p.Records, nil
}

// deriveKeys splits the vault key into independent encryption and MAC keys.
func deriveKeys(vaultKey []byte) (encKey, macKey []byte, err error) {
	encKey, err = deriveHKDF(vaultKey, []byte(hkdfInfoEncryption))
	if err != nil {
		return nil, nil, err
	}
	macKey, err = deriveHKDF(vaultKey, []byte(hkdfInfoMAC))
	if err != nil {
		envelope.Wipe(encKey)
		return nil, nil, err
	}
	return encKey, macKey, nil
}

func deriveHKDF(secret, info []byte) ([]byte, error) {
	key := make([]byte, envelope.KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key); err != nil {
		return nil, fmt.Errorf("export: failed to derive key: %w", err)
	}
	return key, nil
}

func computeMAC(headerJSON, sealed, macKey []byte) []byte {
	h := hmac.New(sha256.New, macKey)
	h.Write(headerJSON)
	h.Write(sealed)
	return h.Sum(nil)
}

// Package vault stores credential records in a single encrypted blob and
// owns the two-phase password rotation state machine.
//
// Every mutation is a read-decrypt-modify-encrypt-write cycle over the whole
// collection, serialized by one mutex. There is no per-record storage.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/credguard/credguard/pkg/envelope"
)

// BlobFileName is the encrypted vault file inside the data directory.
const BlobFileName = "vault.enc"

// blobVersion is the current serialized blob schema version.
const blobVersion = 1

// MinDiskSpaceBytes is the free-space floor enforced before blob writes.
const MinDiskSpaceBytes = 10 * 1024 * 1024

// Errors returned by the store.
var (
	// ErrVaultCorrupted marks a blob that exists but cannot be decrypted or
	// parsed. Distinct from absence: a fresh install has no file and loads
	// as an empty collection without error.
	ErrVaultCorrupted = errors.New("vault: vault blob is corrupted")

	// ErrRecordNotFound marks an id- or identity-based lookup miss on a
	// mutation that requires an existing record.
	ErrRecordNotFound = errors.New("vault: record not found")

	// ErrInsufficientDisk blocks writes when free space is below the floor.
	ErrInsufficientDisk = errors.New("vault: insufficient disk space")
)

// blob is the serialized whole-vault structure inside the envelope.
type blob struct {
	Version   int                `json:"version"`
	UpdatedAt int64              `json:"updated_at_ms"`
	Records   []CredentialRecord `json:"records"`
}

// Store is the encrypted credential record store. Safe for concurrent use:
// one mutex serializes every mutation against the single blob.
type Store struct {
	path   string
	sealer *envelope.Sealer
	mu     sync.Mutex
	now    func() time.Time
}

// NewStore creates a Store over the blob file in dir, sealed with the given
// sealer.
func NewStore(dir string, sealer *envelope.Sealer) *Store {
	return &Store{
		path:   filepath.Join(dir, BlobFileName),
		sealer: sealer,
		now:    time.Now,
	}
}

// LoadRecords decrypts and returns all records. An absent blob is a normal
// first-run state and yields an empty list with no error. A blob that exists
// but fails to decrypt or parse yields an empty list and ErrVaultCorrupted.
func (s *Store) LoadRecords() ([]CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// FindByIdentity returns the record for the normalized (service, username)
// identity, or nil when none exists.
func (s *Store) FindByIdentity(service, username string) (*CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].matchesIdentity(service, username) {
			r := records[i]
			return &r, nil
		}
	}
	return nil, nil
}

// SaveCurrent creates or updates the record for (service, username), setting
// its current password and appending a saved_current history entry. An
// existing record keeps its history and any outstanding pending password; a
// stale pending rotation is abandoned only by a fresh PrepareRotation or by
// ConfirmRotation, never silently here.
func (s *Store) SaveCurrent(owner, category, service, username, url, password string) (*CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}

	nowMs := s.now().UnixMilli()
	id := RecordID(owner, service, username)

	idx := findIdentity(records, service, username)
	if idx < 0 {
		rec := CredentialRecord{
			RecordID:        id,
			Owner:           owner,
			Category:        category,
			Service:         service,
			Username:        username,
			URL:             url,
			CurrentPassword: password,
			UpdatedAt:       nowMs,
		}
		rec.appendHistory(password, LabelSavedCurrent, nowMs)
		records = append(records, rec)
		if err := s.save(records); err != nil {
			return nil, err
		}
		return &rec, nil
	}

	// Identity match wins over any caller-supplied id: the existing record
	// is updated in place, never duplicated.
	rec := &records[idx]
	rec.RecordID = id
	rec.Owner = owner
	rec.Category = category
	rec.URL = url
	rec.CurrentPassword = password
	rec.UpdatedAt = nowMs
	rec.appendHistory(password, LabelSavedCurrent, nowMs)

	if err := s.save(records); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

// PrepareRotation stages a new password without discarding the old one: the
// current password stays live and usable, the next password is parked in
// PendingPassword until ConfirmRotation promotes it. Both values land in the
// history (saved_current for the old, generated_for_rotation for the new).
func (s *Store) PrepareRotation(owner, category, service, username, url, currentPassword, nextPassword string) (*CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}

	nowMs := s.now().UnixMilli()
	id := RecordID(owner, service, username)

	idx := findIdentity(records, service, username)
	if idx < 0 {
		records = append(records, CredentialRecord{RecordID: id})
		idx = len(records) - 1
	}

	rec := &records[idx]
	rec.RecordID = id
	rec.Owner = owner
	rec.Category = category
	rec.Service = service
	rec.Username = username
	rec.URL = url
	rec.CurrentPassword = currentPassword
	rec.PendingPassword = nextPassword
	rec.UpdatedAt = nowMs
	rec.appendHistory(currentPassword, LabelSavedCurrent, nowMs)
	rec.appendHistory(nextPassword, LabelGeneratedForRotation, nowMs)

	if err := s.save(records); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

// ConfirmRotation promotes the pending password to current, clears the
// pending slot, and resets the breach flag (a fresh password is presumed
// clean until re-checked). Returns nil when the record has no pending
// password or does not exist.
func (s *Store) ConfirmRotation(service, username string) (*CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}

	idx := findIdentity(records, service, username)
	if idx < 0 {
		return nil, nil
	}
	rec := &records[idx]
	if rec.PendingPassword == "" {
		return nil, nil
	}

	nowMs := s.now().UnixMilli()
	rec.CurrentPassword = rec.PendingPassword
	rec.PendingPassword = ""
	rec.Compromised = false
	rec.BreachCount = 0
	rec.UpdatedAt = nowMs
	rec.appendHistory(rec.CurrentPassword, LabelRotationConfirmed, nowMs)

	if err := s.save(records); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

// UpdateBreachStatus stores the breach-check result for a record. A pure
// cache write: password, history, and UpdatedAt are untouched.
func (s *Store) UpdateBreachStatus(recordID string, count int, checkedAtMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	for i := range records {
		if records[i].RecordID != recordID {
			continue
		}
		records[i].BreachCount = count
		records[i].Compromised = count > 0
		records[i].LastCheckedAt = checkedAtMs
		return s.save(records)
	}
	return ErrRecordNotFound
}

// DeleteByIdentity removes the record for (service, username). Returns false
// when no record holds that identity.
func (s *Store) DeleteByIdentity(service, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return false, err
	}

	idx := findIdentity(records, service, username)
	if idx < 0 {
		return false, nil
	}
	records = append(records[:idx], records[idx+1:]...)
	if err := s.save(records); err != nil {
		return false, err
	}
	return true, nil
}

// ExportRecords returns a snapshot copy of every record for the export
// writer. The caller is expected to have passed the guarded-approval gate.
func (s *Store) ExportRecords() ([]CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]CredentialRecord, len(records))
	copy(out, records)
	return out, nil
}

func findIdentity(records []CredentialRecord, service, username string) int {
	for i := range records {
		if records[i].matchesIdentity(service, username) {
			return i
		}
	}
	return -1
}

// load is the decrypt half of the read-modify-write cycle. Callers must hold
// the mutex.
func (s *Store) load() ([]CredentialRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("vault: failed to read blob: %w", err)
	}

	plaintext, err := s.sealer.Open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}
	defer envelope.Wipe(plaintext)

	var b blob
	if err := json.Unmarshal(plaintext, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}
	return b.Records, nil
}

// save is the encrypt half of the read-modify-write cycle. Callers must hold
// the mutex.
func (s *Store) save(records []CredentialRecord) error {
	plaintext, err := json.Marshal(blob{
		Version:   blobVersion,
		UpdatedAt: s.now().UnixMilli(),
		Records:   records,
	})
	if err != nil {
		return fmt.Errorf("vault: failed to marshal blob: %w", err)
	}
	defer envelope.Wipe(plaintext)

	sealed, err := s.sealer.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("vault: failed to seal blob: %w", err)
	}

	if err := s.checkDiskSpaceForWrite(len(sealed)); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("vault: failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".vault-*.tmp")
	if err != nil {
		return fmt.Errorf("vault: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: failed to chmod temp file: %w", err)
	}
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("vault: failed to replace blob: %w", err)
	}
	return nil
}

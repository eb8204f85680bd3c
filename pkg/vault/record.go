package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// History labels.
const (
	LabelSavedCurrent         = "saved_current"
	LabelGeneratedForRotation = "generated_for_rotation"
	LabelRotationConfirmed    = "rotation_confirmed"
)

// HistoryCap is the maximum number of retained history entries per record.
const HistoryCap = 20

// recordIDLength is the hex-truncated length of a record identifier.
const recordIDLength = 24

// HistoryEntry is one past password value, oldest entries first.
type HistoryEntry struct {
	Password string `json:"password"`
	Label    string `json:"label"`
	At       int64  `json:"at_ms"`
}

// CredentialRecord is one (service, username) credential with its rotation
// state and breach-check cache.
type CredentialRecord struct {
	RecordID        string         `json:"record_id"`
	Owner           string         `json:"owner"`
	Category        string         `json:"category"`
	Service         string         `json:"service"`
	Username        string         `json:"username"`
	URL             string         `json:"url"`
	CurrentPassword string         `json:"current_password"`
	PendingPassword string         `json:"pending_password,omitempty"`
	History         []HistoryEntry `json:"history,omitempty"`
	Compromised     bool           `json:"compromised"`
	BreachCount     int            `json:"breach_count"`
	LastCheckedAt   int64          `json:"last_checked_at_ms,omitempty"`
	UpdatedAt       int64          `json:"updated_at_ms"`
}

// NormalizeIdentity canonicalizes a service or username for identity
// matching: trim, collapse inner whitespace runs to one space, lowercase,
// NFC-normalize.
func NormalizeIdentity(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ToLower(s)
	return norm.NFC.String(s)
}

// RecordID derives the deterministic record identifier from the owner key
// and the normalized identity. Same identity, same id, regardless of the
// casing or whitespace the caller used.
func RecordID(ownerKey, service, username string) string {
	input := ownerKey + "|" + NormalizeIdentity(service) + "|" + NormalizeIdentity(username)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:recordIDLength]
}

// matchesIdentity reports whether the record holds the given identity.
func (r *CredentialRecord) matchesIdentity(service, username string) bool {
	return NormalizeIdentity(r.Service) == NormalizeIdentity(service) &&
		NormalizeIdentity(r.Username) == NormalizeIdentity(username)
}

// appendHistory adds a password to the record's history. A blank password is
// dropped. If the newest entry already holds the same password, its label and
// timestamp are refreshed instead of appending a duplicate. The history keeps
// at most HistoryCap entries, oldest evicted first.
func (r *CredentialRecord) appendHistory(password, label string, atMs int64) {
	if password == "" {
		return
	}
	if n := len(r.History); n > 0 && r.History[n-1].Password == password {
		r.History[n-1].Label = label
		r.History[n-1].At = atMs
		return
	}
	r.History = append(r.History, HistoryEntry{Password: password, Label: label, At: atMs})
	if len(r.History) > HistoryCap {
		r.History = r.History[len(r.History)-HistoryCap:]
	}
}

// LatestDistinctPreviousPassword walks the history newest to oldest, skipping
// blanks, and returns the first value that differs from the current password.
// Returns "" when no distinct previous password exists.
func LatestDistinctPreviousPassword(r *CredentialRecord) string {
	for i := len(r.History) - 1; i >= 0; i-- {
		p := r.History[i].Password
		if p == "" {
			continue
		}
		if p != r.CurrentPassword {
			return p
		}
	}
	return ""
}

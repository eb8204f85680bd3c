// Package token issues the short-lived capability tokens that waive repeated
// approval prompts for guarded actions.
//
// Tokens are advisory proofs, not signed credentials: the record store they
// live in is protected by the OS sandbox, and the only thing a token buys is
// skipping a re-prompt within its TTL window.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/credguard/credguard/pkg/kvstore"
)

// TTL bounds in seconds. Requested TTLs are clamped into this range.
const (
	MinTTLSeconds = 30
	MaxTTLSeconds = 900
)

const recordPrefix = "captoken/"

// Token is a time-boxed approval for one action code.
type Token struct {
	ActionCode string    `json:"action_code"`
	ReasonCode string    `json:"reason_code"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Issuer manages one token per action code. Safe for concurrent use; the
// backing store serializes access.
type Issuer struct {
	store *kvstore.Store
	now   func() time.Time
}

// NewIssuer creates an Issuer over the given record store.
func NewIssuer(store *kvstore.Store) *Issuer {
	return &Issuer{store: store, now: time.Now}
}

// Issue creates (or replaces) the token for actionCode with the given TTL.
// The TTL is clamped to [MinTTLSeconds, MaxTTLSeconds].
func (i *Issuer) Issue(actionCode, reasonCode string, ttlSeconds int) (*Token, error) {
	if actionCode == "" {
		return nil, errors.New("token: action code must not be empty")
	}
	if ttlSeconds < MinTTLSeconds {
		ttlSeconds = MinTTLSeconds
	}
	if ttlSeconds > MaxTTLSeconds {
		ttlSeconds = MaxTTLSeconds
	}

	now := i.now()
	tok := &Token{
		ActionCode: actionCode,
		ReasonCode: reasonCode,
		IssuedAt:   now,
		ExpiresAt:  now.Add(time.Duration(ttlSeconds) * time.Second),
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return nil, fmt.Errorf("token: failed to marshal token: %w", err)
	}
	if err := i.store.Put(recordPrefix+actionCode, data); err != nil {
		return nil, err
	}
	return tok, nil
}

// ReadValid returns the stored token for actionCode if it has not expired.
// An expired token is evicted and nil is returned. Reading never renews.
func (i *Issuer) ReadValid(actionCode string) (*Token, error) {
	data, err := i.store.Get(recordPrefix + actionCode)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		// A malformed token record is treated as absent and evicted.
		_ = i.store.Delete(recordPrefix + actionCode)
		return nil, nil
	}

	if !i.now().Before(tok.ExpiresAt) {
		if err := i.store.Delete(recordPrefix + actionCode); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &tok, nil
}

// Clear removes the token for actionCode, if any.
func (i *Issuer) Clear(actionCode string) error {
	return i.store.Delete(recordPrefix + actionCode)
}

// ClearAll removes every stored capability token and returns how many were
// cleared. Called on backgrounding.
func (i *Issuer) ClearAll() (int, error) {
	return i.store.DeletePrefix(recordPrefix)
}

// ActionCodes returns the action codes with a stored (possibly expired)
// token, for housekeeping and status display.
func (i *Issuer) ActionCodes() ([]string, error) {
	names, err := i.store.ListPrefix(recordPrefix)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(names))
	for _, name := range names {
		codes = append(codes, strings.TrimPrefix(name, recordPrefix))
	}
	return codes, nil
}

// Package audit records approval decisions and credential lifecycle events
// to an append-only JSONL log with an HMAC chain for tamper detection.
package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// MinDiskSpace is the minimum free space required before appending.
const MinDiskSpace = 1024 * 1024

// Event codes.
const (
	OpApprovalApproved       = "approval.approved"
	OpApprovalApprovedCached = "approval.approved_cached"
	OpApprovalDenied         = "approval.denied"
	OpApprovalDismissed      = "approval.dismissed"
	OpCredentialLink         = "credential.link"
	OpCredentialUnlink       = "credential.unlink"
	OpSessionUnlock          = "session.unlock"
	OpSessionLock            = "session.lock"
)

// ErrKeyNotSet indicates the logger was used before SetKey.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single audit record. The Sequence/PrevHash/HMAC triple chains
// each record to its predecessor.
type Event struct {
	Version    int    `json:"v"`
	ID         string `json:"id"`
	Timestamp  string `json:"ts"`
	Operation  string `json:"op"`
	ActionCode string `json:"action_code,omitempty"`
	ReasonCode string `json:"reason_code,omitempty"`
	Result     string `json:"result"`
	Sequence   int64  `json:"seq"`
	PrevHash   string `json:"prev"`
	HMAC       string `json:"hmac"`
}

// Result values.
const (
	ResultSuccess = "success"
	ResultDenied  = "denied"
)

// Logger appends chained events to monthly JSONL files under its directory.
type Logger struct {
	dir      string
	hmacKey  []byte
	keySet   bool
	mu       sync.Mutex
	sequence int64
	prevHash string
	now      func() time.Time
}

// NewLogger creates a Logger writing under dir. SetKey must be called before
// the first append.
func NewLogger(dir string) *Logger {
	return &Logger{
		dir:      dir,
		prevHash: "genesis",
		now:      time.Now,
	}
}

// SetKey derives the chain HMAC key from the vault master key via
// HKDF-SHA256 and restores the persisted chain position.
func (l *Logger) SetKey(masterKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := hkdf.New(sha256.New, masterKey, nil, []byte("audit-log-v1"))
	l.hmacKey = make([]byte, 32)
	if _, err := r.Read(l.hmacKey); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.keySet = true

	if err := l.loadChainState(); err != nil {
		// First run or lost meta file: restart the chain.
		l.sequence = 0
		l.prevHash = "genesis"
	}
	return nil
}

// Append records one event. actionCode and reasonCode may be empty for
// events that carry neither.
func (l *Logger) Append(op, result, actionCode, reasonCode string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.keySet {
		return ErrKeyNotSet
	}
	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	now := l.now().UTC()
	ev := Event{
		Version:    1,
		ID:         generateEventID(now),
		Timestamp:  now.Format(time.RFC3339Nano),
		Operation:  op,
		ActionCode: actionCode,
		ReasonCode: reasonCode,
		Result:     result,
	}

	l.sequence++
	ev.Sequence = l.sequence
	ev.PrevHash = l.prevHash
	ev.HMAC = l.eventHMAC(&ev)
	l.prevHash = ev.HMAC

	if err := l.writeEvent(now, &ev); err != nil {
		return err
	}
	return l.saveChainState()
}

// Approved records an approval grant; cached marks grants satisfied by a
// still-valid capability token rather than a fresh prompt.
func (l *Logger) Approved(actionCode, reasonCode string, cached bool) error {
	op := OpApprovalApproved
	if cached {
		op = OpApprovalApprovedCached
	}
	return l.Append(op, ResultSuccess, actionCode, reasonCode)
}

// Denied records an explicit approval refusal.
func (l *Logger) Denied(actionCode, reasonCode string) error {
	return l.Append(OpApprovalDenied, ResultDenied, actionCode, reasonCode)
}

// Dismissed records an approval prompt abandoned without a decision.
func (l *Logger) Dismissed(actionCode string) error {
	return l.Append(OpApprovalDismissed, ResultDenied, actionCode, "")
}

func (l *Logger) eventHMAC(ev *Event) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%d|%s",
		ev.Version,
		ev.ID,
		ev.Timestamp,
		ev.Operation,
		ev.ActionCode,
		ev.ReasonCode,
		ev.Result,
		ev.Sequence,
		ev.PrevHash,
	)
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Logger) writeEvent(now time.Time, ev *Event) error {
	name := now.Format("2006-01") + ".jsonl"
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.dir, "audit.meta"))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, "audit.meta"), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult reports the outcome of a chain verification pass.
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	RecordsTotal int      `json:"records_total"`
	Errors       []string `json:"errors,omitempty"`
}

// Verify replays every log file in chronological order and checks the
// sequence, the prev-hash chain, and each record's HMAC.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.keySet {
		return nil, ErrKeyNotSet
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM names sort chronologically.
	sort.Strings(files)

	result := &VerifyResult{Valid: true}
	expectedPrev := "genesis"
	var expectedSeq int64 = 1

	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		for i := range events {
			ev := &events[i]
			result.RecordsTotal++

			if ev.Sequence != expectedSeq {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"sequence gap at record %s: expected %d, got %d", ev.ID, expectedSeq, ev.Sequence))
			}
			if ev.PrevHash != expectedPrev {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"chain broken at record %s", ev.ID))
			}

			storedHMAC := ev.HMAC
			if l.eventHMAC(ev) != storedHMAC {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"HMAC mismatch at record %s: possible tampering", ev.ID))
			}

			expectedPrev = storedHMAC
			expectedSeq++
		}
	}
	return result, nil
}

// ListEvents returns up to limit most recent events across all log files.
// limit <= 0 returns everything.
func (l *Logger) ListEvents(limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	sort.Strings(files)

	var events []Event
	for _, file := range files {
		evs, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		events = append(events, evs...)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// generateEventID builds a time-sortable unique identifier: 48 bits of
// millisecond timestamp followed by 80 random bits, hex encoded.
func generateEventID(now time.Time) string {
	ts := now.UnixMilli()
	buf := make([]byte, 16)
	for i := 5; i >= 0; i-- {
		buf[i] = byte(ts & 0xFF)
		ts >>= 8
	}
	if _, err := rand.Read(buf[6:]); err != nil {
		return fmt.Sprintf("%d", now.UnixNano())
	}
	return hex.EncodeToString(buf)
}

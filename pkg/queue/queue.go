// Package queue persists maintenance actions (rotation follow-ups and the
// like) in a single JSON file rewritten as a whole on every mutation.
//
// Actions are not secret: the file stores service and username but never a
// password. The whole-file rewrite mirrors the vault blob discipline, with a
// mutex serializing all mutations.
package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the queue file inside the data directory.
const FileName = "action_queue.json"

// Action statuses. StatusCompleted is terminal.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

// ErrInvalidStatus indicates an unknown status value.
var ErrInvalidStatus = errors.New("queue: invalid status")

// Action is one maintenance action and its lifecycle timestamps.
type Action struct {
	ActionID    string `json:"action_id"`
	Service     string `json:"service"`
	Username    string `json:"username"`
	Status      string `json:"status"`
	ReceiptID   string `json:"receipt_id,omitempty"`
	CreatedAt   int64  `json:"created_at_ms"`
	UpdatedAt   int64  `json:"updated_at_ms"`
	CompletedAt int64  `json:"completed_at_ms,omitempty"`
}

// Store owns the queue file. Safe for concurrent use.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewStore creates a Store over the queue file in dir.
func NewStore(dir string) *Store {
	return &Store{
		path: filepath.Join(dir, FileName),
		now:  time.Now,
	}
}

// LoadQueue returns all actions. An absent file is an empty queue; a
// malformed file also degrades to empty rather than blocking housekeeping.
func (s *Store) LoadQueue() ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Append adds a new action. If an action with the same id exists and is not
// completed the append is rejected (returns false); a completed action with
// the same id is replaced by the fresh one.
func (s *Store) Append(actionID, service, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions, err := s.load()
	if err != nil {
		return false, err
	}

	nowMs := s.now().UnixMilli()
	fresh := Action{
		ActionID:  actionID,
		Service:   service,
		Username:  username,
		Status:    StatusQueued,
		CreatedAt: nowMs,
		UpdatedAt: nowMs,
	}

	for i := range actions {
		if actions[i].ActionID != actionID {
			continue
		}
		if actions[i].Status != StatusCompleted {
			return false, nil
		}
		actions[i] = fresh
		return true, s.save(actions)
	}

	actions = append(actions, fresh)
	return true, s.save(actions)
}

// UpdateStatus moves an action to status. Returns false if the action does
// not exist or is already completed.
func (s *Store) UpdateStatus(actionID, status string) (bool, error) {
	switch status {
	case StatusQueued, StatusInProgress, StatusCompleted, StatusFailed, StatusSkipped:
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	actions, err := s.load()
	if err != nil {
		return false, err
	}

	for i := range actions {
		if actions[i].ActionID != actionID {
			continue
		}
		if actions[i].Status == StatusCompleted {
			return false, nil
		}
		actions[i].Status = status
		actions[i].UpdatedAt = s.now().UnixMilli()
		return true, s.save(actions)
	}
	return false, nil
}

// CompleteWithReceipt marks an action completed and issues its receipt.
// Idempotent: an already-completed action keeps its original receipt. The
// receipt id is derived from the action id and the completion time, so a
// re-derivation from the stored record yields the same value.
func (s *Store) CompleteWithReceipt(actionID string) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions, err := s.load()
	if err != nil {
		return nil, err
	}

	for i := range actions {
		if actions[i].ActionID != actionID {
			continue
		}
		if actions[i].Status == StatusCompleted && actions[i].ReceiptID != "" {
			a := actions[i]
			return &a, nil
		}

		nowMs := s.now().UnixMilli()
		actions[i].Status = StatusCompleted
		actions[i].CompletedAt = nowMs
		actions[i].UpdatedAt = nowMs
		actions[i].ReceiptID = receiptID(actionID, nowMs)
		if err := s.save(actions); err != nil {
			return nil, err
		}
		a := actions[i]
		return &a, nil
	}
	return nil, nil
}

func receiptID(actionID string, completedAtMs int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", actionID, completedAtMs)))
	return "rcpt-" + hex.EncodeToString(sum[:])[:16]
}

type queueFile struct {
	Version int      `json:"version"`
	Actions []Action `json:"actions"`
}

func (s *Store) load() ([]Action, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: failed to read queue file: %w", err)
	}

	var f queueFile
	if err := json.Unmarshal(data, &f); err != nil {
		fmt.Fprintf(os.Stderr, "warning: queue file malformed, treating as empty: %v\n", err)
		return nil, nil
	}
	return f.Actions, nil
}

// save rewrites the whole queue atomically: temp file in the same directory,
// then rename over the original.
func (s *Store) save(actions []Action) error {
	data, err := json.MarshalIndent(queueFile{Version: 1, Actions: actions}, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: failed to marshal queue: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("queue: failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".queue-*.tmp")
	if err != nil {
		return fmt.Errorf("queue: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("queue: failed to chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("queue: failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("queue: failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("queue: failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("queue: failed to replace queue file: %w", err)
	}
	return nil
}

package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/credguard/credguard/pkg/envelope"
	"github.com/credguard/credguard/pkg/queue"
	"github.com/credguard/credguard/pkg/vault"
)

type staticKeys struct{ key []byte }

func (s *staticKeys) Key() ([]byte, error) {
	out := make([]byte, len(s.key))
	copy(out, s.key)
	return out, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	sealer := envelope.NewSealer(&staticKeys{key: make([]byte, envelope.KeyLength)})
	return &Server{
		vault: vault.NewStore(dir, sealer),
		queue: queue.NewStore(dir),
	}
}

func TestCredentialListNeverLeaksPasswords(t *testing.T) {
	s := newTestServer(t)
	secret := "Sup3r-Secret-Pass!"
	if _, err := s.vault.SaveCurrent("owner-1", "finance", "example.com", "alice", "", secret); err != nil {
		t.Fatal(err)
	}

	_, output, err := s.handleCredentialList(context.Background(), nil, CredentialListInput{})
	if err != nil {
		t.Fatalf("handleCredentialList() error = %v", err)
	}
	if len(output.Credentials) != 1 {
		t.Fatalf("listed %d credentials, want 1", len(output.Credentials))
	}

	info := output.Credentials[0]
	if info.PasswordLength != len(secret) {
		t.Errorf("password length = %d, want %d", info.PasswordLength, len(secret))
	}
	if info.PasswordStrength == "" {
		t.Error("strength missing")
	}

	// The serialized output must never contain the plaintext.
	raw, err := json.Marshal(output)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), secret) {
		t.Error("tool output contains the plaintext password")
	}
}

func TestCredentialListCategoryFilter(t *testing.T) {
	s := newTestServer(t)
	s.vault.SaveCurrent("owner-1", "finance", "bank.example", "alice", "", "pw-1")
	s.vault.SaveCurrent("owner-1", "social", "chat.example", "alice", "", "pw-2")

	_, output, err := s.handleCredentialList(context.Background(), nil, CredentialListInput{Category: "finance"})
	if err != nil {
		t.Fatal(err)
	}
	if len(output.Credentials) != 1 || output.Credentials[0].Service != "bank.example" {
		t.Errorf("filtered list = %+v", output.Credentials)
	}
}

func TestCredentialExists(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.vault.PrepareRotation("owner-1", "finance", "example.com", "alice", "", "pw-old", "pw-new"); err != nil {
		t.Fatal(err)
	}

	_, output, err := s.handleCredentialExists(context.Background(), nil, CredentialExistsInput{
		Service:  "EXAMPLE.com",
		Username: "alice",
	})
	if err != nil {
		t.Fatalf("handleCredentialExists() error = %v", err)
	}
	if !output.Exists || output.Credential == nil {
		t.Fatal("existing credential not found")
	}
	if !output.Credential.RotationPending {
		t.Error("rotation_pending flag not set")
	}

	_, output, err = s.handleCredentialExists(context.Background(), nil, CredentialExistsInput{
		Service:  "missing.example",
		Username: "nobody",
	})
	if err != nil {
		t.Fatal(err)
	}
	if output.Exists {
		t.Error("missing credential reported as existing")
	}

	if _, _, err := s.handleCredentialExists(context.Background(), nil, CredentialExistsInput{}); err == nil {
		t.Error("empty identity accepted")
	}
}

func TestQueueStatus(t *testing.T) {
	s := newTestServer(t)
	s.queue.Append("act-1", "example.com", "alice")
	s.queue.Append("act-2", "bank.example", "alice")
	s.queue.UpdateStatus("act-2", queue.StatusInProgress)
	s.queue.Append("act-3", "chat.example", "alice")
	if _, err := s.queue.CompleteWithReceipt("act-3"); err != nil {
		t.Fatal(err)
	}

	_, output, err := s.handleQueueStatus(context.Background(), nil, QueueStatusInput{})
	if err != nil {
		t.Fatalf("handleQueueStatus() error = %v", err)
	}
	if output.Counts[queue.StatusQueued] != 1 ||
		output.Counts[queue.StatusInProgress] != 1 ||
		output.Counts[queue.StatusCompleted] != 1 {
		t.Errorf("counts = %v", output.Counts)
	}
	if len(output.Pending) != 2 {
		t.Errorf("pending = %d actions, want 2", len(output.Pending))
	}
}

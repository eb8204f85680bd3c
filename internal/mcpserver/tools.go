package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/credguard/credguard/pkg/passwords"
	"github.com/credguard/credguard/pkg/queue"
	"github.com/credguard/credguard/pkg/vault"
)

// CredentialInfo is the masked view of one credential. It never carries a
// password value.
type CredentialInfo struct {
	RecordID         string `json:"record_id"`
	Service          string `json:"service"`
	Username         string `json:"username"`
	URL              string `json:"url,omitempty"`
	Category         string `json:"category,omitempty"`
	PasswordLength   int    `json:"password_length"`
	PasswordStrength string `json:"password_strength"`
	Compromised      bool   `json:"compromised"`
	BreachCount      int    `json:"breach_count,omitempty"`
	RotationPending  bool   `json:"rotation_pending"`
	UpdatedAt        string `json:"updated_at"`
}

// CredentialListInput represents input for the credential_list tool.
type CredentialListInput struct {
	Category string `json:"category,omitempty"`
}

// CredentialListOutput represents output for the credential_list tool.
type CredentialListOutput struct {
	Credentials []CredentialInfo `json:"credentials"`
}

// CredentialExistsInput represents input for the credential_exists tool.
type CredentialExistsInput struct {
	Service  string `json:"service"`
	Username string `json:"username"`
}

// CredentialExistsOutput represents output for the credential_exists tool.
type CredentialExistsOutput struct {
	Exists     bool            `json:"exists"`
	Credential *CredentialInfo `json:"credential,omitempty"`
}

// QueueStatusInput represents input for the queue_status tool.
type QueueStatusInput struct{}

// QueueStatusOutput represents output for the queue_status tool.
type QueueStatusOutput struct {
	Counts  map[string]int `json:"counts"`
	Pending []QueueAction  `json:"pending,omitempty"`
}

// QueueAction is the queue view exposed over MCP.
type QueueAction struct {
	ActionID  string `json:"action_id"`
	Service   string `json:"service"`
	Username  string `json:"username"`
	Status    string `json:"status"`
	ReceiptID string `json:"receipt_id,omitempty"`
}

func maskRecord(r *vault.CredentialRecord) CredentialInfo {
	return CredentialInfo{
		RecordID:         r.RecordID,
		Service:          r.Service,
		Username:         r.Username,
		URL:              r.URL,
		Category:         r.Category,
		PasswordLength:   len(r.CurrentPassword),
		PasswordStrength: passwords.Classify(r.CurrentPassword).String(),
		Compromised:      r.Compromised,
		BreachCount:      r.BreachCount,
		RotationPending:  r.PendingPassword != "",
		UpdatedAt:        time.UnixMilli(r.UpdatedAt).UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleCredentialList(_ context.Context, _ *mcp.CallToolRequest, input CredentialListInput) (*mcp.CallToolResult, CredentialListOutput, error) {
	records, err := s.vault.LoadRecords()
	if err != nil {
		return nil, CredentialListOutput{}, fmt.Errorf("failed to load credentials: %w", err)
	}

	output := CredentialListOutput{Credentials: make([]CredentialInfo, 0, len(records))}
	for i := range records {
		if input.Category != "" && records[i].Category != input.Category {
			continue
		}
		output.Credentials = append(output.Credentials, maskRecord(&records[i]))
	}
	return nil, output, nil
}

func (s *Server) handleCredentialExists(_ context.Context, _ *mcp.CallToolRequest, input CredentialExistsInput) (*mcp.CallToolResult, CredentialExistsOutput, error) {
	if input.Service == "" || input.Username == "" {
		return nil, CredentialExistsOutput{}, errors.New("service and username are required")
	}

	rec, err := s.vault.FindByIdentity(input.Service, input.Username)
	if err != nil {
		return nil, CredentialExistsOutput{}, fmt.Errorf("failed to look up credential: %w", err)
	}
	if rec == nil {
		return nil, CredentialExistsOutput{Exists: false}, nil
	}

	info := maskRecord(rec)
	return nil, CredentialExistsOutput{Exists: true, Credential: &info}, nil
}

func (s *Server) handleQueueStatus(_ context.Context, _ *mcp.CallToolRequest, _ QueueStatusInput) (*mcp.CallToolResult, QueueStatusOutput, error) {
	actions, err := s.queue.LoadQueue()
	if err != nil {
		return nil, QueueStatusOutput{}, fmt.Errorf("failed to load queue: %w", err)
	}

	output := QueueStatusOutput{Counts: map[string]int{}}
	for _, a := range actions {
		output.Counts[a.Status]++
		if a.Status == queue.StatusQueued || a.Status == queue.StatusInProgress {
			output.Pending = append(output.Pending, QueueAction{
				ActionID:  a.ActionID,
				Service:   a.Service,
				Username:  a.Username,
				Status:    a.Status,
				ReceiptID: a.ReceiptID,
			})
		}
	}
	return nil, output, nil
}

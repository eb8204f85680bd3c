// Package mcpserver exposes a read-only MCP surface over the vault: masked
// credential metadata and queue status, never plaintext secrets.
package mcpserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/credguard/credguard/pkg/envelope"
	"github.com/credguard/credguard/pkg/keystore"
	"github.com/credguard/credguard/pkg/queue"
	"github.com/credguard/credguard/pkg/vault"
)

// Server wraps the MCP server and the stores it reads from.
type Server struct {
	server *mcp.Server
	vault  *vault.Store
	queue  *queue.Store
}

// ServerOptions configures the MCP server.
type ServerOptions struct {
	// DataDir is the credguard data directory. Defaults to ~/.credguard.
	DataDir string
}

// NewServer wires the stores and registers the tools.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil {
		opts = &ServerOptions{}
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".credguard")
	}

	sealer := envelope.NewSealer(keystore.New())

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "credguard",
			Version: "0.1.0",
		},
		nil,
	)

	s := &Server{
		server: mcpServer,
		vault:  vault.NewStore(dataDir, sealer),
		queue:  queue.NewStore(dataDir),
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "credential_list",
		Description: "List stored credentials with masked metadata: service, username, password length and strength, breach and rotation flags. Does NOT return passwords.",
	}, s.handleCredentialList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "credential_exists",
		Description: "Check whether a credential exists for a service/username identity and return its masked metadata. Does NOT return the password.",
	}, s.handleCredentialExists)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "queue_status",
		Description: "Summarize the maintenance action queue: per-status counts and the pending actions.",
	}, s.handleQueueStatus)
}

// Run serves MCP over stdio until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

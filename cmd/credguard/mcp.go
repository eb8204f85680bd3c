package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/credguard/credguard/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP integration",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve read-only vault metadata over MCP stdio",
	Long: `Start an MCP (Model Context Protocol) server over stdio exposing masked
credential metadata and queue status. Plaintext passwords are never returned.

Available tools:
  - credential_list:   masked credential metadata (no passwords)
  - credential_exists: identity lookup with masked metadata
  - queue_status:      maintenance queue summary`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server, err := mcpserver.NewServer(&mcpserver.ServerOptions{DataDir: cliApp.dataDir})
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Leaving the foreground: relock the session, drop every capability
		// token, and forget the cached vault key.
		defer func() {
			if err := cliApp.gate.Background(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to lock session: %v\n", err)
			}
			cliApp.keys.Forget()
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		if err := server.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
}

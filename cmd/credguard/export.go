package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/credguard/credguard/pkg/envelope"
	"github.com/credguard/credguard/pkg/export"
	"github.com/credguard/credguard/pkg/session"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the vault to an encrypted file (requires approval)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportOutput == "" {
			return fmt.Errorf("--output is required")
		}

		if err := cliApp.requireApproval(session.ActionVaultExport, "user_requested_export"); err != nil {
			return err
		}

		records, err := cliApp.vault.ExportRecords()
		if err != nil {
			return err
		}

		key, err := cliApp.keys.Key()
		if err != nil {
			return err
		}
		defer envelope.Wipe(key)

		f, err := os.OpenFile(exportOutput, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()

		if err := export.Write(f, records, key); err != nil {
			os.Remove(exportOutput)
			return err
		}

		fmt.Printf("Exported %d credentials to %s\n", len(records), exportOutput)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "Destination file for the export")
}

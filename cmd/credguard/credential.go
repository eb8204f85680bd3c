package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/credguard/credguard/pkg/audit"
	"github.com/credguard/credguard/pkg/passwords"
	"github.com/credguard/credguard/pkg/session"
	"github.com/credguard/credguard/pkg/vault"
)

var (
	saveOwner    string
	saveCategory string
	saveURL      string
	saveGenerate bool

	breachCount int
)

var saveCmd = &cobra.Command{
	Use:   "save <service> <username>",
	Short: "Save or update a credential's current password",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, username := args[0], args[1]

		if err := cliApp.ensureUnlocked(); err != nil {
			return err
		}

		var password string
		if saveGenerate {
			var err error
			password, err = passwords.Generate(passwords.DefaultGeneratedLength)
			if err != nil {
				return err
			}
		} else {
			var err error
			password, err = readHidden("Enter password: ")
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("password must not be empty")
			}
		}

		if passwords.IsWeak(password) {
			fmt.Fprintln(os.Stderr, "warning: this password is weak; consider --generate")
		}

		rec, err := cliApp.vault.SaveCurrent(saveOwner, saveCategory, service, username, saveURL, password)
		if err != nil {
			return err
		}

		if err := cliApp.auditLog.Append(audit.OpCredentialLink, audit.ResultSuccess, "", ""); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write audit event: %v\n", err)
		}

		fmt.Printf("Saved credential %s for %s/%s\n", rec.RecordID, rec.Service, rec.Username)
		if saveGenerate {
			fmt.Printf("Generated password: %s\n", password)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials (passwords masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := cliApp.vault.LoadRecords()
		if err != nil {
			if errors.Is(err, vault.ErrVaultCorrupted) {
				return fmt.Errorf("vault is corrupted, refusing to treat as empty: %w", err)
			}
			return err
		}
		if len(records) == 0 {
			fmt.Println("No credentials stored.")
			return nil
		}

		for _, r := range records {
			flags := ""
			if r.Compromised {
				flags += " [compromised]"
			}
			if r.PendingPassword != "" {
				flags += " [rotation pending]"
			}
			fmt.Printf("%-24s  %-30s %-20s %s%s\n",
				r.RecordID, r.Service, r.Username,
				passwords.Classify(r.CurrentPassword), flags)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <service> <username>",
	Short: "Delete a credential (requires approval)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, username := args[0], args[1]

		if err := cliApp.requireApproval(session.ActionVaultDelete, "user_requested_delete"); err != nil {
			return err
		}

		ok, err := cliApp.vault.DeleteByIdentity(service, username)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no credential found for %s/%s", service, username)
		}

		if err := cliApp.auditLog.Append(audit.OpCredentialUnlink, audit.ResultSuccess, "", ""); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write audit event: %v\n", err)
		}

		fmt.Printf("Deleted credential for %s/%s\n", service, username)
		return nil
	},
}

var breachCmd = &cobra.Command{
	Use:   "breach",
	Short: "Manage breach-check results",
}

var breachMarkCmd = &cobra.Command{
	Use:   "mark <service> <username>",
	Short: "Record a breach-check result for a credential",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, username := args[0], args[1]

		if err := cliApp.ensureUnlocked(); err != nil {
			return err
		}

		rec, err := cliApp.vault.FindByIdentity(service, username)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no credential found for %s/%s", service, username)
		}

		if err := cliApp.vault.UpdateBreachStatus(rec.RecordID, breachCount, time.Now().UnixMilli()); err != nil {
			return err
		}

		if breachCount > 0 {
			fmt.Printf("Marked %s/%s as compromised (%d breaches). Consider 'credguard rotate prepare'.\n",
				service, username, breachCount)
		} else {
			fmt.Printf("Marked %s/%s as clean.\n", service, username)
		}
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVar(&saveOwner, "owner", "local", "Owner key for record identity")
	saveCmd.Flags().StringVar(&saveCategory, "category", "", "Credential category")
	saveCmd.Flags().StringVar(&saveURL, "url", "", "Associated URL")
	saveCmd.Flags().BoolVar(&saveGenerate, "generate", false, "Generate a strong password instead of prompting")

	breachMarkCmd.Flags().IntVar(&breachCount, "count", 0, "Number of breaches the password appeared in")
	breachCmd.AddCommand(breachMarkCmd)
}

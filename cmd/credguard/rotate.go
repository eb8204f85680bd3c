package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/credguard/credguard/pkg/passwords"
	"github.com/credguard/credguard/pkg/vault"
)

var rotateLength int

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Two-phase password rotation",
	Long: `Rotate a credential's password in two phases: 'prepare' stages a freshly
generated password without touching the current one, 'confirm' promotes it
once the new password has been set at the service.`,
}

var rotatePrepareCmd = &cobra.Command{
	Use:   "prepare <service> <username>",
	Short: "Stage a new password for rotation",
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
			return fmt.Errorf("no credential found for %s/%s; save it first", service, username)
		}

		next, err := passwords.Generate(rotateLength)
		if err != nil {
			return err
		}

		prepared, err := cliApp.vault.PrepareRotation(
			rec.Owner, rec.Category, rec.Service, rec.Username, rec.URL,
			rec.CurrentPassword, next,
		)
		if err != nil {
			return err
		}

		actionID := "rotate-" + prepared.RecordID
		if ok, err := cliApp.queue.Append(actionID, prepared.Service, prepared.Username); err != nil {
			return err
		} else if !ok {
			fmt.Fprintf(os.Stderr, "warning: rotation action %s already in flight\n", actionID)
		}

		fmt.Printf("Rotation prepared for %s/%s (action %s).\n", service, username, actionID)
		fmt.Printf("New password: %s\n", next)
		fmt.Println("The current password stays valid until you run 'credguard rotate confirm'.")
		return nil
	},
}

var rotateConfirmCmd = &cobra.Command{
	Use:   "confirm <service> <username>",
	Short: "Promote the staged password",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, username := args[0], args[1]

		if err := cliApp.ensureUnlocked(); err != nil {
			return err
		}

		rec, err := cliApp.vault.ConfirmRotation(service, username)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no pending rotation for %s/%s", service, username)
		}

		actionID := "rotate-" + rec.RecordID
		action, err := cliApp.queue.CompleteWithReceipt(actionID)
		if err != nil {
			return err
		}

		fmt.Printf("Rotation confirmed for %s/%s.\n", service, username)
		if action != nil {
			fmt.Printf("Receipt: %s\n", action.ReceiptID)
		}
		if prev := vault.LatestDistinctPreviousPassword(rec); prev != "" {
			fmt.Println("The previous password remains in history if you need to roll back.")
		}
		return nil
	},
}

func init() {
	rotatePrepareCmd.Flags().IntVar(&rotateLength, "length", passwords.DefaultGeneratedLength,
		"Length of the generated password")
	rotateCmd.AddCommand(rotatePrepareCmd)
	rotateCmd.AddCommand(rotateConfirmCmd)
}

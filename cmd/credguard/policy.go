package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/credguard/credguard/pkg/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the guarded-mutation policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := policy.Load(cliApp.dataDir)
		if err != nil {
			return err
		}

		fmt.Printf("app_lock_enabled:                   %v\n", p.AppLockEnabled)
		fmt.Printf("idle_relock_seconds:                %d\n", p.IdleRelockSeconds)
		fmt.Printf("guardian_approval_required:         %v\n", p.GuardianApprovalRequired)
		fmt.Printf("guardian_child_idle_relock_seconds: %d\n", p.GuardianChildIdleRelockSeconds)
		fmt.Printf("token_ttl_seconds:                  %d\n", p.TokenTTLSeconds)
		fmt.Printf("require_for_vault_export:           %v\n", p.RequireForVaultExport)
		fmt.Printf("require_for_vault_delete:           %v\n", p.RequireForVaultDelete)
		return nil
	},
}

var policyInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default policy file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := policy.Save(cliApp.dataDir, policy.Default()); err != nil {
			return err
		}
		fmt.Printf("Wrote default policy to %s/%s\n", cliApp.dataDir, policy.FileName)
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyInitCmd)
}

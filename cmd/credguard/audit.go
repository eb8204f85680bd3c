package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the tamper-evident audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log HMAC chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := cliApp.auditLog.Verify()
		if err != nil {
			return err
		}

		if result.Valid {
			fmt.Printf("Audit chain OK: %d records verified.\n", result.RecordsTotal)
			return nil
		}

		fmt.Printf("Audit chain INVALID (%d records):\n", result.RecordsTotal)
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
		return fmt.Errorf("audit chain verification failed")
	},
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := cliApp.auditLog.ListEvents(auditLimit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No audit events.")
			return nil
		}

		for _, ev := range events {
			line := fmt.Sprintf("%6d  %s  %-28s %s", ev.Sequence, ev.Timestamp, ev.Operation, ev.Result)
			if ev.ActionCode != "" {
				line += "  " + ev.ActionCode
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditListCmd)
}

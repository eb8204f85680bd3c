package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and complete maintenance actions",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued maintenance actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		actions, err := cliApp.queue.LoadQueue()
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}

		for _, a := range actions {
			line := fmt.Sprintf("%-36s %-12s %-30s %s",
				a.ActionID, a.Status, a.Service+"/"+a.Username,
				time.UnixMilli(a.UpdatedAt).Local().Format(time.RFC3339))
			if a.ReceiptID != "" {
				line += "  " + a.ReceiptID
			}
			fmt.Println(line)
		}
		return nil
	},
}

var queueCompleteCmd = &cobra.Command{
	Use:   "complete <action-id>",
	Short: "Mark an action completed and print its receipt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := cliApp.queue.CompleteWithReceipt(args[0])
		if err != nil {
			return err
		}
		if action == nil {
			return fmt.Errorf("no action with id %s", args[0])
		}
		fmt.Printf("Completed %s\nReceipt: %s\n", action.ActionID, action.ReceiptID)
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueCompleteCmd)
}

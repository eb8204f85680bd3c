package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/credguard/credguard/pkg/pin"
)

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Manage the secondary-factor PIN",
}

var pinSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set or replace the PIN",
	RunE: func(cmd *cobra.Command, args []string) error {
		first, err := readHidden("Enter new PIN (4-10 digits): ")
		if err != nil {
			return err
		}
		second, err := readHidden("Confirm new PIN: ")
		if err != nil {
			return err
		}
		if first != second {
			return errors.New("PINs do not match")
		}

		if err := cliApp.pins.Save(first); err != nil {
			if errors.Is(err, pin.ErrInvalidFormat) {
				return errors.New("PIN must be 4-10 ASCII digits")
			}
			return err
		}
		fmt.Println("PIN saved.")
		return nil
	},
}

var pinVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the PIN",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cliApp.pins.IsConfigured() {
			return errors.New("no PIN configured")
		}

		entered, err := readHidden("Enter PIN: ")
		if err != nil {
			return err
		}
		ok, err := cliApp.pins.Verify(entered)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("incorrect PIN")
		}
		fmt.Println("PIN verified.")
		return nil
	},
}

var pinClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the PIN",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cliApp.pins.Clear(); err != nil {
			return err
		}
		fmt.Println("PIN cleared.")
		return nil
	},
}

func init() {
	pinCmd.AddCommand(pinSetCmd)
	pinCmd.AddCommand(pinVerifyCmd)
	pinCmd.AddCommand(pinClearCmd)
}

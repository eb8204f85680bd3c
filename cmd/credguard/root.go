package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/credguard/credguard/pkg/audit"
	"github.com/credguard/credguard/pkg/envelope"
	"github.com/credguard/credguard/pkg/keystore"
	"github.com/credguard/credguard/pkg/kvstore"
	"github.com/credguard/credguard/pkg/pin"
	"github.com/credguard/credguard/pkg/queue"
	"github.com/credguard/credguard/pkg/session"
	"github.com/credguard/credguard/pkg/token"
	"github.com/credguard/credguard/pkg/vault"
)

// app holds the wired stores for one CLI invocation.
type app struct {
	dataDir  string
	keys     *keystore.Store
	vault    *vault.Store
	queue    *queue.Store
	records  *kvstore.Store
	pins     *pin.Authenticator
	tokens   *token.Issuer
	auditLog *audit.Logger
	gate     *session.Gate
}

var (
	dataDirFlag string
	cliApp      *app
)

var rootCmd = &cobra.Command{
	Use:   "credguard",
	Short: "credguard is a local encrypted credential manager",
	Long: `A local, on-device credential manager: encrypted vault, safe two-phase
password rotation, PIN-gated mutations, and short-lived approval tokens.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dataDir := dataDirFlag
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get user home directory: %w", err)
			}
			dataDir = filepath.Join(home, ".credguard")
		}
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		keys := keystore.New()
		sealer := envelope.NewSealer(keys)

		records, err := kvstore.Open(filepath.Join(dataDir, "records.db"))
		if err != nil {
			return err
		}

		auditLog := audit.NewLogger(filepath.Join(dataDir, "audit"))
		if key, err := keys.Key(); err == nil {
			setErr := auditLog.SetKey(key)
			envelope.Wipe(key)
			if setErr != nil {
				fmt.Fprintf(os.Stderr, "warning: audit log unavailable: %v\n", setErr)
			}
		} else {
			fmt.Fprintf(os.Stderr, "warning: audit log unavailable: %v\n", err)
		}

		pins := pin.New(records)
		tokens := token.NewIssuer(records)

		cliApp = &app{
			dataDir:  dataDir,
			keys:     keys,
			vault:    vault.NewStore(dataDir, sealer),
			queue:    queue.NewStore(dataDir),
			records:  records,
			pins:     pins,
			tokens:   tokens,
			auditLog: auditLog,
			gate: session.NewGate(
				session.NewSession(),
				&session.FileSource{Dir: dataDir},
				&pinPromptAuthenticator{pins: pins},
				tokens,
				auditLog,
			),
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cliApp != nil && cliApp.records != nil {
			cliApp.records.Close()
		}
	},
}

// pinPromptAuthenticator satisfies the gate's secondary-factor interface with
// a hidden PIN prompt.
type pinPromptAuthenticator struct {
	pins *pin.Authenticator
}

func (a *pinPromptAuthenticator) Authenticate() session.AuthResult {
	if !a.pins.IsConfigured() {
		fmt.Fprintln(os.Stderr, "no PIN configured; run 'credguard pin set' first")
		return session.AuthError
	}

	entered, err := readHidden("Enter PIN: ")
	if err != nil {
		return session.AuthCancelled
	}

	ok, err := a.pins.Verify(entered)
	if err != nil {
		fmt.Fprintf(os.Stderr, "PIN verification failed: %v\n", err)
		return session.AuthError
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "incorrect PIN")
		return session.AuthError
	}
	return session.AuthSuccess
}

// readHidden prompts without echoing the input.
func readHidden(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(b), nil
}

// ensureUnlocked runs the relock decision. Every vault mutation goes through
// it before touching a store.
func (a *app) ensureUnlocked() error {
	var unlocked bool
	err := a.gate.EnsureUnlocked(
		func() { unlocked = true },
		func() {},
	)
	if err != nil {
		return err
	}
	if !unlocked {
		return session.ErrPolicyDenied
	}
	return nil
}

// requireApproval runs the relock check and then the guarded-action approval
// for actionCode.
func (a *app) requireApproval(actionCode, reasonCode string) error {
	if err := a.ensureUnlocked(); err != nil {
		return err
	}
	return a.gate.RequireApproval(actionCode, reasonCode)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory (default ~/.credguard)")

	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(breachCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, session.ErrPolicyDenied) {
			fmt.Fprintln(os.Stderr, "denied: approval required")
		}
		os.Exit(1)
	}
}

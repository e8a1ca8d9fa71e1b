// sentinel evaluates DBR workflow metadata events against a versioned rule
// catalog and appends risk alerts to an audited alert stream.
//
// Usage:
//
//	sentinel serve --config configs/sentinel.yaml
//	sentinel ingest event.json
//	sentinel sweep
//	sentinel verify-audit
//	sentinel rules -o json
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version      = "dev"
	settingsPath string
	rulesPath    string
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	rootCmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Metadata-only risk sentinel for DBR workflows",
		Long: `sentinel validates workflow metadata events, evaluates them against a
versioned rule catalog and appends alerts to an append-only stream. Every
decision is written to a hash-chained audit log.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&settingsPath, "config", "c", "", "Path to service settings YAML (optional)")
	rootCmd.PersistentFlags().StringVar(&rulesPath, "rules", "", "Path to rule catalog YAML (overrides rules_path)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(verifyAuditCmd())
	rootCmd.AddCommand(rulesCmd())

	if err := rootCmd.Execute(); err != nil {
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		if ee == nil || ee.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(code)
	}
}

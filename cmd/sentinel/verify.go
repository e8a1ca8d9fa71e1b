package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
)

func verifyAuditCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "verify-audit",
		Short: "Verify the audit log hash chain",
		Long: `Re-compute the SHA-256 chain over the audit log and report the first
record that was edited, inserted or removed.

Examples:
  sentinel verify-audit
  sentinel verify-audit --file data/audit.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				s, err := loadSettings()
				if err != nil {
					return err
				}
				file = s.AuditPath
			}
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open audit log: %w", err)
			}
			defer f.Close()

			last, err := audit.Verify(f)
			if err != nil {
				if last != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "last valid record: seq %d\n", last.Seq)
				}
				return err
			}
			if last == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: empty\n", file)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d records, head %s\n", file, last.Seq, last.Hash)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Audit log path (default: audit_path from settings)")
	return cmd
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/sentinel/internal/catalog"
	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/routing"
)

func rulesCmd() *cobra.Command {
	var outputFmt string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate the rule catalog and print a summary",
		Long: `Load, validate and compile the rule catalog without starting the engine.
A catalog that fails validation exits non-zero with every error listed.

Examples:
  sentinel rules
  sentinel rules --rules configs/rules.yaml -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			loader, err := config.NewLoader(s.RulesPath)
			if err != nil {
				return err
			}
			policy, err := routing.Load(s.RoutingPath)
			if err != nil {
				return err
			}
			cat, err := catalog.Build(loader.Config(), catalog.Options{Routing: policy})
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), cat.Summary(), outputFmt)
		},
	}
	cmd.Flags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json")
	return cmd
}

func printSummary(w io.Writer, s catalog.Summary, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "table":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	fmt.Fprintf(w, "Ruleset %s %s (match policy %s, %d enabled)\n\n", s.Name, s.Version, s.MatchPolicy, s.Enabled)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tVERSION\tENABLED\tKIND\tRISK\tSEVERITY\tWINDOW\tTHRESHOLD\tTARGETS")
	for _, r := range s.Rules {
		threshold := r.Threshold
		if threshold == "" {
			threshold = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RuleID, r.Version, r.Enabled, r.Kind, r.RiskCode, r.Severity,
			r.SuppressionWindow, threshold, strings.Join(r.Targets, ","))
	}
	return tw.Flush()
}

package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire timed-out correlation windows once and exit",
		Long: `Run one correlation sweep against the persisted state. Every OPEN window
past its timing threshold is expired and raises a timeout alert, subject to
suppression.

Examples:
  sentinel sweep
  sentinel sweep --prune=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			defer a.Close()

			res, serr := a.engine.Sweep(ctx)
			out := map[string]interface{}{"sweep": res}
			var perr error
			if prune {
				out["prune"], perr = a.engine.Prune(ctx)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if err := errors.Join(serr, perr); err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", true, "Also prune resolved state past its retention")
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/sentinel/internal/engine"
)

// Exit codes of the one-shot ingest command.
const (
	exitAccepted = 0
	exitRejected = 1
	exitFailed   = 2
)

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <event.json|->",
		Short: "Process a single event and print the result",
		Long: `Process one event through the validation gate and the rule engine, then
print the result as JSON.

Exit status is 0 when the event is accepted (or was already processed),
1 when it is rejected and 2 on an infrastructure failure.

Examples:
  sentinel ingest event.json
  cat event.json | sentinel ingest -`,
		Args: cobra.ExactArgs(1),
		RunE: runIngest,
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	raw, err := readInput(cmd, args[0])
	if err != nil {
		return &exitError{code: exitFailed, err: err}
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return &exitError{code: exitFailed, err: err}
	}
	defer a.Close()

	res, perr := a.engine.Process(ctx, raw)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return &exitError{code: exitFailed, err: err}
	}

	switch {
	case perr != nil:
		return &exitError{code: exitFailed, err: perr}
	case res.Outcome == engine.OutcomeRejected:
		return &exitError{code: exitRejected}
	}
	return nil
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	return b, nil
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
)

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:          "pipectl",
		Short:        "Operate the review analysis pipeline",
		Long:         "pipectl seeds the step catalog and prompts, runs the pipeline for reviews and cleans up old tickets.",
		SilenceUsage: true,
	}

	root.AddCommand(
		newSeedCmd(open),
		newRunCmd(open),
		newReanalyzeCmd(open),
		newAnalyzeAppCmd(open),
		newCleanupTicketsCmd(open),
		newStepsCmd(open),
	)
	return root
}

type runtimeFunc func(cmd *cobra.Command, rt Runtime, args []string) error

// withRuntime opens the runtime for one command invocation. opts is read at
// run time so it can depend on flags.
func withRuntime(open opener, opts func() openOptions, fn runtimeFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var o openOptions
		if opts != nil {
			o = opts()
		}
		rt, closeFn, err := open(cmd.Context(), o)
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(cmd, rt, args)
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"storepulse.app/analysis/internal/queue"
	"storepulse.app/analysis/internal/service"
)

func newSeedCmd(open opener) *cobra.Command {
	var opts service.SeedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the step catalog and default prompt template",
		Args:  cobra.NoArgs,
		RunE: withRuntime(open, nil, func(cmd *cobra.Command, rt Runtime, _ []string) error {
			result, err := rt.Seed().Seed(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("seeding pipeline: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "step types: %d created, %d updated\n", result.StepTypes.Created, result.StepTypes.Updated)
			if opts.WithConfig {
				fmt.Fprintf(out, "step configs: %d created, %d updated\n", result.Configs.Created, result.Configs.Updated)
			}
			fmt.Fprintf(out, "prompts: %d created, %d updated\n", result.Prompts.Created, result.Prompts.Updated)
			for _, key := range result.Unregistered {
				fmt.Fprintf(out, "warning: no step registered for %s\n", key)
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&opts.WithConfig, "with-config", false, "also enable every built-in step in default order")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "delete existing step configs, step types and prompts first")
	return cmd
}

func newRunCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "run <review-id>",
		Short: "Run the pipeline for one review and print the summary",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, analysisOnly, func(cmd *cobra.Command, rt Runtime, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			summary, runErr := rt.Analysis().RunPipeline(cmd.Context(), ids[0])
			if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("pipeline run failed: %w", runErr)
			}
			return nil
		}),
	}
}

func newReanalyzeCmd(open opener) *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "reanalyze <review-id>...",
		Short: "Re-run the pipeline for reviews, replacing their results",
		Args:  cobra.MinimumNArgs(1),
		RunE: withRuntime(open, func() openOptions {
			return openOptions{Queue: async, Analysis: !async}
		}, func(cmd *cobra.Command, rt Runtime, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			if async {
				for _, reviewID := range ids {
					if err := rt.Analysis().Enqueue(cmd.Context(), reviewID, queue.SourceReanalyze); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d reviews\n", len(ids))
				return nil
			}

			batch, err := rt.Analysis().Reanalyze(cmd.Context(), ids)
			if batch != nil {
				if err := printJSON(cmd.OutOrStdout(), batch); err != nil {
					return err
				}
			}
			if err != nil {
				return fmt.Errorf("reanalysis aborted: %w", err)
			}
			if batch.Failed > 0 {
				return fmt.Errorf("%d of %d reviews failed", batch.Failed, batch.Total)
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&async, "async", false, "enqueue runs for the worker instead of running here")
	return cmd
}

func newAnalyzeAppCmd(open opener) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "analyze-app <app-id>",
		Short: "Enqueue runs for an app's reviews that have no analysis yet",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, queueOnly, func(cmd *cobra.Command, rt Runtime, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			result, err := rt.Analysis().AnalyzeApp(cmd.Context(), ids[0], limit)
			if err != nil {
				return fmt.Errorf("analyzing app %d: %w", ids[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d reviews for app %d\n", result.Enqueued, result.AppID)
			return nil
		}),
	}

	cmd.Flags().IntVar(&limit, "limit", service.DefaultBacklogLimit, "maximum number of reviews to enqueue")
	return cmd
}

func newCleanupTicketsCmd(open opener) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup-tickets",
		Short: "Delete closed tickets older than the retention window",
		Args:  cobra.NoArgs,
		RunE: withRuntime(open, nil, func(cmd *cobra.Command, rt Runtime, _ []string) error {
			janitor, err := rt.Janitor(days)
			if err != nil {
				return err
			}
			deleted, err := janitor.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d closed tickets older than %s\n",
				deleted, janitor.Cutoff().Format("2006-01-02"))
			return nil
		}),
	}

	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default: TICKET_RETENTION_DAYS)")
	return cmd
}

func newStepsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "steps",
		Short: "List catalog step types against registered steps and enabled configs",
		Args:  cobra.NoArgs,
		RunE: withRuntime(open, nil, func(cmd *cobra.Command, rt Runtime, _ []string) error {
			ctx := cmd.Context()
			types, err := rt.StepTypes(ctx)
			if err != nil {
				return fmt.Errorf("listing step types: %w", err)
			}
			configs, err := rt.EnabledConfigs(ctx)
			if err != nil {
				return fmt.Errorf("listing enabled configs: %w", err)
			}

			labels := map[string]string{}
			keys := rt.Registry().Keys()
			for _, t := range types {
				labels[t.Key] = t.Label
				keys = append(keys, t.Key)
			}
			orders := map[string][]string{}
			for _, c := range configs {
				orders[c.StepKey] = append(orders[c.StepKey], strconv.Itoa(c.Order))
				keys = append(keys, c.StepKey)
			}
			slices.Sort(keys)
			keys = slices.Compact(keys)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tLABEL\tREGISTERED\tENABLED AT")
			for _, key := range keys {
				_, registered := rt.Registry().Lookup(key)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", key, orDash(labels[key]), yesNo(registered), orDash(strings.Join(orders[key], ",")))
			}
			return tw.Flush()
		}),
	}
}

func analysisOnly() openOptions { return openOptions{Analysis: true} }

func queueOnly() openOptions { return openOptions{Queue: true} }

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"voxguard/internal/dataset"
	"voxguard/internal/ledger"
	"voxguard/internal/logging"
	"voxguard/internal/preflight"
	"voxguard/internal/staging"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show dataset pools, artifacts and the latest training run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			colorize := isTerminal(out)

			counts, err := dataset.NewPool(cfg, logging.NewNop()).Counts()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(dataset.Labels))
			for _, label := range dataset.Labels {
				c := counts[label]
				rows = append(rows, []string{
					labelTitle(label),
					strconv.Itoa(c.Pending),
					strconv.Itoa(c.Claimed),
					strconv.Itoa(c.Trained),
				})
			}
			fmt.Fprintln(out, sectionHeader("Dataset", colorize))
			fmt.Fprintln(out, renderTable([]string{"Label", "Pending", "Claimed", "Trained"}, rows, 1, 2, 3))

			fmt.Fprintln(out, sectionHeader("Artifacts", colorize))
			for _, result := range preflight.CheckArtifacts(cfg) {
				kind := statusOK
				if !result.Passed {
					kind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}
			workDirs, err := staging.ListDirectories(cfg.Paths.TempDir)
			if err != nil {
				return err
			}
			if len(workDirs) > 0 {
				var total int64
				for _, dir := range workDirs {
					total += dir.Size
				}
				fmt.Fprintln(out, renderStatusLine("Temp chunks", statusWarn,
					fmt.Sprintf("%d work dir(s), %s; removed automatically after %s",
						len(workDirs), humanize.Bytes(uint64(total)), staging.DefaultMaxAge), colorize))
			}

			return ctx.withLedger(func(store *ledger.Store) error {
				realCount, fakeCount, err := store.Totals(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, sectionHeader("Training", colorize))
				fmt.Fprintln(out, renderStatusLine("Committed records", statusInfo,
					fmt.Sprintf("real %d, fake %d", realCount, fakeCount), colorize))

				runs, err := store.ListRuns(cmd.Context(), 1)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, renderStatusLine("Last run", statusInfo, "none", colorize))
					return nil
				}
				last := runs[0]
				fmt.Fprintln(out, renderStatusLine("Last run", runStatusKind(last.Status),
					fmt.Sprintf("%s %s, %d batch(es), started %s", shortID(last.ID), last.Status, last.Batches,
						last.StartedAt.Local().Format(time.DateTime)), colorize))
				if last.ErrorMessage != "" {
					fmt.Fprintln(out, renderStatusLine("Last error", statusError, last.ErrorMessage, colorize))
				}
				return nil
			})
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent training runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(store *ledger.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No training runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						shortID(run.ID),
						run.StartedAt.Local().Format(time.DateTime),
						formatDuration(run.Duration()),
						yesNo(run.Override),
						string(run.Status),
						strconv.Itoa(run.Batches),
						strconv.Itoa(run.Records),
						formatMetric(run.FinalLoss, "%.4f"),
						formatMetric(run.FinalAccuracy, "%.3f"),
					})
				}
				headers := []string{"Run", "Started", "Duration", "Override", "Status", "Batches", "Records", "Loss", "Accuracy"}
				fmt.Fprintln(out, renderTable(headers, rows, 2, 5, 6, 7, 8))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	return cmd
}

func runStatusKind(status ledger.RunStatus) statusKind {
	switch status {
	case ledger.RunCompleted:
		return statusOK
	case ledger.RunFailed:
		return statusError
	case ledger.RunAbandoned:
		return statusWarn
	default:
		return statusInfo
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func formatMetric(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

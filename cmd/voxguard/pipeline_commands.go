package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"voxguard/internal/config"
	"voxguard/internal/dataset"
	"voxguard/internal/ingest"
	"voxguard/internal/ledger"
	"voxguard/internal/logging"
	"voxguard/internal/predict"
	"voxguard/internal/segment"
	"voxguard/internal/staging"
	"voxguard/internal/trainer"
	"voxguard/internal/workspace"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process <real|fake>",
		Short: "Convert raw audio into labelled feature files",
		Long: "Segments every supported file under <data_dir>/raw into fixed-length chunks,\n" +
			"extracts MFCC features for each chunk and writes them to the label's pending pool.\n" +
			"The raw folder is emptied afterwards.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label, err := dataset.ParseLabel(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := ctx.session()
			if err != nil {
				return err
			}
			if err := requireAudioTools(cfg); err != nil {
				return err
			}
			lock, err := workspace.Acquire(cfg)
			if err != nil {
				return err
			}
			defer releaseLock(lock, logger)

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			staging.CleanStale(runCtx, cfg.Paths.TempDir, staging.DefaultMaxAge, logger)
			progress := newProgress(cmd.ErrOrStderr())
			ing, err := ingest.New(cfg, newSegmenter(cfg, logger), logger, ingest.WithProgress(progress))
			if err != nil {
				return err
			}
			result, err := ing.Run(runCtx, label)
			waitProgress(progress)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Sources == 0 {
				fmt.Fprintf(out, "No supported audio found in %s\n", cfg.RawDir())
				return nil
			}
			fmt.Fprintf(out, "Processed %d source(s) into %d %s feature file(s)\n", result.Sources, result.Written, labelTitle(label))
			if result.Skipped > 0 {
				fmt.Fprintf(out, "Skipped %d chunk(s) or source(s); see the log for details\n", result.Skipped)
			}
			return nil
		},
	}
}

func newTrainCommand(ctx *commandContext) *cobra.Command {
	var override bool

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the classifier on all pending feature files",
		Long: "Drains the pending real and fake pools in batches capped per class.\n" +
			"With --override the stored normalisation stats and model are discarded and\n" +
			"rebuilt from the first batch; otherwise training continues from them.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.session()
			if err != nil {
				return err
			}
			lock, err := workspace.Acquire(cfg)
			if err != nil {
				return err
			}
			defer releaseLock(lock, logger)

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return ctx.withLedger(func(store *ledger.Store) error {
				progress := newProgress(cmd.ErrOrStderr())
				pool := dataset.NewPool(cfg, logger, dataset.WithProgress(progress))
				summary, err := trainer.New(cfg, pool, store, logger).Run(runCtx, trainer.Options{Override: override})
				waitProgress(progress)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if summary.Batches == 0 {
					fmt.Fprintln(out, "No pending feature files; nothing to train")
					return nil
				}
				fmt.Fprintf(out, "Trained %d batch(es), %d record(s) in %s (run %s)\n",
					summary.Batches, summary.Records, summary.Duration.Round(time.Millisecond), summary.RunID)
				fmt.Fprintf(out, "Last batch on its own training data: loss %.4f, accuracy %.3f (diagnostic only)\n",
					summary.FinalLoss, summary.FinalAccuracy)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&override, "override", false, "Discard existing stats and model and train from scratch")
	return cmd
}

func newPredictCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <audio-file>",
		Short: "Classify an audio file as real or synthetic speech",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.session()
			if err != nil {
				return err
			}
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			if err := requireAudioTools(cfg); err != nil {
				return err
			}

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			staging.CleanStale(runCtx, cfg.Paths.TempDir, staging.DefaultMaxAge, logger)
			predictor, err := predict.New(cfg, newSegmenter(cfg, logger), logger)
			if err != nil {
				return err
			}
			verdict, err := predictor.Predict(runCtx, path)
			if err != nil {
				return err
			}
			printVerdict(cmd, verdict)
			return nil
		},
	}
}

func printVerdict(cmd *cobra.Command, v predict.Verdict) {
	out := cmd.OutOrStdout()
	colorize := isTerminal(out)
	fmt.Fprintf(out, "Final averaged prediction | Real: %.3f, Fake: %.3f\n", v.AvgReal, v.AvgFake)
	result := labelUpper(v.Label)
	if colorize {
		color := ansiRed
		if v.Label == dataset.LabelReal {
			color = ansiGreen
		}
		result = color + result + ansiReset
	}
	fmt.Fprintf(out, "Final Result: %s\n", result)
	if v.Skipped > 0 {
		fmt.Fprintf(out, "Chunks scored: %d (%d skipped)\n", v.Chunks, v.Skipped)
	} else {
		fmt.Fprintf(out, "Chunks scored: %d\n", v.Chunks)
	}
}

func newSegmenter(cfg *config.Config, logger *slog.Logger) *segment.FFmpeg {
	return segment.New(cfg, logger)
}

func releaseLock(lock *workspace.Lock, logger *slog.Logger) {
	if err := lock.Release(); err != nil {
		logger.Warn("workspace lock release failed", logging.String("lock", lock.Path()), logging.Error(err))
	}
}

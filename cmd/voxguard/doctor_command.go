package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"voxguard/internal/deps"
	"voxguard/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools and workspace directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			colorize := isTerminal(out)

			fmt.Fprintln(out, sectionHeader("Tools", colorize))
			statuses := deps.CheckBinaries(deps.AudioRequirements(cfg.Audio.FFmpegBinary, cfg.Audio.FFprobeBinary, cfg.Audio.ProbeSources))
			for _, status := range statuses {
				switch {
				case status.Available:
					detail := status.Command
					if version, err := deps.ToolVersion(cmd.Context(), status.Command); err == nil && version != "" {
						detail = version
					}
					fmt.Fprintln(out, renderStatusLine(status.Name, statusOK, detail, colorize))
				case status.Optional:
					fmt.Fprintln(out, renderStatusLine(status.Name, statusWarn, status.Detail+" (optional)", colorize))
				default:
					fmt.Fprintln(out, renderStatusLine(status.Name, statusError, status.Detail, colorize))
				}
			}

			fmt.Fprintln(out, sectionHeader("Directories", colorize))
			dirs := preflight.WorkspaceDirs(cfg)
			for _, result := range dirs {
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			fmt.Fprintln(out, sectionHeader("Artifacts", colorize))
			for _, result := range preflight.CheckArtifacts(cfg) {
				kind := statusOK
				if !result.Passed {
					kind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			if missing := deps.MissingRequired(statuses); len(missing) > 0 {
				return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
			}
			if !preflight.AllPassed(dirs) {
				return errors.New("workspace directories are not usable; see the Directories section")
			}
			return nil
		},
	}
}

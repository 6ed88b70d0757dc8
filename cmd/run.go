package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/failure"
	"github.com/xkilldash9x/portalpilot/internal/observability"
	"github.com/xkilldash9x/portalpilot/internal/workflow"
)

func newRunCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the portal workflow once",
		Long: `Runs the workflow once: probe the portal, choose the route and engine, log in,
verify the one-time passcode, upload the payload and wait for confirmation.
A YAML summary of the run is written to stdout or --output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			deps, cleanup, err := workflow.DefaultDeps(ctx, cfg, cmd.InOrStdin(), cmd.ErrOrStderr(), logger)
			defer cleanup()
			if err != nil {
				return err
			}

			run := workflow.RunWorkflow(ctx, cfg, deps)
			if err := writeSummary(cmd.OutOrStdout(), output, run); err != nil {
				logger.Error("Failed to write run summary", zap.Error(err))
			}
			return runError(ctx, run)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the run summary to this file instead of stdout")
	cmd.Flags().String("upload", "", "reference of the file to upload: a path, file:// or http(s):// URL")
	cmd.Flags().Bool("unattended", false, "wait the unattended passcode timeout")
	cmd.Flags().String("otp-file", "", "read the passcode from this handoff file")
	annotateConfigKey(cmd, "upload", "payload.reference")
	annotateConfigKey(cmd, "unattended", "otp.unattended")
	annotateConfigKey(cmd, "otp-file", "otp.handoff_file")
	return cmd
}

// writeSummary renders run as YAML to path, or to w when path is empty.
func writeSummary(w io.Writer, path string, run *schemas.ProcessRun) error {
	raw, err := yaml.Marshal(run)
	if err != nil {
		return fmt.Errorf("encoding run summary: %w", err)
	}
	if path == "" {
		_, err = w.Write(raw)
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// runError turns a failed run into a command error carrying the run's kind.
// A run cut short by ctx also wraps ctx's error so the exit status reflects
// the interrupt.
func runError(ctx context.Context, run *schemas.ProcessRun) error {
	if run.Status == schemas.RunCompleted {
		return nil
	}
	err := failure.New(failure.Kind(run.ErrorKind), fmt.Sprintf("run %s", run.ID), errors.New(run.Error))
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w: %w", cerr, err)
	}
	return err
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/failure"
	"github.com/xkilldash9x/portalpilot/internal/observability"
	"github.com/xkilldash9x/portalpilot/internal/probe"
	"github.com/xkilldash9x/portalpilot/internal/profile"
	"github.com/xkilldash9x/portalpilot/internal/secrets"
	"github.com/xkilldash9x/portalpilot/internal/workflow"
)

// decision is the output of the probe command.
type decision struct {
	Connectivity schemas.ConnectivityResult `yaml:"connectivity"`
	Profile      schemas.SessionProfile     `yaml:"profile"`
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe the portal and print the routing decision",
		Long: `Issues the connectivity probe against the configured target and prints the
result together with the session profile a run would use. No browser is started.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			secretSource, err := secrets.New(cfg.Secrets)
			if err != nil {
				return failure.New(failure.Configuration, "secrets", err)
			}
			selector := profile.NewSelector(cfg.Selector)
			prober := probe.New(cfg.Probe, cfg.Target.Marker, selector.BaselineHeaders(), logger)

			result, sp, err := workflow.Decide(ctx, cfg, prober, selector, secretSource)
			if err != nil {
				return err
			}
			raw, err := yaml.Marshal(decision{Connectivity: result, Profile: sp})
			if err != nil {
				return fmt.Errorf("encoding probe decision: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	}
}

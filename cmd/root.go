package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/failure"
	"github.com/xkilldash9x/portalpilot/internal/observability"
)

type contextKey string

const (
	configKey contextKey = "config"

	envPrefix         = "PORTALPILOT"
	defaultConfigName = "portalpilot"

	// configKeyAnnotation ties a flag to the config key it overrides.
	configKeyAnnotation = "portalpilot/config-key"
)

// NewRootCommand builds the command tree. A fresh tree is built per
// invocation so flag state never leaks between executions.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "portalpilot",
		Short: "Automates the portal login, passcode and upload workflow.",
		Long: `portalpilot logs into the configured portal, verifies the one-time passcode,
uploads one file and records evidence of every step. When the direct path is
blocked it routes through the configured proxy and falls back across several
browser engines.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return failure.New(failure.Configuration, "load config", err)
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "portalpilot"})
				return failure.New(failure.Configuration, "load config", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting portalpilot", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./portalpilot.yaml)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newProbeCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the command tree with ctx and logs a failure once.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	case failure.KindOf(err) == failure.Configuration:
		return 2
	}
	return 1
}

// initializeConfig layers the config file, PORTALPILOT_* environment
// variables and annotated command flags onto v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return bindFlags(cmd, v)
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) == 0 {
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// annotateConfigKey marks flag as an override of the config key.
func annotateConfigKey(cmd *cobra.Command, flag, key string) {
	_ = cmd.Flags().SetAnnotation(flag, configKeyAnnotation, []string{key})
}

func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, failure.Newf(failure.Configuration, "load config", "configuration not loaded")
	}
	return cfg, nil
}

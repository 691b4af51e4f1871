package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"fleet-monitor/fueltheft/internal/config"
	"fleet-monitor/fueltheft/internal/log"
)

const (
	commandName = "fueltheft"
	commandDesc = `fueltheft watches fleet fuel telemetry for sudden drops while a vehicle
is parked, raising graded alerts in real time and over historical ranges.`
)

// globals are shared by every subcommand once the root pre-run has loaded them.
type globals struct {
	cfg     *config.Config
	logOpts *log.Options
}

func NewRootCommand(ctx context.Context) *cobra.Command {
	g := &globals{logOpts: log.NewOptions()}

	cmd := &cobra.Command{
		Use:           commandName,
		Short:         "Fuel theft detection engine",
		Long:          commandDesc,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.init(cmd.Flags())
		},
	}
	cmd.SetContext(ctx)

	g.logOpts.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCommand(g),
		newAnalyzeCommand(g),
		newAlertsCommand(g),
		newSettingsCommand(g),
		newMigrateCommand(g),
	)
	return cmd
}

// init loads the environment configuration and the process logger. LOG_LEVEL
// and LOG_FORMAT apply unless the matching flag was given.
func (g *globals) init(fs *pflag.FlagSet) error {
	g.cfg = config.Load()
	if err := g.cfg.Validate(); err != nil {
		return err
	}

	if !fs.Changed("log.level") && g.cfg.LogLevel != "" {
		g.logOpts.Level = g.cfg.LogLevel
	}
	if !fs.Changed("log.format") && g.cfg.LogFormat != "" {
		g.logOpts.Format = g.cfg.LogFormat
	}
	if errs := g.logOpts.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	if err := log.Init(g.logOpts); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return nil
}

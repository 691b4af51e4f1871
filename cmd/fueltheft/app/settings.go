package app

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"fleet-monitor/fueltheft/internal/domain"
)

func newSettingsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the persisted detection settings",
	}
	cmd.AddCommand(newSettingsGetCommand(g), newSettingsSetCommand(g))
	return cmd
}

func newSettingsGetCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the detection settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := open(cmd.Context(), g.cfg, need{state: true})
			if err != nil {
				return err
			}
			defer b.Close()

			data, err := b.state.LoadSettings(cmd.Context())
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			printSettings(cmd.OutOrStdout(), domain.ParseSettings(data))
			return nil
		},
	}
}

func newSettingsSetCommand(g *globals) *cobra.Command {
	var (
		threshold float64
		window    int
		interval  int
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the detection settings",
		Long: `Update the detection settings. Only the given flags change. A running
server applies settings changed through its API immediately; settings written
here take effect when the monitor next starts.`,
		Example: `  fueltheft settings set --threshold 15 --window 45`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := open(ctx, g.cfg, need{state: true})
			if err != nil {
				return err
			}
			defer b.Close()

			data, err := b.state.LoadSettings(ctx)
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			s := domain.ParseSettings(data)

			fs := cmd.Flags()
			if fs.Changed("threshold") {
				s.DropThresholdPercent = threshold
			}
			if fs.Changed("window") {
				s.TimeWindowMinutes = window
			}
			if fs.Changed("interval") {
				s.PollIntervalSeconds = interval
			}
			if err := s.Validate(); err != nil {
				return err
			}

			data, err = json.Marshal(s)
			if err != nil {
				return err
			}
			if err := b.state.SaveSettings(ctx, data); err != nil {
				return fmt.Errorf("save settings: %w", err)
			}
			printSettings(cmd.OutOrStdout(), s)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.Float64Var(&threshold, "threshold", domain.DefaultDropThresholdPercent, "Drop threshold in percentage points (1-50).")
	fs.IntVar(&window, "window", domain.DefaultTimeWindowMinutes, "Detection window in minutes (5-120).")
	fs.IntVar(&interval, "interval", domain.DefaultPollIntervalSeconds, "Live poll interval in seconds (10-300).")
	return cmd
}

func printSettings(out io.Writer, s domain.Settings) {
	table := uitable.New()
	table.AddRow("drop_threshold_percent", s.DropThresholdPercent)
	table.AddRow("time_window_minutes", s.TimeWindowMinutes)
	table.AddRow("poll_interval_seconds", s.PollIntervalSeconds)
	fmt.Fprintln(out, table)
}

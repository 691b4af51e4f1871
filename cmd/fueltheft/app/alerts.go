package app

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fleet-monitor/fueltheft/internal/store"
)

func newAlertsCommand(g *globals) *cobra.Command {
	var (
		limit      int
		historical string
	)
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List stored alerts, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := store.AlertFilter{Limit: limit}
			if historical != "" {
				v, err := strconv.ParseBool(historical)
				if err != nil {
					return fmt.Errorf("--historical must be true or false, got %q", historical)
				}
				f.Historical = &v
			}

			b, err := open(cmd.Context(), g.cfg, need{alerts: true})
			if err != nil {
				return err
			}
			defer b.Close()

			alerts, err := b.alerts.ListAlerts(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("list alerts: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(alerts) == 0 {
				fmt.Fprintln(out, "No alerts.")
				return nil
			}
			fmt.Fprintln(out, alertTable(alerts))
			return nil
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&limit, "limit", store.DefaultAlertLimit, "Maximum number of alerts to show.")
	fs.StringVar(&historical, "historical", "", "Only live (false) or only historical (true) alerts.")
	return cmd
}

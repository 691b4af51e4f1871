package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/notify"
	"fleet-monitor/fueltheft/internal/pipeline"
)

type analyzeOptions struct {
	from string
	to   string
}

func newAnalyzeCommand(g *globals) *cobra.Command {
	o := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Scan a past time range for fuel theft",
		Example: `  fueltheft analyze --from 2025-03-01 --to 2025-03-08
  fueltheft analyze --from 2025-03-01T22:00:00Z --to 2025-03-02T06:00:00Z`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := parseRange(o.from, o.to, g.cfg.MaxAnalysisSpan())
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), g, cmd.OutOrStdout(), from, to)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&o.from, "from", "", "Range start (RFC 3339 or YYYY-MM-DD).")
	fs.StringVar(&o.to, "to", "", "Range end (RFC 3339 or YYYY-MM-DD).")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

// parseRange validates from < to and that the span does not exceed maxSpan.
func parseRange(fromS, toS string, maxSpan time.Duration) (time.Time, time.Time, error) {
	from, err := parseTime(fromS)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseTime(toS)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from must be before --to")
	}
	if maxSpan > 0 && to.Sub(from) > maxSpan {
		return time.Time{}, time.Time{}, fmt.Errorf("range exceeds the maximum of %d days", int(maxSpan/(24*time.Hour)))
	}
	return from, to, nil
}

// collectingRepo stores through repo and remembers what it stored.
type collectingRepo struct {
	repo   notify.Repository
	stored []domain.Alert
}

func (c *collectingRepo) InsertAlert(ctx context.Context, a domain.Alert) (int64, error) {
	id, err := c.repo.InsertAlert(ctx, a)
	if err != nil {
		return 0, err
	}
	a.ID = id
	c.stored = append(c.stored, a)
	return id, nil
}

func runAnalyze(ctx context.Context, g *globals, out io.Writer, from, to time.Time) error {
	logger := log.Std()

	b, err := open(ctx, g.cfg, need{telemetry: true, alerts: true, redis: true})
	if err != nil {
		return err
	}
	defer b.Close()

	repo := &collectingRepo{repo: b.alerts}
	engine := pipeline.NewEngine(ctx, pipeline.EngineOptions{
		Source:   b.source,
		Sink:     notify.NewFanout(repo, nil, logger),
		Settings: b.state,
		Logger:   logger,
	})

	s := engine.Settings()
	fmt.Fprintf(out, "Analyzing %s to %s (threshold %.0f%%, window %d min)\n",
		from.Format(time.RFC3339), to.Format(time.RFC3339), s.DropThresholdPercent, s.TimeWindowMinutes)

	n, err := engine.Analyze(ctx, from, to, func(p pipeline.Progress) {
		fmt.Fprintf(out, "  [%3d%%] %s\n", p.Percent, p.Message)
	})
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	fmt.Fprintf(out, "\n%d alert(s) found\n", n)
	if n > 0 {
		fmt.Fprintln(out, alertTable(repo.stored))
	}
	return nil
}

func alertTable(alerts []domain.Alert) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("ID", "TIME", "VEHICLE", "SEVERITY", "DROP", "LEVEL", "MINUTES", "LOCATION", "HISTORICAL")
	for _, a := range alerts {
		table.AddRow(
			a.ID,
			a.Timestamp.Format(time.DateTime),
			a.VehicleName,
			a.Severity,
			fmt.Sprintf("%.1f%%", a.FuelDropPercent),
			fmt.Sprintf("%.1f -> %.1f", a.PreviousLevel, a.CurrentLevel),
			fmt.Sprintf("%.0f", a.DurationMinutes),
			a.Location,
			a.Historical,
		)
	}
	return table
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
)

func newDailyCmd() *cobra.Command {
	var deviceID, date string
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Compute the daily record of one device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := time.Parse(model.DateLayout, date)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			a, _, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Runner.ComputeDaily(cmd.Context(), deviceID, d)
			printResults(cmd, []indicator.JobResult{res})
			return err
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "Device ID")
	cmd.Flags().StringVar(&date, "date", "", "Day to compute (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newMonthlyCmd() *cobra.Command {
	var (
		deviceID string
		month    string
	)
	cmd := &cobra.Command{
		Use:   "monthly",
		Short: "Roll up the daily records of one device into its monthly record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := time.Parse("2006-01", month)
			if err != nil {
				return fmt.Errorf("--month: %w", err)
			}
			a, _, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Runner.ComputeMonthly(cmd.Context(), deviceID, m.Year(), m.Month())
			printResults(cmd, []indicator.JobResult{res})
			return err
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "Device ID")
	cmd.Flags().StringVar(&month, "month", "", "Month to roll up (YYYY-MM)")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

// newRangeCmd builds "range" or, with backfill set, "backfill".
func newRangeCmd(backfill bool) *cobra.Command {
	var (
		target     indicator.Target
		start, end string
	)
	use, short := "range", "Compute the daily records of a date range"
	if backfill {
		use, short = "backfill", "Compute the daily records of a date range, then the months it touches"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := parseRange(start, end)
			if err != nil {
				return err
			}
			a, _, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			run := a.Runner.ComputeDailyRange
			if backfill {
				run = a.Runner.Backfill
			}
			results, err := run(cmd.Context(), target, from, to)
			if err != nil {
				return err
			}
			printResults(cmd, results)
			if n := countFailed(results); n > 0 {
				return fmt.Errorf("%d of %d jobs failed", n, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target.DeviceID, "device", "", "Device ID (default: every active device)")
	cmd.Flags().StringVar(&target.InstitutionID, "institution", "", "Restrict to the devices of one institution")
	cmd.Flags().StringVar(&start, "start", "", "First day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Last day, inclusive (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	from, err := time.Parse(model.DateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--start: %w", err)
	}
	to, err := time.Parse(model.DateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--end: %w", err)
	}
	return from, to, nil
}

func countFailed(results []indicator.JobResult) int {
	n := 0
	for _, r := range results {
		if r.Outcome == indicator.OutcomeFailed {
			n++
		}
	}
	return n
}

func printResults(cmd *cobra.Command, results []indicator.JobResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-14s %-10s %-8s %-10s %12s %10s %8s  %s\n", "device", "date", "period", "outcome", "imported", "peak", "lf%", "detail")
	for _, r := range results {
		imported, peak, lf := "-", "-", "-"
		if r.Record != nil {
			imported = fmt.Sprintf("%.2f", r.Record.ImportedEnergyKWh)
			peak = fmt.Sprintf("%.2f", r.Record.PeakDemandKW)
			lf = fmt.Sprintf("%.2f", r.Record.LoadFactorPct)
		}
		detail := string(r.Reason)
		if r.Err != nil {
			detail = r.Err.Error()
		}
		fmt.Fprintf(out, "%-14s %-10s %-8s %-10s %12s %10s %8s  %s\n",
			r.Key.DeviceID,
			r.Key.Date.Format(model.DateLayout),
			r.Key.PeriodKind,
			r.Outcome,
			imported,
			peak,
			lf,
			detail,
		)
	}
}

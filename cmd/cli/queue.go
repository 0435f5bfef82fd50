package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
	"meter-indicators/internal/queue"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume the job topic and run every job it carries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, log, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			consumer, err := a.Consumer()
			if err != nil {
				return err
			}
			defer consumer.Close()

			log.Info().Str("topic", a.Config.Kafka.Topic).Str("group", a.Config.Kafka.GroupID).Msg("worker started")
			if err := consumer.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newEnqueueCmd() *cobra.Command {
	var (
		target           indicator.Target
		date, month      string
		start, end       string
		backfill, perDay bool
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish jobs to the job topic",
		Long: `Publish one job to the job topic. Exactly one of --date, --month or --start/--end is used:
  --date      daily job of --device
  --month     monthly job of --device
  --start/end range job (or backfill with --backfill); --per-day splits it into daily jobs`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := buildJobs(target, date, month, start, end, backfill, perDay)
			if err != nil {
				return err
			}
			a, _, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			producer, err := a.Producer()
			if err != nil {
				return err
			}
			defer producer.Close()

			if err := producer.Publish(cmd.Context(), jobs...); err != nil {
				return err
			}
			for _, j := range jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s %s\n", j.ID, j.Kind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target.DeviceID, "device", "", "Device ID")
	cmd.Flags().StringVar(&target.InstitutionID, "institution", "", "Institution ID for range jobs")
	cmd.Flags().StringVar(&date, "date", "", "Day of a daily job (YYYY-MM-DD)")
	cmd.Flags().StringVar(&month, "month", "", "Month of a monthly job (YYYY-MM)")
	cmd.Flags().StringVar(&start, "start", "", "First day of a range job (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Last day of a range job (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&backfill, "backfill", false, "Also roll up the months of the range")
	cmd.Flags().BoolVar(&perDay, "per-day", false, "Publish one daily job per day instead of one range job")
	cmd.MarkFlagsMutuallyExclusive("date", "month", "start")
	cmd.MarkFlagsRequiredTogether("start", "end")
	return cmd
}

func buildJobs(target indicator.Target, date, month, start, end string, backfill, perDay bool) ([]queue.Job, error) {
	switch {
	case date != "":
		d, err := time.Parse(model.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("--date: %w", err)
		}
		return []queue.Job{queue.DailyJob(target.DeviceID, d)}, nil
	case month != "":
		m, err := time.Parse("2006-01", month)
		if err != nil {
			return nil, fmt.Errorf("--month: %w", err)
		}
		return []queue.Job{queue.MonthlyJob(target.DeviceID, m.Year(), m.Month())}, nil
	case start != "":
		from, to, err := parseRange(start, end)
		if err != nil {
			return nil, err
		}
		if !perDay {
			return []queue.Job{queue.RangeJob(target, from, to, backfill)}, nil
		}
		if target.DeviceID == "" {
			return nil, errors.New("--per-day needs --device")
		}
		var jobs []queue.Job
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			jobs = append(jobs, queue.DailyJob(target.DeviceID, d))
		}
		return jobs, nil
	default:
		return nil, errors.New("one of --date, --month or --start/--end is required")
	}
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"meter-indicators/internal/data"
	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
)

func newExportCmd() *cobra.Command {
	var deviceID, from, to, period, outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored indicator records to CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := parseRange(from, to)
			if err != nil {
				return err
			}
			kind, err := model.ParsePeriodKind(period)
			if err != nil {
				return err
			}
			a, _, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.Store.Query(cmd.Context(), deviceID, start, end, kind)
			if err != nil {
				return err
			}
			if err := indicator.WriteRecordsCSV(outPath, records); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows to %s\n", len(records), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "Device ID")
	cmd.Flags().StringVar(&from, "start", "", "First date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "end", "", "Last date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&period, "period", string(model.PeriodDaily), "daily or monthly")
	cmd.Flags().StringVar(&outPath, "out", "results/indicators.csv", "Output CSV path")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var devicesPath string
	cmd := &cobra.Command{
		Use:   "ingest <file-or-dir>...",
		Short: "Load measurement JSON files (and optionally a devices file) into the database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			paths, err := expandPaths(args)
			if err != nil {
				return err
			}
			var total int64
			for _, p := range paths {
				raws, err := data.LoadMeasurementsJSON(p)
				if err != nil {
					return err
				}
				n, err := a.Store.InsertMeasurements(cmd.Context(), raws)
				if err != nil {
					return err
				}
				log.Info().Str("file", p).Int("read", len(raws)).Int64("inserted", n).Msg("ingested")
				total += n
			}

			if devicesPath != "" {
				list, err := data.LoadDevices(devicesPath)
				if err != nil {
					return err
				}
				if err := a.Store.SaveDevices(cmd.Context(), list.Devices); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %d devices\n", len(list.Devices))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d measurements from %d files\n", total, len(paths))
			return nil
		},
	}
	cmd.Flags().StringVar(&devicesPath, "devices", "", "Devices JSON file to store as reference data")
	return cmd
}

// expandPaths replaces directories by the .json files they contain.
func expandPaths(args []string) ([]string, error) {
	var out []string
	for _, p := range args {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			out = append(out, filepath.Join(p, e.Name()))
		}
	}
	return out, nil
}

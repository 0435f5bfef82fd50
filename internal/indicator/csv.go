package indicator

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"meter-indicators/internal/model"
)

var csvHeader = []string{
	"device_id",
	"date",
	"period_kind",
	"imported_energy_kwh",
	"exported_energy_kwh",
	"net_energy_kwh",
	"peak_demand_kw",
	"avg_demand_kw",
	"load_factor_pct",
	"avg_power_factor",
	"max_voltage_unbalance_pct",
	"max_current_unbalance_pct",
	"max_voltage_thd_pct",
	"max_current_thd_pct",
	"max_current_tdd_pct",
	"measurement_count",
	"last_measurement_timestamp",
	"calculated_at",
}

// WriteRecordsCSV writes records to a new file at path, creating its directory if needed.
func WriteRecordsCSV(path string, records []model.IndicatorRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteRecords(f, records)
}

// WriteRecords writes a header line and one CSV row per record.
func WriteRecords(out io.Writer, records []model.IndicatorRecord) error {
	w := csv.NewWriter(out)

	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.DeviceID,
			r.Date.Format(model.DateLayout),
			string(r.PeriodKind),
			fmtFloat(r.ImportedEnergyKWh),
			fmtFloat(r.ExportedEnergyKWh),
			fmtFloat(r.NetEnergyKWh),
			fmtFloat(r.PeakDemandKW),
			fmtFloat(r.AvgDemandKW),
			fmtFloat(r.LoadFactorPct),
			fmtFloat(r.AvgPowerFactor),
			fmtFloat(r.MaxVoltageUnbalancePct),
			fmtFloat(r.MaxCurrentUnbalancePct),
			fmtFloat(r.MaxVoltageTHDPct),
			fmtFloat(r.MaxCurrentTHDPct),
			fmtFloat(r.MaxCurrentTDDPct),
			strconv.Itoa(r.MeasurementCount),
			fmtTime(r.LastMeasurementTimestamp),
			fmtTime(r.CalculatedAt),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

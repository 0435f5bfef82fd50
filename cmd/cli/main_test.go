package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
	"meter-indicators/internal/queue"
)

func TestBuildJobs(t *testing.T) {
	jobs, err := buildJobs(indicator.Target{DeviceID: "M-1"}, "2024-06-01", "", "", "", false, false)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindDaily, jobs[0].Kind)

	jobs, err = buildJobs(indicator.Target{DeviceID: "M-1"}, "", "2024-02", "", "", false, false)
	require.NoError(t, err)
	assert.Equal(t, 2024, jobs[0].Year)
	assert.Equal(t, 2, jobs[0].Month)

	jobs, err = buildJobs(indicator.Target{InstitutionID: "I-1"}, "", "", "2024-06-01", "2024-06-30", true, false)
	require.NoError(t, err)
	assert.Equal(t, queue.KindBackfill, jobs[0].Kind)

	jobs, err = buildJobs(indicator.Target{DeviceID: "M-1"}, "", "", "2024-06-01", "2024-06-03", false, true)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
	assert.Equal(t, "2024-06-03", jobs[2].Date)

	_, err = buildJobs(indicator.Target{InstitutionID: "I-1"}, "", "", "2024-06-01", "2024-06-03", false, true)
	assert.Error(t, err)
	_, err = buildJobs(indicator.Target{}, "", "", "", "", false, false)
	assert.Error(t, err)
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rec := model.IndicatorRecord{Key: model.NewKey("M-1", day, model.PeriodDaily), ImportedEnergyKWh: 500, PeakDemandKW: 25, LoadFactorPct: 83.33}
	printResults(cmd, []indicator.JobResult{
		{Key: rec.Key, Outcome: indicator.OutcomeComputed, Record: &rec},
		{Key: model.NewKey("M-2", day, model.PeriodDaily), Outcome: indicator.OutcomeFailed, Err: errors.New("boom")},
	})

	out := buf.String()
	assert.Contains(t, out, "500.00")
	assert.Contains(t, out, "83.33")
	assert.Contains(t, out, "boom")
	assert.Equal(t, 1, countFailed([]indicator.JobResult{{Outcome: indicator.OutcomeFailed}, {Outcome: indicator.OutcomeNoData}}))
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.json", "b.json", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("[]"), 0o644))
	}
	paths, err := expandPaths([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")}, paths)

	_, err = expandPaths([]string{filepath.Join(dir, "missing.json")})
	assert.Error(t, err)
}

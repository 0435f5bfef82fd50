package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meter-indicators/internal/api/models"
	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
	"meter-indicators/internal/observability"
	"meter-indicators/internal/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var day = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type stubRunner struct {
	err     error
	days    []time.Time
	targets []indicator.Target
}

func (s *stubRunner) ComputeDaily(_ context.Context, deviceID string, date time.Time) (indicator.JobResult, error) {
	s.days = append(s.days, date)
	key := model.NewKey(deviceID, date, model.PeriodDaily)
	if s.err != nil {
		return indicator.JobResult{Key: key, Outcome: indicator.OutcomeFailed, Err: s.err}, s.err
	}
	rec := model.IndicatorRecord{Key: key, ImportedEnergyKWh: 500, MeasurementCount: 3, CalculatedAt: day}
	return indicator.JobResult{Key: key, Outcome: indicator.OutcomeComputed, Record: &rec}, nil
}

func (s *stubRunner) ComputeMonthly(_ context.Context, deviceID string, year int, month time.Month) (indicator.JobResult, error) {
	key := model.NewKey(deviceID, time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), model.PeriodMonthly)
	return indicator.JobResult{Key: key, Outcome: indicator.OutcomeNoData, Reason: indicator.ReasonMissingData}, s.err
}

func (s *stubRunner) ComputeDailyRange(_ context.Context, target indicator.Target, start, end time.Time) ([]indicator.JobResult, error) {
	s.targets = append(s.targets, target)
	var out []indicator.JobResult
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, indicator.JobResult{Key: model.NewKey("M-1", d, model.PeriodDaily), Outcome: indicator.OutcomeComputed})
	}
	return out, nil
}

func (s *stubRunner) Backfill(ctx context.Context, target indicator.Target, start, end time.Time) ([]indicator.JobResult, error) {
	out, err := s.ComputeDailyRange(ctx, target, start, end)
	out = append(out, indicator.JobResult{Key: model.NewKey("M-1", start, model.PeriodMonthly), Outcome: indicator.OutcomeNoData})
	return out, err
}

type stubStore struct {
	records []model.IndicatorRecord
	err     error
	pingErr error
}

func (s *stubStore) Ping(context.Context) error { return s.pingErr }

func (s *stubStore) Upsert(context.Context, model.IndicatorRecord) error { return nil }

func (s *stubStore) Query(_ context.Context, deviceID string, from, to time.Time, kind model.PeriodKind) ([]model.IndicatorRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []model.IndicatorRecord
	for _, r := range s.records {
		if r.DeviceID == deviceID && r.PeriodKind == kind && !r.Date.Before(from) && !r.Date.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

type stubDirectory []model.Device

func (d stubDirectory) Devices(context.Context) ([]model.Device, error) { return d, nil }

type stubEnqueuer struct {
	jobs []queue.Job
}

func (e *stubEnqueuer) Publish(_ context.Context, jobs ...queue.Job) error {
	e.jobs = append(e.jobs, jobs...)
	return nil
}

type testServer struct {
	router   *gin.Engine
	runner   *stubRunner
	store    *stubStore
	enqueuer *stubEnqueuer
	metrics  *observability.Metrics
}

func newTestServer() *testServer {
	ts := &testServer{
		runner:   &stubRunner{},
		store:    &stubStore{},
		enqueuer: &stubEnqueuer{},
		metrics:  observability.NewMetrics(),
	}
	ts.router = NewRouter(Deps{
		Runner:   ts.runner,
		Store:    ts.store,
		Devices:  stubDirectory{{ID: "M-1", Category: "main_meter", InstitutionID: "I-1", Active: true}, {ID: "M-2", Category: "submeter", InstitutionID: "I-2", Active: true}},
		Enqueuer: ts.enqueuer,
		Metrics:  ts.metrics,
		Logger:   zerolog.Nop(),
	})
	return ts
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := newTestServer().do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHealthReportsStoreFailure(t *testing.T) {
	ts := newTestServer()
	ts.store.pingErr = errors.New("database is locked")
	w := ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestRunDaily(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodPost, "/api/v1/jobs/daily", gin.H{"device_id": "M-1", "date": "2024-06-01"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res models.JobResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "computed", res.Outcome)
	assert.Equal(t, "2024-06-01", res.Date)
	require.NotNil(t, res.Record)
	assert.Equal(t, 500.0, res.Record.ImportedEnergyKWh)
	assert.Equal(t, []time.Time{day}, ts.runner.days)
}

func TestRunDailyValidation(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodPost, "/api/v1/jobs/daily", gin.H{"device_id": "M-1", "date": "01/06/2024"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_DATE")

	w = ts.do(http.MethodPost, "/api/v1/jobs/daily", gin.H{"date": "2024-06-01"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ts.runner.days)
}

func TestRunDailyErrorMapping(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: timeout", indicator.ErrRepositoryUnavailable): http.StatusServiceUnavailable,
		fmt.Errorf("%w: locked", indicator.ErrStoreUnavailable):       http.StatusServiceUnavailable,
		indicator.ErrStaleWrite:                                       http.StatusConflict,
		errors.New("boom"):                                            http.StatusInternalServerError,
	}
	for err, status := range cases {
		t.Run(err.Error(), func(t *testing.T) {
			ts := newTestServer()
			ts.runner.err = err
			w := ts.do(http.MethodPost, "/api/v1/jobs/daily", gin.H{"device_id": "M-1", "date": "2024-06-01"})
			assert.Equal(t, status, w.Code)

			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "M-1/2024-06-01/daily", resp.Error.Details["key"])
		})
	}
}

func TestRunMonthly(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodPost, "/api/v1/jobs/monthly", gin.H{"device_id": "M-1", "year": 2024, "month": 6})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"no_data"`)

	w = ts.do(http.MethodPost, "/api/v1/jobs/monthly", gin.H{"device_id": "M-1", "year": 2024, "month": 13})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunRangeInline(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodPost, "/api/v1/jobs/daily-range", gin.H{"institution_id": "I-1", "start_date": "2024-06-01", "end_date": "2024-06-03", "backfill": true})
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, map[string]int{"computed": 3, "no_data": 1}, resp.Summary)
	assert.Len(t, resp.Results, 4)
	assert.Equal(t, []indicator.Target{{InstitutionID: "I-1"}}, ts.runner.targets)
}

func TestRunRangeRejectsInvertedRange(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodPost, "/api/v1/jobs/daily-range", gin.H{"start_date": "2024-06-03", "end_date": "2024-06-01"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_RANGE")
}

func TestRunRangeAsync(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodPost, "/api/v1/jobs/daily-range", gin.H{"device_id": "M-1", "start_date": "2024-06-01", "end_date": "2024-06-30", "async": true})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, ts.enqueuer.jobs, 1)

	var resp models.QueuedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.QueuedResponse{JobID: ts.enqueuer.jobs[0].ID, Status: "queued"}, resp)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, queue.KindDailyRange, ts.enqueuer.jobs[0].Kind)
	assert.Equal(t, "2024-06-30", ts.enqueuer.jobs[0].EndDate)
	assert.Empty(t, ts.runner.targets)
}

func TestListIndicators(t *testing.T) {
	ts := newTestServer()
	for i := 0; i < 3; i++ {
		d := day.AddDate(0, 0, i)
		ts.store.records = append(ts.store.records, model.IndicatorRecord{
			Key:               model.NewKey("M-1", d, model.PeriodDaily),
			ImportedEnergyKWh: float64(100 * (i + 1)),
			CalculatedAt:      day,
		})
	}

	w := ts.do(http.MethodGet, "/api/v1/indicators?device_id=M-1&from=2024-06-02&to=2024-06-30", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.IndicatorsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 2)
	assert.Equal(t, "2024-06-02", resp.Records[0].Date)
	assert.Nil(t, resp.Records[0].LastMeasurementTimestamp)

	w = ts.do(http.MethodGet, "/api/v1/indicators?device_id=M-1&from=2024-06-01&to=2024-06-01&format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "M-1,2024-06-01,daily,100,"))
}

func TestListIndicatorsErrors(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodGet, "/api/v1/indicators?device_id=M-1&from=2024-06-01&to=2024-06-30&period=weekly", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.store.err = indicator.ErrStoreUnavailable
	w = ts.do(http.MethodGet, "/api/v1/indicators?device_id=M-1&from=2024-06-01&to=2024-06-30", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListDevicesFilters(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodGet, "/api/v1/devices?category=submeter", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.DevicesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, "M-2", resp.Devices[0].ID)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs/daily", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	ts := newTestServer()
	ts.do(http.MethodGet, "/health", nil)
	ts.do(http.MethodGet, "/nope", nil)

	w := ts.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{route="/health",status="200"} 1`)
	assert.Contains(t, w.Body.String(), `http_requests_total{route="unmatched",status="404"} 1`)
}

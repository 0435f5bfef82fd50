package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"meter-indicators/internal/api/models"
	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
	"meter-indicators/internal/queue"
)

// Enqueuer hands jobs to the queue. queue.Producer implements it.
type Enqueuer interface {
	Publish(ctx context.Context, jobs ...queue.Job) error
}

// IndicatorHandler serves the job invocation surface and the indicator query.
type IndicatorHandler struct {
	runner   queue.Runner
	store    indicator.IndicatorStore
	enqueuer Enqueuer
	log      zerolog.Logger
}

// NewIndicatorHandler creates the handler. enqueuer may be nil, in which case async requests
// are rejected.
func NewIndicatorHandler(runner queue.Runner, store indicator.IndicatorStore, enqueuer Enqueuer, log zerolog.Logger) *IndicatorHandler {
	return &IndicatorHandler{
		runner:   runner,
		store:    store,
		enqueuer: enqueuer,
		log:      log.With().Str("component", "api").Logger(),
	}
}

// RunDaily handles POST /api/v1/jobs/daily
func (h *IndicatorHandler) RunDaily(c *gin.Context) {
	var req models.DailyJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	date, err := time.Parse(model.DateLayout, req.Date)
	if err != nil {
		badRequest(c, "INVALID_DATE", "date must be YYYY-MM-DD")
		return
	}

	res, err := h.runner.ComputeDaily(c.Request.Context(), req.DeviceID, date)
	if err != nil {
		jobError(c, err, res)
		return
	}
	c.JSON(http.StatusOK, models.NewJobResult(res))
}

// RunMonthly handles POST /api/v1/jobs/monthly
func (h *IndicatorHandler) RunMonthly(c *gin.Context) {
	var req models.MonthlyJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	res, err := h.runner.ComputeMonthly(c.Request.Context(), req.DeviceID, req.Year, time.Month(req.Month))
	if err != nil {
		jobError(c, err, res)
		return
	}
	c.JSON(http.StatusOK, models.NewJobResult(res))
}

// RunRange handles POST /api/v1/jobs/daily-range
func (h *IndicatorHandler) RunRange(c *gin.Context) {
	var req models.RangeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	start, err := time.Parse(model.DateLayout, req.StartDate)
	if err != nil {
		badRequest(c, "INVALID_DATE", "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse(model.DateLayout, req.EndDate)
	if err != nil {
		badRequest(c, "INVALID_DATE", "end_date must be YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		badRequest(c, "INVALID_RANGE", indicator.ErrInvalidRange.Error())
		return
	}
	target := indicator.Target{DeviceID: req.DeviceID, InstitutionID: req.InstitutionID}

	if req.Async {
		if h.enqueuer == nil {
			c.JSON(http.StatusNotImplemented, models.ErrorResponse{
				Error: models.ErrorDetail{Code: "QUEUE_DISABLED", Message: "no job queue configured"},
			})
			return
		}
		job := queue.RangeJob(target, start, end, req.Backfill)
		if err := h.enqueuer.Publish(c.Request.Context(), job); err != nil {
			h.log.Error().Err(err).Msg("enqueue failed")
			c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
				Error: models.ErrorDetail{Code: "QUEUE_UNAVAILABLE", Message: err.Error()},
			})
			return
		}
		c.JSON(http.StatusAccepted, models.QueuedResponse{JobID: job.ID, Status: "queued"})
		return
	}

	run := h.runner.ComputeDailyRange
	if req.Backfill {
		run = h.runner.Backfill
	}
	results, err := run(c.Request.Context(), target, start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: models.ErrorDetail{Code: "BATCH_FAILED", Message: err.Error()},
		})
		return
	}

	summary := map[string]int{}
	for _, r := range results {
		summary[string(r.Outcome)]++
	}
	c.JSON(http.StatusOK, models.BatchResponse{
		Summary: summary,
		Results: lo.Map(results, func(r indicator.JobResult, _ int) models.JobResult { return models.NewJobResult(r) }),
	})
}

// ListIndicators handles GET /api/v1/indicators
func (h *IndicatorHandler) ListIndicators(c *gin.Context) {
	var q models.IndicatorQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	kind := model.PeriodDaily
	if q.Period != "" {
		k, err := model.ParsePeriodKind(q.Period)
		if err != nil {
			badRequest(c, "INVALID_PERIOD", err.Error())
			return
		}
		kind = k
	}
	from, err := time.Parse(model.DateLayout, q.From)
	if err != nil {
		badRequest(c, "INVALID_DATE", "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse(model.DateLayout, q.To)
	if err != nil {
		badRequest(c, "INVALID_DATE", "to must be YYYY-MM-DD")
		return
	}

	records, err := h.store.Query(c.Request.Context(), q.DeviceID, from, to, kind)
	if err != nil {
		h.log.Error().Err(err).Str("device", q.DeviceID).Msg("query failed")
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Error: models.ErrorDetail{Code: "STORE_UNAVAILABLE", Message: err.Error()},
		})
		return
	}

	if q.Format == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", "attachment; filename=indicators.csv")
		c.Status(http.StatusOK)
		if err := indicator.WriteRecords(c.Writer, records); err != nil {
			h.log.Error().Err(err).Msg("csv export failed")
		}
		return
	}
	c.JSON(http.StatusOK, models.IndicatorsResponse{
		Records: lo.Map(records, func(r model.IndicatorRecord, _ int) models.IndicatorRecord { return models.NewIndicatorRecord(r) }),
	})
}

func badRequest(c *gin.Context, code, msg string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error: models.ErrorDetail{Code: code, Message: msg},
	})
}

// jobError maps the error taxonomy onto HTTP statuses.
func jobError(c *gin.Context, err error, res indicator.JobResult) {
	status, code := http.StatusInternalServerError, "JOB_FAILED"
	switch {
	case errors.Is(err, indicator.ErrRepositoryUnavailable), errors.Is(err, indicator.ErrStoreUnavailable):
		status, code = http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE"
	case errors.Is(err, indicator.ErrStaleWrite):
		status, code = http.StatusConflict, "STALE_WRITE"
	case errors.Is(err, indicator.ErrReferenceDataMissing):
		status, code = http.StatusUnprocessableEntity, "REFERENCE_DATA_MISSING"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "CANCELLED"
	}
	c.JSON(status, models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    code,
			Message: err.Error(),
			Details: map[string]interface{}{
				"key":       res.Key.String(),
				"transient": indicator.Transient(err),
			},
		},
	})
}

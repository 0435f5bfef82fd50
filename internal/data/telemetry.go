package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
)

// TelemetryClient reads measurements and device reference data from the telemetry API.
// It implements indicator.MeasurementRepository and indicator.DeviceDirectory.
type TelemetryClient struct {
	BaseURL string
	Client  *http.Client

	session *Session
	log     zerolog.Logger
}

// NewTelemetryClient creates a client. session may be nil for APIs without authentication.
func NewTelemetryClient(baseURL string, session *Session, log zerolog.Logger) *TelemetryClient {
	return &TelemetryClient{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
		session: session,
		log:     log.With().Str("component", "telemetry").Logger(),
	}
}

// TelemetryError represents a non-2xx answer of the telemetry API.
type TelemetryError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter string // For rate limit errors
}

func (e *TelemetryError) Error() string {
	return e.Message
}

// Temporary reports whether retrying the same request later may succeed.
func (e *TelemetryError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func statusError(resp *http.Response, fallbackCode string) *TelemetryError {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &TelemetryError{StatusCode: resp.StatusCode, Code: "UNAUTHORIZED", Message: "Unauthorized: invalid or expired token"}
	case http.StatusForbidden:
		return &TelemetryError{StatusCode: resp.StatusCode, Code: "FORBIDDEN", Message: "Insufficient permissions"}
	case http.StatusNotFound:
		return &TelemetryError{StatusCode: resp.StatusCode, Code: "NOT_FOUND", Message: "Resource not found"}
	case http.StatusTooManyRequests:
		retryAfter := resp.Header.Get("Retry-After")
		return &TelemetryError{
			StatusCode: resp.StatusCode,
			Code:       "RATE_LIMIT_EXCEEDED",
			Message:    fmt.Sprintf("Rate limit exceeded. Retry after: %s", retryAfter),
			RetryAfter: retryAfter,
		}
	default:
		return &TelemetryError{
			StatusCode: resp.StatusCode,
			Code:       fallbackCode,
			Message:    fmt.Sprintf("API returned status %d: %s", resp.StatusCode, resp.Status),
		}
	}
}

type measurementsResponse struct {
	Data []model.RawMeasurement `json:"data"`
}

type devicesResponse struct {
	Data []model.Device `json:"data"`
}

// Fetch implements indicator.MeasurementRepository:
// GET /api/v1/devices/{id}/measurements?start=..&end=.. (RFC3339).
//
// The answer is filtered to the inclusive window and sorted by timestamp, whatever order the
// server used. Transport failures, rate limiting and 5xx answers wrap
// indicator.ErrRepositoryUnavailable.
func (c *TelemetryClient) Fetch(ctx context.Context, deviceID string, window model.TimeRange) ([]model.Measurement, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if window.Start.After(window.End) {
		return nil, fmt.Errorf("start must not be after end")
	}

	u, err := url.Parse(c.BaseURL + "/api/v1/devices/" + url.PathEscape(deviceID) + "/measurements")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("start", window.Start.UTC().Format(time.RFC3339Nano))
	q.Set("end", window.End.UTC().Format(time.RFC3339Nano))
	u.RawQuery = q.Encode()

	var resp measurementsResponse
	if err := c.getJSON(ctx, u.String(), &resp); err != nil {
		return nil, err
	}

	out := make([]model.Measurement, 0, len(resp.Data))
	for _, raw := range resp.Data {
		if raw.DeviceID == "" {
			raw.DeviceID = deviceID
		}
		m := raw.Measurement()
		if m.DeviceID != deviceID || !window.Contains(m.Timestamp) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	c.log.Debug().Str("device", deviceID).
		Int("received", len(resp.Data)).Int("kept", len(out)).
		Msg("measurements fetched")
	return out, nil
}

// ListDevices returns the device reference data: GET /api/v1/devices.
func (c *TelemetryClient) ListDevices(ctx context.Context) ([]model.Device, error) {
	var resp devicesResponse
	if err := c.getJSON(ctx, c.BaseURL+"/api/v1/devices", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Devices implements indicator.DeviceDirectory.
func (c *TelemetryClient) Devices(ctx context.Context) ([]model.Device, error) {
	return c.ListDevices(ctx)
}

// getJSON performs an authenticated GET. A 401 drops the session token and retries once.
func (c *TelemetryClient) getJSON(ctx context.Context, rawURL string, out any) error {
	err := c.doGetJSON(ctx, rawURL, out)
	var terr *TelemetryError
	if c.session != nil && errors.As(err, &terr) && terr.StatusCode == http.StatusUnauthorized {
		c.log.Info().Msg("token rejected, logging in again")
		c.session.Invalidate()
		err = c.doGetJSON(ctx, rawURL, out)
	}
	return err
}

func (c *TelemetryClient) doGetJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.session != nil {
		token, err := c.session.Token(ctx)
		if err != nil {
			var terr *TelemetryError
			if errors.As(err, &terr) && !terr.Temporary() {
				return err
			}
			return unavailable(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.Client.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.log.Warn().Err(err).Dur("duration", duration).Str("path", req.URL.Path).Msg("request failed")
		return unavailable(fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	c.log.Debug().Int("status", resp.StatusCode).Dur("duration", duration).Str("path", req.URL.Path).Msg("response")

	if resp.StatusCode != http.StatusOK {
		terr := statusError(resp, "API_ERROR")
		c.log.Warn().Int("status", resp.StatusCode).Str("code", terr.Code).Str("path", req.URL.Path).Msg("request rejected")
		if terr.Temporary() {
			return unavailable(terr)
		}
		return terr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// unavailable marks err as transient unless it is a cancellation.
func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", indicator.ErrRepositoryUnavailable, err)
}

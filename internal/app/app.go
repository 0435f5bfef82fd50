// Package app assembles the engine components from a Config. The binaries under cmd/ share it.
package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"meter-indicators/internal/config"
	"meter-indicators/internal/data"
	"meter-indicators/internal/indicator"
	"meter-indicators/internal/observability"
	"meter-indicators/internal/queue"
	"meter-indicators/internal/store"
)

// App holds the wired components. Telemetry is nil when no telemetry API is configured.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	Clock   clock.Clock
	Metrics *observability.Metrics

	Store     *store.Store
	Telemetry *data.TelemetryClient
	Repo      indicator.MeasurementRepository
	Devices   indicator.DeviceDirectory

	Daily   *indicator.DailyBuilder
	Monthly *indicator.MonthlyBuilder
	Runner  *indicator.Runner

	opts indicator.Options
}

// New opens the store and wires the builders and runner.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	return NewWithClock(cfg, log, clock.New())
}

// NewWithClock is New with an explicit clock for calculated_at and token expiry.
func NewWithClock(cfg *config.Config, log zerolog.Logger, clk clock.Clock) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, err
	}

	if err := ensureDir(cfg.Database.DSN); err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Database.DSN, store.Options{
		ConditionalWrites: cfg.Database.ConditionalWrites,
		Logger:            log,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	a := &App{
		Config:  cfg,
		Log:     log,
		Clock:   clk,
		Metrics: observability.NewMetrics(),
		Store:   st,
		Repo:    st,
	}

	if cfg.Telemetry.BaseURL != "" {
		var session *data.Session
		if cfg.Telemetry.Username != "" {
			session = data.NewSession(cfg.Telemetry.BaseURL, cfg.Telemetry.Username, cfg.Telemetry.Password, clk)
		}
		a.Telemetry = data.NewTelemetryClient(cfg.Telemetry.BaseURL, session, log)
		a.Repo = a.Telemetry
	}

	var source indicator.DeviceDirectory
	switch cfg.Devices.Source {
	case config.DeviceSourceFile:
		source = data.FileDirectory{Path: cfg.Devices.File}
	case config.DeviceSourceDatabase:
		source = st
	case config.DeviceSourceTelemetry:
		source = a.Telemetry
	}
	a.Devices = data.NewDeviceCache(source, cfg.Devices.CacheTTL, clk)

	a.opts = indicator.Options{
		Location:  loc,
		Precision: cfg.Engine.Precision.Analysis(),
		Clock:     clk,
		Logger:    log,
	}
	a.build()

	log.Debug().
		Str("dsn", cfg.Database.DSN).
		Bool("telemetry", a.Telemetry != nil).
		Str("devices", cfg.Devices.Source).
		Str("timezone", loc.String()).
		Msg("engine wired")
	return a, nil
}

func (a *App) build() {
	a.Daily = indicator.NewDailyBuilder(a.Repo, a.Store, a.opts)
	a.Monthly = indicator.NewMonthlyBuilder(a.Store, a.opts)
	a.Runner = indicator.NewRunner(a.Daily, a.Monthly, a.Devices, a.Metrics, indicator.RunnerConfig{
		Workers:    a.Config.Engine.Workers,
		Categories: a.Config.Devices.Categories,
	}, a.Log)
}

// UseRepository replaces the measurement source, e.g. with recorded JSON files, and rewires the
// builders and runner. Records still go to the store.
func (a *App) UseRepository(repo indicator.MeasurementRepository) {
	a.Repo = repo
	a.build()
}

// QueueEnabled reports whether Kafka brokers are configured.
func (a *App) QueueEnabled() bool {
	return len(a.Config.Kafka.Brokers) > 0
}

// Producer opens a job producer on the configured topic.
func (a *App) Producer() (*queue.Producer, error) {
	if !a.QueueEnabled() {
		return nil, errors.New("kafka.brokers is not configured")
	}
	return queue.NewProducer(a.Config.Kafka.Brokers, a.Config.Kafka.Topic)
}

// Consumer opens a job consumer feeding the runner.
func (a *App) Consumer() (*queue.Consumer, error) {
	if !a.QueueEnabled() {
		return nil, errors.New("kafka.brokers is not configured")
	}
	k := a.Config.Kafka
	return queue.NewConsumer(queue.ConsumerConfig{
		Brokers:    k.Brokers,
		Topic:      k.Topic,
		GroupID:    k.GroupID,
		MaxRetries: k.MaxRetries,
	}, a.Runner, a.Metrics, a.Log)
}

func (a *App) Close() error {
	return a.Store.Close()
}

// ensureDir creates the parent directory of a file DSN.
func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

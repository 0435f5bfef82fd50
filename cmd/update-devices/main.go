package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"meter-indicators/internal/config"
	"meter-indicators/internal/data"
	"meter-indicators/internal/logging"
	"meter-indicators/internal/model"
	"meter-indicators/internal/store"
)

func main() {
	var (
		cfgPath    = flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML config")
		outputPath = flag.String("output", "", "Output file path (default: devices.file or ./data/devices.json)")
		seedFile   = flag.String("seed", "", "Path to an existing devices file whose entries are kept when the API omits them")
		toDatabase = flag.Bool("db", false, "Also store the devices in the configured database")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(cfg.Log, os.Stderr)

	if cfg.Telemetry.BaseURL == "" {
		log.Fatal().Msg("telemetry.base_url is required")
	}
	if *outputPath == "" {
		*outputPath = cfg.Devices.File
	}
	if *outputPath == "" {
		*outputPath = data.GetDefaultDevicesPath()
	}

	var seed []model.Device
	seedPath := *seedFile
	if seedPath == "" {
		seedPath = *outputPath
	}
	if list, err := data.LoadDevices(seedPath); err == nil {
		seed = list.Devices
		log.Info().Int("devices", len(seed)).Str("file", seedPath).Msg("loaded seed devices")
	}

	var session *data.Session
	if cfg.Telemetry.Username != "" {
		session = data.NewSession(cfg.Telemetry.BaseURL, cfg.Telemetry.Username, cfg.Telemetry.Password, nil)
	}
	client := data.NewTelemetryClient(cfg.Telemetry.BaseURL, session, log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fetched, err := client.ListDevices(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list devices")
	}
	devices := mergeDevices(seed, fetched, log)

	list := &data.DeviceList{
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Devices:   devices,
	}
	if err := data.SaveDevices(list, *outputPath); err != nil {
		log.Fatal().Err(err).Msg("failed to save devices")
	}
	log.Info().Int("devices", len(devices)).Str("file", *outputPath).Msg("saved devices")

	if *toDatabase {
		st, err := store.Open(cfg.Database.DSN, store.Options{Logger: log})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open database")
		}
		defer st.Close()
		if err := st.SaveDevices(ctx, devices); err != nil {
			log.Fatal().Err(err).Msg("failed to store devices")
		}
		log.Info().Str("dsn", cfg.Database.DSN).Msg("stored devices")
	}
}

// mergeDevices overlays fetched on seed by ID. Seed devices the API no longer reports are kept
// but marked inactive, so batches stop covering them.
func mergeDevices(seed, fetched []model.Device, log zerolog.Logger) []model.Device {
	byID := make(map[string]model.Device, len(seed)+len(fetched))
	for _, d := range seed {
		d.Active = false
		byID[d.ID] = d
	}
	for _, d := range fetched {
		if !d.Resolved() {
			log.Warn().Str("device", d.ID).Msg("device has no category or institution")
		}
		byID[d.ID] = d
	}

	out := make([]model.Device, 0, len(byID))
	for _, d := range byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

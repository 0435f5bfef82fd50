package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"meter-indicators/internal/app"
	"meter-indicators/internal/config"
	"meter-indicators/internal/data"
	"meter-indicators/internal/logging"
)

var (
	cfgPath     string
	logLevel    string
	replayFiles []string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "indicators",
		Short:         "Compute daily and monthly electrical indicators from meter telemetry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("CONFIG_FILE"), "Path to YAML config")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level")
	root.PersistentFlags().StringSliceVar(&replayFiles, "replay", nil, "Read measurements from these JSON files instead of the configured source")

	root.AddCommand(
		newDailyCmd(),
		newMonthlyCmd(),
		newRangeCmd(false),
		newRangeCmd(true),
		newExportCmd(),
		newIngestCmd(),
		newWorkerCmd(),
		newEnqueueCmd(),
	)
	return root
}

// setup loads the config and wires the engine. Callers close the returned App.
func setup() (*app.App, zerolog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log := logging.New(cfg.Log, os.Stderr)

	a, err := app.New(cfg, log)
	if err != nil {
		return nil, log, err
	}
	if len(replayFiles) > 0 {
		repo, err := data.LoadFileRepository(replayFiles...)
		if err != nil {
			_ = a.Close()
			return nil, log, err
		}
		a.UseRepository(repo)
		log.Info().Strs("files", replayFiles).Msg("replaying measurements from files")
	}
	return a, log, nil
}

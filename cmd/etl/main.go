// The etl command runs one batch ETL cycle: fetch flight records from the
// AviationStack API, flatten them, and persist the Parquet snapshot and the
// SQLite fact table. Configuration comes entirely from the environment (or a
// .env file); the process exits non-zero on any failure.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/skymetrics/skymetrics/internal/etl"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := logger.NewLogger().Child("etl")

	if err := config.Default.DotEnvLoaded(); err == nil {
		log.Infof("loaded .env file")
	}

	runner := etl.New(config.Default, log, stats.Default)
	runStats, err := runner.Run(ctx)
	if err != nil {
		log.Errorf("ETL run failed: %v", err)
		os.Exit(1)
	}

	runStats.PrintSummary(os.Stdout)
}

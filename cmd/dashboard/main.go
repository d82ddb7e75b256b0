// The dashboard command serves the aviation BI web UI. It reads the Parquet
// snapshot written by the etl command and never writes anything itself.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/skymetrics/skymetrics/internal/dashboard"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := logger.NewLogger().Child("dashboard")

	api := dashboard.NewApi(config.Default, log)
	if err := api.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("dashboard server failed: %v", err)
		os.Exit(1)
	}
}

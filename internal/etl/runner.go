// Package etl runs the batch pipeline: paginate the flights API, flatten the
// nested payloads, then load the run's dataset into the Parquet snapshot and
// the SQLite fact table. One process, one sequential pass, rerun to recover.
package etl

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/skymetrics/skymetrics/internal/aviationstack"
	"github.com/skymetrics/skymetrics/internal/model"
	"github.com/skymetrics/skymetrics/internal/snapshot"
	"github.com/skymetrics/skymetrics/internal/store"
	"github.com/skymetrics/skymetrics/internal/transform"
)

// AirlineStats summarizes the extract phase for one airline filter.
type AirlineStats struct {
	IATA    string
	Records int
}

// RunStats summarizes one completed ETL run.
type RunStats struct {
	RunID         string
	Airlines      []AirlineStats
	TotalFetched  int
	TotalRecords  int
	TableCount    int64
	PrunedRecords int64
	Duration      time.Duration
}

// Runner executes the ETL pipeline.
type Runner struct {
	log          logger.Logger
	statsFactory stats.Stats
	client       *aviationstack.Client
	flattener    *transform.Flattener
	writer       *snapshot.Writer
	now          func() time.Time

	config struct {
		airlines    []string
		maxPages    int
		parquetPath string
		sqlitePath  string
	}
}

// New creates a Runner from configuration.
func New(conf *config.Config, log logger.Logger, statsFactory stats.Stats) *Runner {
	r := &Runner{
		log:          log.Child("etl"),
		statsFactory: statsFactory,
		client:       aviationstack.New(conf, log),
		writer:       snapshot.NewWriter(conf),
		now:          time.Now,
	}
	onTime := conf.GetDuration("ETL_ON_TIME_THRESHOLD", 15, time.Minute)
	r.flattener = transform.NewFlattener(onTime)

	r.config.airlines = splitAirlines(conf.GetString("ETL_AIRLINES", "GA,NH,EK,TK"))
	r.config.maxPages = conf.GetInt("ETL_MAX_PAGES", 5)
	r.config.parquetPath = conf.GetString("ETL_PARQUET_PATH", "data/flights.parquet")
	r.config.sqlitePath = conf.GetString("ETL_SQLITE_PATH", "data/aviationstack.db")

	return r
}

// Run executes one full extract, transform, load cycle. Nothing is written
// unless the extract phase completed for every configured airline, so an
// authentication failure aborts before either output exists.
func (r *Runner) Run(ctx context.Context) (RunStats, error) {
	start := r.now()
	runStats := RunStats{RunID: uuid.New().String()}
	log := r.log.With("runId", runStats.RunID)

	log.Infof("starting ETL run: airlines=%v maxPages=%d limit=%d",
		r.config.airlines, r.config.maxPages, r.client.Limit())

	// Extract + transform, accumulating the full run dataset in memory.
	var records []model.FlightRecord
	for _, airline := range r.config.airlines {
		raws, err := r.client.FetchAirline(ctx, airline, r.config.maxPages)
		if err != nil {
			return runStats, fmt.Errorf("fetching flights for airline %s: %w", airline, err)
		}

		flattened := r.flattener.FlattenAll(raws)
		records = append(records, flattened...)
		runStats.Airlines = append(runStats.Airlines, AirlineStats{IATA: airline, Records: len(flattened)})

		r.statsFactory.NewTaggedStat("etl_records_fetched", stats.CountType, stats.Tags{
			"airline": airline,
		}).Count(len(flattened))
	}
	runStats.TotalFetched = len(records)

	// Dedup on write: later occurrences of a natural key are dropped so the
	// snapshot and the fact table agree on the key set.
	records = lo.UniqBy(records, func(rec model.FlightRecord) string { return rec.Key() })
	runStats.TotalRecords = len(records)
	log.Infof("extracted %d records (%d after dedup)", runStats.TotalFetched, runStats.TotalRecords)

	// Load: columnar snapshot first, then the relational table.
	if err := r.writer.WriteFile(r.config.parquetPath, records); err != nil {
		return runStats, fmt.Errorf("writing parquet snapshot: %w", err)
	}
	log.Infof("wrote snapshot %s", r.config.parquetPath)

	db, err := store.Open(r.config.sqlitePath)
	if err != nil {
		return runStats, fmt.Errorf("opening sqlite database: %w", err)
	}
	defer func() { _ = db.Close() }()

	flights := store.NewFlights(db)
	cutoff := r.now()
	upserted, err := flights.Upsert(ctx, records)
	if err != nil {
		return runStats, fmt.Errorf("upserting flights: %w", err)
	}
	pruned, err := flights.DeleteUpdatedBefore(ctx, cutoff)
	if err != nil {
		return runStats, fmt.Errorf("pruning stale flights: %w", err)
	}
	runStats.PrunedRecords = pruned

	tableCount, err := flights.Count(ctx)
	if err != nil {
		return runStats, fmt.Errorf("counting flights: %w", err)
	}
	runStats.TableCount = tableCount
	log.Infof("upserted %d keys into %s (pruned %d stale rows)", upserted, r.config.sqlitePath, pruned)

	if tableCount != int64(runStats.TotalRecords) {
		return runStats, fmt.Errorf("snapshot and database diverged: snapshot has %d records, table has %d rows",
			runStats.TotalRecords, tableCount)
	}

	runStats.Duration = r.now().Sub(start)
	r.statsFactory.NewStat("etl_run_duration_seconds", stats.TimerType).SendTiming(runStats.Duration)
	log.Infof("ETL run completed in %s", runStats.Duration)

	return runStats, nil
}

// PrintSummary renders the per-airline run summary.
func (s RunStats) PrintSummary(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Airline", "Records"})
	for _, a := range s.Airlines {
		table.Append([]string{a.IATA, strconv.Itoa(a.Records)})
	}
	table.SetFooter([]string{"Total", strconv.Itoa(s.TotalRecords)})
	table.Render()
}

func splitAirlines(s string) []string {
	parts := strings.Split(s, ",")
	airlines := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			airlines = append(airlines, strings.ToUpper(p))
		}
	}
	return airlines
}

// Package dashboard serves the aviation BI web UI over the Parquet snapshot
// produced by the ETL. It is strictly read-only: the snapshot is loaded at
// request time and any staleness is resolved by rerunning the ETL.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/rudderlabs/rudder-go-kit/cachettl"
	"github.com/rudderlabs/rudder-go-kit/config"
	kithttputil "github.com/rudderlabs/rudder-go-kit/httputil"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/skymetrics/skymetrics/internal/model"
	"github.com/skymetrics/skymetrics/internal/snapshot"
)

var emptyStateTemplate = template.Must(template.New("empty").Parse(`<!DOCTYPE html>
<html>
<head><title>Aviation BI Dashboard</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 10em;">
<h1>&#9992; Aviation BI Dashboard</h1>
<p>No flight data yet. Run the ETL to create <code>{{.}}</code>.</p>
</body>
</html>`))

// Api serves the dashboard endpoints.
type Api struct {
	log   logger.Logger
	cache *cachettl.Cache[string, []model.FlightRecord]

	config struct {
		webPort             int
		readerHeaderTimeout time.Duration
		snapshotPath        string
		snapshotCacheTTL    time.Duration
		maxTableRows        int
	}
}

// NewApi creates the dashboard API.
func NewApi(conf *config.Config, log logger.Logger) *Api {
	a := &Api{
		log:   log.Child("dashboard"),
		cache: cachettl.New[string, []model.FlightRecord](),
	}
	a.config.webPort = conf.GetInt("DASHBOARD_PORT", 8084)
	a.config.readerHeaderTimeout = conf.GetDuration("Dashboard.readerHeaderTimeout", 3, time.Second)
	a.config.snapshotPath = conf.GetString("ETL_PARQUET_PATH", "data/flights.parquet")
	a.config.snapshotCacheTTL = conf.GetDuration("Dashboard.snapshotCacheTTL", 10, time.Second)
	a.config.maxTableRows = conf.GetInt("Dashboard.maxTableRows", 500)
	return a
}

// Start serves the dashboard until the context is canceled.
func (a *Api) Start(ctx context.Context) error {
	srvMux := chi.NewRouter()
	srvMux.Get("/health", a.healthHandler)
	srvMux.Get("/", a.indexHandler)
	srvMux.Get("/api/kpis", a.kpisHandler)
	srvMux.Get("/api/flights", a.flightsHandler)

	a.log.Infof("starting dashboard on %d, reading %s", a.config.webPort, a.config.snapshotPath)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.webPort),
		Handler:           srvMux,
		ReadHeaderTimeout: a.config.readerHeaderTimeout,
	}
	return kithttputil.ListenAndServe(ctx, srv)
}

func (a *Api) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write([]byte(`{"dashboard":"UP"}`))
}

// loadRecords reads the snapshot. A missing file is the empty dataset, not an
// error: the dashboard must render an empty state before the first ETL run.
// Reads are cached per file modification time, so a fresh ETL run shows up
// immediately while repeated requests skip the Parquet decode.
func (a *Api) loadRecords() ([]model.FlightRecord, error) {
	info, err := os.Stat(a.config.snapshotPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("%s@%d", a.config.snapshotPath, info.ModTime().UnixNano())
	if records := a.cache.Get(cacheKey); records != nil {
		return records, nil
	}

	records, err := snapshot.ReadFile(a.config.snapshotPath)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		a.cache.Put(cacheKey, records, a.config.snapshotCacheTTL)
	}
	return records, nil
}

func (a *Api) indexHandler(w http.ResponseWriter, r *http.Request) {
	records, err := a.loadRecords()
	if err != nil {
		a.log.Errorf("reading snapshot: %v", err)
		http.Error(w, "failed to read flight snapshot", http.StatusInternalServerError)
		return
	}

	if len(records) == 0 {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = emptyStateTemplate.Execute(w, a.config.snapshotPath)
		return
	}

	filter := parseFilter(r)
	filtered := filter.Apply(records)
	kpis := ComputeKPIs(filtered, filter.DelayThreshold)

	page := components.NewPage()
	page.PageTitle = "Aviation BI Dashboard"
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		a.flightsPerDayChart(kpis),
		a.delayByAirlineChart(kpis),
		a.statusChart(kpis),
	)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(w); err != nil {
		a.log.Errorf("rendering dashboard page: %v", err)
	}
}

func (a *Api) kpisHandler(w http.ResponseWriter, r *http.Request) {
	records, err := a.loadRecords()
	if err != nil {
		a.log.Errorf("reading snapshot: %v", err)
		http.Error(w, "failed to read flight snapshot", http.StatusInternalServerError)
		return
	}

	filter := parseFilter(r)
	kpis := ComputeKPIs(filter.Apply(records), filter.DelayThreshold)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(kpis); err != nil {
		a.log.Errorf("encoding kpis: %v", err)
	}
}

func (a *Api) flightsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := a.loadRecords()
	if err != nil {
		a.log.Errorf("reading snapshot: %v", err)
		http.Error(w, "failed to read flight snapshot", http.StatusInternalServerError)
		return
	}

	filter := parseFilter(r)
	filtered := filter.Apply(records)

	limit := cast.ToInt(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > a.config.maxTableRows {
		limit = a.config.maxTableRows
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	if filtered == nil {
		filtered = []model.FlightRecord{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"count":   len(filtered),
		"flights": filtered,
	}); err != nil {
		a.log.Errorf("encoding flights: %v", err)
	}
}

func (a *Api) flightsPerDayChart(kpis KPIs) components.Charter {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Flights per Day",
			Subtitle: fmt.Sprintf("Total %d · Cancelled %.2f%% · Avg arrival delay %.1f min · On-time %.1f%%",
				kpis.TotalFlights, kpis.CancelledPct, kpis.AvgArrivalDelayMin, kpis.OnTimePct),
		}),
	)
	dates := lo.Map(kpis.ByDate, func(d DateKPI, _ int) string { return d.Date })
	values := lo.Map(kpis.ByDate, func(d DateKPI, _ int) opts.BarData { return opts.BarData{Value: d.Flights} })
	bar.SetXAxis(dates).AddSeries("flights", values)
	return bar
}

func (a *Api) delayByAirlineChart(kpis KPIs) components.Charter {
	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Average Arrival Delay by Airline"}))
	airlines := lo.Map(kpis.ByAirline, func(row AirlineKPI, _ int) string { return row.Airline })
	values := lo.Map(kpis.ByAirline, func(row AirlineKPI, _ int) opts.BarData {
		return opts.BarData{Value: row.AvgArrDelayMin}
	})
	bar.SetXAxis(airlines).AddSeries("avg delay (min)", values)
	bar.XYReversal()
	return bar
}

func (a *Api) statusChart(kpis KPIs) components.Charter {
	pie := charts.NewPie()
	pie.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Flights by Status"}))
	var data []opts.PieData
	for _, status := range model.KnownStatuses {
		if n := kpis.ByStatus[status]; n > 0 {
			data = append(data, opts.PieData{Name: status, Value: n})
		}
	}
	pie.AddSeries("status", data)
	return pie
}

func parseFilter(r *http.Request) Filter {
	q := r.URL.Query()
	return Filter{
		Airline:        q.Get("airline"),
		DepIATA:        q.Get("dep"),
		ArrIATA:        q.Get("arr"),
		FromDate:       q.Get("from"),
		ToDate:         q.Get("to"),
		DelayThreshold: cast.ToInt64(q.Get("delay_threshold")),
	}
}

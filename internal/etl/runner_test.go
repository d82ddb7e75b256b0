package etl

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/skymetrics/skymetrics/internal/aviationstack"
	"github.com/skymetrics/skymetrics/internal/snapshot"
	"github.com/skymetrics/skymetrics/internal/store"
)

// flightsAPIStub serves a fixed set of flights per airline, paginated the way
// the real endpoint paginates.
func flightsAPIStub(t *testing.T, perAirline map[string][]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_key") != "test-key" {
			_, _ = w.Write([]byte(`{"error":{"code":"invalid_access_key","message":"invalid"}}`))
			return
		}

		airline := r.URL.Query().Get("airline_iata")
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		require.NoError(t, err)
		offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
		require.NoError(t, err)

		all := perAirline[airline]
		page := all[min(offset, len(all)):min(offset+limit, len(all))]

		body := fmt.Sprintf(`{"pagination":{"limit":%d,"offset":%d,"count":%d,"total":%d},"data":[`,
			limit, offset, len(page), len(all))
		for i, rec := range page {
			if i > 0 {
				body += ","
			}
			body += rec
		}
		body += "]}"
		_, _ = w.Write([]byte(body))
	}))
}

func stubFlight(airline, number, status string, delay int) string {
	return fmt.Sprintf(`{
		"flight_date": "2025-08-20",
		"flight_status": %q,
		"airline": {"name": "Airline %s", "iata": %q},
		"flight": {"number": %q},
		"departure": {"iata": "CGK", "scheduled": "2025-08-20T08:%s:00+00:00"},
		"arrival": {"iata": "SIN", "delay": %d}
	}`, status, airline, airline, number, number[1:], delay)
}

func testConf(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	conf := config.New()
	conf.Set("AVIATIONSTACK_BASE_URL", baseURL)
	conf.Set("AVIATIONSTACK_API_KEY", "test-key")
	conf.Set("ETL_AIRLINES", "GA,NH")
	conf.Set("ETL_LIMIT", 2)
	conf.Set("ETL_MAX_PAGES", 3)
	conf.Set("ETL_PAGE_DELAY", "1ms")
	conf.Set("ETL_PARQUET_PATH", filepath.Join(dir, "flights.parquet"))
	conf.Set("ETL_SQLITE_PATH", filepath.Join(dir, "aviationstack.db"))
	return conf
}

func TestRun(t *testing.T) {
	perAirline := map[string][]string{
		"GA": {
			stubFlight("GA", "832", "landed", 5),
			stubFlight("GA", "833", "landed", 45),
			stubFlight("GA", "834", "scheduled", 0),
		},
		"NH": {
			stubFlight("NH", "821", "active", 0),
			stubFlight("NH", "821", "active", 0), // duplicate key, dropped on write
		},
	}

	t.Run("snapshot and fact table agree", func(t *testing.T) {
		srv := flightsAPIStub(t, perAirline)
		defer srv.Close()
		conf := testConf(t, srv.URL)

		runner := New(conf, logger.NOP, stats.NOP)
		runStats, err := runner.Run(context.Background())
		require.NoError(t, err)

		require.Equal(t, 5, runStats.TotalFetched)
		require.Equal(t, 4, runStats.TotalRecords)
		require.EqualValues(t, 4, runStats.TableCount)
		require.Equal(t, []AirlineStats{{IATA: "GA", Records: 3}, {IATA: "NH", Records: 2}}, runStats.Airlines)

		records, err := snapshot.ReadFile(conf.GetString("ETL_PARQUET_PATH", ""))
		require.NoError(t, err)
		require.Len(t, records, 4)

		db, err := store.Open(conf.GetString("ETL_SQLITE_PATH", ""))
		require.NoError(t, err)
		defer func() { _ = db.Close() }()
		count, err := store.NewFlights(db).Count(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, 4, count)
	})

	t.Run("rerun is idempotent", func(t *testing.T) {
		srv := flightsAPIStub(t, perAirline)
		defer srv.Close()
		conf := testConf(t, srv.URL)

		runner := New(conf, logger.NOP, stats.NOP)
		first, err := runner.Run(context.Background())
		require.NoError(t, err)
		second, err := runner.Run(context.Background())
		require.NoError(t, err)

		require.Equal(t, first.TotalRecords, second.TotalRecords)
		require.Equal(t, first.TableCount, second.TableCount)
		require.EqualValues(t, 0, second.PrunedRecords)
	})

	t.Run("shrunk remote dataset prunes stale rows", func(t *testing.T) {
		srv := flightsAPIStub(t, perAirline)
		defer srv.Close()
		conf := testConf(t, srv.URL)

		runner := New(conf, logger.NOP, stats.NOP)
		_, err := runner.Run(context.Background())
		require.NoError(t, err)
		srv.Close()

		smaller := flightsAPIStub(t, map[string][]string{
			"GA": {stubFlight("GA", "832", "landed", 5)},
			"NH": nil,
		})
		defer smaller.Close()
		conf.Set("AVIATIONSTACK_BASE_URL", smaller.URL)

		runStats, err := New(conf, logger.NOP, stats.NOP).Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, runStats.TotalRecords)
		require.EqualValues(t, 1, runStats.TableCount)
		require.EqualValues(t, 3, runStats.PrunedRecords)
	})

	t.Run("invalid api key writes nothing", func(t *testing.T) {
		srv := flightsAPIStub(t, perAirline)
		defer srv.Close()
		conf := testConf(t, srv.URL)
		conf.Set("AVIATIONSTACK_API_KEY", "wrong-key")

		runner := New(conf, logger.NOP, stats.NOP)
		_, err := runner.Run(context.Background())
		require.ErrorIs(t, err, aviationstack.ErrAuthentication)

		_, err = os.Stat(conf.GetString("ETL_PARQUET_PATH", ""))
		require.True(t, os.IsNotExist(err))
		_, err = os.Stat(conf.GetString("ETL_SQLITE_PATH", ""))
		require.True(t, os.IsNotExist(err))
	})

	t.Run("failure on a later airline writes nothing", func(t *testing.T) {
		var requests int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			if r.URL.Query().Get("airline_iata") == "NH" {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(`bad gateway`))
				return
			}
			_, _ = w.Write([]byte(fmt.Sprintf(`{"pagination":{"limit":2,"offset":0,"count":1,"total":1},"data":[%s]}`,
				stubFlight("GA", "832", "landed", 5))))
		}))
		defer srv.Close()

		conf := testConf(t, srv.URL)
		conf.Set("AVIATIONSTACK_RETRY_MAX", 0)

		runner := New(conf, logger.NOP, stats.NOP)
		_, err := runner.Run(context.Background())
		require.Error(t, err)
		require.Greater(t, requests, 1)

		_, err = os.Stat(conf.GetString("ETL_PARQUET_PATH", ""))
		require.True(t, os.IsNotExist(err))
	})
}

func TestPrintSummary(t *testing.T) {
	runStats := RunStats{
		Airlines: []AirlineStats{
			{IATA: "GA", Records: 3},
			{IATA: "NH", Records: 2},
		},
		TotalRecords: 4,
	}

	var buf bytes.Buffer
	runStats.PrintSummary(&buf)

	out := buf.String()
	require.Contains(t, out, "GA")
	require.Contains(t, out, "NH")
	require.Contains(t, out, "4")
}

func TestSplitAirlines(t *testing.T) {
	require.Equal(t, []string{"GA", "NH", "EK"}, splitAirlines("ga, nh ,EK"))
	require.Equal(t, []string{"GA"}, splitAirlines("GA,"))
	require.Empty(t, splitAirlines(" , "))
}

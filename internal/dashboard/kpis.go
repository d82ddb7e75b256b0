package dashboard

import (
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/skymetrics/skymetrics/internal/model"
)

// Filter restricts the dataset before aggregation. Zero values mean "all".
// Dates compare against flight_date (YYYY-MM-DD), so plain string ordering
// works.
type Filter struct {
	Airline        string
	DepIATA        string
	ArrIATA        string
	FromDate       string
	ToDate         string
	DelayThreshold int64
}

// AirlineKPI is the per-airline aggregate row.
type AirlineKPI struct {
	Airline        string  `json:"airline"`
	Flights        int     `json:"flights"`
	AvgArrDelayMin float64 `json:"avg_arr_delay_min"`
}

// DateKPI is the per-day aggregate row.
type DateKPI struct {
	Date    string `json:"date"`
	Flights int    `json:"flights"`
}

// KPIs are the aggregates rendered by the dashboard.
type KPIs struct {
	TotalFlights       int            `json:"total_flights"`
	CancelledPct       float64        `json:"cancelled_pct"`
	AvgArrivalDelayMin float64        `json:"avg_arrival_delay_min"`
	OnTimePct          float64        `json:"on_time_pct"`
	ByStatus           map[string]int `json:"by_status"`
	ByAirline          []AirlineKPI   `json:"by_airline"`
	ByDate             []DateKPI      `json:"by_date"`
}

// Apply returns the records matching the filter.
func (f Filter) Apply(records []model.FlightRecord) []model.FlightRecord {
	return lo.Filter(records, func(r model.FlightRecord, _ int) bool {
		if f.Airline != "" && !matchesAirline(r, f.Airline) {
			return false
		}
		if f.DepIATA != "" && !strings.EqualFold(str(r.DepIATA), f.DepIATA) {
			return false
		}
		if f.ArrIATA != "" && !strings.EqualFold(str(r.ArrIATA), f.ArrIATA) {
			return false
		}
		if f.FromDate != "" && str(r.FlightDate) < f.FromDate {
			return false
		}
		if f.ToDate != "" && str(r.FlightDate) > f.ToDate {
			return false
		}
		return true
	})
}

// ComputeKPIs aggregates the records. The delay threshold (minutes) feeds the
// on-time percentage; an unknown arrival delay counts as on time, matching
// the treatment of missing data elsewhere.
func ComputeKPIs(records []model.FlightRecord, delayThreshold int64) KPIs {
	k := KPIs{
		TotalFlights: len(records),
		ByStatus:     map[string]int{},
	}
	if len(records) == 0 {
		return k
	}
	if delayThreshold <= 0 {
		delayThreshold = 15
	}

	var (
		cancelled  int
		onTime     int
		delaySum   int64
		delayCount int
	)
	for i := range records {
		r := &records[i]

		status := strings.ToLower(str(r.FlightStatus))
		if status == "" {
			status = "unknown"
		}
		k.ByStatus[status]++
		if status == model.StatusCancelled {
			cancelled++
		}

		if r.ArrDelay == nil || *r.ArrDelay <= delayThreshold {
			onTime++
		}
		if r.ArrDelay != nil {
			delaySum += *r.ArrDelay
			delayCount++
		}
	}

	total := float64(k.TotalFlights)
	k.CancelledPct = 100 * float64(cancelled) / total
	k.OnTimePct = 100 * float64(onTime) / total
	if delayCount > 0 {
		k.AvgArrivalDelayMin = float64(delaySum) / float64(delayCount)
	}

	byAirline := lo.GroupBy(records, func(r model.FlightRecord) string {
		if name := str(r.AirlineName); name != "" {
			return name
		}
		return str(r.AirlineIATA)
	})
	for airline, group := range byAirline {
		var sum int64
		var n int
		for i := range group {
			if group[i].ArrDelay != nil {
				sum += *group[i].ArrDelay
				n++
			}
		}
		row := AirlineKPI{Airline: airline, Flights: len(group)}
		if n > 0 {
			row.AvgArrDelayMin = float64(sum) / float64(n)
		}
		k.ByAirline = append(k.ByAirline, row)
	}
	sort.Slice(k.ByAirline, func(i, j int) bool {
		return k.ByAirline[i].AvgArrDelayMin > k.ByAirline[j].AvgArrDelayMin
	})

	byDate := lo.CountValuesBy(records, func(r model.FlightRecord) string {
		return str(r.FlightDate)
	})
	for date, n := range byDate {
		if date == "" {
			continue
		}
		k.ByDate = append(k.ByDate, DateKPI{Date: date, Flights: n})
	}
	sort.Slice(k.ByDate, func(i, j int) bool { return k.ByDate[i].Date < k.ByDate[j].Date })

	return k
}

func matchesAirline(r model.FlightRecord, airline string) bool {
	return strings.EqualFold(str(r.AirlineIATA), airline) ||
		strings.EqualFold(str(r.AirlineName), airline)
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
